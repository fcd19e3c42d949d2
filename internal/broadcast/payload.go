// Package broadcast builds viewer-facing messages and fans them out over
// WebSocket.
package broadcast

import (
	"math"

	"pumpwatch/internal/analyzer"
	"pumpwatch/internal/domain"
)

// Message kinds sent to viewers.
const (
	TypeStateUpdate    = "stateUpdate"
	TypeOpportunities  = "tradingOpportunities"
	TypeNewOpportunity = "newOpportunity"
)

const dayMs = 24 * 60 * 60 * 1000

// Message is the envelope every viewer payload travels in.
type Message struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// TokenSummary is the per-token entry of a state update.
type TokenSummary struct {
	Mint               string  `json:"mint"`
	Symbol             string  `json:"symbol"`
	Name               string  `json:"name,omitempty"`
	CurveAddress       string  `json:"curveAddress,omitempty"`
	AgeMs              int64   `json:"ageMs"`
	Price              float64 `json:"price"`
	PriceGrowthPercent float64 `json:"priceGrowthPercent"`
	MarketCapSol       float64 `json:"marketCap"`
	LiquiditySol       float64 `json:"liquidity"`
	BuyCount           int     `json:"buyCount"`
	SellCount          int     `json:"sellCount"`
	UniqueTraders      int     `json:"uniqueTraders"`
	VolumeTokens24h    float64 `json:"volume24h"`
	TradeCount24h      int     `json:"trades24h"`
}

// StateUpdate builds the periodic full-state message from token snapshots.
// The snapshots arrive already ordered; the builder preserves that order.
func StateUpdate(snaps []domain.TokenSnapshot, now int64) Message {
	tokens := make([]TokenSummary, 0, len(snaps))
	for _, snap := range snaps {
		tokens = append(tokens, summarize(snap, now))
	}
	return Message{Type: TypeStateUpdate, Timestamp: now, Data: tokens}
}

// Opportunities builds the periodic sweep message listing every token that
// currently qualifies.
func Opportunities(list []analyzer.Analysis, now int64) Message {
	sanitized := make([]analyzer.Analysis, 0, len(list))
	for _, a := range list {
		sanitized = append(sanitized, sanitizeAnalysis(a))
	}
	return Message{Type: TypeOpportunities, Timestamp: now, Data: sanitized}
}

// NewOpportunity builds the edge-triggered message for a token that just
// crossed the opportunity threshold.
func NewOpportunity(a analyzer.Analysis, now int64) Message {
	return Message{Type: TypeNewOpportunity, Timestamp: now, Data: sanitizeAnalysis(a)}
}

func summarize(snap domain.TokenSnapshot, now int64) TokenSummary {
	symbol := snap.Symbol
	if symbol == "" {
		symbol = "Unknown"
	}

	dayStart := now - dayMs
	var volume24h float64
	var trades24h int
	for _, tr := range snap.Trades {
		if tr.Timestamp > dayStart {
			volume24h += tr.TokenAmount
			trades24h++
		}
	}

	liquidity := snap.InitialLiquiditySol
	marketCap := snap.InitialMarketCapSol
	if n := len(snap.Trades); n > 0 {
		liquidity = snap.Trades[n-1].LiquiditySol
		marketCap = snap.Trades[n-1].MarketCapSol
	}

	return TokenSummary{
		Mint:               snap.Mint,
		Symbol:             symbol,
		Name:               snap.Name,
		CurveAddress:       snap.CurveAddress,
		AgeMs:              now - snap.CreatedAt,
		Price:              finite(analyzer.CurrentPrice(snap)),
		PriceGrowthPercent: finite(analyzer.PriceGrowth(snap.PriceHistory)),
		MarketCapSol:       finite(marketCap),
		LiquiditySol:       finite(liquidity),
		BuyCount:           snap.BuyCount,
		SellCount:          snap.SellCount,
		UniqueTraders:      snap.UniqueTraderCount,
		VolumeTokens24h:    finite(volume24h),
		TradeCount24h:      trades24h,
	}
}

// sanitizeAnalysis coerces every outbound float to a finite value and fills
// the symbol fallback. Viewers never receive NaN or Inf.
func sanitizeAnalysis(a analyzer.Analysis) analyzer.Analysis {
	if a.Symbol == "" {
		a.Symbol = "Unknown"
	}

	m := &a.Metrics
	m.CurveTokens = finite(m.CurveTokens)
	m.LiquiditySol = finite(m.LiquiditySol)
	m.BuyPressure = finite(m.BuyPressure)
	m.VolumeGrowthRate = finite(m.VolumeGrowthRate)
	m.PriceGrowth = finite(m.PriceGrowth)
	m.MaxPriceDrop = finite(m.MaxPriceDrop)
	m.LargestHolderShare = finite(m.LargestHolderShare)
	m.MarketCapSol = finite(m.MarketCapSol)
	m.CurrentPrice = finite(m.CurrentPrice)

	r := &a.Recommendation
	r.SuggestedPosition = finite(r.SuggestedPosition)
	r.StopLossPct = finite(r.StopLossPct)
	r.TakeProfitPct = finite(r.TakeProfitPct)

	return a
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
