// Package domain defines the core data model for tracked pump.fun tokens.
package domain

// TokenState holds the rolling per-token state maintained by the tracker
// registry. One instance exists per mint; all mutation goes through the
// registry, which applies each trade as a single atomic update.
type TokenState struct {
	Mint   string // token mint address, immutable identity
	Name   string
	Symbol string

	// CurveAddress is the derived pump.fun bonding-curve PDA for this mint.
	// Empty if derivation failed; display-only.
	CurveAddress string

	CreatedAt  int64 // first observation, Unix ms
	LastUpdate int64 // most recent trade, Unix ms

	// Snapshot of the creation event, immutable after creation.
	InitialLiquiditySol float64 // vSolInBondingCurve at creation
	InitialCurveTokens  float64 // vTokensInBondingCurve at creation
	InitialMarketCapSol float64

	// Trades is append-only, in arrival order. Timestamps are assigned at
	// ingestion when the feed omits them, so arrival order is not
	// necessarily chronological.
	Trades []TradeRecord

	BuyCount  int
	SellCount int

	TotalVolumeTokens float64
	TotalVolumeSol    float64

	UniqueTraders map[string]struct{}

	// PriceHistory gets one point per trade with a usable curve supply.
	// Trades with zero/missing supply are counted but produce no point.
	PriceHistory []PricePoint

	HighestMarketCapSol float64
	LowestMarketCapSol  float64

	// HolderBalances carries running net balances (buys minus sells) per
	// trader, and CurveSupply the running supply (initial + buys - sells).
	// Both are maintained incrementally and match a full replay of Trades.
	HolderBalances map[string]float64
	CurveSupply    float64
}

// TradeRecord is a single observed trade. Immutable once appended.
type TradeRecord struct {
	Trader       string  // trader public key
	Side         string  // "buy" | "sell"
	TokenAmount  float64 // tokens moved
	LiquiditySol float64 // vSolInBondingCurve after the trade
	CurveTokens  float64 // vTokensInBondingCurve after the trade (0 = unknown)
	MarketCapSol float64
	Timestamp    int64 // Unix ms, assigned at ingestion when absent
}

// Trade side constants.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// PricePoint is a derived price observation, one per priced trade.
type PricePoint struct {
	Timestamp    int64 // Unix ms
	Price        float64
	MarketCapSol float64
	LiquiditySol float64
}

// TokenSnapshot is a consistent read-only view of a TokenState handed to
// the evaluator and the broadcast projections. Trades and PriceHistory share
// backing arrays with the live state; that is safe because records are
// immutable and appends never touch indices below the captured length.
type TokenSnapshot struct {
	Mint         string
	Name         string
	Symbol       string
	CurveAddress string

	CreatedAt  int64
	LastUpdate int64

	InitialLiquiditySol float64
	InitialCurveTokens  float64
	InitialMarketCapSol float64

	Trades       []TradeRecord
	PriceHistory []PricePoint

	BuyCount  int
	SellCount int

	TotalVolumeTokens float64
	TotalVolumeSol    float64

	UniqueTraderCount int

	HighestMarketCapSol float64
	LowestMarketCapSol  float64

	HolderBalances map[string]float64
	CurveSupply    float64
}

// Snapshot builds a TokenSnapshot from the state. The caller must hold
// whatever lock guards the state while this runs.
func (t *TokenState) Snapshot() TokenSnapshot {
	balances := make(map[string]float64, len(t.HolderBalances))
	for trader, bal := range t.HolderBalances {
		balances[trader] = bal
	}

	return TokenSnapshot{
		Mint:                t.Mint,
		Name:                t.Name,
		Symbol:              t.Symbol,
		CurveAddress:        t.CurveAddress,
		CreatedAt:           t.CreatedAt,
		LastUpdate:          t.LastUpdate,
		InitialLiquiditySol: t.InitialLiquiditySol,
		InitialCurveTokens:  t.InitialCurveTokens,
		InitialMarketCapSol: t.InitialMarketCapSol,
		Trades:              t.Trades[:len(t.Trades):len(t.Trades)],
		PriceHistory:        t.PriceHistory[:len(t.PriceHistory):len(t.PriceHistory)],
		BuyCount:            t.BuyCount,
		SellCount:           t.SellCount,
		TotalVolumeTokens:   t.TotalVolumeTokens,
		TotalVolumeSol:      t.TotalVolumeSol,
		UniqueTraderCount:   len(t.UniqueTraders),
		HighestMarketCapSol: t.HighestMarketCapSol,
		LowestMarketCapSol:  t.LowestMarketCapSol,
		HolderBalances:      balances,
		CurveSupply:         t.CurveSupply,
	}
}
