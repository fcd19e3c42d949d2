package domain

import "encoding/json"

// Event is a parsed inbound message from the upstream feed. The variant set
// is closed: CreateEvent, TradeEvent, AckEvent, UnknownEvent. Consumers
// switch over all four; UnknownEvent is the mandatory fallback for shapes
// the decoder does not recognize.
type Event interface {
	isEvent()
}

// CreateEvent announces a newly launched token.
type CreateEvent struct {
	Mint         string
	Name         string
	Symbol       string
	LiquiditySol float64 // vSolInBondingCurve
	CurveTokens  float64 // vTokensInBondingCurve
	MarketCapSol float64
	Timestamp    int64 // Unix ms, 0 when the feed omits it
}

// TradeEvent is a buy or sell against a token's bonding curve.
type TradeEvent struct {
	Mint         string
	Side         string // SideBuy | SideSell
	Trader       string
	TokenAmount  float64
	LiquiditySol float64
	CurveTokens  float64 // supply remaining, 0 = unknown
	MarketCapSol float64
	Timestamp    int64 // Unix ms, 0 when the feed omits it
}

// AckEvent is a subscription acknowledgment from the feed.
type AckEvent struct {
	Message string
}

// UnknownEvent wraps a payload the decoder could not classify. It is logged
// and dropped, never fatal.
type UnknownEvent struct {
	Raw json.RawMessage
}

func (CreateEvent) isEvent()  {}
func (TradeEvent) isEvent()   {}
func (AckEvent) isEvent()     {}
func (UnknownEvent) isEvent() {}
