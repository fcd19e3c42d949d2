// Package feed connects to the pumpportal data stream and turns its frames
// into typed events.
package feed

import (
	"encoding/json"
	"strings"

	"pumpwatch/internal/domain"
	"pumpwatch/internal/solkey"
)

// txType values used by the upstream feed.
const (
	txTypeCreate = "create"
	txTypeBuy    = "buy"
	txTypeSell   = "sell"
)

// rawMessage is the superset of fields a feed frame may carry. Dispatch is
// on txType; acknowledgments carry only a message string.
type rawMessage struct {
	TxType  string `json:"txType"`
	Message string `json:"message"`

	Mint            string  `json:"mint"`
	Name            string  `json:"name"`
	Symbol          string  `json:"symbol"`
	TraderPublicKey string  `json:"traderPublicKey"`
	TokenAmount     float64 `json:"tokenAmount"`
	SolInCurve      float64 `json:"vSolInBondingCurve"`
	TokensInCurve   float64 `json:"vTokensInBondingCurve"`
	MarketCapSol    float64 `json:"marketCapSol"`
	Timestamp       int64   `json:"timestamp"`
}

// Decode classifies one feed frame. Frames that fail to parse, carry an
// unrecognized txType, or name a malformed mint come back as UnknownEvent;
// the decoder never fails hard.
func Decode(data []byte) domain.Event {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.UnknownEvent{Raw: append(json.RawMessage(nil), data...)}
	}

	switch raw.TxType {
	case txTypeCreate:
		if !solkey.IsValidPubkey(raw.Mint) {
			return domain.UnknownEvent{Raw: append(json.RawMessage(nil), data...)}
		}
		return domain.CreateEvent{
			Mint:         raw.Mint,
			Name:         raw.Name,
			Symbol:       raw.Symbol,
			LiquiditySol: raw.SolInCurve,
			CurveTokens:  raw.TokensInCurve,
			MarketCapSol: raw.MarketCapSol,
			Timestamp:    raw.Timestamp,
		}

	case txTypeBuy, txTypeSell:
		if !solkey.IsValidPubkey(raw.Mint) {
			return domain.UnknownEvent{Raw: append(json.RawMessage(nil), data...)}
		}
		side := domain.SideBuy
		if raw.TxType == txTypeSell {
			side = domain.SideSell
		}
		return domain.TradeEvent{
			Mint:         raw.Mint,
			Side:         side,
			Trader:       raw.TraderPublicKey,
			TokenAmount:  raw.TokenAmount,
			LiquiditySol: raw.SolInCurve,
			CurveTokens:  raw.TokensInCurve,
			MarketCapSol: raw.MarketCapSol,
			Timestamp:    raw.Timestamp,
		}
	}

	if raw.Message != "" && strings.HasPrefix(raw.Message, "Success") {
		return domain.AckEvent{Message: raw.Message}
	}

	return domain.UnknownEvent{Raw: append(json.RawMessage(nil), data...)}
}
