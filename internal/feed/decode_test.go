package feed

import (
	"testing"

	"pumpwatch/internal/domain"
)

const validMint = "So11111111111111111111111111111111111111112"

func TestDecode_Create(t *testing.T) {
	data := []byte(`{
		"txType": "create",
		"mint": "` + validMint + `",
		"name": "Test Token",
		"symbol": "TT",
		"vSolInBondingCurve": 30.5,
		"vTokensInBondingCurve": 1000000000,
		"marketCapSol": 30.5
	}`)

	ev, ok := Decode(data).(domain.CreateEvent)
	if !ok {
		t.Fatalf("Decode returned %T, want CreateEvent", Decode(data))
	}
	if ev.Mint != validMint || ev.Symbol != "TT" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.LiquiditySol != 30.5 || ev.CurveTokens != 1_000_000_000 {
		t.Errorf("curve fields not mapped: %+v", ev)
	}
}

func TestDecode_Trades(t *testing.T) {
	cases := []struct {
		txType string
		side   string
	}{
		{"buy", domain.SideBuy},
		{"sell", domain.SideSell},
	}

	for _, tc := range cases {
		t.Run(tc.txType, func(t *testing.T) {
			data := []byte(`{
				"txType": "` + tc.txType + `",
				"mint": "` + validMint + `",
				"traderPublicKey": "trader1",
				"tokenAmount": 50000,
				"vSolInBondingCurve": 31,
				"vTokensInBondingCurve": 999950000,
				"marketCapSol": 31
			}`)

			ev, ok := Decode(data).(domain.TradeEvent)
			if !ok {
				t.Fatalf("Decode returned %T, want TradeEvent", Decode(data))
			}
			if ev.Side != tc.side {
				t.Errorf("Side = %s, want %s", ev.Side, tc.side)
			}
			if ev.Trader != "trader1" || ev.TokenAmount != 50000 {
				t.Errorf("unexpected event: %+v", ev)
			}
		})
	}
}

func TestDecode_Ack(t *testing.T) {
	ev, ok := Decode([]byte(`{"message": "Successfully subscribed to token trades"}`)).(domain.AckEvent)
	if !ok {
		t.Fatal("Success message must decode to AckEvent")
	}
	if ev.Message == "" {
		t.Error("ack text should be preserved")
	}
}

func TestDecode_Unknown(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"unrecognized txType", `{"txType": "burn", "mint": "` + validMint + `"}`},
		{"create with malformed mint", `{"txType": "create", "mint": "not-base58-!!"}`},
		{"buy with short mint", `{"txType": "buy", "mint": "abc"}`},
		{"non-success message", `{"message": "rate limited"}`},
		{"empty object", `{}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := Decode([]byte(tc.data)).(domain.UnknownEvent); !ok {
				t.Errorf("Decode(%s) = %T, want UnknownEvent", tc.data, Decode([]byte(tc.data)))
			}
		})
	}
}
