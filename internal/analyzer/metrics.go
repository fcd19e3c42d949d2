package analyzer

import "pumpwatch/internal/domain"

// computeMetrics derives the evaluation metrics from a snapshot.
// Every division guards its denominator; undefined ratios are 0, never
// NaN/Inf.
func (a *Analyzer) computeMetrics(snap domain.TokenSnapshot, now int64) Metrics {
	windowStart := now - a.policy.WindowMs

	recentTrades := tradesAfter(snap.Trades, windowStart)
	recentPrices := pricesAfter(snap.PriceHistory, windowStart)

	// Current curve values come from the latest trade, falling back to the
	// creation snapshot for tokens with no trades yet.
	liquidity := snap.InitialLiquiditySol
	curveTokens := snap.InitialCurveTokens
	marketCap := snap.InitialMarketCapSol
	if n := len(snap.Trades); n > 0 {
		last := snap.Trades[n-1]
		liquidity = last.LiquiditySol
		curveTokens = last.CurveTokens
		marketCap = last.MarketCapSol
	}

	return Metrics{
		CurveTokens:        curveTokens,
		LiquiditySol:       liquidity,
		BuyPressure:        buyPressure(recentTrades),
		VolumeGrowthRate:   volumeGrowth(recentTrades),
		RecentTradeCount:   len(recentTrades),
		UniqueHolders:      snap.UniqueTraderCount,
		PriceGrowth:        PriceGrowth(snap.PriceHistory),
		MaxPriceDrop:       maxDrop(recentPrices),
		LargestHolderShare: largestHolderShare(snap),
		MarketCapSol:       marketCap,
		CurrentPrice:       CurrentPrice(snap),
	}
}

// CurrentPrice returns the canonical current price: the last point of the
// price history, or the price implied by the creation snapshot when no
// priced trade has been seen. Returns 0 when neither is derivable.
func CurrentPrice(snap domain.TokenSnapshot) float64 {
	if n := len(snap.PriceHistory); n > 0 {
		return snap.PriceHistory[n-1].Price
	}
	if snap.InitialCurveTokens > 0 {
		return snap.InitialMarketCapSol / snap.InitialCurveTokens
	}
	return 0
}

// PriceGrowth is the percentage change between the first and last points of
// the full price history. Fewer than 2 points means growth is 0.
func PriceGrowth(history []domain.PricePoint) float64 {
	if len(history) < 2 {
		return 0
	}
	initial := history[0].Price
	current := history[len(history)-1].Price
	if initial == 0 {
		return 0
	}
	return (current - initial) / initial * 100
}

// buyPressure is the token-amount-weighted share of buy volume over the
// windowed trades. Zero windowed trades or zero volume means 0.
func buyPressure(trades []domain.TradeRecord) float64 {
	if len(trades) == 0 {
		return 0
	}

	var buyVolume, totalVolume float64
	for _, tr := range trades {
		if tr.Side == domain.SideBuy {
			buyVolume += tr.TokenAmount
		}
		totalVolume += tr.TokenAmount
	}

	if totalVolume == 0 {
		return 0
	}
	return buyVolume / totalVolume
}

// volumeGrowth is the relative change in SOL-valued volume between the first
// and second halves of the windowed trade sequence, split at floor(n/2).
// A zero first-half volume means 0, not infinity.
func volumeGrowth(trades []domain.TradeRecord) float64 {
	if len(trades) < 2 {
		return 0
	}

	mid := len(trades) / 2
	firstHalf := tradeValue(trades[:mid])
	secondHalf := tradeValue(trades[mid:])

	if firstHalf == 0 {
		return 0
	}
	return (secondHalf - firstHalf) / firstHalf * 100
}

// tradeValue sums tokenAmount * price over trades. Trades without a usable
// curve supply carry no price and contribute 0.
func tradeValue(trades []domain.TradeRecord) float64 {
	var total float64
	for _, tr := range trades {
		if tr.CurveTokens > 0 {
			total += tr.TokenAmount * (tr.MarketCapSol / tr.CurveTokens)
		}
	}
	return total
}

// maxDrop is the largest single-step percentage decline in the windowed
// price series. Fewer than 2 points means 0.
func maxDrop(prices []domain.PricePoint) float64 {
	if len(prices) < 2 {
		return 0
	}

	var worst float64
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1].Price
		if prev == 0 {
			continue
		}
		drop := (prev - prices[i].Price) / prev * 100
		if drop > worst {
			worst = drop
		}
	}
	return worst
}

// largestHolderShare is the largest positive net balance across traders
// divided by the running supply. The snapshot's balances are maintained
// incrementally by the registry and equal a full replay of the trade log.
func largestHolderShare(snap domain.TokenSnapshot) float64 {
	if len(snap.HolderBalances) == 0 || snap.CurveSupply <= 0 {
		return 0
	}

	var max float64
	for _, bal := range snap.HolderBalances {
		if bal > max {
			max = bal
		}
	}
	return max / snap.CurveSupply
}

func tradesAfter(trades []domain.TradeRecord, cutoff int64) []domain.TradeRecord {
	var out []domain.TradeRecord
	for _, tr := range trades {
		if tr.Timestamp > cutoff {
			out = append(out, tr)
		}
	}
	return out
}

func pricesAfter(points []domain.PricePoint, cutoff int64) []domain.PricePoint {
	var out []domain.PricePoint
	for _, p := range points {
		if p.Timestamp > cutoff {
			out = append(out, p)
		}
	}
	return out
}
