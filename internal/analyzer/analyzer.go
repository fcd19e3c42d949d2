// Package analyzer evaluates tracked token snapshots against a fixed
// signal/risk policy and produces entry/exit recommendations.
package analyzer

import (
	"fmt"

	"pumpwatch/internal/domain"
)

// Analyzer is the signal evaluator. Evaluate is a pure function of the
// snapshot and the supplied clock reading; the Analyzer itself carries only
// the policy and is safe for concurrent use.
type Analyzer struct {
	policy Policy
}

// New creates an Analyzer with the given policy.
func New(policy Policy) *Analyzer {
	return &Analyzer{policy: policy}
}

// Policy returns the active policy.
func (a *Analyzer) Policy() Policy {
	return a.policy
}

// Evaluate analyzes one token snapshot at the given instant (Unix ms).
func (a *Analyzer) Evaluate(snap domain.TokenSnapshot, now int64) Analysis {
	metrics := a.computeMetrics(snap, now)
	signals := a.evaluateSignals(metrics)
	risks := a.assessRisks(metrics)

	isOpportunity := signals.Count() >= a.policy.MinSignals && risks.Count() <= a.policy.MaxRisks

	return Analysis{
		Mint:           snap.Mint,
		Symbol:         snap.Symbol,
		EvaluatedAt:    now,
		Metrics:        metrics,
		Signals:        signals,
		Risks:          risks,
		IsOpportunity:  isOpportunity,
		Recommendation: a.recommend(signals, risks, isOpportunity),
	}
}

// evaluateSignals applies the 10 positive-momentum predicates.
func (a *Analyzer) evaluateSignals(m Metrics) Signals {
	p := a.policy
	return Signals{
		// Supply signals
		ApproachingGraduation: m.CurveTokens > p.CurveTargetTokens*0.7,
		HealthyLiquidity:      m.LiquiditySol > p.MinLiquiditySol,

		// Trading signals
		StrongBuyPressure: m.BuyPressure > p.BuyPressureThreshold,
		GrowingVolume:     m.VolumeGrowthRate > p.VolumeGrowthThresholdPct,
		SufficientTrades:  m.RecentTradeCount > p.MinTradeCount,

		// Distribution signals
		DiverseHolders:       m.UniqueHolders > p.MinHolders,
		NoWhaleConcentration: m.LargestHolderShare <= p.MaxHolderShare,

		// Price signals
		StrongPriceGrowth: m.PriceGrowth > p.MinPriceGrowthPct,
		MaintainingPrice:  m.MaxPriceDrop < p.MaxPriceDropPct,

		// Bonding curve progression
		ApproachingKingOfHill: m.LiquiditySol > p.KingOfHillLiquiditySol*0.8,
	}
}

// assessRisks applies the 5 negative-condition predicates.
func (a *Analyzer) assessRisks(m Metrics) Risks {
	p := a.policy
	return Risks{
		InsufficientLiquidity:  m.LiquiditySol < p.MinLiquiditySol,
		LowTradeVolume:         m.RecentTradeCount < p.MinTradeCount,
		ExcessiveConcentration: m.LargestHolderShare > p.MaxHolderShare,
		PriceDumping:           m.MaxPriceDrop > p.MaxPriceDropPct,
		ApproachingMaxSupply:   m.CurveTokens > p.CurveTargetTokens*0.95,
	}
}

// recommend maps the signal/risk outcome to entry advice. Phase tests run
// late > mid > early, first match wins.
func (a *Analyzer) recommend(signals Signals, risks Risks, isOpportunity bool) Recommendation {
	if !isOpportunity {
		failed := signals.Failed()
		active := risks.Active()
		return Recommendation{
			Action: ActionWait,
			Reason: &Rejection{
				FailedSignals: failed,
				ActiveRisks:   active,
				Summary: fmt.Sprintf("Missing %d key signals with %d risk factors",
					len(failed), len(active)),
			},
		}
	}

	phase := classifyPhase(signals)
	return Recommendation{
		Action:            ActionEnter,
		Phase:             phase,
		SuggestedPosition: a.positionSize(signals, risks),
		StopLossPct:       a.stopLoss(phase),
		TakeProfitPct:     a.takeProfit(phase),
	}
}

func classifyPhase(signals Signals) Phase {
	switch {
	case signals.ApproachingGraduation:
		return PhaseLate
	case signals.ApproachingKingOfHill:
		return PhaseMid
	default:
		return PhaseEarly
	}
}

// positionSize scales the base position by signal strength, reduces it per
// active risk, and floors it at the minimum.
func (a *Analyzer) positionSize(signals Signals, risks Risks) float64 {
	p := a.policy

	strength := float64(signals.Count()) / float64(signals.Total())
	size := strength * p.BasePositionPct
	size *= 1 - p.RiskPositionPenalty*float64(risks.Count())

	if size < p.MinPositionPct {
		return p.MinPositionPct
	}
	return size
}

func (a *Analyzer) stopLoss(phase Phase) float64 {
	switch phase {
	case PhaseLate:
		return a.policy.StopLossLate
	case PhaseMid:
		return a.policy.StopLossMid
	default:
		return a.policy.StopLossEarly
	}
}

func (a *Analyzer) takeProfit(phase Phase) float64 {
	switch phase {
	case PhaseLate:
		return a.policy.TakeProfitLate
	case PhaseMid:
		return a.policy.TakeProfitMid
	default:
		return a.policy.TakeProfitEarly
	}
}
