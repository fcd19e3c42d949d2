package analyzer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds every threshold used by the evaluator. The values are product
// policy, not protocol: all of them are overridable via YAML, and the
// defaults below are the reference configuration.
type Policy struct {
	// Bonding curve milestones.
	CurveTargetTokens      float64 `yaml:"curve_target_tokens"`       // tokens in a full curve
	KingOfHillLiquiditySol float64 `yaml:"king_of_hill_liquidity"`    // SOL for "King of the Hill"
	GraduationLiquiditySol float64 `yaml:"graduation_liquidity"`      // SOL for the Raydium transition

	// Legitimacy floors.
	MinLiquiditySol float64 `yaml:"min_liquidity"`
	MinTradeCount   int     `yaml:"min_trade_count"`
	MinHolders      int     `yaml:"min_holders"`
	MaxHolderShare  float64 `yaml:"max_holder_share"`

	// Momentum thresholds.
	WindowMs                 int64   `yaml:"window_ms"` // trailing analysis window
	BuyPressureThreshold     float64 `yaml:"buy_pressure_threshold"`
	VolumeGrowthThresholdPct float64 `yaml:"volume_growth_threshold_pct"`
	MinPriceGrowthPct        float64 `yaml:"min_price_growth_pct"`
	MaxPriceDropPct          float64 `yaml:"max_price_drop_pct"`

	// Opportunity rule. The reference signal/risk sets are fixed at 10 and
	// 5; changing the set sizes requires scaling these proportionally.
	MinSignals int `yaml:"min_signals"`
	MaxRisks   int `yaml:"max_risks"`

	// Position sizing.
	BasePositionPct     float64 `yaml:"base_position_pct"`
	MinPositionPct      float64 `yaml:"min_position_pct"`
	RiskPositionPenalty float64 `yaml:"risk_position_penalty"`

	// Per-phase exit policy.
	StopLossEarly   float64 `yaml:"stop_loss_early"`
	StopLossMid     float64 `yaml:"stop_loss_mid"`
	StopLossLate    float64 `yaml:"stop_loss_late"`
	TakeProfitEarly float64 `yaml:"take_profit_early"`
	TakeProfitMid   float64 `yaml:"take_profit_mid"`
	TakeProfitLate  float64 `yaml:"take_profit_late"`
}

// DefaultPolicy returns the reference thresholds.
func DefaultPolicy() Policy {
	return Policy{
		CurveTargetTokens:      800_000_000,
		KingOfHillLiquiditySol: 45,
		GraduationLiquiditySol: 86,

		MinLiquiditySol: 5,
		MinTradeCount:   10,
		MinHolders:      20,
		MaxHolderShare:  0.15,

		WindowMs:                 5 * 60 * 1000,
		BuyPressureThreshold:     0.70,
		VolumeGrowthThresholdPct: 50,
		MinPriceGrowthPct:        30,
		MaxPriceDropPct:          20,

		MinSignals: 7,
		MaxRisks:   1,

		BasePositionPct:     0.05,
		MinPositionPct:      0.01,
		RiskPositionPenalty: 0.25,

		StopLossEarly:   0.15,
		StopLossMid:     0.10,
		StopLossLate:    0.05,
		TakeProfitEarly: 0.50,
		TakeProfitMid:   0.30,
		TakeProfitLate:  0.15,
	}
}

// LoadPolicy reads a YAML policy file over the defaults. A missing file is
// not an error: the defaults are returned unchanged.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("read policy: %w", err)
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy: %w", err)
	}

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate rejects nonsensical threshold combinations.
func (p Policy) Validate() error {
	if p.WindowMs <= 0 {
		return fmt.Errorf("window_ms must be positive")
	}
	if p.MinSignals < 0 || p.MinSignals > 10 {
		return fmt.Errorf("min_signals must be within [0,10]")
	}
	if p.MaxRisks < 0 || p.MaxRisks > 5 {
		return fmt.Errorf("max_risks must be within [0,5]")
	}
	if p.MinPositionPct > p.BasePositionPct {
		return fmt.Errorf("min_position_pct must not exceed base_position_pct")
	}
	return nil
}
