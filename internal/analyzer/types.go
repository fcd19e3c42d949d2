package analyzer

// Phase classifies a token's progress along the bonding curve.
type Phase string

const (
	PhaseEarly Phase = "EARLY_STAGE"
	PhaseMid   Phase = "MID_STAGE"
	PhaseLate  Phase = "LATE_STAGE"
)

// Action constants for Recommendation.
const (
	ActionEnter = "ENTER"
	ActionWait  = "WAIT"
)

// Metrics is the derived snapshot the signal and risk predicates read.
type Metrics struct {
	CurveTokens        float64 `json:"tokenSupply"`  // supply remaining in the curve
	LiquiditySol       float64 `json:"solLiquidity"` // SOL in the curve
	BuyPressure        float64 `json:"buyPressure"`
	VolumeGrowthRate   float64 `json:"volumeGrowthRate"`
	RecentTradeCount   int     `json:"recentTradeCount"`
	UniqueHolders      int     `json:"uniqueHolders"`
	PriceGrowth        float64 `json:"priceGrowth"`  // percent, full history
	MaxPriceDrop       float64 `json:"maxPriceDrop"` // percent, windowed
	LargestHolderShare float64 `json:"largestHolder"`
	MarketCapSol       float64 `json:"marketCap"`
	CurrentPrice       float64 `json:"currentPrice"`
}

// Signals is the fixed 10-predicate positive-momentum set.
type Signals struct {
	ApproachingGraduation bool `json:"approachingGraduation"`
	HealthyLiquidity      bool `json:"healthyLiquidity"`
	StrongBuyPressure     bool `json:"strongBuyPressure"`
	GrowingVolume         bool `json:"growingVolume"`
	SufficientTrades      bool `json:"sufficientTrades"`
	DiverseHolders        bool `json:"diverseHolders"`
	NoWhaleConcentration  bool `json:"noWhaleConcentration"`
	StrongPriceGrowth     bool `json:"strongPriceGrowth"`
	MaintainingPrice      bool `json:"maintainingPrice"`
	ApproachingKingOfHill bool `json:"approachingKingOfHill"`
}

type flag struct {
	name string
	on   bool
}

func (s Signals) flags() []flag {
	return []flag{
		{"approachingGraduation", s.ApproachingGraduation},
		{"healthyLiquidity", s.HealthyLiquidity},
		{"strongBuyPressure", s.StrongBuyPressure},
		{"growingVolume", s.GrowingVolume},
		{"sufficientTrades", s.SufficientTrades},
		{"diverseHolders", s.DiverseHolders},
		{"noWhaleConcentration", s.NoWhaleConcentration},
		{"strongPriceGrowth", s.StrongPriceGrowth},
		{"maintainingPrice", s.MaintainingPrice},
		{"approachingKingOfHill", s.ApproachingKingOfHill},
	}
}

// Count returns the number of active signals.
func (s Signals) Count() int {
	return countOn(s.flags())
}

// Total returns the size of the signal set.
func (s Signals) Total() int {
	return len(s.flags())
}

// Failed returns the names of inactive signals, in declaration order.
func (s Signals) Failed() []string {
	return namesWhere(s.flags(), false)
}

// Risks is the fixed 5-predicate negative-condition set.
type Risks struct {
	InsufficientLiquidity  bool `json:"insufficientLiquidity"`
	LowTradeVolume         bool `json:"lowTradeVolume"`
	ExcessiveConcentration bool `json:"excessiveConcentration"`
	PriceDumping           bool `json:"priceDumping"`
	ApproachingMaxSupply   bool `json:"approachingMaxSupply"`
}

func (r Risks) flags() []flag {
	return []flag{
		{"insufficientLiquidity", r.InsufficientLiquidity},
		{"lowTradeVolume", r.LowTradeVolume},
		{"excessiveConcentration", r.ExcessiveConcentration},
		{"priceDumping", r.PriceDumping},
		{"approachingMaxSupply", r.ApproachingMaxSupply},
	}
}

// Count returns the number of active risks.
func (r Risks) Count() int {
	return countOn(r.flags())
}

// Active returns the names of active risks, in declaration order.
func (r Risks) Active() []string {
	return namesWhere(r.flags(), true)
}

func countOn(flags []flag) int {
	n := 0
	for _, f := range flags {
		if f.on {
			n++
		}
	}
	return n
}

func namesWhere(flags []flag, on bool) []string {
	var names []string
	for _, f := range flags {
		if f.on == on {
			names = append(names, f.name)
		}
	}
	return names
}

// Rejection explains a WAIT recommendation.
type Rejection struct {
	FailedSignals []string `json:"failedSignals"`
	ActiveRisks   []string `json:"activeRisks"`
	Summary       string   `json:"summary"`
}

// Recommendation is the entry/exit advice attached to an Analysis.
type Recommendation struct {
	Action            string     `json:"action"` // ActionEnter | ActionWait
	Phase             Phase      `json:"phase,omitempty"`
	SuggestedPosition float64    `json:"suggestedPosition,omitempty"` // fraction of bankroll
	StopLossPct       float64    `json:"stopLoss,omitempty"`
	TakeProfitPct     float64    `json:"takeProfit,omitempty"`
	Reason            *Rejection `json:"reason,omitempty"`
}

// Analysis is the full evaluation result for one token at one instant. It is
// transient: always recomputable from a TokenSnapshot and a clock reading.
type Analysis struct {
	Mint           string         `json:"mint"`
	Symbol         string         `json:"symbol"`
	EvaluatedAt    int64          `json:"evaluatedAt"`
	Metrics        Metrics        `json:"metrics"`
	Signals        Signals        `json:"signals"`
	Risks          Risks          `json:"risks"`
	IsOpportunity  bool           `json:"isOpportunity"`
	Recommendation Recommendation `json:"recommendation"`
}
