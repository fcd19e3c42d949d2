package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"pumpwatch/internal/analyzer"
	"pumpwatch/internal/broadcast"
	"pumpwatch/internal/domain"
	"pumpwatch/internal/observability"
)

// Sink receives viewer-facing messages. Implementations must not block the
// caller for long; the hub drops slow viewers rather than stalling.
type Sink interface {
	Broadcast(msg broadcast.Message)
}

// Archive receives trades for durable storage. Implementations buffer and
// write asynchronously; RecordTrade must never block ingestion.
type Archive interface {
	RecordTrade(mint string, tr domain.TradeRecord)
}

// Options configures a Tracker. Zero intervals take the defaults below.
type Options struct {
	Registry *Registry
	Analyzer *analyzer.Analyzer
	Sink     Sink
	Archive  Archive // optional
	Logger   *log.Logger
	Clock    func() int64 // Unix ms, defaults to wall clock

	StateInterval time.Duration // full-state broadcast cadence, default 1s
	SweepInterval time.Duration // opportunity sweep cadence, default 5s
}

// Tracker drives the pipeline: it routes feed events into the registry,
// evaluates affected tokens, emits edge-triggered opportunity alerts, and
// runs the periodic broadcast loops. Construction starts nothing; timers
// begin on Run.
type Tracker struct {
	registry *Registry
	analyzer *analyzer.Analyzer
	sink     Sink
	archive  Archive
	logger   *log.Logger
	clock    func() int64

	stateInterval time.Duration
	sweepInterval time.Duration

	mu           sync.Mutex
	lastAnalysis map[string]analyzer.Analysis
}

// New creates a Tracker from options.
func New(opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.StateInterval <= 0 {
		opts.StateInterval = time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}

	return &Tracker{
		registry:      opts.Registry,
		analyzer:      opts.Analyzer,
		sink:          opts.Sink,
		archive:       opts.Archive,
		logger:        opts.Logger,
		clock:         opts.Clock,
		stateInterval: opts.StateInterval,
		sweepInterval: opts.SweepInterval,
		lastAnalysis:  make(map[string]analyzer.Analysis),
	}
}

// HandleEvent routes one decoded feed event. Unknown payloads are counted
// and dropped; they never disturb tracked state.
func (t *Tracker) HandleEvent(ev domain.Event) {
	switch ev := ev.(type) {
	case domain.CreateEvent:
		observability.RecordEventProcessed("create")
		t.handleCreate(ev)
	case domain.TradeEvent:
		observability.RecordEventProcessed(ev.Side)
		t.handleTrade(ev)
	case domain.AckEvent:
		observability.RecordEventProcessed("ack")
	case domain.UnknownEvent:
		observability.RecordDecodeFailure()
	}
}

func (t *Tracker) handleCreate(ev domain.CreateEvent) {
	if err := t.registry.OnTokenCreated(ev); err != nil {
		t.logger.Printf("track %s: %v", ev.Mint, err)
		return
	}
	t.logger.Printf("tracking new token %s (%s), %d total", ev.Mint, ev.Symbol, t.registry.Len())
}

func (t *Tracker) handleTrade(ev domain.TradeEvent) {
	// Assign the ingestion timestamp up front so the registry and the
	// archive record the same one.
	if ev.Timestamp == 0 {
		ev.Timestamp = t.clock()
	}

	tracked, err := t.registry.OnTrade(ev)
	if err != nil {
		t.logger.Printf("trade %s: %v", ev.Mint, err)
	}
	if !tracked {
		return
	}

	if t.archive != nil {
		t.archive.RecordTrade(ev.Mint, domain.TradeRecord{
			Trader:       ev.Trader,
			Side:         ev.Side,
			TokenAmount:  ev.TokenAmount,
			LiquiditySol: ev.LiquiditySol,
			CurveTokens:  ev.CurveTokens,
			MarketCapSol: ev.MarketCapSol,
			Timestamp:    ev.Timestamp,
		})
	}

	t.evaluate(ev.Mint)
}

// evaluate re-analyzes one token and emits a newOpportunity alert on the
// false-to-true transition of the opportunity flag.
func (t *Tracker) evaluate(mint string) {
	snap, ok := t.registry.Snapshot(mint)
	if !ok {
		return
	}

	now := t.clock()
	started := time.Now()
	analysis := t.analyzer.Evaluate(snap, now)
	observability.RecordEvaluation(time.Since(started).Seconds())

	t.mu.Lock()
	prev, seen := t.lastAnalysis[mint]
	t.lastAnalysis[mint] = analysis
	t.mu.Unlock()

	if analysis.IsOpportunity && (!seen || !prev.IsOpportunity) {
		observability.RecordOpportunity()
		t.logger.Printf("new opportunity %s (%s): %d/%d signals, %d risks",
			analysis.Mint, analysis.Symbol,
			analysis.Signals.Count(), analysis.Signals.Total(), analysis.Risks.Count())
		if t.sink != nil {
			t.sink.Broadcast(broadcast.NewOpportunity(analysis, now))
		}
	}
}

// Run drives the periodic loops until the context is canceled: the
// full-state broadcast and the opportunity sweep.
func (t *Tracker) Run(ctx context.Context) {
	stateTicker := time.NewTicker(t.stateInterval)
	defer stateTicker.Stop()
	sweepTicker := time.NewTicker(t.sweepInterval)
	defer sweepTicker.Stop()

	t.logger.Printf("broadcast loops started (state %s, sweep %s)", t.stateInterval, t.sweepInterval)

	for {
		select {
		case <-ctx.Done():
			t.logger.Printf("broadcast loops stopped: %v", ctx.Err())
			return
		case <-stateTicker.C:
			t.broadcastState()
		case <-sweepTicker.C:
			t.sweep()
		}
	}
}

func (t *Tracker) broadcastState() {
	if t.sink == nil {
		return
	}
	t.sink.Broadcast(broadcast.StateUpdate(t.registry.Snapshots(), t.clock()))
}

// sweep re-evaluates every tracked token and broadcasts the ones that
// currently qualify. The sweep refreshes the per-token analysis cache but
// does not emit edge-triggered alerts; those belong to the trade path.
func (t *Tracker) sweep() {
	now := t.clock()
	snaps := t.registry.Snapshots()

	var opportunities []analyzer.Analysis
	for _, snap := range snaps {
		analysis := t.analyzer.Evaluate(snap, now)

		t.mu.Lock()
		t.lastAnalysis[snap.Mint] = analysis
		t.mu.Unlock()

		if analysis.IsOpportunity {
			opportunities = append(opportunities, analysis)
		}
	}

	if len(opportunities) == 0 || t.sink == nil {
		return
	}
	t.logger.Printf("sweep found %d opportunities across %d tokens", len(opportunities), len(snaps))
	t.sink.Broadcast(broadcast.Opportunities(opportunities, now))
}

// Cleanup removes tokens idle for at least maxAge and drops their cached
// analyses. Returns the removed mints.
func (t *Tracker) Cleanup(maxAge time.Duration) []string {
	removed := t.registry.Cleanup(maxAge)

	t.mu.Lock()
	for _, mint := range removed {
		delete(t.lastAnalysis, mint)
	}
	t.mu.Unlock()

	return removed
}

// Resubscribe re-acquires all trade subscriptions after a feed reconnect.
func (t *Tracker) Resubscribe() {
	observability.RecordReconnect()
	t.registry.ResubscribeAll()
}

// TrackedTokens returns the number of tokens currently tracked.
func (t *Tracker) TrackedTokens() int {
	return t.registry.Len()
}

// LastAnalysis returns the cached analysis for a mint, if any.
func (t *Tracker) LastAnalysis(mint string) (analyzer.Analysis, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.lastAnalysis[mint]
	return a, ok
}
