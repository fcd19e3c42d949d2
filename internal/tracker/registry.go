// Package tracker maintains per-token rolling state and orchestrates signal
// evaluation and broadcasting.
package tracker

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"pumpwatch/internal/domain"
	"pumpwatch/internal/observability"
	"pumpwatch/internal/solkey"
)

// ErrNoCurveSupply is returned by OnTrade when the event carries no usable
// curve supply: counters still update, but no price point is derived.
var ErrNoCurveSupply = errors.New("trade has no curve supply, price point skipped")

// Ingestor issues trade subscriptions against the upstream feed. The
// returned handle unsubscribes; both directions are fire-and-forget sends
// whose failure surfaces as an error.
type Ingestor interface {
	SubscribeTokenTrades(mint string) (func() error, error)
}

// trackedToken pairs a token's state with its subscription handle. The
// handle is owned exclusively by the registry entry.
type trackedToken struct {
	state *domain.TokenState
	unsub func() error
}

// Registry is the metrics aggregator: explicit, injected state with a
// construct/teardown lifecycle, one entry per tracked mint. A single lock
// applies each trade's multi-field update atomically; readers take
// snapshots and never see a torn update.
type Registry struct {
	ingestor Ingestor
	logger   *log.Logger
	clock    func() int64 // Unix ms

	mu     sync.RWMutex
	tokens map[string]*trackedToken
}

// NewRegistry creates an empty registry.
func NewRegistry(ingestor Ingestor, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		ingestor: ingestor,
		logger:   logger,
		clock:    func() int64 { return time.Now().UnixMilli() },
		tokens:   make(map[string]*trackedToken),
	}
}

// OnTokenCreated registers a new token. The trade subscription is acquired
// first; on failure no state is created and the error is returned. A mint
// that is already tracked is a no-op.
func (r *Registry) OnTokenCreated(ev domain.CreateEvent) error {
	r.mu.RLock()
	_, exists := r.tokens[ev.Mint]
	r.mu.RUnlock()
	if exists {
		return nil
	}

	// Subscribe outside the lock: acquisition may touch the network and
	// must not stall ingestion of unrelated events.
	unsub, err := r.ingestor.SubscribeTokenTrades(ev.Mint)
	if err != nil {
		observability.RecordSubscribeError()
		return fmt.Errorf("subscribe to trades for %s: %w", ev.Mint, err)
	}

	now := ev.Timestamp
	if now == 0 {
		now = r.clock()
	}

	state := &domain.TokenState{
		Mint:                ev.Mint,
		Name:                ev.Name,
		Symbol:              ev.Symbol,
		CurveAddress:        solkey.BondingCurveAddress(ev.Mint),
		CreatedAt:           now,
		LastUpdate:          now,
		InitialLiquiditySol: ev.LiquiditySol,
		InitialCurveTokens:  ev.CurveTokens,
		InitialMarketCapSol: ev.MarketCapSol,
		UniqueTraders:       make(map[string]struct{}),
		HighestMarketCapSol: ev.MarketCapSol,
		LowestMarketCapSol:  ev.MarketCapSol,
		HolderBalances:      make(map[string]float64),
		CurveSupply:         ev.CurveTokens,
	}

	r.mu.Lock()
	if _, exists := r.tokens[ev.Mint]; exists {
		// Lost the race to a duplicate creation event. Keep the original
		// entry and release the extra subscription.
		r.mu.Unlock()
		if err := unsub(); err != nil {
			r.logger.Printf("unsubscribe duplicate %s: %v", ev.Mint, err)
		}
		return nil
	}
	r.tokens[ev.Mint] = &trackedToken{state: state, unsub: unsub}
	total := len(r.tokens)
	r.mu.Unlock()

	observability.RecordTokenTracked(total)
	return nil
}

// OnTrade applies one trade to the token's state as a single atomic update.
// Unknown mints are a silent no-op (tracked=false). When the event carries
// no curve supply the counters still update but no price point is appended
// and ErrNoCurveSupply is returned.
func (r *Registry) OnTrade(ev domain.TradeEvent) (tracked bool, err error) {
	ts := ev.Timestamp
	if ts == 0 {
		ts = r.clock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tokens[ev.Mint]
	if !ok {
		return false, nil
	}
	state := entry.state

	state.Trades = append(state.Trades, domain.TradeRecord{
		Trader:       ev.Trader,
		Side:         ev.Side,
		TokenAmount:  ev.TokenAmount,
		LiquiditySol: ev.LiquiditySol,
		CurveTokens:  ev.CurveTokens,
		MarketCapSol: ev.MarketCapSol,
		Timestamp:    ts,
	})

	state.LastUpdate = ts
	if ev.Side == domain.SideBuy {
		state.BuyCount++
		state.HolderBalances[ev.Trader] += ev.TokenAmount
		state.CurveSupply += ev.TokenAmount
	} else {
		state.SellCount++
		state.HolderBalances[ev.Trader] -= ev.TokenAmount
		state.CurveSupply -= ev.TokenAmount
	}
	state.TotalVolumeTokens += ev.TokenAmount
	state.UniqueTraders[ev.Trader] = struct{}{}

	if ev.MarketCapSol > state.HighestMarketCapSol {
		state.HighestMarketCapSol = ev.MarketCapSol
	}
	if ev.MarketCapSol < state.LowestMarketCapSol {
		state.LowestMarketCapSol = ev.MarketCapSol
	}

	if ev.CurveTokens <= 0 {
		return true, fmt.Errorf("trade on %s: %w", ev.Mint, ErrNoCurveSupply)
	}

	price := ev.MarketCapSol / ev.CurveTokens
	state.TotalVolumeSol += ev.TokenAmount * price
	state.PriceHistory = append(state.PriceHistory, domain.PricePoint{
		Timestamp:    ts,
		Price:        price,
		MarketCapSol: ev.MarketCapSol,
		LiquiditySol: ev.LiquiditySol,
	})

	return true, nil
}

// Snapshot returns a consistent copy of one token's state.
func (r *Registry) Snapshot(mint string) (domain.TokenSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tokens[mint]
	if !ok {
		return domain.TokenSnapshot{}, false
	}
	return entry.state.Snapshot(), true
}

// Snapshots returns consistent copies of all tracked tokens, ordered by
// creation time then mint for deterministic output.
func (r *Registry) Snapshots() []domain.TokenSnapshot {
	r.mu.RLock()
	snaps := make([]domain.TokenSnapshot, 0, len(r.tokens))
	for _, entry := range r.tokens {
		snaps = append(snaps, entry.state.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt != snaps[j].CreatedAt {
			return snaps[i].CreatedAt < snaps[j].CreatedAt
		}
		return snaps[i].Mint < snaps[j].Mint
	})
	return snaps
}

// Len returns the number of tracked tokens.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

// ResubscribeAll re-acquires trade subscriptions for every tracked token
// after a feed reconnect. Attempts are independent and non-blocking: one
// token's failure never delays the rest.
func (r *Registry) ResubscribeAll() {
	r.mu.RLock()
	mints := make([]string, 0, len(r.tokens))
	for mint := range r.tokens {
		mints = append(mints, mint)
	}
	r.mu.RUnlock()

	for _, mint := range mints {
		go r.resubscribe(mint)
	}
}

func (r *Registry) resubscribe(mint string) {
	unsub, err := r.ingestor.SubscribeTokenTrades(mint)
	if err != nil {
		observability.RecordSubscribeError()
		r.logger.Printf("resubscribe %s: %v", mint, err)
		return
	}

	r.mu.Lock()
	entry, ok := r.tokens[mint]
	if ok {
		entry.unsub = unsub
	}
	r.mu.Unlock()

	if !ok {
		// Token was cleaned up while resubscribing.
		if err := unsub(); err != nil {
			r.logger.Printf("unsubscribe stale %s: %v", mint, err)
		}
	}
}

// Cleanup removes every token whose last update is at least maxAge old and
// releases its subscription. Returns the removed mints. Entries are removed
// in short per-token critical sections and the handles are called unlocked,
// so trade ingestion for other tokens proceeds concurrently.
func (r *Registry) Cleanup(maxAge time.Duration) []string {
	now := r.clock()
	cutoff := now - maxAge.Milliseconds()

	r.mu.RLock()
	candidates := make([]string, 0)
	for mint, entry := range r.tokens {
		if entry.state.LastUpdate <= cutoff {
			candidates = append(candidates, mint)
		}
	}
	r.mu.RUnlock()

	var removed []string
	for _, mint := range candidates {
		r.mu.Lock()
		entry, ok := r.tokens[mint]
		if !ok || entry.state.LastUpdate > cutoff {
			// Revived by a trade between the scan and now.
			r.mu.Unlock()
			continue
		}
		delete(r.tokens, mint)
		r.mu.Unlock()

		// Release the subscription outside the lock: the handle may block
		// on the network and must not stall ingestion of unrelated events.
		if err := entry.unsub(); err != nil {
			r.logger.Printf("unsubscribe %s: %v", mint, err)
		}

		removed = append(removed, mint)
		r.logger.Printf("stopped monitoring inactive token %s", mint)
	}

	if len(removed) > 0 {
		observability.RecordCleanup(len(removed))
		observability.RecordTokenTracked(r.Len())
	}
	return removed
}

// Close releases every subscription and clears the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	handles := make(map[string]func() error, len(r.tokens))
	for mint, entry := range r.tokens {
		handles[mint] = entry.unsub
		delete(r.tokens, mint)
	}
	r.mu.Unlock()

	for mint, unsub := range handles {
		if err := unsub(); err != nil {
			r.logger.Printf("unsubscribe %s on close: %v", mint, err)
		}
	}
}
