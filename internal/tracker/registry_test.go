package tracker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"pumpwatch/internal/domain"
)

// stubIngestor records subscribe/unsubscribe calls and can be told to fail
// for specific mints. An unsubGate entry makes that mint's unsubscribe
// block until the channel is closed.
type stubIngestor struct {
	mu        sync.Mutex
	failing   map[string]bool
	unsubGate map[string]chan struct{}
	subs      []string
	unsubs    []string
	unsubErr  error
}

func newStubIngestor() *stubIngestor {
	return &stubIngestor{
		failing:   make(map[string]bool),
		unsubGate: make(map[string]chan struct{}),
	}
}

func (s *stubIngestor) SubscribeTokenTrades(mint string) (func() error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing[mint] {
		return nil, errors.New("subscribe refused")
	}
	s.subs = append(s.subs, mint)

	return func() error {
		s.mu.Lock()
		gate := s.unsubGate[mint]
		s.mu.Unlock()
		if gate != nil {
			<-gate
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.unsubs = append(s.unsubs, mint)
		return s.unsubErr
	}, nil
}

func (s *stubIngestor) subscribeCount(mint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.subs {
		if m == mint {
			n++
		}
	}
	return n
}

func (s *stubIngestor) unsubscribeCount(mint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.unsubs {
		if m == mint {
			n++
		}
	}
	return n
}

func testRegistry(t *testing.T) (*Registry, *stubIngestor, *int64) {
	t.Helper()
	ing := newStubIngestor()
	reg := NewRegistry(ing, nil)
	now := int64(1_000_000)
	reg.clock = func() int64 { return now }
	return reg, ing, &now
}

func createEvent(mint string) domain.CreateEvent {
	return domain.CreateEvent{
		Mint:         mint,
		Name:         "Test Token",
		Symbol:       "TT",
		LiquiditySol: 30,
		CurveTokens:  1_000_000_000,
		MarketCapSol: 30,
	}
}

func tradeEvent(mint, trader, side string, amount float64) domain.TradeEvent {
	return domain.TradeEvent{
		Mint:         mint,
		Side:         side,
		Trader:       trader,
		TokenAmount:  amount,
		LiquiditySol: 35,
		CurveTokens:  1_000_000_000,
		MarketCapSol: 35,
	}
}

func TestOnTokenCreated(t *testing.T) {
	reg, ing, _ := testRegistry(t)

	if err := reg.OnTokenCreated(createEvent("mintA")); err != nil {
		t.Fatalf("OnTokenCreated: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reg.Len())
	}
	if ing.subscribeCount("mintA") != 1 {
		t.Errorf("subscribes = %d, want 1", ing.subscribeCount("mintA"))
	}

	snap, ok := reg.Snapshot("mintA")
	if !ok {
		t.Fatal("snapshot missing")
	}
	if snap.Symbol != "TT" || snap.InitialLiquiditySol != 30 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.CurveSupply != 1_000_000_000 {
		t.Errorf("CurveSupply = %f, want initial curve tokens", snap.CurveSupply)
	}
	if snap.CurveAddress == "" {
		t.Error("curve address should derive from the mint")
	}
}

func TestOnTokenCreated_Idempotent(t *testing.T) {
	reg, ing, _ := testRegistry(t)

	reg.OnTokenCreated(createEvent("mintA"))
	reg.OnTrade(tradeEvent("mintA", "t1", domain.SideBuy, 100))

	// Duplicate creation neither resets state nor stacks subscriptions.
	if err := reg.OnTokenCreated(createEvent("mintA")); err != nil {
		t.Fatalf("duplicate OnTokenCreated: %v", err)
	}

	snap, _ := reg.Snapshot("mintA")
	if len(snap.Trades) != 1 {
		t.Errorf("trades = %d, duplicate create must not reset state", len(snap.Trades))
	}
	if ing.subscribeCount("mintA") != 1 {
		t.Errorf("subscribes = %d, want 1", ing.subscribeCount("mintA"))
	}
}

func TestOnTokenCreated_SubscribeFailure(t *testing.T) {
	reg, ing, _ := testRegistry(t)
	ing.failing["bad"] = true

	err := reg.OnTokenCreated(createEvent("bad"))
	if err == nil {
		t.Fatal("expected subscribe error")
	}
	if reg.Len() != 0 {
		t.Error("failed subscription must leave no partial state")
	}

	// Other tokens are unaffected.
	if err := reg.OnTokenCreated(createEvent("good")); err != nil {
		t.Fatalf("OnTokenCreated: %v", err)
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
}

func TestOnTrade(t *testing.T) {
	reg, _, _ := testRegistry(t)
	reg.OnTokenCreated(createEvent("mintA"))

	trades := []struct {
		trader string
		side   string
		amount float64
	}{
		{"t1", domain.SideBuy, 100},
		{"t2", domain.SideBuy, 200},
		{"t1", domain.SideSell, 50},
	}
	for _, tr := range trades {
		tracked, err := reg.OnTrade(tradeEvent("mintA", tr.trader, tr.side, tr.amount))
		if err != nil {
			t.Fatalf("OnTrade: %v", err)
		}
		if !tracked {
			t.Fatal("trade on tracked mint must report tracked")
		}
	}

	snap, _ := reg.Snapshot("mintA")
	if snap.BuyCount != 2 || snap.SellCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", snap.BuyCount, snap.SellCount)
	}
	if snap.BuyCount+snap.SellCount != len(snap.Trades) {
		t.Error("buyCount + sellCount must equal the trade log length")
	}
	if snap.UniqueTraderCount != 2 {
		t.Errorf("unique traders = %d, want 2", snap.UniqueTraderCount)
	}
	if snap.TotalVolumeTokens != 350 {
		t.Errorf("volume = %f, want 350", snap.TotalVolumeTokens)
	}
	if len(snap.PriceHistory) != 3 {
		t.Errorf("price points = %d, want 3", len(snap.PriceHistory))
	}
	// Net holder balance: t1 bought 100 and sold 50.
	if snap.HolderBalances["t1"] != 50 {
		t.Errorf("t1 balance = %f, want 50", snap.HolderBalances["t1"])
	}
	// Supply: initial + 300 bought - 50 sold.
	if snap.CurveSupply != 1_000_000_250 {
		t.Errorf("CurveSupply = %f, want 1000000250", snap.CurveSupply)
	}
}

func TestOnTrade_UnknownMintIsNoop(t *testing.T) {
	reg, _, _ := testRegistry(t)

	tracked, err := reg.OnTrade(tradeEvent("ghost", "t1", domain.SideBuy, 100))
	if err != nil {
		t.Fatalf("OnTrade: %v", err)
	}
	if tracked {
		t.Error("unknown mint must not report tracked")
	}
	if reg.Len() != 0 {
		t.Error("unknown mint must not create state")
	}
}

func TestOnTrade_NoCurveSupply(t *testing.T) {
	reg, _, _ := testRegistry(t)
	reg.OnTokenCreated(createEvent("mintA"))

	ev := tradeEvent("mintA", "t1", domain.SideBuy, 100)
	ev.CurveTokens = 0

	tracked, err := reg.OnTrade(ev)
	if !tracked {
		t.Fatal("trade must still be tracked")
	}
	if !errors.Is(err, ErrNoCurveSupply) {
		t.Fatalf("err = %v, want ErrNoCurveSupply", err)
	}

	snap, _ := reg.Snapshot("mintA")
	if snap.BuyCount != 1 || len(snap.Trades) != 1 {
		t.Error("counters must update despite the missing supply")
	}
	if len(snap.PriceHistory) != 0 {
		t.Error("no price point may be derived without curve supply")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	reg, _, _ := testRegistry(t)
	reg.OnTokenCreated(createEvent("mintA"))
	reg.OnTrade(tradeEvent("mintA", "t1", domain.SideBuy, 100))

	snap, _ := reg.Snapshot("mintA")
	before := len(snap.Trades)

	reg.OnTrade(tradeEvent("mintA", "t2", domain.SideBuy, 200))

	if len(snap.Trades) != before {
		t.Error("snapshot must not observe later trades")
	}
	if snap.HolderBalances["t2"] != 0 {
		t.Error("snapshot balances must not observe later trades")
	}
}

func TestCleanup(t *testing.T) {
	reg, ing, now := testRegistry(t)

	reg.OnTokenCreated(createEvent("old"))
	*now += 10 * 60 * 1000
	reg.OnTokenCreated(createEvent("fresh"))

	removed := reg.Cleanup(5 * time.Minute)
	if len(removed) != 1 || removed[0] != "old" {
		t.Fatalf("removed = %v, want [old]", removed)
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
	if ing.unsubscribeCount("old") != 1 {
		t.Errorf("unsubscribes = %d, want exactly 1", ing.unsubscribeCount("old"))
	}
	if ing.unsubscribeCount("fresh") != 0 {
		t.Error("fresh token must keep its subscription")
	}
}

func TestCleanup_ZeroMaxAgeRemovesEverything(t *testing.T) {
	reg, ing, _ := testRegistry(t)

	reg.OnTokenCreated(createEvent("a"))
	reg.OnTokenCreated(createEvent("b"))

	removed := reg.Cleanup(0)
	if len(removed) != 2 {
		t.Fatalf("removed = %v, want both tokens", removed)
	}
	if reg.Len() != 0 {
		t.Errorf("Len = %d, want 0", reg.Len())
	}
	for _, mint := range []string{"a", "b"} {
		if ing.unsubscribeCount(mint) != 1 {
			t.Errorf("unsubscribes(%s) = %d, want exactly 1", mint, ing.unsubscribeCount(mint))
		}
	}
}

func TestCleanup_BlockedUnsubscribeDoesNotStallIngestion(t *testing.T) {
	reg, ing, now := testRegistry(t)

	reg.OnTokenCreated(createEvent("stale"))
	gate := make(chan struct{})
	ing.mu.Lock()
	ing.unsubGate["stale"] = gate
	ing.mu.Unlock()

	*now += 10 * 60 * 1000
	reg.OnTokenCreated(createEvent("fresh"))

	done := make(chan []string, 1)
	go func() { done <- reg.Cleanup(5 * time.Minute) }()

	// The stale entry leaves the registry before the unsubscribe blocks.
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reg.Len() != 1 {
		t.Fatal("cleanup never removed the stale token")
	}

	// Trade ingestion for the surviving token proceeds while the stale
	// token's unsubscribe is still in flight.
	traded := make(chan struct{})
	go func() {
		reg.OnTrade(tradeEvent("fresh", "t1", domain.SideBuy, 100))
		close(traded)
	}()
	select {
	case <-traded:
	case <-time.After(time.Second):
		t.Fatal("trade ingestion stalled behind a blocked unsubscribe")
	}

	close(gate)
	if removed := <-done; len(removed) != 1 || removed[0] != "stale" {
		t.Fatalf("removed = %v, want [stale]", removed)
	}
	if ing.unsubscribeCount("stale") != 1 {
		t.Errorf("unsubscribes = %d, want exactly 1", ing.unsubscribeCount("stale"))
	}
}

func TestCleanup_TradeRefreshesActivity(t *testing.T) {
	reg, _, now := testRegistry(t)

	reg.OnTokenCreated(createEvent("mintA"))
	*now += 10 * 60 * 1000
	reg.OnTrade(tradeEvent("mintA", "t1", domain.SideBuy, 100))

	if removed := reg.Cleanup(5 * time.Minute); len(removed) != 0 {
		t.Errorf("removed = %v, trade should have refreshed activity", removed)
	}
}

func TestResubscribeAll(t *testing.T) {
	reg, ing, _ := testRegistry(t)

	reg.OnTokenCreated(createEvent("a"))
	reg.OnTokenCreated(createEvent("b"))

	reg.ResubscribeAll()

	// Attempts run on their own goroutines.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ing.subscribeCount("a") == 2 && ing.subscribeCount("b") == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("resubscribes = %d/%d, want 2/2",
		ing.subscribeCount("a"), ing.subscribeCount("b"))
}

func TestResubscribeAll_PartialFailure(t *testing.T) {
	reg, ing, _ := testRegistry(t)

	reg.OnTokenCreated(createEvent("good"))
	reg.OnTokenCreated(createEvent("bad"))
	ing.mu.Lock()
	ing.failing["bad"] = true
	ing.mu.Unlock()

	reg.ResubscribeAll()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ing.subscribeCount("good") == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if ing.subscribeCount("good") != 2 {
		t.Fatal("healthy token must resubscribe despite the failing one")
	}
	// Both tokens stay tracked either way.
	if reg.Len() != 2 {
		t.Errorf("Len = %d, want 2", reg.Len())
	}
}

func TestClose(t *testing.T) {
	reg, ing, _ := testRegistry(t)

	reg.OnTokenCreated(createEvent("a"))
	reg.OnTokenCreated(createEvent("b"))

	reg.Close()

	if reg.Len() != 0 {
		t.Errorf("Len = %d, want 0 after Close", reg.Len())
	}
	if ing.unsubscribeCount("a") != 1 || ing.unsubscribeCount("b") != 1 {
		t.Error("Close must release every subscription")
	}
}
