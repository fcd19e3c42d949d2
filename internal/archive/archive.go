package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"pumpwatch/internal/domain"
	"pumpwatch/internal/observability"
)

const tradesDDL = `
	CREATE TABLE IF NOT EXISTS pump_trades (
		mint           String,
		trader         String,
		side           LowCardinality(String),
		token_amount   Float64,
		liquidity_sol  Float64,
		curve_tokens   Float64,
		market_cap_sol Float64,
		timestamp_ms   UInt64
	) ENGINE = MergeTree()
	ORDER BY (mint, timestamp_ms)
`

// archivedTrade pairs a trade with its mint for the flush loop.
type archivedTrade struct {
	mint  string
	trade domain.TradeRecord
}

// TradeArchive batches trades into ClickHouse. RecordTrade never blocks:
// when the buffer is full the trade is dropped and counted, the tracking
// pipeline is unaffected.
type TradeArchive struct {
	conn   *Conn
	logger *log.Logger

	buf           chan archivedTrade
	flushInterval time.Duration
	batchSize     int
}

// Options configures a TradeArchive. Zero values take the defaults.
type Options struct {
	BufferSize    int           // default 10000
	FlushInterval time.Duration // default 5s
	BatchSize     int           // default 500
	Logger        *log.Logger
}

// NewTradeArchive ensures the trade table exists and returns an archive
// ready to Run.
func NewTradeArchive(ctx context.Context, conn *Conn, opts Options) (*TradeArchive, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	if err := conn.Exec(ctx, tradesDDL); err != nil {
		return nil, fmt.Errorf("ensure pump_trades table: %w", err)
	}

	return &TradeArchive{
		conn:          conn,
		logger:        opts.Logger,
		buf:           make(chan archivedTrade, opts.BufferSize),
		flushInterval: opts.FlushInterval,
		batchSize:     opts.BatchSize,
	}, nil
}

// RecordTrade enqueues one trade for archival. Non-blocking; drops on a
// full buffer.
func (a *TradeArchive) RecordTrade(mint string, tr domain.TradeRecord) {
	select {
	case a.buf <- archivedTrade{mint: mint, trade: tr}:
	default:
		observability.RecordArchiveDrop()
	}
}

// Run drains the buffer into batched inserts until the context is canceled,
// then flushes what remains.
func (a *TradeArchive) Run(ctx context.Context) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	pending := make([]archivedTrade, 0, a.batchSize)

	for {
		select {
		case <-ctx.Done():
			a.drain(&pending)
			a.flush(pending)
			return
		case tr := <-a.buf:
			pending = append(pending, tr)
			if len(pending) >= a.batchSize {
				a.flush(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				a.flush(pending)
				pending = pending[:0]
			}
		}
	}
}

// drain moves whatever is buffered into pending without blocking.
func (a *TradeArchive) drain(pending *[]archivedTrade) {
	for {
		select {
		case tr := <-a.buf:
			*pending = append(*pending, tr)
		default:
			return
		}
	}
}

func (a *TradeArchive) flush(pending []archivedTrade) {
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.insert(ctx, pending); err != nil {
		observability.RecordArchiveError()
		a.logger.Printf("flush %d trades: %v", len(pending), err)
		return
	}
	observability.RecordTradeArchived(len(pending))
}

func (a *TradeArchive) insert(ctx context.Context, trades []archivedTrade) error {
	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO pump_trades (
			mint, trader, side, token_amount, liquidity_sol, curve_tokens,
			market_cap_sol, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range trades {
		err = batch.Append(
			t.mint, t.trade.Trader, t.trade.Side,
			t.trade.TokenAmount, t.trade.LiquiditySol, t.trade.CurveTokens,
			t.trade.MarketCapSol, uint64(t.trade.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// CountTrades returns the number of archived trades for a mint. Used by
// integration tests and ad-hoc inspection.
func (a *TradeArchive) CountTrades(ctx context.Context, mint string) (uint64, error) {
	var count uint64
	err := a.conn.QueryRow(ctx,
		`SELECT count(*) FROM pump_trades WHERE mint = ?`, mint).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return count, nil
}
