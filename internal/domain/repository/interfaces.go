package repository

import (
	"context"
	"time"

	"SignalDesk/internal/domain/models"
)

// PriceSource returns an ascending close (+volume) history for one asset.
// Transient failures must surface as *models.UpstreamFetchError.
type PriceSource interface {
	FetchSeries(ctx context.Context, asset models.Asset) (models.PriceSeries, error)
}

// MarkSource supplies the current mark price per symbol.
type MarkSource interface {
	Mark(symbol string) (float64, bool)
}

// MarkStream is a live mark-price connection.
type MarkStream interface {
	MarkSource
	Run(ctx context.Context) error
	IsConnected() bool
	Close() error
}

// LedgerStat identifies a ledger revision for cache invalidation.
type LedgerStat struct {
	Size    int64
	ModTime time.Time
}

// TradeLedger is an append-only journal of fills.
type TradeLedger interface {
	// Append returns false when order_id is already present.
	Append(ctx context.Context, ev models.TradeEvent) (bool, error)
	// Scan reads the whole ledger in order, skipping malformed lines.
	Scan(ctx context.Context) ([]models.TradeEvent, []models.Warning, error)
	Stat() (LedgerStat, error)
}

// LedgerStore hands out one ledger per canonical strategy id.
type LedgerStore interface {
	Ledger(strategy string) (TradeLedger, error)
}

// SnapshotStore persists the latest strategy snapshot atomically.
type SnapshotStore interface {
	Load(ctx context.Context, strategy string) (models.StrategySnapshot, error)
	Save(ctx context.Context, snap models.StrategySnapshot) error
}

// EvalLog is the per-strategy evaluation journal.
type EvalLog interface {
	Append(ctx context.Context, strategy string, entry models.EvalLogEntry) error
	Tail(ctx context.Context, strategy string, n int) ([]models.EvalLogEntry, error)
}

// Metrics is the observability sink of the core.
type Metrics interface {
	RecordRefresh(outcome string, seconds float64)
	RecordFetchError(asset, kind string)
	SetCacheStatus(status string)
	RecordLastPrice(asset string, price float64)
	RecordLedgerWarning(strategy, kind string)
	RecordTradeAppended(strategy string, duplicate bool)
}
