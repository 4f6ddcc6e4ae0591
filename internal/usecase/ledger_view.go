package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	"SignalDesk/internal/services/reconcile"
	applogger "SignalDesk/pkg/logger"
)

// LedgerState is one complete replay of a strategy ledger. Readers only
// ever see fully built states.
type LedgerState struct {
	Stat       domrepo.LedgerStat
	Events     []models.TradeEvent
	Book       *reconcile.Book
	Roundtrips []models.Roundtrip
	Warnings   []models.Warning
	BuiltAt    time.Time
}

// LastTrade is the most recent journalled event, fill or not.
func (s *LedgerState) LastTrade() *models.TradeEvent {
	if len(s.Events) == 0 {
		return nil
	}
	ev := s.Events[len(s.Events)-1]
	return &ev
}

// LedgerView caches ledger replays per strategy and rebuilds them when the
// ledger file changes size or mtime.
type LedgerView struct {
	store   domrepo.LedgerStore
	recon   *reconcile.Reconciler
	builder *reconcile.RoundtripBuilder
	marks   domrepo.MarkSource
	group   singleflight.Group

	mu     sync.Mutex
	states map[string]*atomic.Pointer[LedgerState]

	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewLedgerView(store domrepo.LedgerStore, recon *reconcile.Reconciler, builder *reconcile.RoundtripBuilder) *LedgerView {
	return &LedgerView{
		store:   store,
		recon:   recon,
		builder: builder,
		states:  make(map[string]*atomic.Pointer[LedgerState]),
	}
}

func (v *LedgerView) SetLogger(l *applogger.Logger) { v.l = l }

func (v *LedgerView) SetMetrics(m domrepo.Metrics) { v.metrics = m }

// SetMarks sets the fallback mark source used when no explicit mark is given.
func (v *LedgerView) SetMarks(m domrepo.MarkSource) { v.marks = m }

func (v *LedgerView) slot(strategy string) *atomic.Pointer[LedgerState] {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.states[strategy]
	if !ok {
		p = &atomic.Pointer[LedgerState]{}
		v.states[strategy] = p
	}
	return p
}

// State returns the current replay, rebuilding it if the ledger changed.
func (v *LedgerView) State(ctx context.Context, strategy string) (*LedgerState, error) {
	lg, err := v.store.Ledger(strategy)
	if err != nil {
		return nil, err
	}
	st, err := lg.Stat()
	if err != nil {
		return nil, err
	}
	if st == (domrepo.LedgerStat{}) {
		// no ledger file yet; nothing worth caching
		replay := reconcile.Run(v.recon, v.builder, nil)
		return &LedgerState{Book: replay.Book, BuiltAt: time.Now().UTC()}, nil
	}
	p := v.slot(strategy)
	if cur := p.Load(); cur != nil && sameStat(cur.Stat, st) {
		return cur, nil
	}

	res, err, _ := v.group.Do(strategy, func() (interface{}, error) {
		if cur := p.Load(); cur != nil && sameStat(cur.Stat, st) {
			return cur, nil
		}
		start := time.Now()
		events, scanWarnings, err := lg.Scan(ctx)
		if err != nil {
			return nil, err
		}
		replay := reconcile.Run(v.recon, v.builder, events)
		next := &LedgerState{
			Stat:       st,
			Events:     events,
			Book:       replay.Book,
			Roundtrips: replay.Roundtrips,
			Warnings:   append(scanWarnings, replay.Warnings...),
			BuiltAt:    time.Now().UTC(),
		}
		p.Store(next)

		if v.metrics != nil {
			for _, w := range next.Warnings {
				v.metrics.RecordLedgerWarning(strategy, w.Kind)
			}
		}
		if v.l != nil {
			v.l.Debug("ledger replayed",
				applogger.String("strategy", strategy),
				applogger.Int("events", len(events)),
				applogger.Int("roundtrips", len(next.Roundtrips)),
				applogger.Int("warnings", len(next.Warnings)),
				applogger.Duration("duration_ms", time.Since(start)),
			)
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*LedgerState), nil
}

func sameStat(a, b domrepo.LedgerStat) bool {
	return a.Size == b.Size && a.ModTime.Equal(b.ModTime)
}

// Position prices the position in symbol, or in the most recently traded
// symbol when symbol is empty. An explicit mark wins over the mark source.
func (v *LedgerView) Position(ctx context.Context, strategy, symbol string, mark float64) (models.Position, error) {
	s, err := v.State(ctx, strategy)
	if err != nil {
		return models.Position{}, err
	}
	if symbol == "" {
		symbol = s.Book.LastSymbol()
	}
	return reconcile.WithMark(s.Book.Position(symbol), v.mark(symbol, mark)), nil
}

// Positions lists every open position, priced from the mark source.
func (v *LedgerView) Positions(ctx context.Context, strategy string) ([]models.Position, error) {
	s, err := v.State(ctx, strategy)
	if err != nil {
		return nil, err
	}
	out := make([]models.Position, 0)
	for _, sym := range s.Book.Symbols() {
		p := s.Book.Position(sym)
		if p.Side == models.Flat {
			continue
		}
		out = append(out, reconcile.WithMark(p, v.mark(sym, 0)))
	}
	return out, nil
}

func (v *LedgerView) mark(symbol string, explicit float64) float64 {
	if explicit > 0 {
		return explicit
	}
	if v.marks != nil && symbol != "" {
		if m, ok := v.marks.Mark(symbol); ok {
			return m
		}
	}
	return 0
}

// Roundtrips returns the last limit closed pairs, oldest first.
func (v *LedgerView) Roundtrips(ctx context.Context, strategy string, limit int) ([]models.Roundtrip, error) {
	s, err := v.State(ctx, strategy)
	if err != nil {
		return nil, err
	}
	return lastN(s.Roundtrips, limit), nil
}

// Trades returns the last limit journalled events in ledger order.
func (v *LedgerView) Trades(ctx context.Context, strategy string, limit int) ([]models.TradeEvent, error) {
	s, err := v.State(ctx, strategy)
	if err != nil {
		return nil, err
	}
	return lastN(s.Events, limit), nil
}

// AppendTrade journals ev. The result is false for a repeated order_id.
func (v *LedgerView) AppendTrade(ctx context.Context, strategy string, ev models.TradeEvent) (bool, error) {
	lg, err := v.store.Ledger(strategy)
	if err != nil {
		return false, err
	}
	ok, err := lg.Append(ctx, ev)
	if err != nil {
		return false, err
	}
	if v.metrics != nil {
		v.metrics.RecordTradeAppended(strategy, !ok)
	}
	if v.l != nil {
		v.l.Info("trade appended",
			applogger.String("strategy", strategy),
			applogger.String("order_id", ev.OrderID),
			applogger.String("side", string(ev.Side)),
			applogger.Bool("duplicate", !ok),
		)
	}
	return ok, nil
}

func lastN[T any](items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		out := make([]T, len(items))
		copy(out, items)
		return out
	}
	out := make([]T, n)
	copy(out, items[len(items)-n:])
	return out
}
