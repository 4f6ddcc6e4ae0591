package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	applogger "SignalDesk/pkg/logger"
)

var strategyID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidStrategyID reports whether id is safe to use as a file stem.
func ValidStrategyID(id string) bool {
	return strategyID.MatchString(id)
}

// LedgerRegistry opens one JSONLLedger per canonical strategy, lazily.
type LedgerRegistry struct {
	dir     string
	resolve func(string) string

	mu      sync.Mutex
	ledgers map[string]*JSONLLedger
	l       *applogger.Logger
}

// NewLedgerRegistry keeps ledgers under {dataDir}/trades. resolve maps an
// alias to its canonical id; nil means identity.
func NewLedgerRegistry(dataDir string, resolve func(string) string) *LedgerRegistry {
	if resolve == nil {
		resolve = func(s string) string { return s }
	}
	return &LedgerRegistry{
		dir:     filepath.Join(dataDir, "trades"),
		resolve: resolve,
		ledgers: make(map[string]*JSONLLedger),
	}
}

func (r *LedgerRegistry) SetLogger(l *applogger.Logger) { r.l = l }

// Canonical resolves aliases and validates the result.
func (r *LedgerRegistry) Canonical(id string) (string, error) {
	c := r.resolve(id)
	if !ValidStrategyID(c) {
		return "", fmt.Errorf("invalid strategy id %q: %w", id, models.ErrNotFound)
	}
	return c, nil
}

// Ledger returns the strategy's ledger. Only ledgers backed by a file are
// kept open; an unknown strategy gets an uncached stand-in that reads as
// empty until its first append.
func (r *LedgerRegistry) Ledger(strategy string) (domrepo.TradeLedger, error) {
	id, err := r.Canonical(strategy)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if lg, ok := r.ledgers[id]; ok {
		return lg, nil
	}
	if _, err := os.Stat(r.path(id)); os.IsNotExist(err) {
		return &pendingLedger{reg: r, id: id}, nil
	}
	return r.openLocked(id)
}

func (r *LedgerRegistry) path(id string) string {
	return filepath.Join(r.dir, id+".jsonl")
}

func (r *LedgerRegistry) openLocked(id string) (*JSONLLedger, error) {
	if lg, ok := r.ledgers[id]; ok {
		return lg, nil
	}
	lg, err := OpenJSONLLedger(r.path(id))
	if err != nil {
		return nil, err
	}
	lg.SetLogger(r.l)
	r.ledgers[id] = lg
	if r.l != nil {
		r.l.Info("ledger opened", applogger.String("strategy", id), applogger.String("path", lg.Path()))
	}
	return lg, nil
}

func (r *LedgerRegistry) cached(id string) *JSONLLedger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledgers[id]
}

func (r *LedgerRegistry) open(id string) (*JSONLLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openLocked(id)
}

// Open reports how many ledgers are held open.
func (r *LedgerRegistry) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ledgers)
}

type pendingLedger struct {
	reg *LedgerRegistry
	id  string
}

func (p *pendingLedger) Append(ctx context.Context, ev models.TradeEvent) (bool, error) {
	if err := ev.Check(); err != nil {
		return false, err
	}
	lg, err := p.reg.open(p.id)
	if err != nil {
		return false, err
	}
	return lg.Append(ctx, ev)
}

func (p *pendingLedger) Scan(ctx context.Context) ([]models.TradeEvent, []models.Warning, error) {
	if lg := p.reg.cached(p.id); lg != nil {
		return lg.Scan(ctx)
	}
	return nil, nil, nil
}

func (p *pendingLedger) Stat() (domrepo.LedgerStat, error) {
	if lg := p.reg.cached(p.id); lg != nil {
		return lg.Stat()
	}
	return domrepo.LedgerStat{}, nil
}

var (
	_ domrepo.LedgerStore = (*LedgerRegistry)(nil)
	_ domrepo.TradeLedger = (*pendingLedger)(nil)
)
