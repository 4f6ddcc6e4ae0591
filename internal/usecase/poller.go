package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	applogger "SignalDesk/pkg/logger"
)

// Refresher is the write side of the signal cache.
type Refresher interface {
	Refresh(ctx context.Context) error
	Warm(ctx context.Context) bool
}

// SignalPoller keeps the signal cache warm so readers rarely trigger a
// refresh themselves.
type SignalPoller struct {
	cache    Refresher
	interval time.Duration
	l        *applogger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewSignalPoller(cache Refresher, interval time.Duration) *SignalPoller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SignalPoller{cache: cache, interval: interval}
}

func (p *SignalPoller) SetLogger(l *applogger.Logger) { p.l = l }

// Start seeds the cache from its mirror, refreshes once, then keeps
// refreshing every interval until Stop or ctx is cancelled.
func (p *SignalPoller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	if p.cache.Warm(ctx) && p.l != nil {
		p.l.Info("signal cache warmed from mirror")
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.tick(ctx)
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.tick(ctx)
			}
		}
	}()
}

func (p *SignalPoller) tick(ctx context.Context) {
	err := p.cache.Refresh(ctx)
	switch {
	case err == nil, errors.Is(err, models.ErrSignalsPaused), ctx.Err() != nil:
	default:
		// the cache already logged the failure and degraded
		if p.l != nil {
			p.l.Debug("scheduled refresh failed", applogger.Error(err))
		}
	}
}

func (p *SignalPoller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
