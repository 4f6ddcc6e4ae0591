package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"
	applogger "SignalDesk/pkg/logger"

	"golang.org/x/sync/singleflight"
)

const (
	signalsFlightKey = "signals"
	signalsMirrorKey = "signals:latest"
)

// RefreshFunc rebuilds the payload. prev is the last good payload or nil.
type RefreshFunc func(ctx context.Context, prev *models.SignalsPayload) (models.SignalsPayload, error)

type SignalCacheConfig struct {
	TTL          time.Duration // a read after TTL triggers a refresh
	StaleAfter   time.Duration // entries older than this are served as degraded
	RefreshWait  time.Duration // longest a reader waits on an in-flight refresh
	FetchTimeout time.Duration // bound on one refresh
	RetryBackoff time.Duration // reads after a failed refresh wait this long before retrying
	Paused       bool
	MirrorTTL    time.Duration
	Now          func() time.Time
}

// SignalCacheOption configures SignalCache.
type SignalCacheOption func(*SignalCacheConfig)

type cacheEntry struct {
	value     models.SignalsPayload
	fetchedAt time.Time
	status    models.CacheStatus
}

// SignalCache serves the latest signals payload. Entries are replaced
// wholesale; concurrent refresh triggers share one upstream call.
type SignalCache struct {
	cfg     SignalCacheConfig
	refresh RefreshFunc
	group   singleflight.Group

	mu  sync.RWMutex
	cur *cacheEntry

	failures    atomic.Int64
	consecutive atomic.Int64
	retryAt     atomic.Int64 // unix nanos; zero after a success

	mirror  BytesCache
	metrics repository.Metrics
	logger  *applogger.Logger
}

func NewSignalCache(refresh RefreshFunc, opts ...SignalCacheOption) *SignalCache {
	cfg := SignalCacheConfig{
		TTL:          60 * time.Second,
		RefreshWait:  2 * time.Second,
		FetchTimeout: 10 * time.Second,
		RetryBackoff: 10 * time.Second,
		MirrorTTL:    24 * time.Hour,
		Now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = cfg.TTL
	}
	return &SignalCache{cfg: cfg, refresh: refresh}
}

func (c *SignalCache) SetMirror(m BytesCache) { c.mirror = m }

func (c *SignalCache) SetMetrics(m repository.Metrics) { c.metrics = m }

func (c *SignalCache) SetLogger(l *applogger.Logger) { c.logger = l }

// Failures counts every failed refresh since start.
func (c *SignalCache) Failures() int64 { return c.failures.Load() }

func (c *SignalCache) ConsecutiveFailures() int64 { return c.consecutive.Load() }

func (c *SignalCache) Paused() bool { return c.cfg.Paused }

// Get never returns an error: on failure it serves the last good payload,
// and before any success an empty one. It waits at most RefreshWait for
// a refresh it triggered or joined.
func (c *SignalCache) Get(ctx context.Context) models.SignalsPayload {
	if c.cfg.Paused {
		return c.view(c.load(), models.StatusPaused)
	}

	e := c.load()
	if e != nil && c.age(e) < c.cfg.TTL {
		return c.view(e, "")
	}
	if c.backingOff() {
		return c.view(e, "")
	}

	ch := c.group.DoChan(signalsFlightKey, c.doRefresh)
	timer := time.NewTimer(c.cfg.RefreshWait)
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
	}
	return c.view(c.load(), "")
}

// Refresh forces a refresh, joining one already in flight. It ignores the
// retry backoff that applies to reads.
func (c *SignalCache) Refresh(ctx context.Context) error {
	if c.cfg.Paused {
		return models.ErrSignalsPaused
	}
	ch := c.group.DoChan(signalsFlightKey, c.doRefresh)
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Warm seeds an empty cache from the mirror. The seeded entry is served as
// degraded until the first successful refresh.
func (c *SignalCache) Warm(ctx context.Context) bool {
	if c.mirror == nil || c.load() != nil {
		return false
	}

	var p models.SignalsPayload
	ok, err := GetJSON(ctx, c.mirror, signalsMirrorKey, &p)
	if err != nil {
		c.warn("signal mirror read failed", applogger.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if p.Signals == nil {
		p.Signals = map[string]models.Signal{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return false
	}
	c.cur = &cacheEntry{value: p, fetchedAt: p.LastUpdated, status: models.StatusDegraded}
	return true
}

func (c *SignalCache) doRefresh() (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()

	var prev *models.SignalsPayload
	if e := c.load(); e != nil {
		v := e.value
		prev = &v
	}

	start := time.Now()
	payload, err := c.refresh(ctx, prev)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	took := time.Since(start)

	if err != nil {
		total := c.failures.Add(1)
		c.consecutive.Add(1)
		c.markDegraded()
		c.retryAt.Store(c.cfg.Now().Add(c.cfg.RetryBackoff).UnixNano())
		c.recordRefresh("failure", took, models.StatusDegraded)
		c.warn("signal refresh failed, serving last good payload",
			applogger.Error(err),
			applogger.Int64("failures", total),
			applogger.Bool("cold", prev == nil),
			applogger.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
		)
		return nil, err
	}

	if payload.Signals == nil {
		payload.Signals = map[string]models.Signal{}
	}
	fetchedAt := c.cfg.Now()
	if payload.LastUpdated.IsZero() {
		payload.LastUpdated = fetchedAt
	}

	c.mu.Lock()
	c.cur = &cacheEntry{value: payload, fetchedAt: fetchedAt, status: models.StatusOK}
	c.mu.Unlock()
	c.consecutive.Store(0)
	c.retryAt.Store(0)
	c.recordRefresh("success", took, models.StatusOK)

	if c.mirror != nil {
		if err := SetJSON(ctx, c.mirror, signalsMirrorKey, payload, c.cfg.MirrorTTL); err != nil {
			c.warn("signal mirror write failed", applogger.Error(err))
		}
	}
	return payload, nil
}

// markDegraded swaps in a copy of the current entry flagged degraded.
func (c *SignalCache) markDegraded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return
	}
	next := *c.cur
	next.status = models.StatusDegraded
	c.cur = &next
}

func (c *SignalCache) backingOff() bool {
	at := c.retryAt.Load()
	return at != 0 && c.cfg.Now().UnixNano() < at
}

func (c *SignalCache) load() *cacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

func (c *SignalCache) age(e *cacheEntry) time.Duration {
	return c.cfg.Now().Sub(e.fetchedAt)
}

// view renders an entry for a reader; the stored entry is never touched.
func (c *SignalCache) view(e *cacheEntry, override models.CacheStatus) models.SignalsPayload {
	var out models.SignalsPayload
	if e == nil {
		out = models.EmptyPayload(models.StatusDegraded)
	} else {
		out = e.value
		out.Status = e.status
		if c.age(e) > c.cfg.StaleAfter {
			out.Status = models.StatusDegraded
		}
	}
	if override != "" {
		out.Status = override
	}
	out.Failures = c.failures.Load()
	return out
}

func (c *SignalCache) recordRefresh(outcome string, took time.Duration, status models.CacheStatus) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordRefresh(outcome, took.Seconds())
	c.metrics.SetCacheStatus(string(status))
}

func (c *SignalCache) warn(msg string, fields ...applogger.Field) {
	if c.logger != nil {
		c.logger.Warn(msg, fields...)
	}
}

func WithTTL(d time.Duration) SignalCacheOption {
	return func(c *SignalCacheConfig) {
		if d > 0 {
			c.TTL = d
		}
	}
}

func WithStaleAfter(d time.Duration) SignalCacheOption {
	return func(c *SignalCacheConfig) { c.StaleAfter = d }
}

func WithRefreshWait(d time.Duration) SignalCacheOption {
	return func(c *SignalCacheConfig) {
		if d >= 0 {
			c.RefreshWait = d
		}
	}
}

func WithFetchTimeout(d time.Duration) SignalCacheOption {
	return func(c *SignalCacheConfig) {
		if d > 0 {
			c.FetchTimeout = d
		}
	}
}

func WithRetryBackoff(d time.Duration) SignalCacheOption {
	return func(c *SignalCacheConfig) {
		if d >= 0 {
			c.RetryBackoff = d
		}
	}
}

func WithPaused(p bool) SignalCacheOption {
	return func(c *SignalCacheConfig) { c.Paused = p }
}

func WithMirrorTTL(d time.Duration) SignalCacheOption {
	return func(c *SignalCacheConfig) {
		if d > 0 {
			c.MirrorTTL = d
		}
	}
}

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) SignalCacheOption {
	return func(c *SignalCacheConfig) { c.Now = now }
}
