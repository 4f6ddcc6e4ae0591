package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/internal/services/signals"
	applogger "SignalDesk/pkg/logger"
)

// SignalEngine rebuilds the signals payload for every configured asset.
// Its Refresh method is the SignalCache refresh function.
type SignalEngine struct {
	assets    []models.Asset
	reference string
	source    domrepo.PriceSource
	builder   domsvc.SignalBuilder
	errs      *applogger.ErrorRing
	maxErrors int
	now       func() time.Time

	metrics domrepo.Metrics
	l       *applogger.Logger
}

type SignalEngineOption func(*SignalEngine)

func WithReferenceAsset(symbol string) SignalEngineOption {
	return func(e *SignalEngine) { e.reference = symbol }
}

func WithMaxErrors(n int) SignalEngineOption {
	return func(e *SignalEngine) {
		if n > 0 {
			e.maxErrors = n
		}
	}
}

func WithEngineClock(now func() time.Time) SignalEngineOption {
	return func(e *SignalEngine) { e.now = now }
}

func NewSignalEngine(assets []models.Asset, source domrepo.PriceSource, builder domsvc.SignalBuilder, opts ...SignalEngineOption) *SignalEngine {
	e := &SignalEngine{
		assets:    assets,
		source:    source,
		builder:   builder,
		maxErrors: 10,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reference == "" && len(assets) > 0 {
		e.reference = assets[0].Symbol
	}
	e.errs = applogger.NewErrorRing(e.maxErrors)
	return e
}

func (e *SignalEngine) SetLogger(l *applogger.Logger) { e.l = l }

func (e *SignalEngine) SetMetrics(m domrepo.Metrics) { e.metrics = m }

// Errors returns the most recent public error messages, oldest first.
func (e *SignalEngine) Errors() []models.SignalError {
	entries := e.errs.Snapshot()
	out := make([]models.SignalError, len(entries))
	for i, en := range entries {
		out[i] = models.SignalError{TS: en.TS, Asset: en.Source, Message: en.Message}
	}
	return out
}

type assetResult struct {
	asset  models.Asset
	signal models.Signal
	err    error
}

// Refresh fetches and scores all assets concurrently. Assets whose fetch
// failed keep their previous signal; assets with too little history are
// dropped. The refresh fails only when every asset failed upstream.
func (e *SignalEngine) Refresh(ctx context.Context, prev *models.SignalsPayload) (models.SignalsPayload, error) {
	ch := make(chan assetResult, len(e.assets))
	var wg sync.WaitGroup
	for _, a := range e.assets {
		wg.Add(1)
		go func(a models.Asset) {
			defer wg.Done()
			ch <- e.evaluate(ctx, a)
		}(a)
	}
	go func() { wg.Wait(); close(ch) }()

	out := models.SignalsPayload{
		LastUpdated: e.now().UTC(),
		Signals:     make(map[string]models.Signal, len(e.assets)),
		Status:      models.StatusOK,
		Regime:      models.Neutral,
	}
	var upstreamFailed int
	var lastErr error
	for r := range ch {
		if r.err == nil {
			out.Signals[r.asset.Symbol] = r.signal
			if e.metrics != nil {
				e.metrics.RecordLastPrice(r.asset.Symbol, r.signal.Price)
			}
			continue
		}
		e.errs.Add(r.asset.Symbol, models.PublicMessage(r.err))

		var up *models.UpstreamFetchError
		var di *models.DataInsufficientError
		switch {
		case errors.As(r.err, &up), errors.Is(r.err, context.DeadlineExceeded), errors.Is(r.err, context.Canceled):
			upstreamFailed++
			lastErr = r.err
			e.recordFetchError(r.asset.Symbol, "upstream")
			e.warn("signal fetch failed", r.asset, r.err)
			if prev != nil {
				if old, ok := prev.Signals[r.asset.Symbol]; ok {
					out.Signals[r.asset.Symbol] = old
				}
			}
		case errors.As(r.err, &di):
			e.recordFetchError(r.asset.Symbol, "insufficient")
			if e.l != nil {
				e.l.Info("asset omitted, not enough history",
					applogger.String("asset", r.asset.Symbol),
					applogger.Int("have", di.Have),
					applogger.Int("need", di.Need),
				)
			}
		default:
			e.recordFetchError(r.asset.Symbol, "internal")
			e.warn("signal build failed", r.asset, r.err)
		}
	}

	if len(e.assets) > 0 && upstreamFailed == len(e.assets) {
		return models.SignalsPayload{}, fmt.Errorf("all %d assets failed: %w", upstreamFailed, lastErr)
	}

	if ref, ok := out.Signals[e.reference]; ok {
		out.Regime = signals.MarketRegime(ref.Indicators)
	}
	out.Errors = e.Errors()
	return out, nil
}

func (e *SignalEngine) evaluate(ctx context.Context, a models.Asset) assetResult {
	series, err := e.source.FetchSeries(ctx, a)
	if err != nil {
		return assetResult{asset: a, err: err}
	}
	sig, err := e.builder.Build(a, series)
	return assetResult{asset: a, signal: sig, err: err}
}

func (e *SignalEngine) recordFetchError(asset, kind string) {
	if e.metrics != nil {
		e.metrics.RecordFetchError(asset, kind)
	}
}

func (e *SignalEngine) warn(msg string, a models.Asset, err error) {
	if e.l != nil {
		e.l.Warn(msg, applogger.String("asset", a.Symbol), applogger.Error(err))
	}
}
