package indicators

import "SignalDesk/internal/domain/models"

const (
	FastPeriod = 20
	SlowPeriod = 50
	ATRPeriod  = 14
	RSIPeriod  = 14
)

type EngineConfig struct {
	VolSpikeMultiple float64
	VolWindow        int
	SlopeLookback    int
}

// EngineOption configures Engine.
type EngineOption func(*EngineConfig)

// Engine computes an IndicatorSnapshot for one series.
type Engine struct {
	cfg EngineConfig
}

func NewEngine(opts ...EngineOption) *Engine {
	cfg := EngineConfig{
		VolSpikeMultiple: 2,
		VolWindow:        20,
		SlopeLookback:    5,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{cfg: cfg}
}

// Compute never fails: indicators whose period exceeds the history are left nil.
func (e *Engine) Compute(series models.PriceSeries) models.IndicatorSnapshot {
	closes := series.Closes()
	var snap models.IndicatorSnapshot

	if v, ok := SMA(closes, FastPeriod); ok {
		snap.SMA20 = &v
	}
	if v, ok := SMA(closes, SlowPeriod); ok {
		snap.SMA50 = &v
	}
	if v, ok := StdDev(closes, ATRPeriod); ok {
		snap.ATR = &v
		if last, ok := series.Last(); ok && last.Close > 0 {
			pct := v / last.Close * 100
			snap.ATRPct = &pct
		}
	}
	if v, ok := RSI(closes, RSIPeriod); ok {
		snap.RSI14 = &v
	}
	if vols := series.Volumes(); vols != nil {
		snap.VolSpike = VolumeSpike(vols, e.cfg.VolWindow, e.cfg.VolSpikeMultiple)
	}

	snap.SMA20Dir = models.Direction(Slope(closes, FastPeriod, e.cfg.SlopeLookback))
	snap.SMA50Dir = models.Direction(Slope(closes, SlowPeriod, e.cfg.SlopeLookback))
	return snap
}

func WithVolSpikeMultiple(m float64) EngineOption {
	return func(c *EngineConfig) {
		if m > 0 {
			c.VolSpikeMultiple = m
		}
	}
}

func WithVolWindow(n int) EngineOption {
	return func(c *EngineConfig) {
		if n > 0 {
			c.VolWindow = n
		}
	}
}

func WithSlopeLookback(n int) EngineOption {
	return func(c *EngineConfig) {
		if n > 0 {
			c.SlopeLookback = n
		}
	}
}
