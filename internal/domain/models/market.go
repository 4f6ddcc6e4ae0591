package models

import "time"

// Asset is one instrument the signal engine tracks.
type Asset struct {
	Symbol   string // display symbol, e.g. BTC
	SourceID string // provider id, e.g. bitcoin
	Tier     string // risk tier name
}

type PricePoint struct {
	TS     time.Time
	Close  float64
	Volume float64
}

// PriceSeries is an ascending, fixed-lookback history for one asset.
// It is rebuilt wholesale on each fetch.
type PriceSeries struct {
	Asset     string
	Points    []PricePoint
	HasVolume bool
}

func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Close
	}
	return out
}

func (s PriceSeries) Volumes() []float64 {
	if !s.HasVolume {
		return nil
	}
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Volume
	}
	return out
}

func (s PriceSeries) Last() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// IndicatorSnapshot fields are nil when history is shorter than the period.
type IndicatorSnapshot struct {
	SMA20    *float64 `json:"sma20,omitempty"`
	SMA50    *float64 `json:"sma50,omitempty"`
	ATR      *float64 `json:"atr,omitempty"`
	RSI14    *float64 `json:"rsi14,omitempty"`
	VolSpike bool     `json:"vol_spike"`
	ATRPct   *float64 `json:"atr_pct,omitempty"`

	// slope directions of the moving averages over the configured lookback
	SMA20Dir Direction `json:"-"`
	SMA50Dir Direction `json:"-"`
}

type Direction int

const (
	DirDown Direction = -1
	DirFlat Direction = 0
	DirUp   Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "Up"
	case DirDown:
		return "Down"
	default:
		return "Flat"
	}
}

// Zones hold deepAccum < accum <= sma20 <= distrib < safeDistrib whenever atr > 0.
type Zones struct {
	DeepAccum   float64 `json:"deepAccum"`
	Accum       float64 `json:"accum"`
	Distrib     float64 `json:"distrib"`
	SafeDistrib float64 `json:"safeDistrib"`
}

type Label string

const (
	LabelAggressiveAccumulation Label = "Aggressive Accumulation"
	LabelAccumulation           Label = "Accumulation"
	LabelAggressiveDistribution Label = "Aggressive Distribution"
	LabelDistribution           Label = "Distribution"
	LabelObservation            Label = "Observation"
)

// Bias is the price direction a label anticipates.
func (l Label) Bias() Direction {
	switch l {
	case LabelAggressiveAccumulation, LabelAccumulation:
		return DirUp
	case LabelAggressiveDistribution, LabelDistribution:
		return DirDown
	default:
		return DirFlat
	}
}

type Trend struct {
	SMA20 string  `json:"sma20"`
	SMA50 string  `json:"sma50"`
	RSI14 float64 `json:"rsi14"`
}

type Signal struct {
	Label      Label             `json:"label"`
	Score      int               `json:"score"`
	Market     string            `json:"market"`
	Price      float64           `json:"price"`
	Trend      Trend             `json:"trend"`
	Zones      Zones             `json:"zones"`
	Indicators IndicatorSnapshot `json:"indicators"`
	TS         time.Time         `json:"ts"`
}

// MarketRegime is the broad risk appetite derived from the reference asset.
type MarketRegime string

const (
	RiskOn  MarketRegime = "Risk-ON"
	Neutral MarketRegime = "Neutral"
	RiskOff MarketRegime = "Risk-OFF"
)

// CacheStatus describes the freshness of a served payload.
type CacheStatus string

const (
	StatusOK       CacheStatus = "ok"
	StatusDegraded CacheStatus = "degraded"
	StatusPaused   CacheStatus = "paused"
)

type SignalError struct {
	TS      time.Time `json:"ts"`
	Asset   string    `json:"asset,omitempty"`
	Message string    `json:"message"`
}

type SignalsPayload struct {
	LastUpdated time.Time         `json:"last_updated"`
	Regime      MarketRegime      `json:"regime,omitempty"`
	Signals     map[string]Signal `json:"signals"`
	Status      CacheStatus       `json:"status"`
	Errors      []SignalError     `json:"errors"`
	Failures    int64             `json:"failures"`
}

// EmptyPayload is what readers get before the first successful refresh.
func EmptyPayload(status CacheStatus) SignalsPayload {
	return SignalsPayload{
		Signals: map[string]Signal{},
		Status:  status,
		Errors:  []SignalError{},
	}
}
