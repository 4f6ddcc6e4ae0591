package signals

import (
	"math"

	"SignalDesk/internal/domain/models"
)

// Weights are the fixed points each component can contribute. They are
// rescaled to a 100-point total.
type Weights struct {
	Trend     float64
	RSI       float64
	Proximity float64
	Volume    float64
}

var DefaultWeights = Weights{Trend: 30, RSI: 25, Proximity: 30, Volume: 15}

type ScoreInput struct {
	Label    models.Label
	SMA20Dir models.Direction
	SMA50Dir models.Direction
	RSI      float64
	Price    float64
	ATR      float64
	Zones    models.Zones
	VolSpike bool
}

// Blend scores a signal in [0,100]. Every component is normalised to [0,1]
// so degenerate inputs (ATR=0, RSI at 0 or 100, NaN) stay in range.
func (w Weights) Blend(in ScoreInput) int {
	total := w.Trend + w.RSI + w.Proximity + w.Volume
	if !(total > 0) {
		return 0
	}

	raw := w.Trend*trendAlignment(in.Label.Bias(), in.SMA20Dir, in.SMA50Dir) +
		w.RSI*rsiExtremity(in.RSI) +
		w.Proximity*zoneProximity(in.Price, in.ATR, in.Zones)
	if in.VolSpike {
		raw += w.Volume
	}

	score := math.Round(100 * raw / total)
	if math.IsNaN(score) {
		return 0
	}
	return int(math.Max(0, math.Min(100, score)))
}

// trendAlignment averages, over both moving averages, 1 when the slope
// agrees with the label's bias, 0 when it opposes it and 0.5 otherwise.
func trendAlignment(bias, fast, slow models.Direction) float64 {
	one := func(d models.Direction) float64 {
		switch {
		case bias == models.DirFlat || d == models.DirFlat:
			return 0.5
		case d == bias:
			return 1
		default:
			return 0
		}
	}
	return (one(fast) + one(slow)) / 2
}

func rsiExtremity(rsi float64) float64 {
	return unit(math.Abs(rsi-50) / 50)
}

// zoneProximity is 1 on a band boundary and falls linearly to 0 one ATR away.
func zoneProximity(price, atr float64, z models.Zones) float64 {
	d := math.Inf(1)
	for _, b := range []float64{z.DeepAccum, z.Accum, z.Distrib, z.SafeDistrib} {
		d = math.Min(d, math.Abs(price-b))
	}
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	if !(atr > 0) {
		if d == 0 {
			return 1
		}
		return 0
	}
	return unit(1 - d/atr)
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
