package signals

import (
	"fmt"
	"math"

	"SignalDesk/internal/domain/models"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/internal/services/indicators"
)

// Builder runs IndicatorEngine -> ZoneClassifier -> ScoreBlender for one asset.
type Builder struct {
	engine    *indicators.Engine
	zones     *ZoneClassifier
	weights   Weights
	minPoints int
}

func NewBuilder(engine *indicators.Engine, zones *ZoneClassifier, weights Weights, minPoints int) *Builder {
	if minPoints < indicators.SlowPeriod {
		minPoints = indicators.SlowPeriod
	}
	return &Builder{engine: engine, zones: zones, weights: weights, minPoints: minPoints}
}

func (b *Builder) Build(asset models.Asset, series models.PriceSeries) (models.Signal, error) {
	if n := len(series.Points); n < b.minPoints {
		return models.Signal{}, &models.DataInsufficientError{Asset: asset.Symbol, Have: n, Need: b.minPoints}
	}

	snap := b.engine.Compute(series)
	if snap.SMA20 == nil || snap.SMA50 == nil || snap.ATR == nil || snap.RSI14 == nil {
		return models.Signal{}, &models.DataInsufficientError{Asset: asset.Symbol, Have: len(series.Points), Need: b.minPoints}
	}

	last, _ := series.Last()
	if !(last.Close > 0) || math.IsInf(last.Close, 0) {
		return models.Signal{}, fmt.Errorf("%s: invalid last close %v", asset.Symbol, last.Close)
	}

	zones, err := b.zones.Zones(asset.Tier, *snap.SMA20, *snap.ATR)
	if err != nil {
		return models.Signal{}, err
	}
	label := Classify(last.Close, zones)

	score := b.weights.Blend(ScoreInput{
		Label:    label,
		SMA20Dir: snap.SMA20Dir,
		SMA50Dir: snap.SMA50Dir,
		RSI:      *snap.RSI14,
		Price:    last.Close,
		ATR:      *snap.ATR,
		Zones:    zones,
		VolSpike: snap.VolSpike,
	})

	return models.Signal{
		Label:  label,
		Score:  score,
		Market: asset.Symbol,
		Price:  last.Close,
		Trend: models.Trend{
			SMA20: snap.SMA20Dir.String(),
			SMA50: snap.SMA50Dir.String(),
			RSI14: math.Round(*snap.RSI14*10) / 10,
		},
		Zones:      zones,
		Indicators: snap,
		TS:         last.TS,
	}, nil
}

// MarketRegime reads risk appetite off the reference asset's averages.
func MarketRegime(snap models.IndicatorSnapshot) models.MarketRegime {
	if snap.SMA20 == nil || snap.SMA50 == nil {
		return models.Neutral
	}
	switch {
	case *snap.SMA20 > *snap.SMA50:
		return models.RiskOn
	case *snap.SMA20 < 0.98**snap.SMA50:
		return models.RiskOff
	default:
		return models.Neutral
	}
}

var _ domsvc.SignalBuilder = (*Builder)(nil)
