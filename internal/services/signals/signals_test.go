package signals

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/services/indicators"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTiers = map[string]Tier{
	"low":    {K1: 1.0, K2: 1.8},
	"medium": {K1: 1.3, K2: 2.2},
	"high":   {K1: 1.6, K2: 2.8},
}

func TestClassifyBoundariesGoToTheExtremeBucket(t *testing.T) {
	z := ComputeZones(100, 10, Tier{K1: 1, K2: 2}) // 80 / 90 / 110 / 120

	cases := []struct {
		price float64
		want  models.Label
	}{
		{10, models.LabelAggressiveAccumulation},
		{80, models.LabelAggressiveAccumulation},
		{80.01, models.LabelAccumulation},
		{90, models.LabelAccumulation},
		{90.01, models.LabelObservation},
		{100, models.LabelObservation},
		{109.99, models.LabelObservation},
		{110, models.LabelDistribution},
		{119.99, models.LabelDistribution},
		{120, models.LabelAggressiveDistribution},
		{500, models.LabelAggressiveDistribution},
		{math.NaN(), models.LabelObservation},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.price, z), "price %v", tc.price)
	}
}

func TestZonesOrderingHolds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		sma := 1 + rng.Float64()*100000
		atr := 1e-6 + rng.Float64()*sma/5
		for _, tier := range testTiers {
			z := ComputeZones(sma, atr, tier)
			require.Less(t, z.DeepAccum, z.Accum)
			require.LessOrEqual(t, z.Accum, sma)
			require.LessOrEqual(t, sma, z.Distrib)
			require.Less(t, z.Distrib, z.SafeDistrib)
		}
	}
}

func TestNewZoneClassifierRejectsBadTiers(t *testing.T) {
	_, err := NewZoneClassifier(map[string]Tier{"bad": {K1: 2, K2: 2}})
	assert.Error(t, err)

	zc, err := NewZoneClassifier(testTiers)
	require.NoError(t, err)
	_, err = zc.Zones("extreme", 100, 1)
	assert.Error(t, err)
}

func TestBlendRange(t *testing.T) {
	z := ComputeZones(100, 10, Tier{K1: 1, K2: 2})
	inputs := []ScoreInput{
		{Label: models.LabelAccumulation, Price: 90, ATR: 0, Zones: ComputeZones(100, 0, Tier{K1: 1, K2: 2}), RSI: 0},
		{Label: models.LabelDistribution, Price: 110, ATR: 0, Zones: z, RSI: 100, VolSpike: true},
		{Label: models.LabelObservation, Price: math.NaN(), ATR: math.NaN(), Zones: z, RSI: math.NaN()},
		{Label: models.LabelAggressiveAccumulation, Price: math.Inf(-1), ATR: 10, Zones: z, RSI: 100},
	}
	for _, in := range inputs {
		got := DefaultWeights.Blend(in)
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, 100)
	}
}

func TestBlendExtremes(t *testing.T) {
	z := ComputeZones(100, 10, Tier{K1: 1, K2: 2})

	best := ScoreInput{
		Label: models.LabelAccumulation, SMA20Dir: models.DirUp, SMA50Dir: models.DirUp,
		RSI: 0, Price: 90, ATR: 10, Zones: z, VolSpike: true,
	}
	assert.Equal(t, 100, DefaultWeights.Blend(best))

	worst := ScoreInput{
		Label: models.LabelAccumulation, SMA20Dir: models.DirDown, SMA50Dir: models.DirDown,
		RSI: 50, Price: 100, ATR: 5, Zones: z,
	}
	assert.Equal(t, 0, DefaultWeights.Blend(worst))

	// flat bias gives half the trend points and nothing else
	obs := ScoreInput{Label: models.LabelObservation, RSI: 50, Price: 100, ATR: 10, Zones: z}
	assert.Equal(t, 15, DefaultWeights.Blend(obs))

	assert.Equal(t, 0, Weights{}.Blend(best))
}

func TestBlendRescalesWeights(t *testing.T) {
	z := ComputeZones(100, 10, Tier{K1: 1, K2: 2})
	in := ScoreInput{Label: models.LabelObservation, RSI: 50, Price: 100, ATR: 10, Zones: z, VolSpike: true}
	assert.Equal(t, 50, Weights{Volume: 1, RSI: 1}.Blend(in))
}

func hourly(closes []float64) models.PriceSeries {
	s := models.PriceSeries{Asset: "BTC"}
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		s.Points = append(s.Points, models.PricePoint{TS: t0.Add(time.Duration(i) * time.Hour), Close: c})
	}
	return s
}

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	zc, err := NewZoneClassifier(testTiers)
	require.NoError(t, err)
	return NewBuilder(indicators.NewEngine(), zc, DefaultWeights, 50)
}

func TestBuilderBuild(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	b := newTestBuilder(t)

	sig, err := b.Build(models.Asset{Symbol: "BTC", Tier: "low"}, hourly(closes))
	require.NoError(t, err)

	assert.Equal(t, "BTC", sig.Market)
	assert.Equal(t, 159.0, sig.Price)
	assert.Equal(t, models.LabelAggressiveDistribution, sig.Label)
	assert.Equal(t, 41, sig.Score)
	assert.Equal(t, models.Trend{SMA20: "Up", SMA50: "Up", RSI14: 100}, sig.Trend)
	assert.InDelta(t, 149.5+1.8*math.Sqrt(17.5), sig.Zones.SafeDistrib, 1e-9)
	assert.Equal(t, time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC), sig.TS)

	again, err := b.Build(models.Asset{Symbol: "BTC", Tier: "low"}, hourly(closes))
	require.NoError(t, err)
	assert.Equal(t, sig, again)
}

func TestBuilderInsufficientData(t *testing.T) {
	b := newTestBuilder(t)
	_, err := b.Build(models.Asset{Symbol: "PUMP", Tier: "high"}, hourly(make([]float64, 49)))

	var di *models.DataInsufficientError
	require.True(t, errors.As(err, &di))
	assert.Equal(t, 49, di.Have)
	assert.Equal(t, 50, di.Need)
}

func TestBuilderUnknownTier(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 10
	}
	_, err := newTestBuilder(t).Build(models.Asset{Symbol: "X", Tier: "nope"}, hourly(closes))
	assert.Error(t, err)
}

func TestMarketRegime(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	assert.Equal(t, models.RiskOn, MarketRegime(models.IndicatorSnapshot{SMA20: f(101), SMA50: f(100)}))
	assert.Equal(t, models.Neutral, MarketRegime(models.IndicatorSnapshot{SMA20: f(99), SMA50: f(100)}))
	assert.Equal(t, models.RiskOff, MarketRegime(models.IndicatorSnapshot{SMA20: f(97), SMA50: f(100)}))
	assert.Equal(t, models.Neutral, MarketRegime(models.IndicatorSnapshot{}))
}
