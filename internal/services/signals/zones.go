package signals

import (
	"fmt"

	"SignalDesk/internal/domain/models"
)

// Tier holds the ATR multipliers of a risk tier, 0 < K1 < K2.
type Tier struct {
	K1 float64
	K2 float64
}

// ZoneClassifier derives accumulation/distribution bands per risk tier.
type ZoneClassifier struct {
	tiers map[string]Tier
}

func NewZoneClassifier(tiers map[string]Tier) (*ZoneClassifier, error) {
	for name, t := range tiers {
		if t.K1 <= 0 || t.K1 >= t.K2 {
			return nil, fmt.Errorf("tier %s: need 0 < k1 < k2, got %v/%v", name, t.K1, t.K2)
		}
	}
	return &ZoneClassifier{tiers: tiers}, nil
}

func (z *ZoneClassifier) Zones(tier string, sma20, atr float64) (models.Zones, error) {
	t, ok := z.tiers[tier]
	if !ok {
		return models.Zones{}, fmt.Errorf("unknown risk tier %q", tier)
	}
	return ComputeZones(sma20, atr, t), nil
}

// ComputeZones places the bands at sma20 ± k·atr.
func ComputeZones(sma20, atr float64, t Tier) models.Zones {
	return models.Zones{
		DeepAccum:   sma20 - t.K2*atr,
		Accum:       sma20 - t.K1*atr,
		Distrib:     sma20 + t.K1*atr,
		SafeDistrib: sma20 + t.K2*atr,
	}
}

// Classify maps price to exactly one label, most extreme bucket first.
// Boundaries belong to the more extreme bucket.
func Classify(price float64, z models.Zones) models.Label {
	switch {
	case price <= z.DeepAccum:
		return models.LabelAggressiveAccumulation
	case price <= z.Accum:
		return models.LabelAccumulation
	case price >= z.SafeDistrib:
		return models.LabelAggressiveDistribution
	case price >= z.Distrib:
		return models.LabelDistribution
	default:
		return models.LabelObservation
	}
}
