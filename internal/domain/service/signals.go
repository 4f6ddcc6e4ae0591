package service

import "SignalDesk/internal/domain/models"

// SignalBuilder turns one asset's price history into a Signal.
// It returns *models.DataInsufficientError when history is too short.
type SignalBuilder interface {
	Build(asset models.Asset, series models.PriceSeries) (models.Signal, error)
}
