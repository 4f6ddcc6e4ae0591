package usecase

import (
	"context"

	"SignalDesk/internal/domain/models"
)

// SignalReader is the cached read side of the signal engine.
type SignalReader interface {
	Get(ctx context.Context) models.SignalsPayload
}

// SignalService serves the cached payload with the engine's current
// error list attached, so failed refreshes stay visible while stale
// signals are served.
type SignalService struct {
	cache  SignalReader
	engine *SignalEngine
}

func NewSignalService(cache SignalReader, engine *SignalEngine) *SignalService {
	return &SignalService{cache: cache, engine: engine}
}

func (s *SignalService) Signals(ctx context.Context) models.SignalsPayload {
	p := s.cache.Get(ctx)
	if s.engine != nil && p.Status != models.StatusPaused {
		p.Errors = s.engine.Errors()
	}
	if p.Errors == nil {
		p.Errors = []models.SignalError{}
	}
	if p.Signals == nil {
		p.Signals = map[string]models.Signal{}
	}
	return p
}
