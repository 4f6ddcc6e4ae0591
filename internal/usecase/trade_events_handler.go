package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"SignalDesk/internal/domain/models"
	pkgkafka "SignalDesk/pkg/kafka"
	applogger "SignalDesk/pkg/logger"
)

const strategyHeader = "strategy"

// TradeEventsHandler journals TradeEvents published by the execution bot.
// The "strategy" header, else the message key, selects the ledger.
type TradeEventsHandler struct {
	topic      string
	strategies *StrategyService
	l          *applogger.Logger
}

func NewTradeEventsHandler(topic string, strategies *StrategyService) *TradeEventsHandler {
	return &TradeEventsHandler{topic: topic, strategies: strategies}
}

func (h *TradeEventsHandler) SetLogger(l *applogger.Logger) { h.l = l }

func (h *TradeEventsHandler) Topic() string { return h.topic }

func (h *TradeEventsHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var ev models.TradeEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("decode trade event: %w", err))
	}
	if ev.TS.IsZero() {
		ev.TS = msg.Time.UTC()
	}
	if err := ev.Check(); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("invalid trade event: %w", err))
	}

	strategy := strategyOf(msg)
	ok, err := h.strategies.AppendTrade(ctx, strategy, ev)
	if errors.Is(err, models.ErrNotFound) {
		return pkgkafka.Permanent(err)
	}
	if err != nil {
		return err
	}
	if !ok && h.l != nil {
		h.l.Debug("duplicate trade ignored",
			applogger.String("strategy", h.strategies.Canonical(strategy)),
			applogger.String("order_id", ev.OrderID),
		)
	}
	return nil
}

func strategyOf(msg kafka.Message) string {
	for _, hd := range msg.Headers {
		if hd.Key == strategyHeader && len(hd.Value) > 0 {
			return string(hd.Value)
		}
	}
	return string(msg.Key)
}

var _ pkgkafka.MessageHandler = (*TradeEventsHandler)(nil)
