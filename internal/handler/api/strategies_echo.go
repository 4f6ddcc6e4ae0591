package api

import (
	"errors"

	"github.com/labstack/echo/v4"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/usecase"
	xhttp "SignalDesk/pkg/http"
	xlogger "SignalDesk/pkg/logger"
)

// StrategiesEchoHandler serves the per-strategy read model and accepts
// fills and evaluation events from the execution bot.
type StrategiesEchoHandler struct {
	logger     *xlogger.Logger
	strategies *usecase.StrategyService
	readMW     []echo.MiddlewareFunc
}

func NewStrategiesEchoHandler(logger *xlogger.Logger, strategies *usecase.StrategyService, readMW ...echo.MiddlewareFunc) *StrategiesEchoHandler {
	return &StrategiesEchoHandler{logger: logger, strategies: strategies, readMW: readMW}
}

func (h *StrategiesEchoHandler) RegisterRoutes(e *echo.Echo) {
	r := e.Group("/v1/strategies", h.readMW...)
	r.GET("", h.List)
	r.GET("/:id", h.Card)
	r.GET("/:id/position", h.Position)
	r.GET("/:id/trades", h.Trades)
	r.GET("/:id/roundtrips", h.Roundtrips)
	r.GET("/:id/logs", h.Logs)
	r.GET("/:id/kpis", h.KPIs)
	r.GET("/:id/performance", h.Performance)

	w := e.Group("/v1/strategies")
	w.POST("/:id/trades", h.AppendTrade)
	w.POST("/:id/logs", h.AppendLog)
	w.POST("/:id/heartbeat", h.Heartbeat)
}

func (h *StrategiesEchoHandler) List(c echo.Context) error {
	cards, err := h.strategies.List(c.Request().Context())
	if err != nil {
		return failResponse(c, h.logger, "strategy list", err)
	}
	return xhttp.SuccessResponse(c, cards)
}

func (h *StrategiesEchoHandler) Card(c echo.Context) error {
	req := &models.StrategyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	card, err := h.strategies.Card(c.Request().Context(), req.ID)
	if err != nil {
		return failResponse(c, h.logger, "strategy card", err)
	}
	return xhttp.SuccessResponse(c, card)
}

func (h *StrategiesEchoHandler) Position(c echo.Context) error {
	req := &models.PositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pos, err := h.strategies.Position(c.Request().Context(), req.ID, req.Symbol, req.Mark)
	if err != nil {
		return failResponse(c, h.logger, "position", err)
	}
	return xhttp.SuccessResponse(c, pos)
}

func (h *StrategiesEchoHandler) Trades(c echo.Context) error {
	req := &models.ListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	trades, err := h.strategies.Trades(c.Request().Context(), req.ID, req.Limit)
	if err != nil {
		return failResponse(c, h.logger, "trades", err)
	}
	return xhttp.SuccessResponse(c, trades)
}

func (h *StrategiesEchoHandler) Roundtrips(c echo.Context) error {
	req := &models.RoundtripsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rts, err := h.strategies.Roundtrips(c.Request().Context(), req.ID, req.Limit)
	if err != nil {
		return failResponse(c, h.logger, "roundtrips", err)
	}
	return xhttp.SuccessResponse(c, rts)
}

func (h *StrategiesEchoHandler) Logs(c echo.Context) error {
	req := &models.LogsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	logs, err := h.strategies.Logs(c.Request().Context(), req.ID, req.Limit)
	if err != nil {
		return failResponse(c, h.logger, "logs", err)
	}
	return xhttp.SuccessResponse(c, logs)
}

func (h *StrategiesEchoHandler) KPIs(c echo.Context) error {
	req := &models.KPIRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	k, err := h.strategies.KPIs(c.Request().Context(), req.ID, req.Window)
	if err != nil {
		return failResponse(c, h.logger, "kpis", err)
	}
	return xhttp.SuccessResponse(c, k)
}

func (h *StrategiesEchoHandler) Performance(c echo.Context) error {
	req := &models.PerformanceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.strategies.Performance(c.Request().Context(), req.ID, req.Window)
	if err != nil {
		return failResponse(c, h.logger, "performance", err)
	}
	return xhttp.SuccessResponse(c, p)
}

type heartbeatResult struct {
	OK        bool             `json:"ok"`
	Strategy  string           `json:"strategy"`
	Heartbeat models.Heartbeat `json:"heartbeat"`
}

func (h *StrategiesEchoHandler) Heartbeat(c echo.Context) error {
	req := &models.HeartbeatRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	hb, err := h.strategies.Heartbeat(c.Request().Context(), req.ID, *req)
	if err != nil {
		return failResponse(c, h.logger, "heartbeat", err)
	}
	return xhttp.SuccessResponse(c, heartbeatResult{OK: true, Strategy: h.strategies.Canonical(req.ID), Heartbeat: hb})
}

type appendResult struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Strategy  string `json:"strategy"`
}

func (h *StrategiesEchoHandler) AppendTrade(c echo.Context) error {
	req := &models.TradeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ok, err := h.strategies.AppendTrade(c.Request().Context(), req.ID, req.TradeEvent)
	if err != nil {
		return failResponse(c, h.logger, "append trade", err)
	}
	res := appendResult{OK: true, Duplicate: !ok, Strategy: h.strategies.Canonical(req.ID)}
	if !ok {
		return xhttp.SuccessResponse(c, res)
	}
	return xhttp.CreatedResponse(c, res)
}

func (h *StrategiesEchoHandler) AppendLog(c echo.Context) error {
	req := &models.LogRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if _, err := h.strategies.AppendLog(c.Request().Context(), req.ID, *req); err != nil {
		return failResponse(c, h.logger, "append log", err)
	}
	return xhttp.CreatedResponse(c, appendResult{OK: true, Strategy: h.strategies.Canonical(req.ID)})
}

// failResponse maps domain errors to generic API errors. Details only go
// to the log.
func failResponse(c echo.Context, logger *xlogger.Logger, op string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("strategy not found").WithError(err))
	}
	if logger != nil {
		logger.Error(op+" failed",
			xlogger.String("path", c.Path()),
			xlogger.String("id", c.Param("id")),
			xlogger.Error(err),
		)
	}
	return xhttp.AppErrorResponse(c, xhttp.InternalError("internal error").WithError(err))
}
