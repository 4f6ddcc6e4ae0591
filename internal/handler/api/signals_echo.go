package api

import (
	"github.com/labstack/echo/v4"

	"SignalDesk/internal/usecase"
	xhttp "SignalDesk/pkg/http"
	xlogger "SignalDesk/pkg/logger"
)

// SignalsEchoHandler serves the cached signals payload and the home summary.
type SignalsEchoHandler struct {
	logger     *xlogger.Logger
	signals    *usecase.SignalService
	strategies *usecase.StrategyService
	readMW     []echo.MiddlewareFunc
}

func NewSignalsEchoHandler(logger *xlogger.Logger, signals *usecase.SignalService, strategies *usecase.StrategyService, readMW ...echo.MiddlewareFunc) *SignalsEchoHandler {
	return &SignalsEchoHandler{logger: logger, signals: signals, strategies: strategies, readMW: readMW}
}

func (h *SignalsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/v1", h.readMW...)
	g.GET("/signals", h.Signals)
	g.GET("/summary", h.Summary)
}

// Signals never fails: a cold or failing cache yields a degraded payload.
func (h *SignalsEchoHandler) Signals(c echo.Context) error {
	p := h.signals.Signals(c.Request().Context())
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=15")
	return xhttp.SuccessResponse(c, p)
}

func (h *SignalsEchoHandler) Summary(c echo.Context) error {
	s, err := h.strategies.Summary(c.Request().Context())
	if err != nil {
		return h.fail(c, "summary", err)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *SignalsEchoHandler) fail(c echo.Context, op string, err error) error {
	return failResponse(c, h.logger, op, err)
}
