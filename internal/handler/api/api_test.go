package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/repository"
	"SignalDesk/internal/service/ratelimit"
	"SignalDesk/internal/services/reconcile"
	"SignalDesk/internal/usecase"
	xlogger "SignalDesk/pkg/logger"
)

type staticSignals struct{ p models.SignalsPayload }

func (s staticSignals) Get(context.Context) models.SignalsPayload { return s.p }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, readMW ...echo.MiddlewareFunc) *echo.Echo {
	t.Helper()
	dir := t.TempDir()
	resolve := func(id string) string {
		if id == "swing-atr" {
			return "swing-perp-16h"
		}
		return id
	}
	view := usecase.NewLedgerView(repository.NewLedgerRegistry(dir, resolve), reconcile.NewReconciler(), reconcile.NewRoundtripBuilder())
	payload := models.EmptyPayload(models.StatusDegraded)
	signals := usecase.NewSignalService(staticSignals{p: payload}, nil)
	strategies := usecase.NewStrategyService(view, repository.NewFileSnapshotStore(dir), repository.NewFileEvalLog(dir), signals, resolve, "swing-perp-16h")

	e := echo.New()
	log := xlogger.NewNop()
	NewSignalsEchoHandler(log, signals, strategies, readMW...).RegisterRoutes(e)
	NewStrategiesEchoHandler(log, strategies, readMW...).RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if v != nil {
		require.NoError(t, json.Unmarshal(env.Data, v))
	}
	return env
}

func TestSignalsColdStartIsDegraded(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, http.MethodGet, "/v1/signals", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var p models.SignalsPayload
	decode(t, rec, &p)
	assert.Equal(t, models.StatusDegraded, p.Status)
	assert.NotNil(t, p.Signals)
	assert.Empty(t, p.Signals)
}

func TestTradeFlow(t *testing.T) {
	e := newTestServer(t)

	open := `{"ts":"2025-03-01T00:00:00Z","side":"OPEN_LONG","symbol":"SOL-PERP","fill_px":100,"qty":1,"order_id":"a1","status":"filled"}`
	closeBody := `{"ts":"2025-03-01T16:00:00Z","side":"CLOSE_LONG","symbol":"SOL-PERP","fill_px":110,"qty":1,"order_id":"a2","status":"filled"}`

	rec := do(e, http.MethodPost, "/v1/strategies/swing-atr/trades", open)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(e, http.MethodPost, "/v1/strategies/swing-atr/trades", open)
	require.Equal(t, http.StatusOK, rec.Code)
	var res appendResult
	decode(t, rec, &res)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "swing-perp-16h", res.Strategy)

	rec = do(e, http.MethodGet, "/v1/strategies/swing-perp-16h/position?mark=120", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pos models.Position
	decode(t, rec, &pos)
	assert.Equal(t, models.Long, pos.Side)
	assert.Equal(t, 20.0, pos.UnrealizedPnL)

	require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/v1/strategies/swing-perp-16h/trades", closeBody).Code)

	rec = do(e, http.MethodGet, "/v1/strategies/swing-perp-16h/roundtrips", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rts []models.Roundtrip
	decode(t, rec, &rts)
	require.Len(t, rts, 1)
	assert.Equal(t, 10.0, rts[0].PnLQuote)
	assert.Equal(t, 16.0, rts[0].HoldHours)

	rec = do(e, http.MethodGet, "/v1/strategies/swing-perp-16h/trades?limit=1", "")
	var trades []models.TradeEvent
	decode(t, rec, &trades)
	require.Len(t, trades, 1)
	assert.Equal(t, "a2", trades[0].OrderID)

	rec = do(e, http.MethodGet, "/v1/strategies/swing-perp-16h", "")
	var card models.StrategySnapshot
	decode(t, rec, &card)
	assert.Equal(t, models.Flat, card.Position.Side)
	require.NotNil(t, card.LastTrade)
	assert.Equal(t, "a2", card.LastTrade.OrderID)
}

func TestTradeValidation(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/strategies/swing-perp-16h/trades", `{"side":"BUY","symbol":"X","fill_px":1,"qty":1,"order_id":"z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/v1/strategies/swing-perp-16h/trades", `{"side":"OPEN_LONG","symbol":"X","fill_px":0,"qty":1,"order_id":"z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/v1/strategies/swing-perp-16h/trades?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/v1/strategies/swing-perp-16h/position?mark=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownStrategyIDIsNotFound(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, http.MethodGet, "/v1/strategies/bad%20id/trades", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "invalid strategy id")
}

func TestLogsAndKPIs(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/strategies/swing-perp-16h/logs", `{"event":"evaluation","market":"SOL-PERP","score":71.9,"note":"entry blocked by regime"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(e, http.MethodPost, "/v1/strategies/swing-perp-16h/logs", `{"event":"signal_long","score":-5}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(e, http.MethodGet, "/v1/strategies/swing-perp-16h/logs?limit=50", "")
	var logs []models.EvalLogEntry
	decode(t, rec, &logs)
	require.Len(t, logs, 2)
	assert.Equal(t, 71, *logs[0].Score)
	assert.Equal(t, 0, *logs[1].Score)

	rec = do(e, http.MethodGet, "/v1/strategies/swing-perp-16h/kpis", "")
	var k models.KPIs
	decode(t, rec, &k)
	assert.Equal(t, "7d", k.Window)
	assert.Equal(t, 1, k.AlertsIssued)
	assert.Equal(t, 35, k.AvgScore)
	assert.Equal(t, 1, k.RiskSuppressedCount)

	rec = do(e, http.MethodPost, "/v1/strategies/swing-perp-16h/logs", `{"note":"no event"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummary(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, http.MethodGet, "/v1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var s models.Summary
	decode(t, rec, &s)
	assert.Equal(t, models.Neutral, s.Regime)
	assert.Equal(t, models.LabelObservation, s.Label)
	assert.Equal(t, models.StatusDegraded, s.Status)
}

func TestReadRateLimit(t *testing.T) {
	e := newTestServer(t, ratelimit.New(0.001, 2).Middleware())
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/v1/signals", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/v1/summary", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodGet, "/v1/signals", "").Code)

	// writes are not limited
	body := `{"side":"OPEN_LONG","symbol":"X","fill_px":1,"qty":1,"order_id":"w1"}`
	assert.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/v1/strategies/swing-perp-16h/trades", body).Code)
}

func TestStrategyListPerformanceAndHeartbeat(t *testing.T) {
	e := newTestServer(t)

	open := `{"ts":"2025-03-01T00:00:00Z","side":"OPEN_LONG","symbol":"SOL-PERP","fill_px":100,"qty":1,"order_id":"p1"}`
	closeBody := `{"ts":"2025-03-01T16:00:00Z","side":"CLOSE_LONG","symbol":"SOL-PERP","fill_px":110,"qty":1,"order_id":"p2"}`
	require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/v1/strategies/swing-atr/trades", open).Code)
	require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/v1/strategies/swing-atr/trades", closeBody).Code)

	rec := do(e, http.MethodGet, "/v1/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cards []models.StrategySnapshot
	decode(t, rec, &cards)
	require.Len(t, cards, 1)
	assert.Equal(t, "swing-perp-16h", cards[0].ID)
	assert.Equal(t, models.StrategyActive, cards[0].Status)

	rec = do(e, http.MethodGet, "/v1/strategies/swing-atr/performance?window=3650d", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var perf models.Performance
	decode(t, rec, &perf)
	assert.Equal(t, "3650d", perf.Window)
	assert.Equal(t, 10.0, perf.RealizedPnL)
	assert.Equal(t, 2, perf.Trades)
	assert.Equal(t, 1, perf.Roundtrips)
	require.NotNil(t, perf.HitRate)
	assert.Equal(t, 1.0, *perf.HitRate)

	rec = do(e, http.MethodPost, "/v1/strategies/swing-atr/heartbeat", `{"status":"error","meta":{"reason":"exchange down"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(e, http.MethodGet, "/v1/strategies/swing-perp-16h", "")
	var card models.StrategySnapshot
	decode(t, rec, &card)
	assert.Equal(t, models.StrategyError, card.Status)
	assert.Equal(t, models.HealthError, card.Health)
	assert.NotNil(t, card.LastSeen)

	rec = do(e, http.MethodPost, "/v1/strategies/swing-atr/heartbeat", `{"status":"sleepy"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
