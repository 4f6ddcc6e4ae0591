package usecase

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/repository"
	"SignalDesk/internal/services/reconcile"
	pkgkafka "SignalDesk/pkg/kafka"
)

const testStrategy = "swing-perp-16h"

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fixedMarks map[string]float64

func (m fixedMarks) Mark(symbol string) (float64, bool) {
	v, ok := m[symbol]
	return v, ok
}

type fixture struct {
	dir    string
	view   *LedgerView
	svc    *StrategyService
	reader *staticReader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	aliases := map[string]string{"swing-atr": testStrategy}
	resolve := func(id string) string {
		if c, ok := aliases[id]; ok {
			return c
		}
		return id
	}
	reg := repository.NewLedgerRegistry(dir, resolve)
	view := NewLedgerView(reg, reconcile.NewReconciler(), reconcile.NewRoundtripBuilder())
	reader := &staticReader{p: models.SignalsPayload{
		LastUpdated: testNow.Add(-time.Minute),
		Regime:      models.RiskOn,
		Signals:     map[string]models.Signal{},
		Status:      models.StatusOK,
	}}
	svc := NewStrategyService(view,
		repository.NewFileSnapshotStore(dir),
		repository.NewFileEvalLog(dir),
		NewSignalService(reader, nil),
		resolve, testStrategy,
		WithStrategyNames(map[string]string{testStrategy: "Swing Perp (16h)"}),
		WithStrategyClock(func() time.Time { return testNow }),
	)
	return &fixture{dir: dir, view: view, svc: svc, reader: reader}
}

func fill(id string, side models.TradeSide, px, qty float64, at time.Time) models.TradeEvent {
	return models.TradeEvent{TS: at, Side: side, Symbol: "SOL-PERP", FillPx: px, Qty: qty, OrderID: id, Status: "filled"}
}

func TestAppendTradeUpdatesPositionAndSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ok, err := f.svc.AppendTrade(ctx, "swing-atr", fill("o1", models.OpenLong, 100, 2, testNow.Add(-2*time.Hour)))
	require.NoError(t, err)
	assert.True(t, ok)

	pos, err := f.svc.Position(ctx, testStrategy, "", 110)
	require.NoError(t, err)
	assert.Equal(t, models.Long, pos.Side)
	assert.Equal(t, 2.0, pos.Qty)
	assert.Equal(t, 20.0, pos.UnrealizedPnL)

	b, err := os.ReadFile(filepath.Join(f.dir, "state", testStrategy+".json"))
	require.NoError(t, err)
	var snap models.StrategySnapshot
	require.NoError(t, json.Unmarshal(b, &snap))
	assert.Equal(t, "o1", snap.LastTrade.OrderID)
	assert.Equal(t, models.Long, snap.Position.Side)
	assert.Equal(t, "Swing Perp (16h)", snap.Name)

	dup, err := f.svc.AppendTrade(ctx, testStrategy, fill("o1", models.OpenLong, 100, 2, testNow))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestAppendTradeStampsMissingTS(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ev := fill("o1", models.OpenShort, 100, 1, time.Time{})
	_, err := f.svc.AppendTrade(ctx, testStrategy, ev)
	require.NoError(t, err)

	trades, err := f.svc.Trades(ctx, testStrategy, 20)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].TS.Equal(testNow))
}

func TestRoundtripsAndTradesAreLastN(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	at := testNow.Add(-48 * time.Hour)
	events := []models.TradeEvent{
		fill("1", models.OpenLong, 100, 1, at),
		fill("2", models.CloseLong, 110, 1, at.Add(16*time.Hour)),
		fill("3", models.OpenShort, 120, 1, at.Add(17*time.Hour)),
		fill("4", models.CloseShort, 100, 1, at.Add(20*time.Hour)),
	}
	for _, ev := range events {
		_, err := f.svc.AppendTrade(ctx, testStrategy, ev)
		require.NoError(t, err)
	}

	rts, err := f.svc.Roundtrips(ctx, testStrategy, 10)
	require.NoError(t, err)
	require.Len(t, rts, 2)
	assert.Equal(t, 10.0, rts[0].PnLQuote)
	assert.Equal(t, 20.0, rts[1].PnLQuote)
	assert.Equal(t, 3.0, rts[1].HoldHours)

	last, err := f.svc.Roundtrips(ctx, testStrategy, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "4", last[0].ExitID)

	trades, err := f.svc.Trades(ctx, testStrategy, 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "3", trades[0].OrderID)
	assert.Equal(t, "4", trades[1].OrderID)
}

func TestLedgerViewRebuildsOnChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.AppendTrade(ctx, testStrategy, fill("1", models.OpenLong, 100, 1, testNow))
	require.NoError(t, err)
	s1, err := f.view.State(ctx, testStrategy)
	require.NoError(t, err)
	again, err := f.view.State(ctx, testStrategy)
	require.NoError(t, err)
	assert.Same(t, s1, again)

	_, err = f.svc.AppendTrade(ctx, testStrategy, fill("2", models.CloseLong, 105, 1, testNow))
	require.NoError(t, err)
	s2, err := f.view.State(ctx, testStrategy)
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.Len(t, s2.Roundtrips, 1)
}

func TestLedgerViewSkipsMalformedLineBetweenFills(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	path := filepath.Join(f.dir, "trades", testStrategy+".jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := `{"ts":"2025-03-01T12:00:00Z","side":"OPEN_LONG","symbol":"SOL-PERP","fill_px":100,"qty":2,"order_id":"a"}
{"ts":"2025-03-01T12:05:00Z","side":"OPEN_LONG","symb
{"ts":"2025-03-01T12:10:00Z","side":"OPEN_LONG","symbol":"SOL-PERP","fill_px":110,"qty":2,"order_id":"b"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	state, err := f.view.State(ctx, testStrategy)
	require.NoError(t, err)
	require.Len(t, state.Warnings, 1)
	assert.Equal(t, models.WarnCorruptLine, state.Warnings[0].Kind)
	assert.Equal(t, 2, state.Warnings[0].Line)

	pos, err := f.view.Position(ctx, testStrategy, "", 120)
	require.NoError(t, err)
	assert.Equal(t, models.Long, pos.Side)
	assert.Equal(t, 4.0, pos.Qty)
	assert.InDelta(t, 105.0, pos.AvgEntry, 1e-9)
	assert.InDelta(t, 60.0, pos.UnrealizedPnL, 1e-9)
}

func TestCardUsesMarkSourceAndWarnings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.view.SetMarks(fixedMarks{"SOL-PERP": 90})

	_, err := f.svc.AppendTrade(ctx, testStrategy, fill("1", models.OpenLong, 100, 1, testNow))
	require.NoError(t, err)
	_, err = f.svc.AppendTrade(ctx, testStrategy, fill("2", models.CloseShort, 100, 1, testNow))
	require.NoError(t, err)

	card, err := f.svc.Card(ctx, "swing-atr")
	require.NoError(t, err)
	assert.Equal(t, testStrategy, card.ID)
	assert.Equal(t, models.StrategyActive, card.Status)
	assert.Equal(t, 90.0, card.Position.Mark)
	assert.Equal(t, -10.0, card.Position.UnrealizedPnL)
	require.Len(t, card.Positions, 1)
	assert.Equal(t, 1, card.Warnings)
	assert.Equal(t, "2", card.LastTrade.OrderID)
}

func TestCardForUnknownStrategyIsFlat(t *testing.T) {
	card, err := newFixture(t).svc.Card(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", card.ID)
	assert.Equal(t, models.Flat, card.Position.Side)
	assert.Nil(t, card.LastTrade)
}

func TestCardRejectsBadStrategyID(t *testing.T) {
	_, err := newFixture(t).svc.Card(context.Background(), "../../etc")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func score(v float64) *float64 { return &v }

func TestAppendLogClampsScoreAndUpdatesSignal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	entry, err := f.svc.AppendLog(ctx, testStrategy, models.LogRequest{
		Event: models.EventEvaluation, Market: "SOL-PERP", Score: score(140), Price: 101.239,
		Label: models.LabelAccumulation,
	})
	require.NoError(t, err)
	require.NotNil(t, entry.Score)
	assert.Equal(t, 100, *entry.Score)
	assert.True(t, entry.TS.Equal(testNow))
	assert.Equal(t, "info", entry.Level)

	card, err := f.svc.Card(ctx, testStrategy)
	require.NoError(t, err)
	require.NotNil(t, card.LastEvaluated)
	assert.True(t, card.LastEvaluated.Equal(testNow))
	require.NotNil(t, card.LatestSignal)
	assert.Equal(t, models.LabelAccumulation, card.LatestSignal.Label)
	assert.Equal(t, 101.24, card.LatestSignal.Price)

	logs, err := f.svc.Logs(ctx, testStrategy, 50)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestComputeKPIs(t *testing.T) {
	at := func(min int) time.Time { return testNow.Add(time.Duration(min) * time.Minute) }
	sc := func(v int) *int { return &v }
	entries := []models.EvalLogEntry{
		{TS: at(-20000), Event: models.EventSignalLong},
		{TS: at(-120), Event: models.EventEvaluation, Score: sc(60)},
		{TS: at(-60), Event: models.EventEvaluation, Score: sc(70)},
		{TS: at(-40), Event: models.EventSignalLong, Score: sc(81)},
		{TS: at(-30), Event: models.EventEvaluation, Note: "entry Blocked by risk"},
		{TS: at(0), Event: models.EventEvaluation},
		{TS: at(1), Event: models.EventSignalShort},
	}

	k := ComputeKPIs(entries, "7d", testNow.Add(-7*24*time.Hour))
	assert.Equal(t, "7d", k.Window)
	assert.Equal(t, 2, k.AlertsIssued)
	assert.Equal(t, 70, k.AvgScore)
	assert.Equal(t, 1, k.RiskSuppressedCount)
	// gaps 60, 30, 30 -> sorted [30 30 60], upper median 30
	assert.Equal(t, 30.0, k.MedianTimeBetweenEvalsMin)

	empty := ComputeKPIs(nil, "24h", testNow)
	assert.Zero(t, empty.AvgScore)
	assert.Zero(t, empty.MedianTimeBetweenEvalsMin)
}

func TestKPIsDefaultWindow(t *testing.T) {
	k, err := newFixture(t).svc.KPIs(context.Background(), testStrategy, "bogus")
	require.NoError(t, err)
	assert.Equal(t, "7d", k.Window)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	s, err := f.svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RiskOn, s.Regime)
	assert.Equal(t, models.LabelObservation, s.Label)
	assert.Equal(t, models.StatusOK, s.Status)
	assert.Nil(t, s.MostRecentTrade)
	require.NotNil(t, s.UpdatedAt)

	_, err = f.svc.AppendTrade(ctx, testStrategy, fill("1", models.OpenLong, 100, 1, testNow))
	require.NoError(t, err)
	s, err = f.svc.Summary(ctx)
	require.NoError(t, err)
	require.NotNil(t, s.MostRecentTrade)
	assert.Equal(t, "1", s.MostRecentTrade.OrderID)
}

func TestTradeEventsHandler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	h := NewTradeEventsHandler("trades", f.svc)

	body := []byte(`{"ts":"2025-03-10T10:00:00Z","side":"OPEN_LONG","symbol":"SOL-PERP","fill_px":100,"qty":1,"order_id":"k1","status":"filled"}`)
	msg := kafka.Message{Key: []byte("swing-atr"), Value: body}
	require.NoError(t, h.Handle(ctx, msg))
	require.NoError(t, h.Handle(ctx, msg))

	trades, err := f.svc.Trades(ctx, testStrategy, 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	err = h.Handle(ctx, kafka.Message{Value: []byte(`{"side":`)})
	assert.True(t, pkgkafka.IsPermanent(err))

	err = h.Handle(ctx, kafka.Message{Value: []byte(`{"side":"BUY","symbol":"X","fill_px":1,"qty":1,"order_id":"z","ts":1}`)})
	assert.True(t, pkgkafka.IsPermanent(err))

	hdr := kafka.Message{
		Headers: []kafka.Header{{Key: "strategy", Value: []byte("other")}},
		Value:   []byte(`{"ts":1741600000,"side":"OPEN_SHORT","symbol":"BTC-PERP","fill_px":80000,"qty":0.1,"order_id":"k2"}`),
	}
	require.NoError(t, h.Handle(ctx, hdr))
	other, err := f.svc.Trades(ctx, "other", 10)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestComputePerformanceWindow(t *testing.T) {
	cutoff := testNow.Add(-7 * 24 * time.Hour)
	events := []models.TradeEvent{
		fill("1", models.OpenLong, 100, 1, testNow.Add(-10*24*time.Hour)),
		fill("2", models.CloseLong, 90, 1, testNow.Add(-9*24*time.Hour)),
		fill("3", models.OpenLong, 100, 1, testNow.Add(-2*24*time.Hour)),
		fill("4", models.CloseLong, 112.5, 1, testNow.Add(-1*24*time.Hour)),
		{TS: testNow, Side: models.OpenShort, Symbol: "SOL-PERP", FillPx: 1, Qty: 1, OrderID: "5", Status: "canceled"},
	}
	rts := []models.Roundtrip{
		{ExitTS: testNow.Add(-9 * 24 * time.Hour), PnLQuote: -10, HoldHours: 24},
		{ExitTS: testNow.Add(-1 * 24 * time.Hour), PnLQuote: 12.5, HoldHours: 24},
		{ExitTS: testNow, PnLQuote: -2.5, HoldHours: 12},
	}
	open := []models.Position{{Symbol: "SOL-PERP", Side: models.Long, UnrealizedPnL: 1.25}}

	p := ComputePerformance(events, rts, open, "7d", cutoff)
	assert.Equal(t, 2, p.Trades)
	assert.Equal(t, 2, p.Roundtrips)
	assert.Equal(t, 1, p.Wins)
	assert.InDelta(t, 10.0, p.RealizedPnL, 1e-9)
	assert.InDelta(t, 1.25, p.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 18.0, p.AvgHoldHours, 1e-9)
	require.NotNil(t, p.HitRate)
	assert.Equal(t, 0.5, *p.HitRate)

	empty := ComputePerformance(nil, nil, nil, "7d", cutoff)
	assert.Nil(t, empty.HitRate)
	assert.Zero(t, empty.RealizedPnL)
}

func TestPerformanceDefaultsWindow(t *testing.T) {
	p, err := newFixture(t).svc.Performance(context.Background(), "swing-atr", "forever")
	require.NoError(t, err)
	assert.Equal(t, "30d", p.Window)
}

func TestHeartbeatDrivesLiveness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	WithHeartbeatTimeout(time.Hour)(f.svc)

	card, err := f.svc.Card(ctx, testStrategy)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyActive, card.Status, "no heartbeat yet")

	hb, err := f.svc.Heartbeat(ctx, "swing-atr", models.HeartbeatRequest{TS: testNow.Add(-2 * time.Hour).Format(time.RFC3339)})
	require.NoError(t, err)
	assert.Equal(t, models.HealthOK, hb.Health)
	card, err = f.svc.Card(ctx, testStrategy)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyStale, card.Status)

	_, err = f.svc.Heartbeat(ctx, testStrategy, models.HeartbeatRequest{Status: models.HealthWarn})
	require.NoError(t, err)
	card, err = f.svc.Card(ctx, testStrategy)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyActive, card.Status)
	assert.Equal(t, models.HealthWarn, card.Health)
	require.NotNil(t, card.LastSeen)
	assert.True(t, card.LastSeen.Equal(testNow))

	// an older heartbeat arriving late does not rewind liveness
	_, err = f.svc.Heartbeat(ctx, testStrategy, models.HeartbeatRequest{TS: testNow.Add(-3 * time.Hour).Format(time.RFC3339), Status: models.HealthError})
	require.NoError(t, err)
	card, err = f.svc.Card(ctx, testStrategy)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyActive, card.Status)

	_, err = f.svc.Heartbeat(ctx, testStrategy, models.HeartbeatRequest{Status: models.HealthError})
	require.NoError(t, err)
	summary, err := f.svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDegraded, summary.Status)
}

func TestListPutsDefaultFirst(t *testing.T) {
	f := newFixture(t)
	WithStrategyNames(map[string]string{"alpha-1": "Alpha"})(f.svc)

	cards, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, testStrategy, cards[0].ID)
	assert.Equal(t, "Swing Perp (16h)", cards[0].Name)
	assert.Equal(t, "alpha-1", cards[1].ID)
	assert.Equal(t, "Alpha", cards[1].Name)
}
