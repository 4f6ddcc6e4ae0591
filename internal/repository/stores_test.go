package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/service/cache"
)

func TestLedgerRegistryResolvesAliases(t *testing.T) {
	dir := t.TempDir()
	aliases := map[string]string{"swing-atr": "swing-perp-16h"}
	reg := NewLedgerRegistry(dir, func(id string) string {
		if c, ok := aliases[id]; ok {
			return c
		}
		return id
	})

	a, err := reg.Ledger("swing-atr")
	require.NoError(t, err)
	_, err = a.Append(context.Background(), trade("o1", models.OpenLong, 1, 1, time.Now().UTC()))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "trades", "swing-perp-16h.jsonl"))
	assert.NoError(t, err)

	b, err := reg.Ledger("swing-perp-16h")
	require.NoError(t, err)
	c, err := reg.Ledger("swing-atr")
	require.NoError(t, err)
	assert.Same(t, b, c)
	events, _, err := b.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestLedgerRegistryKeepsUnknownStrategiesClosed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := NewLedgerRegistry(dir, nil)

	for _, id := range []string{"ghost-1", "ghost-2", "ghost-3"} {
		lg, err := reg.Ledger(id)
		require.NoError(t, err)
		events, warnings, err := lg.Scan(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.Empty(t, warnings)
		st, err := lg.Stat()
		require.NoError(t, err)
		assert.Zero(t, st.Size)
	}
	assert.Zero(t, reg.Open())
	_, err := os.Stat(filepath.Join(dir, "trades"))
	assert.True(t, os.IsNotExist(err))

	lg, err := reg.Ledger("ghost-1")
	require.NoError(t, err)
	ok, err := lg.Append(ctx, trade("o1", models.OpenLong, 1, 1, time.Now().UTC()))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, reg.Open())

	// a stand-in handed out before the first append sees the new file
	st, err := lg.Stat()
	require.NoError(t, err)
	assert.Positive(t, st.Size)
}

func TestLedgerRegistryRejectsTraversal(t *testing.T) {
	reg := NewLedgerRegistry(t.TempDir(), nil)
	_, err := reg.Ledger("../etc/passwd")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st := NewFileSnapshotStore(dir)

	_, err := st.Load(ctx, "swing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	snap := models.StrategySnapshot{ID: "swing", Name: "Swing", Status: models.StrategyActive,
		Position: models.Position{Symbol: "SOL-PERP", Side: models.Long, Qty: 2, AvgEntry: 100}}
	require.NoError(t, st.Save(ctx, snap))

	got, err := st.Load(ctx, "swing")
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	snap.Position = models.FlatPosition("SOL-PERP")
	require.NoError(t, st.Save(ctx, snap))
	got, err = st.Load(ctx, "swing")
	require.NoError(t, err)
	assert.Equal(t, models.Flat, got.Position.Side)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(dir, "state"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSnapshotStoreMirrorFallback(t *testing.T) {
	ctx := context.Background()
	mirror := cache.NewTTLCache()

	writer := NewFileSnapshotStore(t.TempDir())
	writer.SetMirror(mirror, time.Hour)
	require.NoError(t, writer.Save(ctx, models.StrategySnapshot{ID: "swing", Status: models.StrategyActive}))

	reader := NewFileSnapshotStore(t.TempDir())
	reader.SetMirror(mirror, time.Hour)
	got, err := reader.Load(ctx, "swing")
	require.NoError(t, err)
	assert.Equal(t, "swing", got.ID)
}

func TestEvalLogAppendAndTail(t *testing.T) {
	ctx := context.Background()
	lg := NewFileEvalLog(t.TempDir())

	got, err := lg.Tail(ctx, "swing", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		require.NoError(t, lg.Append(ctx, "swing", models.EvalLogEntry{
			TS: t0.Add(time.Duration(i) * time.Hour), Event: models.EventEvaluation, Level: "info",
		}))
	}

	got, err = lg.Tail(ctx, "swing", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].TS.Equal(t0.Add(4*time.Hour)))
	assert.True(t, got[2].TS.Equal(t0.Add(6*time.Hour)))

	all, err := lg.Tail(ctx, "swing", 0)
	require.NoError(t, err)
	assert.Len(t, all, 7)
}

func TestFileCacheWarmsSignalsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")

	up := func(context.Context, *models.SignalsPayload) (models.SignalsPayload, error) {
		return models.SignalsPayload{
			Regime:  models.RiskOn,
			Signals: map[string]models.Signal{"BTC": {Market: "BTC", Score: 72}},
		}, nil
	}
	first := cache.NewSignalCache(up)
	first.SetMirror(NewFileCache(dir))
	require.NoError(t, first.Refresh(ctx))

	_, err := os.Stat(filepath.Join(dir, "signals-latest.json"))
	require.NoError(t, err)

	down := func(context.Context, *models.SignalsPayload) (models.SignalsPayload, error) {
		return models.SignalsPayload{}, &models.UpstreamFetchError{Source: "test", Asset: "BTC", StatusCode: 429, Err: os.ErrDeadlineExceeded}
	}
	second := cache.NewSignalCache(down, cache.WithRefreshWait(time.Second))
	second.SetMirror(NewFileCache(dir))
	require.True(t, second.Warm(ctx))

	got := second.Get(ctx)
	assert.Equal(t, models.StatusDegraded, got.Status)
	assert.Equal(t, models.RiskOn, got.Regime)
	assert.Equal(t, 72, got.Signals["BTC"].Score)
}

func TestFileCacheMissingKey(t *testing.T) {
	_, ok, err := NewFileCache(t.TempDir()).GetBytes(context.Background(), "nothing")
	assert.NoError(t, err)
	assert.False(t, ok)
}
