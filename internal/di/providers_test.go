package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalDesk/internal/domain/models"
	"SignalDesk/pkg/config"
	"SignalDesk/pkg/metrics"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
logger:
  level: error
  output: stderr
signals:
  disabled: true
  assets:
    - { symbol: BTC, source_id: bitcoin, tier: low }
    - { symbol: SOL, source_id: solana }
ledger:
  data_dir: ` + t.TempDir() + `
  aliases:
    swing-atr: swing-perp-16h
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestInitializeAppWithDefaults(t *testing.T) {
	cfg := testConfig(t)
	app, err := InitializeApp(cfg)
	require.NoError(t, err)
	assert.NotNil(t, app)
}

func TestOptionalInfrastructureIsOff(t *testing.T) {
	cfg := testConfig(t)
	l, err := ProvideLogger(cfg)
	require.NoError(t, err)

	assert.Nil(t, ProvideRedisCache(cfg, l))
	assert.Nil(t, ProvideMarkFeed(cfg, l))

	ch, err := ProvideClickHouseClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, ch)

	src, err := ProvidePriceSource(cfg, ch, l)
	require.NoError(t, err)
	assert.NotNil(t, src)
}

func TestAliasedStrategySharesLedger(t *testing.T) {
	cfg := testConfig(t)
	l, err := ProvideLogger(cfg)
	require.NoError(t, err)

	view := ProvideLedgerView(cfg, nil, l, metrics.New(prometheus.NewRegistry()))
	svc := ProvideStrategyService(cfg, view, nil, nil, l)

	ctx := context.Background()
	ok, err := svc.AppendTrade(ctx, "swing-atr", models.TradeEvent{
		Side: models.OpenLong, Symbol: "SOL-PERP", FillPx: 100, Qty: 2, OrderID: "x1",
	})
	require.NoError(t, err)
	require.True(t, ok)

	pos, err := svc.Position(ctx, "swing-perp-16h", "SOL-PERP", 0)
	require.NoError(t, err)
	assert.Equal(t, models.Long, pos.Side)
	assert.Equal(t, 2.0, pos.Qty)
}
