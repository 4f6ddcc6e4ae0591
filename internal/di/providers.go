package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"
	"SignalDesk/internal/handler/api"
	internalrepo "SignalDesk/internal/repository"
	icache "SignalDesk/internal/service/cache"
	"SignalDesk/internal/service/markfeed"
	"SignalDesk/internal/service/ratelimit"
	"SignalDesk/internal/services/indicators"
	"SignalDesk/internal/services/marketdata"
	"SignalDesk/internal/services/reconcile"
	"SignalDesk/internal/services/signals"
	"SignalDesk/internal/usecase"
	pkgch "SignalDesk/pkg/clickhouse"
	"SignalDesk/pkg/config"
	xhttp "SignalDesk/pkg/http"
	pkgkafka "SignalDesk/pkg/kafka"
	applogger "SignalDesk/pkg/logger"
	"SignalDesk/pkg/metrics"
	"SignalDesk/pkg/server"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// ProvideLogger builds the root logger from the logger section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideRedisCache returns the snapshot mirror, or nil when Redis is
// disabled or unreachable at startup.
func ProvideRedisCache(cfg *config.Config, l *applogger.Logger) *icache.RedisCache {
	if !cfg.Redis.Enabled {
		return nil
	}
	rc := icache.NewRedisCache(icache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		l.Warn("redis unavailable, running without mirror", applogger.String("addr", cfg.Redis.Addr), applogger.Error(err))
		_ = rc.Close()
		return nil
	}
	return rc
}

// ProvideClickHouseClient connects only when ClickHouse is the market provider.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Market.Provider != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvidePriceSource picks the upstream for close/volume history.
func ProvidePriceSource(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (repository.PriceSource, error) {
	if ch != nil {
		src, err := internalrepo.NewCHPriceSource(ch, cfg.ClickHouse.Table, cfg.Market.Days*24)
		if err != nil {
			return nil, err
		}
		src.SetLogger(l.Component("clickhouse"))
		return src, nil
	}
	return marketdata.NewCoinGecko(marketdata.CoinGeckoConfig{
		BaseURL: cfg.Market.BaseURL,
		APIKey:  cfg.Market.APIKey,
		Days:    cfg.Market.Days,
		RPS:     cfg.Market.RPS,
		Retries: cfg.Market.Retries,
		Backoff: cfg.Market.Backoff,
		Timeout: cfg.Market.Timeout,
	}), nil
}

// ProvideSignalBuilder assembles indicators, zones and score weights.
func ProvideSignalBuilder(cfg *config.Config) (*signals.Builder, error) {
	engine := indicators.NewEngine(
		indicators.WithVolSpikeMultiple(cfg.Signals.VolSpikeMultiple),
		indicators.WithVolWindow(cfg.Signals.VolWindow),
		indicators.WithSlopeLookback(cfg.Signals.SlopeLookback),
	)
	tiers := make(map[string]signals.Tier, len(cfg.RiskTiers))
	for name, t := range cfg.RiskTiers {
		tiers[name] = signals.Tier{K1: t.K1, K2: t.K2}
	}
	zones, err := signals.NewZoneClassifier(tiers)
	if err != nil {
		return nil, fmt.Errorf("risk tiers: %w", err)
	}
	w := cfg.Signals.Weights
	weights := signals.Weights{Trend: w.Trend, RSI: w.RSI, Proximity: w.Proximity, Volume: w.Volume}
	return signals.NewBuilder(engine, zones, weights, cfg.Signals.MinPoints), nil
}

func ProvideSignalEngine(
	cfg *config.Config,
	source repository.PriceSource,
	builder *signals.Builder,
	l *applogger.Logger,
	m *metrics.Recorder,
) *usecase.SignalEngine {
	assets := make([]models.Asset, 0, len(cfg.Signals.Assets))
	for _, a := range cfg.Signals.Assets {
		assets = append(assets, models.Asset{Symbol: a.Symbol, SourceID: a.SourceID, Tier: a.Tier})
	}
	e := usecase.NewSignalEngine(assets, source, builder,
		usecase.WithReferenceAsset(cfg.Signals.ReferenceAsset),
		usecase.WithMaxErrors(cfg.Signals.MaxErrors),
	)
	e.SetLogger(l.Component("signal_engine"))
	e.SetMetrics(m)
	return e
}

func ProvideSignalCache(
	cfg *config.Config,
	engine *usecase.SignalEngine,
	rc *icache.RedisCache,
	l *applogger.Logger,
	m *metrics.Recorder,
) *icache.SignalCache {
	c := icache.NewSignalCache(engine.Refresh,
		icache.WithTTL(cfg.Signals.TTL),
		icache.WithStaleAfter(cfg.Signals.StaleAfter),
		icache.WithRefreshWait(cfg.Signals.RefreshWait),
		icache.WithFetchTimeout(cfg.Signals.FetchTimeout),
		icache.WithPaused(cfg.Signals.Disabled),
		icache.WithRetryBackoff(cfg.Signals.RetryBackoff),
		icache.WithMirrorTTL(cfg.Redis.TTL),
	)
	// the state file keeps the last good payload across restarts
	state := internalrepo.NewFileCache(filepath.Join(cfg.Ledger.DataDir, "state"))
	var mirror icache.BytesCache = state
	if rc != nil {
		mirror = icache.NewLayeredCache(rc, state)
	}
	c.SetMirror(mirror)
	c.SetLogger(l.Component("signal_cache"))
	c.SetMetrics(m)
	return c
}

func ProvideSignalService(c *icache.SignalCache, engine *usecase.SignalEngine) *usecase.SignalService {
	return usecase.NewSignalService(c, engine)
}

// ProvideMarkFeed returns nil when the live mark feed is disabled.
func ProvideMarkFeed(cfg *config.Config, l *applogger.Logger) *markfeed.Feed {
	if !cfg.MarkFeed.Enabled {
		return nil
	}
	f := markfeed.New(cfg.MarkFeed.URL, cfg.MarkFeed.Symbols, cfg.MarkFeed.ReconnectDelay, cfg.MarkFeed.PingInterval)
	f.SetLogger(l.Component("mark_feed"))
	return f
}

func ProvideLedgerView(cfg *config.Config, marks *markfeed.Feed, l *applogger.Logger, m *metrics.Recorder) *usecase.LedgerView {
	registry := internalrepo.NewLedgerRegistry(cfg.Ledger.DataDir, cfg.Ledger.ResolveStrategy)
	registry.SetLogger(l.Component("ledger"))
	recon := reconcile.NewReconciler()
	recon.SetLogger(l.Component("reconcile"))
	builder := reconcile.NewRoundtripBuilder()
	builder.SetLogger(l.Component("roundtrips"))

	v := usecase.NewLedgerView(registry, recon, builder)
	v.SetLogger(l.Component("ledger_view"))
	v.SetMetrics(m)
	if marks != nil {
		v.SetMarks(marks)
	}
	return v
}

func ProvideStrategyService(
	cfg *config.Config,
	view *usecase.LedgerView,
	sigs *usecase.SignalService,
	rc *icache.RedisCache,
	l *applogger.Logger,
) *usecase.StrategyService {
	snapshots := internalrepo.NewFileSnapshotStore(cfg.Ledger.DataDir)
	snapshots.SetLogger(l.Component("snapshots"))
	if rc != nil {
		snapshots.SetMirror(rc, cfg.Redis.TTL)
	}
	evals := internalrepo.NewFileEvalLog(cfg.Ledger.DataDir)
	evals.SetLogger(l.Component("eval_log"))

	s := usecase.NewStrategyService(view, snapshots, evals, sigs,
		cfg.Ledger.ResolveStrategy, cfg.Ledger.DefaultStrategy,
		usecase.WithStrategyNames(map[string]string{cfg.Ledger.DefaultStrategy: cfg.Ledger.StrategyName}),
		usecase.WithHeartbeatTimeout(cfg.Ledger.HeartbeatTimeout),
	)
	s.SetLogger(l.Component("strategies"))
	return s
}

// ProvideKafkaConsumer creates the trade-event consumer, or nil when Kafka
// ingestion is disabled.
func ProvideKafkaConsumer(cfg *config.Config, strategies *usecase.StrategyService, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerMetrics(prometheus.DefaultRegisterer),
		pkgkafka.WithConsumerLogger(l.Component("kafka")),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	h := usecase.NewTradeEventsHandler(cfg.Kafka.Topic, strategies)
	h.SetLogger(l.Component("trade_events"))
	consumer.RegisterHandler(h)
	return consumer, nil
}

// ProvideHTTPServer registers the read and write API on the echo server.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	sigs *usecase.SignalService,
	strategies *usecase.StrategyService,
) *xhttp.Server {
	var readMW []echo.MiddlewareFunc
	if cfg.RateLimit.Enabled {
		readMW = append(readMW, ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware())
	}
	httpLog := l.Component("http")

	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithAllowOrigins(cfg.Server.AllowOrigins),
		xhttp.WithLogger(httpLog),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	}
	return xhttp.NewServer([]xhttp.Handler{
		api.NewSignalsEchoHandler(httpLog, sigs, strategies, readMW...),
		api.NewStrategiesEchoHandler(httpLog, strategies, readMW...),
	}, opts...)
}

func ProvideSignalPoller(cfg *config.Config, c *icache.SignalCache, l *applogger.Logger) *usecase.SignalPoller {
	p := usecase.NewSignalPoller(c, cfg.Signals.PollInterval)
	p.SetLogger(l.Component("poller"))
	return p
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	poller *usecase.SignalPoller,
	consumer *pkgkafka.Consumer,
	marks *markfeed.Feed,
	rc *icache.RedisCache,
	ch *pkgch.Client,
) *server.App {
	var stream repository.MarkStream
	if marks != nil {
		stream = marks
	}
	app := server.New(cfg, l, httpServer, poller, consumer, stream)
	if rc != nil {
		app.AddCloser("redis", rc)
	}
	if ch != nil {
		app.AddCloser("clickhouse", ch)
	}
	return app
}
