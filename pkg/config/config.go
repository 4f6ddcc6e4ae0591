package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowOrigins    []string      `yaml:"allow_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Logger struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logger"`
	Signals   SignalsConfig       `yaml:"signals"`
	RiskTiers map[string]RiskTier `yaml:"risk_tiers"`
	Market    MarketConfig        `yaml:"market"`
	Ledger    LedgerConfig        `yaml:"ledger"`
	Redis     struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled  bool     `yaml:"enabled"`
		Brokers  []string `yaml:"brokers"`
		Topic    string   `yaml:"topic"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port"`
		Database    string        `yaml:"database"`
		User        string        `yaml:"user"`
		Password    string        `yaml:"password"`
		UseHTTP     bool          `yaml:"use_http"`
		Table       string        `yaml:"table"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
	} `yaml:"clickhouse"`
	MarkFeed struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"mark_feed"`
	RateLimit struct {
		Enabled bool    `yaml:"enabled"`
		RPS     float64 `yaml:"rps"`
		Burst   int     `yaml:"burst"`
	} `yaml:"ratelimit"`
}

type SignalsConfig struct {
	Disabled         bool          `yaml:"disabled"`
	TTL              time.Duration `yaml:"ttl"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	RefreshWait      time.Duration `yaml:"refresh_wait"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MinPoints        int           `yaml:"min_points"`
	VolSpikeMultiple float64       `yaml:"vol_spike_multiple"`
	VolWindow        int           `yaml:"vol_window"`
	SlopeLookback    int           `yaml:"slope_lookback"`
	ReferenceAsset   string        `yaml:"reference_asset"`
	MaxErrors        int           `yaml:"max_errors"`
	Weights          ScoreWeights  `yaml:"weights"`
	Assets           []AssetConfig `yaml:"assets"`
}

type ScoreWeights struct {
	Trend     float64 `yaml:"trend"`
	RSI       float64 `yaml:"rsi"`
	Proximity float64 `yaml:"proximity"`
	Volume    float64 `yaml:"volume"`
}

type AssetConfig struct {
	Symbol   string `yaml:"symbol"`
	SourceID string `yaml:"source_id"`
	Tier     string `yaml:"tier"`
}

type RiskTier struct {
	K1 float64 `yaml:"k1"`
	K2 float64 `yaml:"k2"`
}

type MarketConfig struct {
	Provider string        `yaml:"provider"` // coingecko or clickhouse
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Days     int           `yaml:"days"`
	RPS      float64       `yaml:"rps"`
	Retries  int           `yaml:"retries"`
	Backoff  time.Duration `yaml:"backoff"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LedgerConfig struct {
	DataDir         string            `yaml:"data_dir"`
	DefaultStrategy string            `yaml:"default_strategy"`
	StrategyName    string            `yaml:"strategy_name"`
	Aliases         map[string]string `yaml:"aliases"`
	// HeartbeatTimeout marks a strategy Stale once its last heartbeat is
	// older; zero disables the check.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DISABLE_SIGNALS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Signals.Disabled = b
		}
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		c.Market.APIKey = v
	}
	if v := os.Getenv("MARKET_PROVIDER"); v != "" {
		c.Market.Provider = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Ledger.DataDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("API_ORIGINS"); v != "" {
		c.Server.AllowOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if c.Logger.Output == "" {
		c.Logger.Output = "stdout"
	}

	s := &c.Signals
	if s.TTL == 0 {
		s.TTL = 60 * time.Second
	}
	if s.StaleAfter == 0 {
		s.StaleAfter = s.TTL
	}
	if s.RefreshWait == 0 {
		s.RefreshWait = 2 * time.Second
	}
	if s.FetchTimeout == 0 {
		s.FetchTimeout = 10 * time.Second
	}
	if s.RetryBackoff == 0 {
		s.RetryBackoff = 10 * time.Second
	}
	if s.PollInterval == 0 {
		s.PollInterval = s.TTL
	}
	if s.MinPoints == 0 {
		s.MinPoints = 50
	}
	if s.VolSpikeMultiple == 0 {
		s.VolSpikeMultiple = 2
	}
	if s.VolWindow == 0 {
		s.VolWindow = 20
	}
	if s.SlopeLookback == 0 {
		s.SlopeLookback = 5
	}
	if s.MaxErrors == 0 {
		s.MaxErrors = 10
	}
	if s.Weights == (ScoreWeights{}) {
		s.Weights = ScoreWeights{Trend: 30, RSI: 25, Proximity: 30, Volume: 15}
	}
	if s.ReferenceAsset == "" && len(s.Assets) > 0 {
		s.ReferenceAsset = s.Assets[0].Symbol
	}

	if len(c.RiskTiers) == 0 {
		c.RiskTiers = map[string]RiskTier{
			"low":    {K1: 1.0, K2: 1.8},
			"medium": {K1: 1.3, K2: 2.2},
			"high":   {K1: 1.6, K2: 2.8},
		}
	}
	for i := range s.Assets {
		if s.Assets[i].Tier == "" {
			s.Assets[i].Tier = "medium"
		}
		if s.Assets[i].SourceID == "" {
			s.Assets[i].SourceID = strings.ToLower(s.Assets[i].Symbol)
		}
	}

	m := &c.Market
	if m.Provider == "" {
		m.Provider = "coingecko"
	}
	if m.BaseURL == "" {
		m.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if m.Days == 0 {
		m.Days = 60
	}
	if m.RPS == 0 {
		m.RPS = 0.5
	}
	if m.Retries == 0 {
		m.Retries = 2
	}
	if m.Backoff == 0 {
		m.Backoff = 500 * time.Millisecond
	}
	if m.Timeout == 0 {
		m.Timeout = 8 * time.Second
	}

	if c.Ledger.DataDir == "" {
		c.Ledger.DataDir = "data"
	}
	if c.Ledger.DefaultStrategy == "" {
		c.Ledger.DefaultStrategy = "swing-perp-16h"
	}
	if c.Ledger.StrategyName == "" {
		c.Ledger.StrategyName = c.Ledger.DefaultStrategy
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "signaldesk:"
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "signaldesk-ledger"
	}
	if c.Kafka.Consumer.RetryMax == 0 {
		c.Kafka.Consumer.RetryMax = 3
	}
	if c.ClickHouse.Table == "" {
		c.ClickHouse.Table = "candles_1h"
	}
	if c.MarkFeed.ReconnectDelay == 0 {
		c.MarkFeed.ReconnectDelay = 5 * time.Second
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Signals.Assets) == 0 {
		return fmt.Errorf("signals.assets cannot be empty")
	}
	if c.Signals.TTL <= 0 {
		return fmt.Errorf("signals.ttl must be positive")
	}
	if c.Signals.MinPoints < 50 {
		return fmt.Errorf("signals.min_points must be at least 50, got %d", c.Signals.MinPoints)
	}
	for name, tier := range c.RiskTiers {
		if tier.K1 <= 0 || tier.K1 >= tier.K2 {
			return fmt.Errorf("risk_tiers.%s: need 0 < k1 < k2, got k1=%v k2=%v", name, tier.K1, tier.K2)
		}
	}
	seen := make(map[string]bool, len(c.Signals.Assets))
	for _, a := range c.Signals.Assets {
		if a.Symbol == "" {
			return fmt.Errorf("signals.assets: symbol is required")
		}
		if seen[a.Symbol] {
			return fmt.Errorf("signals.assets: duplicate symbol %q", a.Symbol)
		}
		seen[a.Symbol] = true
		if _, ok := c.RiskTiers[a.Tier]; !ok {
			return fmt.Errorf("signals.assets: %s has unknown tier %q", a.Symbol, a.Tier)
		}
	}
	if c.Signals.ReferenceAsset != "" && !seen[c.Signals.ReferenceAsset] {
		return fmt.Errorf("signals.reference_asset %q is not a configured asset", c.Signals.ReferenceAsset)
	}
	if c.Market.Provider != "coingecko" && c.Market.Provider != "clickhouse" {
		return fmt.Errorf("market.provider must be 'coingecko' or 'clickhouse', got '%s'", c.Market.Provider)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if c.MarkFeed.Enabled && c.MarkFeed.URL == "" {
		return fmt.Errorf("mark_feed.url is required when the mark feed is enabled")
	}
	return nil
}

// ResolveStrategy maps an alias to its canonical strategy id.
func (l LedgerConfig) ResolveStrategy(id string) string {
	if id == "" {
		return l.DefaultStrategy
	}
	if canonical, ok := l.Aliases[id]; ok {
		return canonical
	}
	return id
}
