package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`

	Venue    VenueConfig    `mapstructure:"venue"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Synonyms SynonymsConfig `mapstructure:"synonyms"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Exec     ExecConfig     `mapstructure:"exec"`
	Cron     CronConfig     `mapstructure:"cron"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
	// DataSource selects the venue implementation: mock|real.
	DataSource string `mapstructure:"data_source"`
	AdminToken string `mapstructure:"admin_token"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type VenueConfig struct {
	GammaBaseURL string        `mapstructure:"gamma_base_url"`
	ClobBaseURL  string        `mapstructure:"clob_base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	BookCacheTTL time.Duration `mapstructure:"book_cache_ttl"`
	DetailTTL    time.Duration `mapstructure:"detail_ttl"`
	RatePerSec   float64       `mapstructure:"rate_per_sec"`
	RateBurst    int           `mapstructure:"rate_burst"`
	MockSeed     int64         `mapstructure:"mock_seed"`
}

type IngestConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	MaxConcurrency   int           `mapstructure:"max_concurrency"`
	MinFlushInterval time.Duration `mapstructure:"min_flush_interval"`
	MarketListTTL    time.Duration `mapstructure:"market_list_ttl"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	MarketLimit      int           `mapstructure:"market_limit"`
}

type RulesConfig struct {
	Dir             string        `mapstructure:"dir"`
	EvalInterval    time.Duration `mapstructure:"eval_interval"`
	LookbackSecs    int           `mapstructure:"lookback_secs"`
	ReloadSpec      string        `mapstructure:"reload_spec"`
	MarketLimit     int           `mapstructure:"market_limit"`
	PayloadMaxBytes int           `mapstructure:"payload_max_bytes"`
}

type SynonymsConfig struct {
	Path        string `mapstructure:"path"`
	RefreshSpec string `mapstructure:"refresh_spec"`
}

type AlertConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type ExecConfig struct {
	Mode                string  `mapstructure:"mode"`
	MaxNotionalPerOrder float64 `mapstructure:"max_notional_per_order"`
	MaxConcurrentOrders int     `mapstructure:"max_concurrent_orders"`
	MaxDailyNotional    float64 `mapstructure:"max_daily_notional"`
	SlippageBps         int     `mapstructure:"slippage_bps"`
	DefaultTTLSecs      int     `mapstructure:"default_ttl_secs"`
	ExpireSpec          string  `mapstructure:"expire_spec"`
}

type CronConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MPX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("app.data_source", "mock")
	v.SetDefault("app.admin_token", "")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("venue.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("venue.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("venue.timeout", "10s")
	v.SetDefault("venue.book_cache_ttl", "5s")
	v.SetDefault("venue.detail_ttl", "2m")
	v.SetDefault("venue.rate_per_sec", 10)
	v.SetDefault("venue.rate_burst", 20)
	v.SetDefault("venue.mock_seed", 42)
	v.SetDefault("ingest.poll_interval", "2s")
	v.SetDefault("ingest.chunk_size", 20)
	v.SetDefault("ingest.max_concurrency", 3)
	v.SetDefault("ingest.min_flush_interval", "10s")
	v.SetDefault("ingest.market_list_ttl", "10m")
	v.SetDefault("ingest.max_retries", 3)
	v.SetDefault("ingest.backoff_base", "500ms")
	v.SetDefault("ingest.backoff_max", "30s")
	v.SetDefault("ingest.market_limit", 200)
	v.SetDefault("rules.dir", "configs/rules")
	v.SetDefault("rules.eval_interval", "2s")
	v.SetDefault("rules.lookback_secs", 300)
	v.SetDefault("rules.reload_spec", "@every 1m")
	v.SetDefault("rules.market_limit", 100)
	v.SetDefault("rules.payload_max_bytes", 16000)
	v.SetDefault("synonyms.path", "configs/synonyms.yaml")
	v.SetDefault("synonyms.refresh_spec", "@every 5m")
	v.SetDefault("alert.enabled", false)
	v.SetDefault("exec.mode", "semi_auto")
	v.SetDefault("exec.max_notional_per_order", 200.0)
	v.SetDefault("exec.max_concurrent_orders", 2)
	v.SetDefault("exec.max_daily_notional", 1000.0)
	v.SetDefault("exec.slippage_bps", 80)
	v.SetDefault("exec.default_ttl_secs", 60)
	v.SetDefault("exec.expire_spec", "@every 30s")
	v.SetDefault("cron.enabled", true)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.App.DataSource {
	case "mock", "real":
	default:
		return fmt.Errorf("config: app.data_source must be mock or real, got %q", c.App.DataSource)
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		return fmt.Errorf("config: db.dsn is required")
	}
	switch c.Exec.Mode {
	case "manual", "semi_auto", "auto":
	default:
		return fmt.Errorf("config: exec.mode must be manual, semi_auto or auto, got %q", c.Exec.Mode)
	}
	if c.Alert.Enabled && (c.Alert.BotToken == "" || c.Alert.ChatID == "") {
		return fmt.Errorf("config: alert.bot_token and alert.chat_id are required when alert.enabled")
	}
	if c.Ingest.ChunkSize <= 0 || c.Ingest.MaxConcurrency <= 0 {
		return fmt.Errorf("config: ingest.chunk_size and ingest.max_concurrency must be positive")
	}
	return nil
}
