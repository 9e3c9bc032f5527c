package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stockwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Market    MarketConfig    `mapstructure:"market"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Retention RetentionConfig `mapstructure:"retention"`
	Watchlist WatchlistConfig `mapstructure:"watchlist"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig governs the HTTP API.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ProviderConfig captures market-data endpoint connectivity.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SearchURL      string        `mapstructure:"search_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// MarketConfig pins the exchange calendar.
type MarketConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	PollIntervalOpen    time.Duration `mapstructure:"poll_interval_open"`
	PollIntervalClosed  time.Duration `mapstructure:"poll_interval_closed"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	MaxConcurrentFetch  int           `mapstructure:"max_concurrent_fetches"`
	InfoRefreshInterval time.Duration `mapstructure:"info_refresh_interval"`
	StartupDelay        time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines the threshold and cooldown rule.
type AlertingConfig struct {
	ThresholdPct float64       `mapstructure:"threshold_pct"`
	CooldownMode string        `mapstructure:"cooldown_mode"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

// Cooldown modes.
const (
	CooldownSession = "session"
	CooldownWindow  = "window"
)

// RetentionConfig bounds the history and alert tables.
type RetentionConfig struct {
	HistoryDays    int `mapstructure:"history_days"`
	AlertDays      int `mapstructure:"alert_days"`
	PurgeHour      int `mapstructure:"purge_hour"`
	PurgeBatchSize int `mapstructure:"purge_batch_size"`
}

// WatchlistConfig seeds the registry on first run.
type WatchlistConfig struct {
	Symbols []string `mapstructure:"symbols"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stockwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("provider.base_url", "https://push2.eastmoney.com")
	v.SetDefault("provider.search_url", "https://searchapi.eastmoney.com")
	v.SetDefault("provider.request_timeout", "10s")
	v.SetDefault("provider.user_agent", "stockwatch/1.0")

	v.SetDefault("market.timezone", "Asia/Shanghai")

	v.SetDefault("scheduler.poll_interval_open", "10s")
	v.SetDefault("scheduler.poll_interval_closed", "5m")
	v.SetDefault("scheduler.fetch_timeout", "5s")
	v.SetDefault("scheduler.max_concurrent_fetches", 8)
	v.SetDefault("scheduler.info_refresh_interval", "1h")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.threshold_pct", 5.0)
	v.SetDefault("alerting.cooldown_mode", CooldownSession)
	v.SetDefault("alerting.cooldown", "30m")

	v.SetDefault("retention.history_days", 30)
	v.SetDefault("retention.alert_days", 7)
	v.SetDefault("retention.purge_hour", 3)
	v.SetDefault("retention.purge_batch_size", 1000)

	v.SetDefault("watchlist.symbols", []string{
		"000001", // 平安银行
		"000002", // 万科A
		"000858", // 五粮液
		"002415", // 海康威视
		"600036", // 招商银行
		"600519", // 贵州茅台
		"600887", // 伊利股份
		"002142", // 宁波银行
		"300750", // 宁德时代
	})

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.PollIntervalOpen <= 0 {
		return fmt.Errorf("scheduler.poll_interval_open must be greater than zero")
	}
	if c.Scheduler.PollIntervalClosed <= 0 {
		return fmt.Errorf("scheduler.poll_interval_closed must be greater than zero")
	}
	if c.Scheduler.FetchTimeout <= 0 {
		return fmt.Errorf("scheduler.fetch_timeout must be greater than zero")
	}
	if c.Scheduler.MaxConcurrentFetch <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_fetches must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.CooldownMode != CooldownSession && c.Alerting.CooldownMode != CooldownWindow {
		return fmt.Errorf("alerting.cooldown_mode must be %q or %q", CooldownSession, CooldownWindow)
	}
	if c.Alerting.CooldownMode == CooldownWindow && c.Alerting.Cooldown <= 0 {
		return fmt.Errorf("alerting.cooldown must be greater than zero in window mode")
	}
	if c.Retention.HistoryDays <= 0 || c.Retention.AlertDays <= 0 {
		return fmt.Errorf("retention days must be greater than zero")
	}
	if c.Retention.PurgeHour < 0 || c.Retention.PurgeHour > 23 {
		return fmt.Errorf("retention.purge_hour must be within 0..23")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// MarketLocation resolves the configured exchange time zone.
func (c *Config) MarketLocation() *time.Location {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}
