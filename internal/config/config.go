package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"chain-screening/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Screening ScreeningConfig `mapstructure:"screening"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Overrides OverridesConfig `mapstructure:"overrides"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ScreeningConfig carries the aggregator decision parameters.
type ScreeningConfig struct {
	BlockThreshold     int                `mapstructure:"block_threshold"`
	ReviewThreshold    int                `mapstructure:"review_threshold"`
	ProviderTimeout    time.Duration      `mapstructure:"provider_timeout"`
	MinProviderSuccess int                `mapstructure:"min_provider_success"`
	AllowlistPriority  bool               `mapstructure:"allowlist_priority"`
	Weights            map[string]float64 `mapstructure:"weights"`
}

// ProvidersConfig enables and tunes each built-in provider.
type ProvidersConfig struct {
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Vendor    VendorConfig    `mapstructure:"vendor"`
	List      ListConfig      `mapstructure:"list"`
	Reference ReferenceConfig `mapstructure:"reference"`
}

// OracleConfig covers the on-chain sanctions oracle.
type OracleConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Name            string        `mapstructure:"name"`
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	Chains          []string      `mapstructure:"chains"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// VendorConfig captures the HTTP screening API.
type VendorConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Name               string        `mapstructure:"name"`
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	Chains             []string      `mapstructure:"chains"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	UserAgent          string        `mapstructure:"user_agent"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

// ListConfig points at a static address list file.
type ListConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Name    string   `mapstructure:"name"`
	Path    string   `mapstructure:"path"`
	Chains  []string `mapstructure:"chains"`
}

// ReferenceConfig tunes the offline reference screener.
type ReferenceConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	Name               string  `mapstructure:"name"`
	DatasetPath        string  `mapstructure:"dataset_path"`
	FuzzyThreshold     float64 `mapstructure:"fuzzy_threshold"`
	OwnershipThreshold float64 `mapstructure:"ownership_threshold"`
	ReportingThreshold float64 `mapstructure:"reporting_threshold"`
}

// OverridesConfig sets the tier gate and seed files for the override lists.
type OverridesConfig struct {
	Tier          string `mapstructure:"tier"`
	MinimumTier   string `mapstructure:"minimum_tier"`
	BlocklistFile string `mapstructure:"blocklist_file"`
	AllowlistFile string `mapstructure:"allowlist_file"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// AutoMigrate applies the embedded schema on connect.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// MonitorConfig governs the watchlist re-screening cadence.
type MonitorConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Chain           string        `mapstructure:"chain"`
	Watchlist       []string      `mapstructure:"watchlist"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCREENCTL")
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
	v.SetDefault("app.name", "screenctl")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("screening.block_threshold", 80)
	v.SetDefault("screening.review_threshold", 40)
	v.SetDefault("screening.provider_timeout", "5s")
	v.SetDefault("screening.min_provider_success", 1)
	v.SetDefault("screening.allowlist_priority", false)

	v.SetDefault("providers.oracle.enabled", false)
	v.SetDefault("providers.oracle.name", "chainalysis_oracle")
	v.SetDefault("providers.oracle.contract_address", "0x40C57923924B5c5c5455c48D93317139ADDaC8fb")
	v.SetDefault("providers.oracle.chains", []string{"ethereum"})
	v.SetDefault("providers.oracle.request_timeout", "10s")

	v.SetDefault("providers.vendor.enabled", false)
	v.SetDefault("providers.vendor.name", "chainalysis_api")
	v.SetDefault("providers.vendor.base_url", "https://public.chainalysis.com/api/v1")
	v.SetDefault("providers.vendor.request_timeout", "10s")
	v.SetDefault("providers.vendor.breaker_max_failures", 5)
	v.SetDefault("providers.vendor.breaker_timeout", "30s")

	v.SetDefault("providers.list.enabled", false)
	v.SetDefault("providers.list.name", "static_list")

	v.SetDefault("providers.reference.enabled", true)
	v.SetDefault("providers.reference.name", "reference")
	v.SetDefault("providers.reference.fuzzy_threshold", 0.6)
	v.SetDefault("providers.reference.ownership_threshold", 0.7)
	v.SetDefault("providers.reference.reporting_threshold", 10000.0)

	v.SetDefault("overrides.tier", "pro")
	v.SetDefault("overrides.minimum_tier", "pro")

	v.SetDefault("monitor.interval", "15m")
	v.SetDefault("monitor.align_to_bucket", true)
	v.SetDefault("monitor.advisory_lock_key", int64(0x53435245))
	v.SetDefault("monitor.startup_delay", "0s")
	v.SetDefault("monitor.chain", "ethereum")
	v.SetDefault("monitor.cooldown", "6h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
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
	s := c.Screening
	if s.ReviewThreshold < 0 || s.BlockThreshold > 100 || s.ReviewThreshold > s.BlockThreshold {
		return fmt.Errorf("screening thresholds must satisfy 0 <= review_threshold <= block_threshold <= 100")
	}
	if s.ProviderTimeout <= 0 {
		return fmt.Errorf("screening.provider_timeout must be greater than zero")
	}
	if s.MinProviderSuccess < 0 {
		return fmt.Errorf("screening.min_provider_success cannot be negative")
	}
	for name, w := range s.Weights {
		if w < 0 {
			return fmt.Errorf("screening.weights.%s cannot be negative", name)
		}
	}
	if c.Providers.List.Enabled && c.Providers.List.Path == "" {
		return fmt.Errorf("providers.list.path 必须配置")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be greater than zero")
	}
	if c.Monitor.Cooldown < 0 {
		return fmt.Errorf("monitor.cooldown cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ProviderWeights normalises weight keys; viper lower-cases map keys on read.
func (c *Config) ProviderWeights() map[string]float64 {
	if len(c.Screening.Weights) == 0 {
		return nil
	}
	out := make(map[string]float64, len(c.Screening.Weights))
	for name, w := range c.Screening.Weights {
		out[strings.ToLower(name)] = w
	}
	return out
}
