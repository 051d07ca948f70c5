package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Extract ExtractConfig `yaml:"extract" mapstructure:"extract"`
	Score   ScoreConfig   `yaml:"score" mapstructure:"score"`
	Images  ImagesConfig  `yaml:"images" mapstructure:"images"`
	Vision  VisionConfig  `yaml:"vision" mapstructure:"vision"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`

	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the ledger backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver      string `yaml:"driver" mapstructure:"driver"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FetchConfig configures the listing fetcher.
type FetchConfig struct {
	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts     int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	DomainDelaySecs int    `yaml:"domain_delay_secs" mapstructure:"domain_delay_secs"`
}

// ExtractConfig configures the candidate extractor.
type ExtractConfig struct {
	// Domains overrides the marketplace allow-list: domain → base confidence.
	Domains map[string]float64 `yaml:"domains" mapstructure:"domains"`
}

// ScoreConfig configures the confidence scorer.
type ScoreConfig struct {
	// WeightsFile optionally points to a YAML weight-override file.
	WeightsFile  string  `yaml:"weights_file" mapstructure:"weights_file"`
	HalfLifeDays int     `yaml:"half_life_days" mapstructure:"half_life_days"`
	DecayFloor   float64 `yaml:"decay_floor" mapstructure:"decay_floor"`
}

// ImagesConfig configures the image validation pipeline.
type ImagesConfig struct {
	MinIntervalSecs  int `yaml:"min_interval_secs" mapstructure:"min_interval_secs"`
	CallTimeoutSecs  int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	MaxRetries       int `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelayMins   int `yaml:"retry_delay_mins" mapstructure:"retry_delay_mins"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// VisionConfig configures the image-match collaborator.
type VisionConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	// ImageFailThreshold is the fraction of terminal image checks ending in
	// mismatched or failed that triggers an alert.
	ImageFailThreshold float64 `yaml:"image_fail_threshold" mapstructure:"image_fail_threshold"`
	// PendingBacklog is the pending-evidence count that triggers an alert.
	PendingBacklog int `yaml:"pending_backlog" mapstructure:"pending_backlog"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "recon.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.user_agent", "nuke-recon/1.0")
	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.domain_delay_secs", 2)
	v.SetDefault("score.half_life_days", 365)
	v.SetDefault("images.min_interval_secs", 2)
	v.SetDefault("images.call_timeout_secs", 30)
	v.SetDefault("images.max_retries", 3)
	v.SetDefault("images.retry_delay_mins", 5)
	v.SetDefault("images.poll_interval_secs", 15)
	v.SetDefault("vision.model", "claude-haiku-4-5-20251001")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.image_fail_threshold", 0.5)
	v.SetDefault("monitoring.pending_backlog", 500)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for a given run mode: "serve" for the
// HTTP server, "ingest" for one-shot CLI commands.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Images.MaxRetries < 1 || c.Images.MaxRetries > 10 {
		problems = append(problems, "images.max_retries must be between 1 and 10")
	}

	if c.Monitoring.Enabled {
		if c.Monitoring.CheckIntervalSecs <= 0 {
			problems = append(problems, "monitoring.check_interval_secs must be > 0 when monitoring is enabled")
		}
		if c.Monitoring.LookbackWindowHours <= 0 {
			problems = append(problems, "monitoring.lookback_window_hours must be > 0 when monitoring is enabled")
		}
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "ingest":
		// nothing beyond the shared checks
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
