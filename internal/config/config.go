package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string        `mapstructure:"ENV"`
	Port            string        `mapstructure:"PORT"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	RedisPassword   string        `mapstructure:"REDIS_PASSWORD"`
	KafkaBrokers    string        `mapstructure:"KAFKA_BROKERS"`
	TicketsTopic    string        `mapstructure:"KAFKA_TICKETS_TOPIC"`
	NotifyTopic     string        `mapstructure:"KAFKA_NOTIFY_TOPIC"`
	KafkaGroupID    string        `mapstructure:"KAFKA_GROUP_ID"`
	AdminKey        string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed     string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	MaxUploadSizeMB int64         `mapstructure:"MAX_UPLOAD_MB"`

	ProviderTimeout time.Duration `mapstructure:"PROVIDER_TIMEOUT"`
	CommitTimeout   time.Duration `mapstructure:"COMMIT_TIMEOUT"`
	NotifyTimeout   time.Duration `mapstructure:"NOTIFY_TIMEOUT"`
	Workers         int           `mapstructure:"WORKERS"`
	NotifyBuffer    int           `mapstructure:"NOTIFY_BUFFER"`
	LockTTL         time.Duration `mapstructure:"LOCK_TTL"`
	HistoryTTL      time.Duration `mapstructure:"HISTORY_TTL"`

	RebalanceInterval  time.Duration `mapstructure:"REBALANCE_INTERVAL"`
	RebalanceMaxMoves  int           `mapstructure:"REBALANCE_MAX_MOVES"`
	OverloadThreshold  float64       `mapstructure:"OVERLOAD_THRESHOLD"`
	UnderloadThreshold float64       `mapstructure:"UNDERLOAD_THRESHOLD"`

	RetryMaxAttempts int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay   time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	ScoringFile      string        `mapstructure:"SCORING_FILE"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TICKETS_TOPIC", "tickets.events")
	v.SetDefault("KAFKA_NOTIFY_TOPIC", "assignments.notifications")
	v.SetDefault("KAFKA_GROUP_ID", "assignment-engine")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("MAX_UPLOAD_MB", 20)
	v.SetDefault("PROVIDER_TIMEOUT", "5s")
	v.SetDefault("COMMIT_TIMEOUT", "10s")
	v.SetDefault("NOTIFY_TIMEOUT", "5s")
	v.SetDefault("WORKERS", 8)
	v.SetDefault("NOTIFY_BUFFER", 256)
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("HISTORY_TTL", "24h")
	v.SetDefault("REBALANCE_INTERVAL", "5m")
	v.SetDefault("REBALANCE_MAX_MOVES", 20)
	v.SetDefault("OVERLOAD_THRESHOLD", 0.9)
	v.SetDefault("UNDERLOAD_THRESHOLD", 0.5)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_DELAY", "200ms")
	v.SetDefault("SCORING_FILE", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Brokers splits KAFKA_BROKERS. Empty means Kafka is disabled.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("WORKERS must be > 0"))
	}
	if c.NotifyBuffer <= 0 {
		errs = append(errs, errors.New("NOTIFY_BUFFER must be > 0"))
	}
	if c.ProviderTimeout <= 0 || c.CommitTimeout <= 0 || c.NotifyTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT, COMMIT_TIMEOUT and NOTIFY_TIMEOUT must be > 0"))
	}
	if c.RebalanceInterval < 0 {
		errs = append(errs, errors.New("REBALANCE_INTERVAL must be >= 0"))
	}
	if c.RebalanceMaxMoves <= 0 {
		errs = append(errs, errors.New("REBALANCE_MAX_MOVES must be > 0"))
	}
	if c.OverloadThreshold <= 0 || c.OverloadThreshold > 1 {
		errs = append(errs, errors.New("OVERLOAD_THRESHOLD must be within (0,1]"))
	}
	if c.UnderloadThreshold < 0 || c.UnderloadThreshold >= c.OverloadThreshold {
		errs = append(errs, errors.New("UNDERLOAD_THRESHOLD must be >= 0 and below OVERLOAD_THRESHOLD"))
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be > 0"))
	}
	if c.Env == "prod" && c.AdminKey == "" {
		errs = append(errs, errors.New("ADMIN_KEY is required in prod"))
	}
	return errors.Join(errs...)
}
