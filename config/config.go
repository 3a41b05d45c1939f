package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log       Logger          `mapstructure:"logger"`
	DB        Database        `mapstructure:"database"`
	API       API             `mapstructure:"api"`
	Scheduler Scheduler       `mapstructure:"scheduler"`
	EventSink EventSinkConfig `mapstructure:"event_sink"`
	Cache     Cache           `mapstructure:"cache"`
	Alert     AlertConfig     `mapstructure:"alert"`
}

type Logger struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Database struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	TimeZone        string `mapstructure:"time_zone"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

type API struct {
	Port               int     `mapstructure:"port"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

// Scheduler drives the lifecycle sweep: how many surveys are evaluated in
// parallel, how long one survey may take, and how the loop behaves when
// idle, retrying, or catching up after downtime.
type Scheduler struct {
	MaxConcurrency        int           `mapstructure:"max_concurrency"`
	TimeoutDuration       time.Duration `mapstructure:"timeout_duration"`
	BatchSize             int           `mapstructure:"batch_size"`
	SweepSpec             string        `mapstructure:"sweep_spec"`
	IdleWakeDuration      time.Duration `mapstructure:"idle_wake_duration"`
	RetryBackoffDuration  time.Duration `mapstructure:"retry_backoff_duration"`
	MaxRetryBackoff       time.Duration `mapstructure:"max_retry_backoff_duration"`
	FatalRetryDuration    time.Duration `mapstructure:"fatal_retry_duration"`
	MaxCatchUpOccurrences int           `mapstructure:"max_catch_up_occurrences"`
}

// EventSinkConfig configures outbound delivery of lifecycle events. An
// empty webhook URL routes events to the log instead.
type EventSinkConfig struct {
	WebhookURL          string        `mapstructure:"webhook_url"`
	BearerToken         string        `mapstructure:"bearer_token"`
	TimeoutDuration     time.Duration `mapstructure:"timeout_duration"`
	DispatchSpec        string        `mapstructure:"dispatch_spec"`
	BatchSize           int           `mapstructure:"batch_size"`
	MaxConcurrency      int           `mapstructure:"max_concurrency"`
	MaxDispatchAttempts int           `mapstructure:"max_dispatch_attempts"`
	MaxRequestPerMinute int           `mapstructure:"max_request_per_minute"`
}

type Cache struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type AlertConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	MinLevel   string `mapstructure:"min_level"`
}

func Load() (*Config, error) {
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("No config file loaded:", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.API.RateLimitPerSecond <= 0 {
		c.API.RateLimitPerSecond = 10
	}
	if c.API.RateLimitBurst <= 0 {
		c.API.RateLimitBurst = 30
	}
	if c.Scheduler.MaxConcurrency <= 0 {
		c.Scheduler.MaxConcurrency = 5
	}
	if c.Scheduler.TimeoutDuration <= 0 {
		c.Scheduler.TimeoutDuration = 30 * time.Second
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 100
	}
	if c.Scheduler.SweepSpec == "" {
		c.Scheduler.SweepSpec = "@every 1m"
	}
	if c.Scheduler.IdleWakeDuration <= 0 {
		c.Scheduler.IdleWakeDuration = time.Minute
	}
	if c.Scheduler.RetryBackoffDuration <= 0 {
		c.Scheduler.RetryBackoffDuration = 30 * time.Second
	}
	if c.Scheduler.MaxRetryBackoff <= 0 {
		c.Scheduler.MaxRetryBackoff = 15 * time.Minute
	}
	if c.Scheduler.FatalRetryDuration <= 0 {
		c.Scheduler.FatalRetryDuration = time.Minute
	}
	if c.Scheduler.MaxCatchUpOccurrences <= 0 {
		c.Scheduler.MaxCatchUpOccurrences = 50
	}
	if c.EventSink.TimeoutDuration <= 0 {
		c.EventSink.TimeoutDuration = 10 * time.Second
	}
	if c.EventSink.DispatchSpec == "" {
		c.EventSink.DispatchSpec = "@every 30s"
	}
	if c.EventSink.BatchSize <= 0 {
		c.EventSink.BatchSize = 200
	}
	if c.EventSink.MaxConcurrency <= 0 {
		c.EventSink.MaxConcurrency = 4
	}
	if c.EventSink.MaxDispatchAttempts <= 0 {
		c.EventSink.MaxDispatchAttempts = 10
	}
	if c.EventSink.MaxRequestPerMinute <= 0 {
		c.EventSink.MaxRequestPerMinute = 120
	}
	if c.Cache.DefaultExpiration <= 0 {
		c.Cache.DefaultExpiration = 12 * time.Hour
	}
	if c.Cache.CleanupInterval <= 0 {
		c.Cache.CleanupInterval = time.Hour
	}
}
