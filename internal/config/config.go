package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Provider ProviderConfig `mapstructure:"provider"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Seats    SeatsConfig    `mapstructure:"seats"`
	Log      LogConfig      `mapstructure:"log"`
	Secrets  Secrets        `mapstructure:"-"`
}

type ServerConfig struct {
	Port           int     `mapstructure:"port"`
	TimeoutSeconds int     `mapstructure:"timeoutSeconds"`
	WorkerPort     int     `mapstructure:"worker_port"`
	MaxBodyBytes   int64   `mapstructure:"max_body_bytes"`
	WebhookRate    float64 `mapstructure:"webhook_rate"`
	WebhookBurst   int     `mapstructure:"webhook_burst"`
}

func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type ProviderConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type JobsConfig struct {
	PendingSyncSchedule string        `mapstructure:"pending_sync_schedule"`
	ReconcileSchedule   string        `mapstructure:"reconcile_schedule"`
	ProviderDelay       time.Duration `mapstructure:"provider_delay"`
	WindowMin           time.Duration `mapstructure:"window_min"`
	WindowMax           time.Duration `mapstructure:"window_max"`
	RunTimeout          time.Duration `mapstructure:"run_timeout"`
}

type AlertsConfig struct {
	SMTPHost        string   `mapstructure:"smtp_host"`
	SMTPPort        int      `mapstructure:"smtp_port"`
	SMTPUser        string   `mapstructure:"smtp_user"`
	From            string   `mapstructure:"from"`
	Recipients      []string `mapstructure:"recipients"`
	WarningChannel  string   `mapstructure:"warning_channel"`
	CriticalChannel string   `mapstructure:"critical_channel"`
}

type SeatsConfig struct {
	InvitationTTL time.Duration `mapstructure:"invitation_ttl"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	LockPrefix    string        `mapstructure:"lock_prefix"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Secrets are read from the process environment only and never from the
// config file.
type Secrets struct {
	CronSecret      string `envconfig:"CRON_SECRET"`
	ProviderAPIKey  string `envconfig:"PROVIDER_API_KEY"`
	ProviderStoreID string `envconfig:"PROVIDER_STORE_ID"`
	SMTPPassword    string `envconfig:"SMTP_PASSWORD"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeoutSeconds", 30)
	v.SetDefault("server.worker_port", 8081)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.webhook_rate", 20)
	v.SetDefault("server.webhook_burst", 40)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "time8")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("provider.base_url", "https://api.lemonsqueezy.com")
	v.SetDefault("provider.timeout", 10*time.Second)
	v.SetDefault("provider.breaker_failures", 5)
	v.SetDefault("provider.breaker_timeout", 30*time.Second)

	v.SetDefault("jobs.pending_sync_schedule", "0 * * * *")
	v.SetDefault("jobs.reconcile_schedule", "0 3 * * *")
	v.SetDefault("jobs.provider_delay", 100*time.Millisecond)
	v.SetDefault("jobs.window_min", 24*time.Hour)
	v.SetDefault("jobs.window_max", 48*time.Hour)
	v.SetDefault("jobs.run_timeout", 30*time.Minute)

	v.SetDefault("alerts.smtp_host", "")
	v.SetDefault("alerts.smtp_port", 587)
	v.SetDefault("alerts.smtp_user", "")
	v.SetDefault("alerts.from", "alerts@time8.io")
	v.SetDefault("alerts.recipients", []string{})
	v.SetDefault("alerts.warning_channel", "seat-alerts.warning")
	v.SetDefault("alerts.critical_channel", "seat-alerts.critical")

	v.SetDefault("seats.invitation_ttl", 24*time.Hour)
	v.SetDefault("seats.lock_ttl", 30*time.Second)
	v.SetDefault("seats.lock_prefix", "seat-lock:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// LoadConfig reads config.yml from the usual locations. A missing file is
// not an error; defaults and environment variables still apply.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &config.Secrets); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Jobs.WindowMin >= c.Jobs.WindowMax {
		return fmt.Errorf("jobs.window_min (%s) must be below jobs.window_max (%s)", c.Jobs.WindowMin, c.Jobs.WindowMax)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	if c.Jobs.ProviderDelay < 0 {
		return fmt.Errorf("jobs.provider_delay must not be negative")
	}
	return nil
}
