package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Cron      CronConfig      `mapstructure:"cron"`
	Pipedrive PipedriveConfig `mapstructure:"pipedrive"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Features  FeaturesConfig  `mapstructure:"features"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
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

type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SyncSchedule string `mapstructure:"sync_schedule"`
	AccountID    string `mapstructure:"account_id"`
}

type PipedriveConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIVersion     string        `mapstructure:"api_version"`
	APIToken       string        `mapstructure:"api_token"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
	Limits         FieldLimits   `mapstructure:"limits"`
}

type FieldLimits struct {
	Name    int `mapstructure:"name"`
	Email   int `mapstructure:"email"`
	Phone   int `mapstructure:"phone"`
	OrgName int `mapstructure:"org_name"`
	Subject int `mapstructure:"subject"`
	Note    int `mapstructure:"note"`
}

type SyncConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
	BatchBaseTimeout time.Duration `mapstructure:"batch_base_timeout"`
	BatchMaxTimeout  time.Duration `mapstructure:"batch_max_timeout"`
}

type FeaturesConfig struct {
	Retries       bool `mapstructure:"retries"`
	RateLimiting  bool `mapstructure:"rate_limiting"`
	Sanitization  bool `mapstructure:"sanitization"`
	VerboseLog    bool `mapstructure:"verbose_log"`
	ScheduledSync bool `mapstructure:"scheduled_sync"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
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
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.sync_schedule", "@every 1h")
	v.SetDefault("cron.account_id", "")
	v.SetDefault("pipedrive.base_url", "https://api.pipedrive.com")
	v.SetDefault("pipedrive.api_version", "v1")
	v.SetDefault("pipedrive.timeout", "15s")
	v.SetDefault("pipedrive.max_retries", 3)
	v.SetDefault("pipedrive.retry_delay", "1s")
	v.SetDefault("pipedrive.rate_limit_delay", "1s")
	v.SetDefault("pipedrive.limits.name", 255)
	v.SetDefault("pipedrive.limits.email", 255)
	v.SetDefault("pipedrive.limits.phone", 50)
	v.SetDefault("pipedrive.limits.org_name", 255)
	v.SetDefault("pipedrive.limits.subject", 255)
	v.SetDefault("pipedrive.limits.note", 4000)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.run_timeout", "10m")
	v.SetDefault("sync.batch_base_timeout", "30s")
	v.SetDefault("sync.batch_max_timeout", "120s")
	v.SetDefault("features.retries", true)
	v.SetDefault("features.rate_limiting", true)
	v.SetDefault("features.sanitization", true)
	v.SetDefault("features.verbose_log", false)
	v.SetDefault("features.scheduled_sync", false)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would otherwise only fail mid-run.
func (c Config) Validate() error {
	parsed, err := url.Parse(c.Pipedrive.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("config: invalid pipedrive base_url %q", c.Pipedrive.BaseURL)
	}
	if c.Pipedrive.Timeout <= 0 {
		return fmt.Errorf("config: pipedrive timeout must be positive")
	}
	if c.Pipedrive.MaxRetries < 0 {
		return fmt.Errorf("config: pipedrive max_retries must not be negative")
	}
	if c.Pipedrive.RetryDelay < 0 || c.Pipedrive.RateLimitDelay < 0 {
		return fmt.Errorf("config: pipedrive delays must not be negative")
	}
	if err := c.Pipedrive.Limits.Validate(); err != nil {
		return err
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("config: sync batch_size must be positive")
	}
	if c.Sync.RunTimeout <= 0 || c.Sync.BatchBaseTimeout <= 0 || c.Sync.BatchMaxTimeout <= 0 {
		return fmt.Errorf("config: sync timeouts must be positive")
	}
	if c.Sync.BatchBaseTimeout > c.Sync.BatchMaxTimeout {
		return fmt.Errorf("config: sync batch_base_timeout exceeds batch_max_timeout")
	}
	if c.Sync.BatchMaxTimeout > c.Sync.RunTimeout {
		return fmt.Errorf("config: sync batch_max_timeout exceeds run_timeout")
	}
	return nil
}

func (l FieldLimits) Validate() error {
	for name, limit := range map[string]int{
		"name":     l.Name,
		"email":    l.Email,
		"phone":    l.Phone,
		"org_name": l.OrgName,
		"subject":  l.Subject,
		"note":     l.Note,
	} {
		if limit <= 0 {
			return fmt.Errorf("config: pipedrive limits.%s must be positive", name)
		}
	}
	return nil
}
