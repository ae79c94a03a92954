// Package config loads control room settings from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/goatkit/controlroom/internal/constants"
)

// Config is the resolved application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Session   SessionConfig   `mapstructure:"session"`
	KYC       KYCConfig       `mapstructure:"kyc"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	Secret       string        `mapstructure:"secret"`
	AccessTTL    time.Duration `mapstructure:"access_ttl"`
	RefreshTTL   time.Duration `mapstructure:"refresh_ttl"`
	GuestTTL     time.Duration `mapstructure:"guest_ttl"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
	Guest        GuestConfig   `mapstructure:"guest"`
}

type GuestConfig struct {
	RequireOnREST bool `mapstructure:"require_on_rest"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type RealtimeConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// SessionConfig controls idle session expiry. IdleTimeout of zero disables it.
type SessionConfig struct {
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	ExpirySchedule string        `mapstructure:"expiry_schedule"`
}

type KYCConfig struct {
	URL string `mapstructure:"url"`
}

type RateLimitConfig struct {
	VerifyCasePerHour int `mapstructure:"verify_case_per_hour"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IsDev reports whether the app runs in development mode.
func (c *Config) IsDev() bool {
	env := strings.ToLower(c.App.Env)
	return env == "" || env == "dev" || env == "development" || env == "test"
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if !c.IsDev() && len(c.Auth.Secret) < constants.MinSecretLength {
		return fmt.Errorf("auth.secret must be at least %d bytes outside development", constants.MinSecretLength)
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Realtime.BufferSize <= 0 {
		return errors.New("realtime.buffer_size must be positive")
	}
	if c.Session.IdleTimeout < 0 {
		return errors.New("session.idle_timeout must not be negative")
	}
	return nil
}

var (
	mu      sync.RWMutex
	current *Config
	v       *viper.Viper
)

// SetDefaults registers default values on vp.
func SetDefaults(vp *viper.Viper) {
	vp.SetDefault("app.env", "development")
	vp.SetDefault("server.addr", ":8080")
	vp.SetDefault("server.allowed_origins", []string{})
	vp.SetDefault("database.driver", "sqlite3")
	vp.SetDefault("database.dsn", "file:controlroom.db?_foreign_keys=on")
	vp.SetDefault("auth.secret", "")
	vp.SetDefault("auth.access_ttl", constants.DefaultAccessTokenTTL)
	vp.SetDefault("auth.refresh_ttl", constants.DefaultRefreshTokenTTL)
	vp.SetDefault("auth.guest_ttl", constants.DefaultGuestTokenTTL)
	vp.SetDefault("auth.cookie_secure", false)
	vp.SetDefault("auth.guest.require_on_rest", false)
	vp.SetDefault("redis.addr", "")
	vp.SetDefault("redis.channel", "controlroom:events")
	vp.SetDefault("realtime.buffer_size", 64)
	vp.SetDefault("session.idle_timeout", time.Duration(0))
	vp.SetDefault("session.expiry_schedule", "@every 1m")
	vp.SetDefault("kyc.url", "")
	vp.SetDefault("ratelimit.verify_case_per_hour", 60)
	vp.SetDefault("log.level", "info")
	vp.SetDefault("log.format", "json")
}

// Load reads configuration from path (or the default search locations when
// path is empty) and the CONTROLROOM_* environment, then installs it as the
// process-wide config returned by Get.
func Load(path string) (*Config, error) {
	vp := viper.New()
	SetDefaults(vp)

	vp.SetEnvPrefix("CONTROLROOM")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	if path != "" {
		vp.SetConfigFile(path)
	} else {
		vp.SetConfigName("controlroom")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		vp.AddConfigPath("/etc/controlroom")
	}

	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := decode(vp)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	v = vp
	mu.Unlock()
	return cfg, nil
}

func decode(vp *viper.Viper) (*Config, error) {
	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration built from defaults alone.
func Default() *Config {
	vp := viper.New()
	SetDefaults(vp)
	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// Get returns the config installed by the last Load, or nil.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set installs cfg as the process-wide config. Intended for tests.
func Set(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

// Watch re-reads the config file on change and calls onChange with the new
// value. Invalid edits are reported to onError and leave the old config in place.
func Watch(onChange func(*Config), onError func(error)) {
	mu.RLock()
	vp := v
	mu.RUnlock()
	if vp == nil || vp.ConfigFileUsed() == "" {
		return
	}

	vp.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := decode(vp)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		mu.Lock()
		current = cfg
		mu.Unlock()
		if onChange != nil {
			onChange(cfg)
		}
	})
	vp.WatchConfig()
}
