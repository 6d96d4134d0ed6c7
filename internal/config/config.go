package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the licensectl console.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Auth    AuthConfig    `mapstructure:"auth"`
	OIDC    OIDCConfig    `mapstructure:"oidc"`
	Session SessionConfig `mapstructure:"session"`
	Redis   RedisConfig   `mapstructure:"redis"`
	List    ListConfig    `mapstructure:"list"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type APIConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	Mode string `mapstructure:"mode"`
}

type OIDCConfig struct {
	Issuer    string `mapstructure:"issuer"`
	ClientID  string `mapstructure:"client_id"`
	ProjectID string `mapstructure:"project_id"`
}

type SessionConfig struct {
	Backend string `mapstructure:"backend"`
	Name    string `mapstructure:"name"`
	File    string `mapstructure:"file"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type ListConfig struct {
	PageSize int           `mapstructure:"page_size"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	APIKeysTTL time.Duration `mapstructure:"apikeys_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// MetricsConfig names a file the request metrics are written to in the
// Prometheus text format when the command exits.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

const (
	AuthModePassword = "password"
	AuthModeOIDC     = "oidc"

	SessionBackendFile  = "file"
	SessionBackendRedis = "redis"

	envPrefix = "LICENSECTL"
)

// Load reads configuration from an optional config file and LICENSECTL_*
// environment variables and returns a validated Config. An empty path
// searches for licensectl.yaml in the working directory and the user config
// directory. Returns a descriptive error if any value is missing or invalid.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("licensectl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "licensectl"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.url", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("auth.mode", AuthModePassword)
	v.SetDefault("oidc.issuer", "")
	v.SetDefault("oidc.client_id", "")
	v.SetDefault("oidc.project_id", "")
	v.SetDefault("session.backend", SessionBackendFile)
	v.SetDefault("session.name", "auth-storage")
	v.SetDefault("session.file", defaultSessionFile())
	v.SetDefault("redis.url", "")
	v.SetDefault("list.page_size", 10)
	v.SetDefault("list.debounce", 500*time.Millisecond)
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("cache.apikeys_ttl", 5*time.Minute)
	v.SetDefault("log.level", "warn")
	v.SetDefault("metrics.textfile", "")
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "licensectl", "auth-storage.json")
}

func (c *Config) validate() error {
	if c.API.URL == "" {
		return fmt.Errorf("LICENSECTL_API_URL is required")
	}
	if !strings.HasPrefix(c.API.URL, "http://") && !strings.HasPrefix(c.API.URL, "https://") {
		return fmt.Errorf("LICENSECTL_API_URL must start with http:// or https://, got %q", c.API.URL)
	}
	c.API.URL = strings.TrimRight(c.API.URL, "/")
	if c.API.Timeout < 0 {
		return fmt.Errorf("LICENSECTL_API_TIMEOUT must not be negative")
	}

	switch c.Auth.Mode {
	case AuthModePassword:
	case AuthModeOIDC:
		if c.OIDC.Issuer == "" {
			return fmt.Errorf("LICENSECTL_OIDC_ISSUER is required when LICENSECTL_AUTH_MODE is oidc")
		}
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("LICENSECTL_OIDC_CLIENT_ID is required when LICENSECTL_AUTH_MODE is oidc")
		}
	default:
		return fmt.Errorf("LICENSECTL_AUTH_MODE must be one of password, oidc; got %q", c.Auth.Mode)
	}

	switch c.Session.Backend {
	case SessionBackendFile:
		if c.Session.File == "" {
			return fmt.Errorf("LICENSECTL_SESSION_FILE is required when LICENSECTL_SESSION_BACKEND is file")
		}
	case SessionBackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("LICENSECTL_REDIS_URL is required when LICENSECTL_SESSION_BACKEND is redis")
		}
	default:
		return fmt.Errorf("LICENSECTL_SESSION_BACKEND must be one of file, redis; got %q", c.Session.Backend)
	}
	if c.Session.Name == "" {
		return fmt.Errorf("LICENSECTL_SESSION_NAME must not be empty")
	}

	if c.List.PageSize <= 0 {
		return fmt.Errorf("LICENSECTL_LIST_PAGE_SIZE must be positive, got %d", c.List.PageSize)
	}
	if c.List.Debounce < 0 {
		return fmt.Errorf("LICENSECTL_LIST_DEBOUNCE must not be negative")
	}
	return nil
}
