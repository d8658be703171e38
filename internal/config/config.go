// Package config loads server configuration from the environment, optionally
// layered over a YAML file named by CONFIG_FILE. Environment variables win.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session store kinds.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// FileConfig mirrors the YAML file. Durations are strings such as "1m".
type FileConfig struct {
	Port                     int    `yaml:"port"`
	DBPath                   string `yaml:"dbPath"`
	LogLevel                 string `yaml:"logLevel"`
	JWTSecret                string `yaml:"jwtSecret"`
	TokenTTL                 string `yaml:"tokenTTL"`
	GitHubClientID           string `yaml:"githubClientID"`
	GitHubClientSecret       string `yaml:"githubClientSecret"`
	GitHubCallbackURL        string `yaml:"githubCallbackURL"`
	IntegrationKeyHash       string `yaml:"integrationKeyHash"`
	IntegrationRatePerMinute int    `yaml:"integrationRatePerMinute"`
	SessionStore             string `yaml:"sessionStore"`
	RedisAddr                string `yaml:"redisAddr"`
	RedisPassword            string `yaml:"redisPassword"`
	SessionSweepInterval     string `yaml:"sessionSweepInterval"`
	CookieSecure             bool   `yaml:"cookieSecure"`
}

// Config is the validated configuration the server runs with.
type Config struct {
	Port     int
	DBPath   string
	LogLevel slog.Level

	JWTSecret string
	TokenTTL  time.Duration

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string
	CookieSecure       bool

	// IntegrationKeyHash is the bcrypt hash of the key the voice platform
	// sends. Integration routes are disabled while it is empty.
	IntegrationKeyHash       string
	IntegrationRatePerMinute int

	SessionStore         string
	RedisAddr            string
	RedisPassword        string
	SessionSweepInterval time.Duration
}

func defaults() FileConfig {
	return FileConfig{
		Port:                     8080,
		DBPath:                   "data/fitness.db",
		LogLevel:                 "info",
		TokenTTL:                 "24h",
		IntegrationRatePerMinute: 120,
		SessionStore:             StoreSQLite,
		RedisAddr:                "localhost:6379",
		SessionSweepInterval:     "1m",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if set) and then the environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	fc := defaults()

	if path := getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&fc, getenv); err != nil {
		return Config{}, err
	}
	return fc.resolve()
}

func applyEnv(fc *FileConfig, getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: invalid PORT %q", v)
		}
		fc.Port = n
	}
	if v := getenv("INTEGRATION_RATE_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: invalid INTEGRATION_RATE_PER_MINUTE %q", v)
		}
		fc.IntegrationRatePerMinute = n
	}
	if v := getenv("COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: invalid COOKIE_SECURE %q", v)
		}
		fc.CookieSecure = b
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"DB_PATH", &fc.DBPath},
		{"LOG_LEVEL", &fc.LogLevel},
		{"JWT_SECRET", &fc.JWTSecret},
		{"TOKEN_TTL", &fc.TokenTTL},
		{"GITHUB_CLIENT_ID", &fc.GitHubClientID},
		{"GITHUB_CLIENT_SECRET", &fc.GitHubClientSecret},
		{"GITHUB_CALLBACK_URL", &fc.GitHubCallbackURL},
		{"INTEGRATION_KEY_HASH", &fc.IntegrationKeyHash},
		{"SESSION_STORE", &fc.SessionStore},
		{"REDIS_ADDR", &fc.RedisAddr},
		{"REDIS_PASSWORD", &fc.RedisPassword},
		{"SESSION_SWEEP_INTERVAL", &fc.SessionSweepInterval},
	}
	for _, s := range strs {
		if v := getenv(s.key); v != "" {
			*s.dst = strings.TrimSpace(v)
		}
	}
	return nil
}

func (fc FileConfig) resolve() (Config, error) {
	cfg := Config{
		Port:                     fc.Port,
		DBPath:                   fc.DBPath,
		JWTSecret:                fc.JWTSecret,
		GitHubClientID:           fc.GitHubClientID,
		GitHubClientSecret:       fc.GitHubClientSecret,
		GitHubCallbackURL:        fc.GitHubCallbackURL,
		CookieSecure:             fc.CookieSecure,
		IntegrationKeyHash:       fc.IntegrationKeyHash,
		IntegrationRatePerMinute: fc.IntegrationRatePerMinute,
		SessionStore:             strings.ToLower(fc.SessionStore),
		RedisAddr:                fc.RedisAddr,
		RedisPassword:            fc.RedisPassword,
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: port %d out of range", cfg.Port)
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return Config{}, errors.New("config: dbPath is required")
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(fc.LogLevel)); err != nil {
		return Config{}, fmt.Errorf("config: invalid log level %q", fc.LogLevel)
	}

	var err error
	if cfg.TokenTTL, err = parseDuration("tokenTTL", fc.TokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.SessionSweepInterval, err = parseDuration("sessionSweepInterval", fc.SessionSweepInterval); err != nil {
		return Config{}, err
	}

	switch cfg.SessionStore {
	case StoreSQLite:
	case StoreRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return Config{}, errors.New("config: redisAddr is required when sessionStore is redis")
		}
	default:
		return Config{}, fmt.Errorf("config: unknown session store %q (want %s or %s)", fc.SessionStore, StoreSQLite, StoreRedis)
	}

	if cfg.IntegrationRatePerMinute <= 0 {
		return Config{}, errors.New("config: integrationRatePerMinute must be > 0")
	}
	if cfg.GitHubCallbackURL == "" {
		cfg.GitHubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port)
	}
	return cfg, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return d, nil
}

// AuthEnabled reports whether user login and the public API can issue and
// verify tokens.
func (c Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// GitHubEnabled reports whether the GitHub OAuth routes should be served.
func (c Config) GitHubEnabled() bool {
	return c.AuthEnabled() && c.GitHubClientID != "" && c.GitHubClientSecret != ""
}
