// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigError reports a missing or invalid environment variable. The process
// must not start serving when Load returns one.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Key + ": " + e.Reason
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	AppID          int64
	InstallationID int64
	PrivateKeyPEM  []byte

	// BearerToken protects the repository API. Empty disables authentication.
	BearerToken string
	// WebhookSecret enables the webhook receiver when non-empty.
	WebhookSecret string
	// SearchAccount overrides the installation account in topic searches.
	SearchAccount string
	// GitHubAPIURL is empty for api.github.com.
	GitHubAPIURL string

	ListenAddr        string
	DBPath            string
	ResyncInterval    time.Duration
	DeliveryRetention time.Duration
	DashboardEnabled  bool
	LogLevel          slog.Level
}

// WebhooksEnabled reports whether the webhook receiver should be registered.
func (c *Config) WebhooksEnabled() bool {
	return c.WebhookSecret != ""
}

// Load reads configuration from environment variables and returns a validated Config.
// Required: TAKO_APP_ID, TAKO_INSTALLATION_ID and one of TAKO_PRIVATE_KEY or
// TAKO_PRIVATE_KEY_PATH. Optional variables with defaults:
// TAKO_LISTEN_ADDR (127.0.0.1:8080), TAKO_DB_PATH (tako.db),
// TAKO_RESYNC_INTERVAL (0, disabled), TAKO_DELIVERY_RETENTION (168h),
// TAKO_DASHBOARD_ENABLED (false), TAKO_LOG_LEVEL (info).
func Load() (*Config, error) {
	appID, err := requiredID("TAKO_APP_ID")
	if err != nil {
		return nil, err
	}

	installationID, err := requiredID("TAKO_INSTALLATION_ID")
	if err != nil {
		return nil, err
	}

	privateKey, err := loadPrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppID:             appID,
		InstallationID:    installationID,
		PrivateKeyPEM:     privateKey,
		BearerToken:       os.Getenv("TAKO_BEARER_TOKEN"),
		WebhookSecret:     os.Getenv("TAKO_WEBHOOK_SECRET"),
		SearchAccount:     strings.TrimSpace(os.Getenv("TAKO_SEARCH_ACCOUNT")),
		GitHubAPIURL:      strings.TrimSpace(os.Getenv("TAKO_GITHUB_API_URL")),
		ListenAddr:        "127.0.0.1:8080",
		DBPath:            "tako.db",
		DeliveryRetention: 7 * 24 * time.Hour,
		LogLevel:          slog.LevelInfo,
	}

	if v, ok := os.LookupEnv("TAKO_LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}

	if v, ok := os.LookupEnv("TAKO_DB_PATH"); ok && v != "" {
		cfg.DBPath = v
	}

	if cfg.ResyncInterval, err = optionalDuration("TAKO_RESYNC_INTERVAL", 0); err != nil {
		return nil, err
	}

	if cfg.DeliveryRetention, err = optionalDuration("TAKO_DELIVERY_RETENTION", cfg.DeliveryRetention); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("TAKO_DASHBOARD_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &ConfigError{Key: "TAKO_DASHBOARD_ENABLED", Reason: fmt.Sprintf("invalid boolean %q", v)}
		}
		cfg.DashboardEnabled = enabled
	}

	if v, ok := os.LookupEnv("TAKO_LOG_LEVEL"); ok && v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, &ConfigError{Key: "TAKO_LOG_LEVEL", Reason: fmt.Sprintf("unknown level %q", v)}
		}
	}

	return cfg, nil
}

func requiredID(key string) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, &ConfigError{Key: key, Reason: "is required"}
	}

	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, &ConfigError{Key: key, Reason: fmt.Sprintf("must be a positive integer, got %q", v)}
	}

	return id, nil
}

// loadPrivateKey reads the App's PEM key inline or from a file. Inline keys
// may use literal \n sequences, which is how most secret stores flatten them.
func loadPrivateKey() ([]byte, error) {
	inline := os.Getenv("TAKO_PRIVATE_KEY")
	path := os.Getenv("TAKO_PRIVATE_KEY_PATH")

	switch {
	case inline != "" && path != "":
		return nil, &ConfigError{Key: "TAKO_PRIVATE_KEY", Reason: "set only one of TAKO_PRIVATE_KEY and TAKO_PRIVATE_KEY_PATH"}
	case inline != "":
		return []byte(strings.ReplaceAll(inline, `\n`, "\n")), nil
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Key: "TAKO_PRIVATE_KEY_PATH", Reason: err.Error()}
		}
		return data, nil
	default:
		return nil, &ConfigError{Key: "TAKO_PRIVATE_KEY", Reason: "one of TAKO_PRIVATE_KEY or TAKO_PRIVATE_KEY_PATH is required"}
	}
}

func optionalDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: fmt.Sprintf("invalid duration %q", v)}
	}
	if d < 0 {
		return 0, &ConfigError{Key: key, Reason: "must not be negative"}
	}

	return d, nil
}
