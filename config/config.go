package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SigningModeMAC     = "mac"
	SigningModeEd25519 = "ed25519"
)

type Config struct {
	// Server configuration
	Port        string
	GatePort    string
	Environment string

	// Redis configuration
	RedisURL string

	// Token configuration
	WindowWidth      time.Duration
	ToleranceWindows int
	BarcodePrefix    string

	// Secrets. Never defaulted.
	SigningMode         string
	SigningSecret       string
	SigningKeyDir       string
	KeyDerivationSecret string
	SecretSealIdentity  string

	// Status polling
	AuthorityURL      string
	PollBaseInterval  time.Duration
	PollFastInterval  time.Duration
	PollSlowInterval  time.Duration
	PollDegradedAfter int
	PollMaxFailures   int
	PollIdleAfter     time.Duration
	AuthorityTimeout  time.Duration

	// Gate
	GateRateLimit int

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		GatePort:    getEnv("GATE_PORT", "8091"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),

		// Token
		WindowWidth:      getEnvAsDuration("WINDOW_WIDTH", "15s"),
		ToleranceWindows: getEnvAsInt("TOLERANCE_WINDOWS", 1),
		BarcodePrefix:    getEnv("BARCODE_PREFIX", "TKT"),

		// Secrets
		SigningMode:         strings.ToLower(getEnv("SIGNING_MODE", SigningModeMAC)),
		SigningSecret:       getEnv("SIGNING_SECRET", ""),
		SigningKeyDir:       getEnv("SIGNING_KEY_DIR", ""),
		KeyDerivationSecret: getEnv("KEY_DERIVATION_SECRET", ""),
		SecretSealIdentity:  getEnv("SECRET_SEAL_IDENTITY", ""),

		// Polling
		AuthorityURL:      getEnv("AUTHORITY_URL", "http://localhost:8091"),
		PollBaseInterval:  getEnvAsDuration("POLL_BASE_INTERVAL", "5s"),
		PollFastInterval:  getEnvAsDuration("POLL_FAST_INTERVAL", "1s"),
		PollSlowInterval:  getEnvAsDuration("POLL_SLOW_INTERVAL", "30s"),
		PollDegradedAfter: getEnvAsInt("POLL_DEGRADED_AFTER", 3),
		PollMaxFailures:   getEnvAsInt("POLL_MAX_FAILURES", 120),
		PollIdleAfter:     getEnvAsDuration("POLL_IDLE_AFTER", "5m"),
		AuthorityTimeout:  getEnvAsDuration("AUTHORITY_TIMEOUT", "3s"),

		// Gate
		GateRateLimit: getEnvAsInt("GATE_RATE_LIMIT", 20),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.WindowWidth < time.Second {
		errs = append(errs, fmt.Errorf("WINDOW_WIDTH must be at least 1s, got %s", c.WindowWidth))
	}
	if c.ToleranceWindows < 0 {
		errs = append(errs, fmt.Errorf("TOLERANCE_WINDOWS must not be negative, got %d", c.ToleranceWindows))
	}
	if c.KeyDerivationSecret == "" {
		errs = append(errs, errors.New("KEY_DERIVATION_SECRET is required"))
	}

	switch c.SigningMode {
	case SigningModeMAC:
		if c.SigningSecret == "" {
			errs = append(errs, errors.New("SIGNING_SECRET is required when SIGNING_MODE=mac"))
		}
	case SigningModeEd25519:
		if c.SigningKeyDir == "" {
			errs = append(errs, errors.New("SIGNING_KEY_DIR is required when SIGNING_MODE=ed25519"))
		}
	default:
		errs = append(errs, fmt.Errorf("SIGNING_MODE must be %q or %q, got %q", SigningModeMAC, SigningModeEd25519, c.SigningMode))
	}

	if c.IsProduction() && c.SecretSealIdentity == "" {
		errs = append(errs, errors.New("SECRET_SEAL_IDENTITY is required in production"))
	}
	if c.PollMaxFailures < c.PollDegradedAfter {
		errs = append(errs, fmt.Errorf("POLL_MAX_FAILURES must be at least POLL_DEGRADED_AFTER (%d), got %d", c.PollDegradedAfter, c.PollMaxFailures))
	}
	if c.GateRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("GATE_RATE_LIMIT must be positive, got %d", c.GateRateLimit))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
