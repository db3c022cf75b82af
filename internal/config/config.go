package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mdrennan/bulwark/internal/models"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Security SecurityConfig
	Notify   NotifyConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type ServerConfig struct {
	Port         string
	Env          string
	LogLevel     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type SecurityConfig struct {
	KVPath                   string
	Policies                 models.PolicySet
	BreachDetectionThreshold int
	BreachLockdownThreshold  int
	LockdownTTL              time.Duration
	ReputationTTL            time.Duration
	PayloadSizeThreshold     int
	AlertRetention           time.Duration
	CleanupInterval          time.Duration
	AdminJWTSecret           string
	AdminTokenExpiry         time.Duration
}

type NotifyConfig struct {
	Enabled         bool
	AWSRegion       string
	FromAddress     string
	AdminRecipients []string
	QueueSize       int
	DrainTimeout    time.Duration
}

// defaultPolicies returns the per-action policies used when no env override
// is present. Every threshold here can be replaced through the environment;
// the engine itself holds no hardcoded business thresholds.
func defaultPolicies() models.PolicySet {
	schedule := []time.Duration{0, 5 * time.Second, 15 * time.Second, 30 * time.Second, time.Minute, 2 * time.Minute}
	thresholds := models.SuspicionThresholds{
		MaxAttemptsPerWindow:        10,
		MaxUniqueSecondaryPerWindow: 8,
		MaxFailureRatio:             0.8,
	}

	return models.PolicySet{
		models.ActionLogin: {
			Policy:     models.RateLimitPolicy{MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 30 * time.Minute, ProgressiveDelaySchedule: schedule},
			Thresholds: thresholds,
		},
		models.ActionRegistration: {
			Policy:     models.RateLimitPolicy{MaxAttempts: 5, Window: time.Hour, Lockout: 2 * time.Hour, ProgressiveDelaySchedule: schedule},
			Thresholds: thresholds,
		},
		models.ActionPasswordReset: {
			Policy:     models.RateLimitPolicy{MaxAttempts: 3, Window: time.Hour, Lockout: time.Hour, ProgressiveDelaySchedule: schedule},
			Thresholds: thresholds,
		},
		models.ActionResendVerification: {
			Policy:     models.RateLimitPolicy{MaxAttempts: 3, Window: time.Hour, Lockout: time.Hour, ProgressiveDelaySchedule: schedule},
			Thresholds: thresholds,
		},
		models.ActionAIChat: {
			Policy:     models.RateLimitPolicy{MaxAttempts: 30, Window: time.Minute, Lockout: 5 * time.Minute, ProgressiveDelaySchedule: schedule},
			Thresholds: thresholds,
		},
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	adminSecret := getEnv("ADMIN_JWT_SECRET", "")
	if adminSecret == "" {
		return nil, fmt.Errorf("ADMIN_JWT_SECRET is required")
	}
	if err := validateAdminSecret(adminSecret, env); err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "bulwark"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConns:        int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:        int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Env:          env,
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Security: SecurityConfig{
			KVPath:                   getEnv("KV_PATH", "data/bulwark"),
			Policies:                 loadPolicies(),
			BreachDetectionThreshold: getEnvAsInt("BREACH_DETECTION_THRESHOLD", 50),
			BreachLockdownThreshold:  getEnvAsInt("BREACH_LOCKDOWN_THRESHOLD", 80),
			LockdownTTL:              getEnvAsDuration("LOCKDOWN_TTL", 24*time.Hour),
			ReputationTTL:            getEnvAsDuration("REPUTATION_TTL", time.Hour),
			PayloadSizeThreshold:     getEnvAsInt("PAYLOAD_SIZE_THRESHOLD", 100_000),
			AlertRetention:           getEnvAsDuration("ALERT_RETENTION", 30*24*time.Hour),
			CleanupInterval:          getEnvAsDuration("CLEANUP_INTERVAL", time.Hour),
			AdminJWTSecret:           adminSecret,
			AdminTokenExpiry:         getEnvAsDuration("ADMIN_TOKEN_EXPIRY", time.Hour),
		},
		Notify: NotifyConfig{
			Enabled:         getEnvAsBool("NOTIFY_ENABLED", false),
			AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
			FromAddress:     getEnv("NOTIFY_FROM_ADDRESS", ""),
			AdminRecipients: getEnvAsList("NOTIFY_ADMIN_RECIPIENTS"),
			QueueSize:       getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			DrainTimeout:    getEnvAsDuration("NOTIFY_DRAIN_TIMEOUT", 10*time.Second),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// A missing or malformed policy is a configuration error and must abort
	// startup rather than surface per request
	if err := cfg.Security.Policies.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit configuration: %w", err)
	}

	if cfg.Notify.Enabled && cfg.Notify.FromAddress == "" {
		return nil, fmt.Errorf("NOTIFY_FROM_ADDRESS is required when notifications are enabled")
	}

	if cfg.Security.BreachDetectionThreshold > cfg.Security.BreachLockdownThreshold {
		return nil, fmt.Errorf("breach detection threshold (%d) cannot exceed lockdown threshold (%d)",
			cfg.Security.BreachDetectionThreshold, cfg.Security.BreachLockdownThreshold)
	}

	return cfg, nil
}

// loadPolicies applies per-action env overrides on top of the defaults.
// Variables follow RATE_LIMIT_<ACTION>_<FIELD>, e.g.
// RATE_LIMIT_LOGIN_MAX_ATTEMPTS or RATE_LIMIT_AI_CHAT_WINDOW.
func loadPolicies() models.PolicySet {
	policies := defaultPolicies()

	for _, action := range models.Actions() {
		prefix := "RATE_LIMIT_" + strings.ToUpper(string(action)) + "_"
		ap := policies[action]

		ap.Policy.MaxAttempts = getEnvAsInt(prefix+"MAX_ATTEMPTS", ap.Policy.MaxAttempts)
		ap.Policy.Window = getEnvAsDuration(prefix+"WINDOW", ap.Policy.Window)
		ap.Policy.Lockout = getEnvAsDuration(prefix+"LOCKOUT", ap.Policy.Lockout)
		ap.Policy.ProgressiveDelaySchedule = getEnvAsSchedule(prefix+"DELAY_SCHEDULE", ap.Policy.ProgressiveDelaySchedule)

		ap.Thresholds.MaxAttemptsPerWindow = getEnvAsInt(prefix+"SUSPICION_MAX_ATTEMPTS", ap.Thresholds.MaxAttemptsPerWindow)
		ap.Thresholds.MaxUniqueSecondaryPerWindow = getEnvAsInt(prefix+"SUSPICION_MAX_UNIQUE", ap.Thresholds.MaxUniqueSecondaryPerWindow)
		ap.Thresholds.MaxFailureRatio = getEnvAsFloat(prefix+"SUSPICION_FAILURE_RATIO", ap.Thresholds.MaxFailureRatio)

		policies[action] = ap
	}

	return policies
}

// validateAdminSecret enforces minimum strength for the admin API secret
func validateAdminSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("ADMIN_JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsSchedule parses a comma-separated duration list, e.g. "0s,5s,15s,30s"
func getEnvAsSchedule(key string, defaultVal []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}

	parts := strings.Split(value, ",")
	schedule := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		duration, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return defaultVal
		}
		schedule = append(schedule, duration)
	}
	return schedule
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}
