package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-based settings
type Config struct {
	Environment    string
	DatabaseURL    string
	MigrationsPath string
	JWTSecret      string
	ServerAddress  string
	LogLevel       string

	Redis RedisConfig
	MQTT  MQTTConfig
	Relay RelayConfig

	Location *time.Location
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	LiveTTL  time.Duration
}

func (r RedisConfig) Enabled() bool { return r.Address != "" }

type MQTTConfig struct {
	BrokerURL string
	ClientID  string
}

func (m MQTTConfig) Enabled() bool { return m.BrokerURL != "" }

// RelayConfig tunes the device relay and the maintenance sweeps.
type RelayConfig struct {
	PullTimeout       time.Duration
	HealthInterval    time.Duration
	SilenceThreshold  time.Duration
	ReconcileInterval time.Duration
	BackfillBatch     int
}

// Load reads configuration from environment variables, after loading a
// .env file when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	jwt := os.Getenv("JWT_SECRET")
	if jwt == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	tz := getEnv("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	cfg := &Config{
		Environment:    getEnv("APP_ENV", "development"),
		DatabaseURL:    dbURL,
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),
		JWTSecret:      jwt,
		ServerAddress:  getEnv("SERVER_ADDRESS", ":8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			Address:  os.Getenv("REDIS_ADDRESS"),
			Username: os.Getenv("REDIS_USERNAME"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		MQTT: MQTTConfig{
			BrokerURL: os.Getenv("MQTT_BROKER_URL"),
			ClientID:  getEnv("MQTT_CLIENT_ID", "jinglecast-server"),
		},
		Location: loc,
	}

	if cfg.Redis.LiveTTL, err = getEnvAsDuration("REDIS_LIVE_TTL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Relay.PullTimeout, err = getEnvAsDuration("RELAY_PULL_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Relay.HealthInterval, err = getEnvAsDuration("HEALTH_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.Relay.SilenceThreshold, err = getEnvAsDuration("DEVICE_SILENCE_THRESHOLD", 3*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Relay.ReconcileInterval, err = getEnvAsDuration("RECONCILE_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Relay.BackfillBatch, err = getEnvAsInt("BACKFILL_BATCH", 500); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool { return c.Environment == "production" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return v, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}
