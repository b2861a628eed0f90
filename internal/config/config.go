package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the market-structure engine.
type Config struct {
	Environment string `validate:"oneof=development staging production"`
	LogLevel    string `validate:"oneof=debug info warn error"`

	ScanIntervalSeconds   int `validate:"gte=5,lte=3600"`
	MaxConcurrentSymbols  int `validate:"gte=1,lte=256"`
	MinMatchingTimeframes int `validate:"gte=1,lte=6"`

	BOSThresholdPct         float64 `validate:"gt=0,lte=10"`
	CHOCHThresholdPct       float64 `validate:"gt=0,lte=10"`
	MinStructureDistancePct float64 `validate:"gt=0,lte=20"`
	StructureLockBars       int     `validate:"gte=0,lte=100"`
	MinFVGSizePct           float64 `validate:"gt=0,lte=10"`
	FVGPruneBars            int     `validate:"gte=1,lte=500"`

	ProximityNearPct float64 `validate:"gt=0,lte=100"`
	ProximityFarPct  float64 `validate:"gt=0,lte=100"`

	Timeframes []string `validate:"min=1"`
	Symbols    []string `validate:"min=1"`

	Redis RedisConfig
	API   APIConfig
}

// RedisConfig holds the Redis connection carrying alerts from the
// generator to the subscription bus, the same role internal/pubsub
// played between the alert router and the ws gateway in the teacher.
type RedisConfig struct {
	Host               string
	Port               int
	Password           string
	DB                 int
	PoolSize           int
	MinIdleConns       int
	FilteredStreamName string
	ConsumerGroup      string
}

// APIConfig holds REST/WS surface configuration.
type APIConfig struct {
	Port             int
	HealthCheckPort  int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	WSPingInterval   time.Duration
	SubscriberBuffer int
}

var validate = validator.New()

// Load loads configuration from environment variables. It automatically
// loads a .env file if one exists in the current directory or parents.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		ScanIntervalSeconds:   getEnvAsInt("SCAN_INTERVAL_SECONDS", 120),
		MaxConcurrentSymbols:  getEnvAsInt("MAX_CONCURRENT_SYMBOLS", 8),
		MinMatchingTimeframes: getEnvAsInt("MIN_MATCHING_TIMEFRAMES", 2),

		BOSThresholdPct:         getEnvAsFloat("BOS_THRESHOLD_PCT", 0.3),
		CHOCHThresholdPct:       getEnvAsFloat("CHOCH_THRESHOLD_PCT", 0.5),
		MinStructureDistancePct: getEnvAsFloat("MIN_STRUCTURE_DISTANCE_PCT", 1.0),
		StructureLockBars:       getEnvAsInt("STRUCTURE_LOCK_BARS", 5),
		MinFVGSizePct:           getEnvAsFloat("MIN_FVG_SIZE_PCT", 0.2),
		FVGPruneBars:            getEnvAsInt("FVG_PRUNE_BARS", 50),

		ProximityNearPct: getEnvAsFloat("PROXIMITY_NEAR_PCT", 2),
		ProximityFarPct:  getEnvAsFloat("PROXIMITY_FAR_PCT", 3),

		Timeframes: getEnvAsStringSlice("TIMEFRAMES", []string{"5m", "15m", "30m", "1h", "2h", "4h"}),
		Symbols:    getEnvAsStringSlice("SYMBOLS", []string{}),

		Redis: RedisConfig{
			Host:               getEnv("REDIS_HOST", "localhost"),
			Port:               getEnvAsInt("REDIS_PORT", 6379),
			Password:           getEnv("REDIS_PASSWORD", ""),
			DB:                 getEnvAsInt("REDIS_DB", 0),
			PoolSize:           getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:       getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
			FilteredStreamName: getEnv("ALERT_STREAM_NAME", "alerts.filtered"),
			ConsumerGroup:      getEnv("ALERT_CONSUMER_GROUP", "subscription-bus"),
		},
		API: APIConfig{
			Port:             getEnvAsInt("API_PORT", 8090),
			HealthCheckPort:  getEnvAsInt("API_HEALTH_PORT", 8091),
			ReadTimeout:      getEnvAsDuration("API_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:     getEnvAsDuration("API_WRITE_TIMEOUT", 10*time.Second),
			WSPingInterval:   getEnvAsDuration("WS_PING_INTERVAL", 30*time.Second),
			SubscriberBuffer: getEnvAsInt("WS_SUBSCRIBER_BUFFER", 64),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ScanInterval is the scan tick period as a time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// Validate checks struct tags via go-playground/validator plus a few
// cross-field invariants tags can't express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must contain at least one instrument")
	}
	known := map[string]bool{"5m": true, "15m": true, "30m": true, "1h": true, "2h": true, "4h": true}
	for _, tf := range c.Timeframes {
		if !known[tf] {
			return fmt.Errorf("unknown timeframe token %q", tf)
		}
	}
	if c.ProximityNearPct >= c.ProximityFarPct {
		return fmt.Errorf("PROXIMITY_NEAR_PCT must be less than PROXIMITY_FAR_PCT")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
