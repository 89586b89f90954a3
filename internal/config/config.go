package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultDailyAllowance = 100
	DefaultGRPCListen     = ":50051"
)

type Config struct {
	Env      string
	LogLevel string

	DailyAllowance int64
	KeyPrefix      string
	StoreProvider  string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	// DBMaxConns caps the audit pool; 0 keeps the pgxpool default.
	DBMaxConns int32

	BusProvider   string
	NatsHost      string
	NatsPort      string
	GRPCHost      string
	GRPCPort      string
	GRPCListen    string
	WorkerEnabled bool

	ApiEnabled     string
	ApiPort        string
	RateLimitRPS   float64
	RateLimitBurst int
}

// New loads and validates configuration from environment variables.
// Postgres is optional: with CREDITS_POSTGRES_HOST empty the charge audit trail
// is disabled and AuditEnabled reports false. The HTTP API only starts when
// CREDITS_API_ENABLED=true.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:            getEnv("CREDITS_ENV", "local"),
		LogLevel:       os.Getenv("CREDITS_LOG_LEVEL"),
		DailyAllowance: getEnvInt64("CREDITS_DAILY_ALLOWANCE", DefaultDailyAllowance),
		KeyPrefix:      os.Getenv("CREDITS_KEY_PREFIX"),
		StoreProvider:  getEnv("CREDITS_STORE_PROVIDER", "redis"),
		RedisHost:      os.Getenv("CREDITS_REDIS_HOST"),
		RedisPort:      os.Getenv("CREDITS_REDIS_PORT"),
		RedisPassword:  os.Getenv("CREDITS_REDIS_PASSWORD"),
		RedisDB:        getEnvInt("CREDITS_REDIS_DB", 0),
		DBUser:         os.Getenv("CREDITS_POSTGRES_USER"),
		DBPass:         os.Getenv("CREDITS_POSTGRES_PASSWORD"),
		DBHost:         os.Getenv("CREDITS_POSTGRES_HOST"),
		DBPort:         getEnv("CREDITS_POSTGRES_PORT", "5432"),
		DBName:         os.Getenv("CREDITS_POSTGRES_DB"),
		SSLMode:        getEnv("CREDITS_POSTGRES_SSLMODE", "disable"),
		DBMaxConns:     int32(getEnvInt("CREDITS_POSTGRES_MAX_CONNS", 4)),
		BusProvider:    getEnv("CREDITS_BUS_PROVIDER", "none"),
		NatsHost:       os.Getenv("CREDITS_NATS_HOST"),
		NatsPort:       os.Getenv("CREDITS_NATS_PORT"),
		GRPCHost:       os.Getenv("CREDITS_GRPC_HOST"),
		GRPCPort:       os.Getenv("CREDITS_GRPC_PORT"),
		GRPCListen:     getEnv("CREDITS_GRPC_LISTEN", DefaultGRPCListen),
		WorkerEnabled:  getEnv("CREDITS_WORKER_ENABLED", "true") == "true",
		ApiEnabled:     os.Getenv("CREDITS_API_ENABLED"),
		ApiPort:        os.Getenv("CREDITS_API_PORT"),
		RateLimitRPS:   getEnvFloat("CREDITS_RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("CREDITS_RATE_LIMIT_BURST", 10),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DailyAllowance <= 0 {
		return fmt.Errorf("invalid CREDITS_DAILY_ALLOWANCE %d, must be positive", c.DailyAllowance)
	}

	switch c.StoreProvider {
	case "redis":
		if c.RedisHost == "" || c.RedisPort == "" {
			return fmt.Errorf("missing required env for redis: CREDITS_REDIS_HOST/PORT")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store provider %q, must be 'redis' or 'memory'", c.StoreProvider)
	}

	if c.DBHost != "" && (c.DBUser == "" || c.DBName == "") {
		return fmt.Errorf("missing required env for database: CREDITS_POSTGRES_USER/DB")
	}

	switch c.BusProvider {
	case "nats":
		if c.NatsHost == "" || c.NatsPort == "" {
			return fmt.Errorf("missing required env for nats bus: CREDITS_NATS_HOST/PORT")
		}
	case "grpc":
		if c.GRPCHost == "" || c.GRPCPort == "" {
			return fmt.Errorf("missing required env for grpc bus: CREDITS_GRPC_HOST/PORT")
		}
	case "none":
	default:
		return fmt.Errorf("invalid bus provider %q, must be 'nats', 'grpc' or 'none'", c.BusProvider)
	}

	if c.DBMaxConns < 0 {
		return fmt.Errorf("CREDITS_POSTGRES_MAX_CONNS must not be negative")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("CREDITS_RATE_LIMIT_RPS and CREDITS_RATE_LIMIT_BURST must be positive")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

// AuditEnabled reports whether charges are persisted to Postgres.
func (c *Config) AuditEnabled() bool {
	return c.DBHost != ""
}

// InlineAudit reports whether charges must be recorded by the deducting
// process because no bus consumer will record them: the bus is off, or NATS
// carries events but the local worker is disabled.
func (c *Config) InlineAudit() bool {
	if !c.AuditEnabled() {
		return false
	}
	switch c.BusProvider {
	case "none":
		return true
	case "nats":
		return !c.WorkerEnabled
	}
	return false
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%s", c.GRPCHost, c.GRPCPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if CREDITS_API_ENABLED != "true", callers should skip starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("CREDITS_API_PORT is required when CREDITS_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (CREDITS_API_ENABLED != true)")
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, defaultVal int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvInt64(key string, defaultVal int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
