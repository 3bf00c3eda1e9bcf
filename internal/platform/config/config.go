package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all process configuration loaded from environment variables.
type Config struct {
	LogLevel      string
	Server        Server
	Auth          Auth
	Postgres      PostgresConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Provider      ProviderConfig
	Risk          RiskConfig
	Notifications NotificationsConfig
	RateLimit     RateLimitConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Auth configures bearer token validation.
type Auth struct {
	JWTSigningKey string
	Issuer        string
	Audience      string
}

// PostgresConfig selects the durable stores. An empty URL means in-memory stores.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig selects the Redis notification bus. An empty URL means the
// in-process hub.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig selects the Kafka provider adapter. No brokers means the simulator.
type KafkaConfig struct {
	Brokers       []string
	RequestTopic  string
	ResultTopic   string
	ConsumerGroup string
}

// ProviderConfig tunes the simulator and the pending sweeper.
type ProviderConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// Seed of zero picks a time-based seed.
	Seed uint64
	// PendingTimeout of zero disables expiry of stuck pending requests.
	PendingTimeout time.Duration
	SweepInterval  time.Duration
}

// RiskConfig holds the nominal limit used when a caller does not supply one.
type RiskConfig struct {
	DefaultNominalLimit decimal.Decimal
}

// RateLimitConfig caps credit-check submissions per broker. A limit of
// zero disables the check.
type RateLimitConfig struct {
	SubmitLimit  int
	SubmitWindow time.Duration
}

// NotificationsConfig tunes the notification reconciler window.
type NotificationsConfig struct {
	WindowLimit int
	QuietPeriod time.Duration
	// AllowedOrigins are websocket origin patterns beyond the request host.
	AllowedOrigins []string
}

// Load reads configuration from environment variables and validates it.
func Load() (Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("parse %s: %v", key, err))
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := getEnvDuration(key, def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("parse %s: %v", key, err))
		}
		return v
	}

	seed, err := strconv.ParseUint(getEnv("PROVIDER_SEED", "0"), 10, 64)
	if err != nil {
		errs = append(errs, fmt.Sprintf("parse PROVIDER_SEED: %v", err))
	}

	nominal, err := decimal.NewFromString(getEnv("RISK_DEFAULT_NOMINAL_LIMIT", "10000"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("parse RISK_DEFAULT_NOMINAL_LIMIT: %v", err))
	}

	cfg := Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Server: Server{
			Addr:            getEnv("BROKERDESK_ADDR", ":8080"),
			ShutdownTimeout: durVar("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Auth: Auth{
			// Use a default for development - should be overridden in production
			JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:        getEnv("JWT_ISSUER", "brokerdesk"),
			Audience:      getEnv("JWT_AUDIENCE", "brokerdesk-api"),
		},
		Postgres: PostgresConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    intVar("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    intVar("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: durVar("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intVar("REDIS_POOL_SIZE", 10),
			MinIdleConns: intVar("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durVar("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durVar("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durVar("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       splitCSV(os.Getenv("KAFKA_BROKERS")),
			RequestTopic:  getEnv("KAFKA_REQUEST_TOPIC", "credit-check.requests"),
			ResultTopic:   getEnv("KAFKA_RESULT_TOPIC", "credit-check.results"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "brokerdesk"),
		},
		Provider: ProviderConfig{
			MinDelay:       durVar("PROVIDER_MIN_DELAY", 200*time.Millisecond),
			MaxDelay:       durVar("PROVIDER_MAX_DELAY", 800*time.Millisecond),
			Seed:           seed,
			PendingTimeout: durVar("PENDING_TIMEOUT", 0),
			SweepInterval:  durVar("PENDING_SWEEP_INTERVAL", 30*time.Second),
		},
		Risk: RiskConfig{
			DefaultNominalLimit: nominal,
		},
		Notifications: NotificationsConfig{
			WindowLimit:    intVar("NOTIFICATION_WINDOW_LIMIT", 50),
			QuietPeriod:    durVar("NOTIFICATION_QUIET_PERIOD", 2*time.Second),
			AllowedOrigins: splitCSV(os.Getenv("WS_ALLOWED_ORIGINS")),
		},
		RateLimit: RateLimitConfig{
			SubmitLimit:  intVar("RATE_LIMIT_SUBMIT", 30),
			SubmitWindow: durVar("RATE_LIMIT_SUBMIT_WINDOW", time.Minute),
		},
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("load config: %s", strings.Join(errs, "; "))
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Auth.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	if c.Provider.MinDelay < 0 || c.Provider.MaxDelay < c.Provider.MinDelay {
		return fmt.Errorf("PROVIDER_MAX_DELAY must be >= PROVIDER_MIN_DELAY >= 0")
	}
	if c.Provider.PendingTimeout < 0 {
		return fmt.Errorf("PENDING_TIMEOUT must not be negative")
	}
	if c.Provider.PendingTimeout > 0 && c.Provider.SweepInterval <= 0 {
		return fmt.Errorf("PENDING_SWEEP_INTERVAL must be positive when PENDING_TIMEOUT is set")
	}
	if c.Risk.DefaultNominalLimit.IsNegative() {
		return fmt.Errorf("RISK_DEFAULT_NOMINAL_LIMIT must not be negative")
	}
	if c.RateLimit.SubmitLimit < 0 {
		return fmt.Errorf("RATE_LIMIT_SUBMIT must not be negative")
	}
	if c.RateLimit.SubmitLimit > 0 && c.RateLimit.SubmitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_SUBMIT_WINDOW must be positive when RATE_LIMIT_SUBMIT is set")
	}
	if c.Notifications.WindowLimit <= 0 {
		return fmt.Errorf("NOTIFICATION_WINDOW_LIMIT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(v)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
