package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Guard    GuardConfig
	Ticket   TicketConfig
	Sweep    SweepConfig
	Restore  RestoreConfig
	Platform PlatformConfig
	Gateway  GatewayConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines admin authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	AdminPasswordHash     string
	BcryptCost            int
}

// GuardConfig defines which roles are stripped and protected.
type GuardConfig struct {
	PrivilegedRoleIDs []string
	AuditChannelID    string
}

// TicketConfig controls the verification ticket channel lifecycle.
type TicketConfig struct {
	BookingLink string
	CategoryID  string
	TTLHours    int
}

// SweepConfig controls the reconciliation sweep.
type SweepConfig struct {
	IntervalSeconds        int
	OrphanRetentionSeconds int
}

// RestoreConfig defines the role restoration retry policy.
type RestoreConfig struct {
	MaxAttempts         int
	InitialIntervalMS   int
	MaxIntervalMS       int
	RequiresAdmin       bool
	PlatformCallsPerSec float64
}

// PlatformConfig points at the chat-platform bridge API.
type PlatformConfig struct {
	BaseURL        string
	Token          string
	TimeoutSeconds int
	IngressSecret  string
}

// GatewayConfig sizes the inbound event queue.
type GatewayConfig struct {
	QueueSize int
	Workers   int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	privileged := splitCSV(os.Getenv("PRIVILEGED_ROLE_IDS"))
	if len(privileged) == 0 {
		return nil, fmt.Errorf("PRIVILEGED_ROLE_IDS must list at least one role id")
	}

	callsPerSec, err := strconv.ParseFloat(getEnv("PLATFORM_CALLS_PER_SECOND", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PLATFORM_CALLS_PER_SECOND: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "verification-gate"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			AdminPasswordHash:     os.Getenv("AUTH_ADMIN_PASSWORD_HASH"),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Guard: GuardConfig{
			PrivilegedRoleIDs: privileged,
			AuditChannelID:    os.Getenv("AUDIT_CHANNEL_ID"),
		},
		Ticket: TicketConfig{
			BookingLink: getEnv("BOOKING_LINK", ""),
			CategoryID:  os.Getenv("TICKET_CATEGORY_ID"),
			TTLHours:    getEnvAsInt("TICKET_TTL_HOURS", 24),
		},
		Sweep: SweepConfig{
			IntervalSeconds:        getEnvAsInt("SWEEP_INTERVAL_SECONDS", 45),
			OrphanRetentionSeconds: getEnvAsInt("ORPHAN_RETENTION_SECONDS", 3600),
		},
		Restore: RestoreConfig{
			MaxAttempts:         getEnvAsInt("RESTORE_MAX_ATTEMPTS", 5),
			InitialIntervalMS:   getEnvAsInt("RESTORE_INITIAL_INTERVAL_MS", 500),
			MaxIntervalMS:       getEnvAsInt("RESTORE_MAX_INTERVAL_MS", 15000),
			RequiresAdmin:       getEnvAsBool("RESTORE_REQUIRES_ADMIN", false),
			PlatformCallsPerSec: callsPerSec,
		},
		Platform: PlatformConfig{
			BaseURL:        getEnv("PLATFORM_BASE_URL", "http://127.0.0.1:9090"),
			Token:          os.Getenv("PLATFORM_TOKEN"),
			TimeoutSeconds: getEnvAsInt("PLATFORM_TIMEOUT_SECONDS", 10),
			IngressSecret:  os.Getenv("PLATFORM_INGRESS_SECRET"),
		},
		Gateway: GatewayConfig{
			QueueSize: getEnvAsInt("GATEWAY_QUEUE_SIZE", 256),
			Workers:   getEnvAsInt("GATEWAY_WORKERS", 4),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Interval returns the sweep period.
func (s SweepConfig) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return 45 * time.Second
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

// OrphanRetention returns how long orphaned records are kept before purge.
func (s SweepConfig) OrphanRetention() time.Duration {
	if s.OrphanRetentionSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(s.OrphanRetentionSeconds) * time.Second
}

// TTL returns the ticket expiry window.
func (t TicketConfig) TTL() time.Duration {
	if t.TTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(t.TTLHours) * time.Hour
}

// InitialInterval returns the first backoff delay.
func (r RestoreConfig) InitialInterval() time.Duration {
	if r.InitialIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(r.InitialIntervalMS) * time.Millisecond
}

// MaxInterval caps the backoff delay.
func (r RestoreConfig) MaxInterval() time.Duration {
	if r.MaxIntervalMS <= 0 {
		return 15 * time.Second
	}
	return time.Duration(r.MaxIntervalMS) * time.Millisecond
}

// Timeout returns the per-call deadline for bridge requests.
func (p PlatformConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
