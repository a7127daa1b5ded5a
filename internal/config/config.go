package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Znuny        ZnunyConfig
	Diagnosis    DiagnosisConfig
	Analysis     AnalysisConfig
	Delegation   DelegationConfig
	Escalation   EscalationConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	ShutdownTimeoutSecs   int
}

// PostgresConfig holds DB connection values. An empty DSN disables the audit trail and
// the knowledge base.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty address keeps sessions in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level  string
	Format string
}

// AuthConfig protects the inbound webhook. With neither a JWT secret nor basic
// credentials the webhook is open.
type AuthConfig struct {
	JWTSecret         string
	TokenTTLMinutes   int
	BasicUser         string
	BasicPasswordHash string
	BcryptCost        int
}

// ZnunyConfig points at the ticketing platform's GenericInterface REST endpoint.
type ZnunyConfig struct {
	BaseURL           string
	Username          string
	Password          string
	SessionID         string
	SessionTTLSeconds int
	TimeoutSeconds    int
}

// DiagnosisConfig configures the OpenAI-compatible diagnosis backend.
type DiagnosisConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	TimeoutSeconds    int
	MaxAttempts       int
	RequestsPerMinute int
	KnowledgeLimit    int
}

// AnalysisConfig points at the log-monitoring service.
type AnalysisConfig struct {
	LogMonitorURL  string
	TimeoutSeconds int
}

// DelegationConfig sizes the worker pool.
type DelegationConfig struct {
	Workers       int
	QueueSize     int
	MaxRetries    int
	BackoffMillis int
}

// EscalationConfig tunes the emergency policy.
type EscalationConfig struct {
	Threshold     int
	RaisePriority bool
	PriorityID    int
}

// NotificationConfig holds the on-call notification endpoint.
type NotificationConfig struct {
	OnCallWebhookURL string
	TimeoutSeconds   int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "triage-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8000"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 25),
			ShutdownTimeoutSecs:   getEnvAsInt("APP_SHUTDOWN_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:         os.Getenv("WEBHOOK_JWT_SECRET"),
			TokenTTLMinutes:   getEnvAsInt("WEBHOOK_TOKEN_TTL_MINUTES", 60*24*365),
			BasicUser:         os.Getenv("WEBHOOK_BASIC_USER"),
			BasicPasswordHash: os.Getenv("WEBHOOK_BASIC_PASSWORD_HASH"),
			BcryptCost:        getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Znuny: ZnunyConfig{
			BaseURL:           os.Getenv("ZNUNY_BASE_API"),
			Username:          os.Getenv("ZNUNY_USERNAME"),
			Password:          os.Getenv("ZNUNY_PASSWORD"),
			SessionID:         getEnv("ZNUNY_SESSION_ID", os.Getenv("SESSION_ID")),
			SessionTTLSeconds: getEnvAsInt("ZNUNY_SESSION_TTL", 3300),
			TimeoutSeconds:    getEnvAsInt("ZNUNY_TIMEOUT_SECONDS", 10),
		},
		Diagnosis: DiagnosisConfig{
			APIKey:            os.Getenv("AI_API_KEY"),
			BaseURL:           os.Getenv("AI_BASE_URL"),
			Model:             getEnv("AI_MODEL", "gpt-4o-mini"),
			TimeoutSeconds:    getEnvAsInt("AI_TIMEOUT_SECONDS", 10),
			MaxAttempts:       getEnvAsInt("AI_MAX_ATTEMPTS", 2),
			RequestsPerMinute: getEnvAsInt("AI_REQUESTS_PER_MINUTE", 60),
			KnowledgeLimit:    getEnvAsInt("KB_CONTEXT_LIMIT", 3),
		},
		Analysis: AnalysisConfig{
			LogMonitorURL:  os.Getenv("LOG_MONITOR_URL"),
			TimeoutSeconds: getEnvAsInt("LOG_MONITOR_TIMEOUT_SECONDS", 30),
		},
		Delegation: DelegationConfig{
			Workers:       getEnvAsInt("DELEGATION_WORKERS", 4),
			QueueSize:     getEnvAsInt("DELEGATION_QUEUE_SIZE", 64),
			MaxRetries:    getEnvAsInt("DELEGATION_MAX_RETRIES", 2),
			BackoffMillis: getEnvAsInt("DELEGATION_BACKOFF_MS", 2000),
		},
		Escalation: EscalationConfig{
			Threshold:     getEnvAsInt("ESCALATION_THRESHOLD", 9),
			RaisePriority: getEnvAsBool("ESCALATION_RAISE_PRIORITY", true),
			PriorityID:    getEnvAsInt("ESCALATION_PRIORITY_ID", 5),
		},
		Notification: NotificationConfig{
			OnCallWebhookURL: os.Getenv("ONCALL_WEBHOOK_URL"),
			TimeoutSeconds:   getEnvAsInt("ONCALL_TIMEOUT_SECONDS", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Escalation.Threshold < 1 || c.Escalation.Threshold > 10 {
		return fmt.Errorf("ESCALATION_THRESHOLD must be within [1,10], got %d", c.Escalation.Threshold)
	}
	if c.Escalation.PriorityID < 1 || c.Escalation.PriorityID > 5 {
		return fmt.Errorf("ESCALATION_PRIORITY_ID must be within [1,5], got %d", c.Escalation.PriorityID)
	}
	if c.Delegation.Workers <= 0 {
		return fmt.Errorf("DELEGATION_WORKERS must be positive, got %d", c.Delegation.Workers)
	}
	if c.Delegation.QueueSize <= 0 {
		return fmt.Errorf("DELEGATION_QUEUE_SIZE must be positive, got %d", c.Delegation.QueueSize)
	}
	if c.Delegation.MaxRetries < 0 {
		return fmt.Errorf("DELEGATION_MAX_RETRIES must not be negative, got %d", c.Delegation.MaxRetries)
	}
	if c.Diagnosis.MaxAttempts <= 0 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be positive, got %d", c.Diagnosis.MaxAttempts)
	}
	if budget := c.Diagnosis.Timeout() * time.Duration(c.Diagnosis.MaxAttempts); budget >= c.App.RequestTimeout() {
		return fmt.Errorf("AI_TIMEOUT_SECONDS x AI_MAX_ATTEMPTS (%s) must be below HTTP_REQUEST_TIMEOUT_SECONDS (%s)",
			budget, c.App.RequestTimeout())
	}
	if (c.Auth.BasicUser == "") != (c.Auth.BasicPasswordHash == "") {
		return fmt.Errorf("WEBHOOK_BASIC_USER and WEBHOOK_BASIC_PASSWORD_HASH must be set together")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	return seconds(a.RequestTimeoutSeconds)
}

// ShutdownTimeout bounds the graceful drain of the worker pool.
func (a AppConfig) ShutdownTimeout() time.Duration {
	return seconds(a.ShutdownTimeoutSecs)
}

func (z ZnunyConfig) Timeout() time.Duration        { return seconds(z.TimeoutSeconds) }
func (z ZnunyConfig) SessionTTL() time.Duration     { return seconds(z.SessionTTLSeconds) }
func (d DiagnosisConfig) Timeout() time.Duration    { return seconds(d.TimeoutSeconds) }
func (a AnalysisConfig) Timeout() time.Duration     { return seconds(a.TimeoutSeconds) }
func (n NotificationConfig) Timeout() time.Duration { return seconds(n.TimeoutSeconds) }

// Backoff returns the base delay between analysis retries.
func (d DelegationConfig) Backoff() time.Duration {
	if d.BackoffMillis <= 0 {
		return 0
	}
	return time.Duration(d.BackoffMillis) * time.Millisecond
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
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
