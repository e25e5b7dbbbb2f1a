package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full process configuration, decoded from the environment.
// A .env file in the working directory is loaded first when present.
type Config struct {
	Server    Server
	Log       Log
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Auth      Auth
	Audit     Audit
	Notify    Notify
	Storage   Storage
	RateLimit RateLimit
	Catalog   Catalog
	OTP       OTP
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"CERTDESK_ADDR,default=:8080"`
	RequestTimeout  time.Duration `env:"CERTDESK_REQUEST_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"CERTDESK_SHUTDOWN_TIMEOUT,default=15s"`
	// InMemory swaps every backing store for process-local ones.
	InMemory bool `env:"CERTDESK_IN_MEMORY,default=false"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

type PostgresConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
}

type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE,default=10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS,default=2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT,default=5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT,default=3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT,default=3s"`
}

type KafkaConfig struct {
	// Brokers is a comma separated seed list. Empty disables the Kafka sink.
	Brokers    string `env:"KAFKA_BROKERS"`
	AuditTopic string `env:"KAFKA_AUDIT_TOPIC,default=certdesk.audit"`
	Partitions int    `env:"KAFKA_AUDIT_PARTITIONS,default=3"`
}

// BrokerList splits Brokers into individual addresses.
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type Auth struct {
	JWTSigningKey string `env:"JWT_SIGNING_KEY"`
	JWTIssuer     string `env:"JWT_ISSUER,default=certdesk"`
}

type Audit struct {
	Retention      time.Duration `env:"AUDIT_RETENTION,default=240h"`
	SweepSchedule  string        `env:"AUDIT_SWEEP_SCHEDULE,default=@every 1h"`
	BufferSize     int           `env:"AUDIT_BUFFER_SIZE,default=1024"`
	AppendTimeout  time.Duration `env:"AUDIT_APPEND_TIMEOUT,default=5s"`
	AdminListLimit int           `env:"AUDIT_LIST_LIMIT,default=100"`
}

type Notify struct {
	SendGridAPIKey string        `env:"SENDGRID_API_KEY"`
	FromAddress    string        `env:"NOTIFY_FROM_ADDRESS,default=no-reply@certdesk.local"`
	FromName       string        `env:"NOTIFY_FROM_NAME,default=Certificate System"`
	SendTimeout    time.Duration `env:"NOTIFY_SEND_TIMEOUT,default=10s"`
	QueueSize      int           `env:"NOTIFY_QUEUE_SIZE,default=256"`
}

type Storage struct {
	CloudinaryCloud  string        `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryKey    string        `env:"CLOUDINARY_API_KEY"`
	CloudinarySecret string        `env:"CLOUDINARY_API_SECRET"`
	CloudinaryFolder string        `env:"CLOUDINARY_FOLDER,default=certdesk"`
	UploadTimeout    time.Duration `env:"UPLOAD_TIMEOUT,default=30s"`
	MaxUploadBytes   int64         `env:"UPLOAD_MAX_BYTES,default=2097152"`
}

// CloudinaryEnabled reports whether all Cloudinary credentials are set.
func (s Storage) CloudinaryEnabled() bool {
	return s.CloudinaryCloud != "" && s.CloudinaryKey != "" && s.CloudinarySecret != ""
}

type RateLimit struct {
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS,default=10"`
	Burst             int     `env:"RATE_LIMIT_BURST,default=20"`
}

type Catalog struct {
	CacheTTL time.Duration `env:"CATALOG_CACHE_TTL,default=5m"`
}

type OTP struct {
	TTL time.Duration `env:"OTP_TTL,default=2m"`
}

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required unless CERTDESK_IN_MEMORY is set")
	ErrMissingJWTKey      = errors.New("JWT_SIGNING_KEY is required")
)

// Load reads .env (if present) and decodes the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv decodes the current environment without touching .env files.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements that tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, ErrMissingJWTKey)
	}
	if !c.Server.InMemory && c.Postgres.URL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.Audit.Retention <= 0 {
		errs = append(errs, fmt.Errorf("AUDIT_RETENTION must be positive, got %s", c.Audit.Retention))
	}
	if c.Audit.AppendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("AUDIT_APPEND_TIMEOUT must be positive, got %s", c.Audit.AppendTimeout))
	}
	if c.Audit.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("AUDIT_BUFFER_SIZE must be positive, got %d", c.Audit.BufferSize))
	}
	if c.Storage.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.Storage.MaxUploadBytes))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	return errors.Join(errs...)
}
