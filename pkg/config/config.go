package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Toss         TossConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Settlement   SettlementConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPMALL_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOPMALL_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SHOPMALL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPMALL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOPMALL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPMALL_DB_DSN"`
	Driver string `envconfig:"SHOPMALL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPMALL_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPMALL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPMALL_DB_USER"`
	LegacyPassword string `envconfig:"SHOPMALL_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPMALL_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPMALL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPMALL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPMALL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPMALL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPMALL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPMALL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPMALL_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPMALL_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPMALL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPMALL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPMALL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPMALL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPMALL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPMALL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SHOPMALL_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SHOPMALL_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SHOPMALL_JWT_EXPIRATION_MINUTES" required:"true"`
}

// TossConfig holds credentials and endpoints for the Toss Payments API.
type TossConfig struct {
	SecretKey     string        `envconfig:"SHOPMALL_TOSS_SECRET_KEY" required:"true"`
	ClientKey     string        `envconfig:"SHOPMALL_TOSS_CLIENT_KEY"`
	WebhookSecret string        `envconfig:"SHOPMALL_TOSS_WEBHOOK_SECRET" required:"true"`
	BaseURL       string        `envconfig:"SHOPMALL_TOSS_BASE_URL" default:"https://api.tosspayments.com"`
	Timeout       time.Duration `envconfig:"SHOPMALL_TOSS_TIMEOUT" default:"10s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SHOPMALL_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"SHOPMALL_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookDedupTTL      time.Duration `envconfig:"SHOPMALL_WEBHOOK_DEDUP_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHOPMALL_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"SHOPMALL_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHOPMALL_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic        string `envconfig:"SHOPMALL_PUBSUB_SETTLEMENT_TOPIC" required:"true"`
	SettlementSubscription string `envconfig:"SHOPMALL_PUBSUB_SETTLEMENT_SUBSCRIPTION" required:"true"`
	OrdersTopic            string `envconfig:"SHOPMALL_PUBSUB_ORDERS_TOPIC" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SHOPMALL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SHOPMALL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SHOPMALL_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// SettlementConfig tunes the async confirm worker.
type SettlementConfig struct {
	ConfirmMaxAttempts int           `envconfig:"SHOPMALL_SETTLEMENT_CONFIRM_MAX_ATTEMPTS" default:"3"`
	ConfirmRetryDelay  time.Duration `envconfig:"SHOPMALL_SETTLEMENT_CONFIRM_RETRY_DELAY" default:"2s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
