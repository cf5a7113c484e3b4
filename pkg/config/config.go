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
	GCP          GCPConfig
	PubSub       PubSubConfig
	Schemas      SchemasConfig
	Settlement   SettlementConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"BILLING_APP_ENV" required:"true"`
	Port         string `envconfig:"BILLING_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"BILLING_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BILLING_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BILLING_SERVICE_KIND" default:"consumer"`
}

type DBConfig struct {
	DSN    string `envconfig:"BILLING_DB_DSN"`
	Driver string `envconfig:"BILLING_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BILLING_DB_HOST"`
	LegacyPort     int    `envconfig:"BILLING_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILLING_DB_USER"`
	LegacyPassword string `envconfig:"BILLING_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILLING_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILLING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLING_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLING_REDIS_URL"`
	Address      string        `envconfig:"BILLING_REDIS_ADDR"`
	Password     string        `envconfig:"BILLING_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BILLING_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BILLING_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BILLING_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AccountsStreamTopic        string `envconfig:"BILLING_PUBSUB_ACCOUNTS_STREAM_TOPIC" default:"accounts-stream"`
	AccountsTopic              string `envconfig:"BILLING_PUBSUB_ACCOUNTS_TOPIC" default:"accounts"`
	TaskStreamTopic            string `envconfig:"BILLING_PUBSUB_TASK_STREAM_TOPIC" default:"task-stream"`
	TaskLifecycleTopic         string `envconfig:"BILLING_PUBSUB_TASK_LIFECYCLE_TOPIC" default:"task-lifecycle"`
	BillingTransactionsTopic   string `envconfig:"BILLING_PUBSUB_TRANSACTIONS_TOPIC" default:"billing-transactions"`
	TaskPriceStreamTopic       string `envconfig:"BILLING_PUBSUB_TASK_PRICE_STREAM_TOPIC" default:"task-price-stream"`
	AccountsStreamSubscription string `envconfig:"BILLING_PUBSUB_ACCOUNTS_STREAM_SUBSCRIPTION" required:"true"`
	AccountsSubscription       string `envconfig:"BILLING_PUBSUB_ACCOUNTS_SUBSCRIPTION" required:"true"`
	TaskStreamSubscription     string `envconfig:"BILLING_PUBSUB_TASK_STREAM_SUBSCRIPTION" required:"true"`
	TaskLifecycleSubscription  string `envconfig:"BILLING_PUBSUB_TASK_LIFECYCLE_SUBSCRIPTION" required:"true"`
}

// ConsumedSubscriptions lists every subscription the consumer worker pulls from,
// in the order the handlers expect.
func (p PubSubConfig) ConsumedSubscriptions() []string {
	return []string{
		p.AccountsStreamSubscription,
		p.AccountsSubscription,
		p.TaskStreamSubscription,
		p.TaskLifecycleSubscription,
	}
}

type SchemasConfig struct {
	Directory string `envconfig:"BILLING_SCHEMAS_DIRECTORY" default:"schemas"`
	Producer  string `envconfig:"BILLING_EVENT_PRODUCER_NAME" default:"accounting"`
	Group     string `envconfig:"BILLING_CONSUMER_GROUP" default:"accounting"`
}

type SettlementConfig struct {
	Interval time.Duration `envconfig:"BILLING_SETTLEMENT_INTERVAL" default:"24h"`
	LockTTL  time.Duration `envconfig:"BILLING_SETTLEMENT_LOCK_TTL" default:"1h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BILLING_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BILLING_AUTO_MIGRATE" default:"false"`
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
