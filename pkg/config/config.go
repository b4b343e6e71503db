package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "BOUTIQUE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	JWT    JWTConfig
	Stripe StripeConfig
	SMTP   SMTPConfig
	Shop   ShopConfig
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
	Env          string `envconfig:"BOUTIQUE_APP_ENV" required:"true"`
	Port         string `envconfig:"BOUTIQUE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"BOUTIQUE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BOUTIQUE_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"BOUTIQUE_AUTO_MIGRATE" default:"false"`

	CORSOrigins []string `envconfig:"BOUTIQUE_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"BOUTIQUE_DB_DSN"`

	Host     string `envconfig:"BOUTIQUE_DB_HOST"`
	Port     int    `envconfig:"BOUTIQUE_DB_PORT" default:"5432"`
	User     string `envconfig:"BOUTIQUE_DB_USER"`
	Password string `envconfig:"BOUTIQUE_DB_PASSWORD"`
	Name     string `envconfig:"BOUTIQUE_DB_NAME"`
	SSLMode  string `envconfig:"BOUTIQUE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BOUTIQUE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BOUTIQUE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BOUTIQUE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BOUTIQUE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BOUTIQUE_REDIS_URL"`
	Address      string        `envconfig:"BOUTIQUE_REDIS_ADDR"`
	Password     string        `envconfig:"BOUTIQUE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BOUTIQUE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BOUTIQUE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BOUTIQUE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BOUTIQUE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BOUTIQUE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BOUTIQUE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"BOUTIQUE_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"BOUTIQUE_JWT_ISSUER" default:"boutique"`
}

type StripeConfig struct {
	APIKey string `envconfig:"BOUTIQUE_STRIPE_API_KEY"`
	Secret string `envconfig:"BOUTIQUE_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"BOUTIQUE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SMTPConfig struct {
	Host     string `envconfig:"BOUTIQUE_SMTP_HOST"`
	Port     string `envconfig:"BOUTIQUE_SMTP_PORT" default:"587"`
	Username string `envconfig:"BOUTIQUE_SMTP_USERNAME"`
	Password string `envconfig:"BOUTIQUE_SMTP_PASSWORD"`
	Sender   string `envconfig:"BOUTIQUE_SMTP_SENDER"`
}

type ShopConfig struct {
	OwnerEmail  string `envconfig:"BOUTIQUE_SHOP_OWNER_EMAIL" required:"true"`
	BaseURL     string `envconfig:"BOUTIQUE_SHOP_BASE_URL" default:"http://localhost:3000"`
	AdminURL    string `envconfig:"BOUTIQUE_SHOP_ADMIN_URL" default:"http://localhost:3000/admin"`
	SuccessPath string `envconfig:"BOUTIQUE_SHOP_SUCCESS_PATH" default:"/commande/livraison"`
	CancelPath  string `envconfig:"BOUTIQUE_SHOP_CANCEL_PATH" default:"/panier"`
	Currency    string `envconfig:"BOUTIQUE_SHOP_CURRENCY" default:"eur"`
}

// SuccessURL is where Stripe redirects the buyer after payment. The session id
// placeholder is substituted by Stripe itself.
func (s ShopConfig) SuccessURL() string {
	return s.BaseURL + s.SuccessPath + "?session_id={CHECKOUT_SESSION_ID}"
}

func (s ShopConfig) CancelURL() string {
	return s.BaseURL + s.CancelPath
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	for env, val := range map[string]string{
		"BOUTIQUE_DB_HOST": db.Host,
		"BOUTIQUE_DB_USER": db.User,
		"BOUTIQUE_DB_NAME": db.Name,
	} {
		if val == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either BOUTIQUE_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
