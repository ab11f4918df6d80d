package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMongo    = "mongo"

	SMSDriverLog    = "log"
	SMSDriverTwilio = "twilio"

	defaultAccessTokenExpiry  = 15 * time.Minute
	defaultRefreshTokenExpiry = 30 * 24 * time.Hour
)

type Config struct {
	Server   ServerConfig   `env:",prefix=SERVER_"`
	Storage  StorageConfig  `env:",prefix=STORAGE_"`
	Postgres PostgresConfig `env:",prefix=POSTGRES_"`
	Mongo    MongoConfig    `env:",prefix=MONGO_"`
	Redis    RedisConfig    `env:",prefix=REDIS_"`
	JWT      JWTConfig      `env:",prefix=JWT_"`
	OTP      OTPConfig      `env:",prefix=OTP_"`
	SMS      SMSConfig      `env:",prefix=SMS_"`
	Security SecurityConfig `env:",prefix="`
	CORS     CORSConfig     `env:",prefix=CORS_"`
	Cleanup  CleanupConfig  `env:",prefix=CLEANUP_"`
	Env      string         `env:"ENV,default=development"`
}

type ServerConfig struct {
	Port         string   `env:"PORT,default=8080"`
	Host         string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout  Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout Duration `env:"WRITE_TIMEOUT,default=15s"`
	// TrustedProxies lists the proxy IPs or CIDRs whose X-Forwarded-For is
	// believed. Empty means the peer address is the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

type StorageConfig struct {
	Driver string `env:"DRIVER,default=postgres"`
}

type PostgresConfig struct {
	Host        string `env:"HOST,default=localhost"`
	Port        string `env:"PORT,default=5432"`
	User        string `env:"USER,default=servicehub"`
	Password    string `env:"PASSWORD,default=servicehub_password"`
	DBName      string `env:"DB,default=servicehub_auth"`
	SSLMode     string `env:"SSLMODE,default=disable"`
	AutoMigrate bool   `env:"AUTO_MIGRATE,default=true"`

	MaxOpenConns    int      `env:"MAX_OPEN_CONNS,default=25"`
	MaxIdleConns    int      `env:"MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime Duration `env:"CONN_MAX_LIFETIME,default=30m"`
}

type MongoConfig struct {
	URI      string   `env:"URI,default=mongodb://localhost:27017"`
	Database string   `env:"DATABASE,default=servicehub"`
	Timeout  Duration `env:"TIMEOUT,default=10s"`
}

type RedisConfig struct {
	Host        string   `env:"HOST,default=localhost"`
	Port        string   `env:"PORT,default=6379"`
	Password    string   `env:"PASSWORD,default="`
	DB          int      `env:"DB,default=0"`
	PoolSize    int      `env:"POOL_SIZE,default=0"`
	DialTimeout Duration `env:"DIAL_TIMEOUT,default=5s"`
}

type JWTConfig struct {
	Access  TokenConfig `env:",prefix=ACCESS_"`
	Refresh TokenConfig `env:",prefix=REFRESH_"`
}

type TokenConfig struct {
	Secret string   `env:"SECRET,required"`
	Expiry Duration `env:"EXPIRY"`
}

// OTPConfig holds the passcode policy knobs.
type OTPConfig struct {
	Expiry             Duration `env:"EXPIRY,default=10m"`
	ResendCooldownBase Duration `env:"RESEND_COOLDOWN_BASE,default=60s"`
	MaxCooldown        Duration `env:"MAX_COOLDOWN,default=10m"`
	MaxSendPerHour     int      `env:"MAX_SEND_PER_HOUR,default=5"`
	MaxVerifyAttempts  int      `env:"MAX_VERIFY_ATTEMPTS,default=3"`
	BlockDuration      Duration `env:"BLOCK_DURATION,default=1h"`
	CodeLength         int      `env:"CODE_LENGTH,default=4"`
	HashCost           int      `env:"HASH_COST,default=10"`
}

type SMSConfig struct {
	Driver        string       `env:"DRIVER,default=log"`
	Timeout       Duration     `env:"TIMEOUT,default=10s"`
	RatePerSecond float64      `env:"RATE_PER_SECOND,default=10"`
	Burst         int          `env:"BURST,default=20"`
	Twilio        TwilioConfig `env:",prefix=TWILIO_"`
}

type TwilioConfig struct {
	AccountSID string `env:"ACCOUNT_SID"`
	AuthToken  string `env:"AUTH_TOKEN"`
	From       string `env:"FROM"`
	BaseURL    string `env:"BASE_URL,default=https://api.twilio.com"`
}

type SecurityConfig struct {
	RateLimitRequests int      `env:"RATE_LIMIT_REQUESTS,default=10"`
	RateLimitWindow   Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	AllowedMethods []string `env:"ALLOWED_METHODS,default=GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders []string `env:"ALLOWED_HEADERS,default=Content-Type,Authorization"`
}

type CleanupConfig struct {
	Interval Duration `env:"INTERVAL,default=15m"`
}

// DSN returns PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// URL returns the PostgreSQL connection URL used by the migrator
func (p PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     "/" + p.DBName,
		RawQuery: url.Values{"sslmode": []string{p.SSLMode}}.Encode(),
	}
	return u.String()
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	// .env is optional; variables already present in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	var config Config

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.applyTokenDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadWithDefaults loads configuration with default context
func LoadWithDefaults() (*Config, error) {
	return Load(context.Background())
}

func (c *Config) applyTokenDefaults() {
	if c.JWT.Access.Expiry.Duration == 0 {
		c.JWT.Access.Expiry.Duration = defaultAccessTokenExpiry
	}
	if c.JWT.Refresh.Expiry.Duration == 0 {
		c.JWT.Refresh.Expiry.Duration = defaultRefreshTokenExpiry
	}
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if len(c.JWT.Access.Secret) < 32 {
		return fmt.Errorf("JWT_ACCESS_SECRET must be at least 32 characters long")
	}
	if len(c.JWT.Refresh.Secret) < 32 {
		return fmt.Errorf("JWT_REFRESH_SECRET must be at least 32 characters long")
	}
	if c.JWT.Access.Secret == c.JWT.Refresh.Secret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMongo:
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}

	switch c.SMS.Driver {
	case SMSDriverLog:
	case SMSDriverTwilio:
		if c.SMS.Twilio.AccountSID == "" || c.SMS.Twilio.AuthToken == "" || c.SMS.Twilio.From == "" {
			return fmt.Errorf("SMS_TWILIO_ACCOUNT_SID, SMS_TWILIO_AUTH_TOKEN and SMS_TWILIO_FROM are required for the twilio driver")
		}
	default:
		return fmt.Errorf("unsupported SMS_DRIVER %q", c.SMS.Driver)
	}

	if c.OTP.CodeLength < 4 || c.OTP.CodeLength > 8 {
		return fmt.Errorf("OTP_CODE_LENGTH must be between 4 and 8, got %d", c.OTP.CodeLength)
	}
	if c.OTP.MaxSendPerHour < 1 {
		return fmt.Errorf("OTP_MAX_SEND_PER_HOUR must be positive")
	}
	if c.OTP.MaxVerifyAttempts < 1 {
		return fmt.Errorf("OTP_MAX_VERIFY_ATTEMPTS must be positive")
	}
	if c.OTP.Expiry.Duration <= 0 || c.OTP.ResendCooldownBase.Duration <= 0 || c.OTP.BlockDuration.Duration <= 0 {
		return fmt.Errorf("OTP_EXPIRY, OTP_RESEND_COOLDOWN_BASE and OTP_BLOCK_DURATION must be positive")
	}
	if c.OTP.MaxCooldown.Duration < c.OTP.ResendCooldownBase.Duration {
		return fmt.Errorf("OTP_MAX_COOLDOWN must not be shorter than OTP_RESEND_COOLDOWN_BASE")
	}

	for _, p := range c.Server.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("SERVER_TRUSTED_PROXIES entry %q is neither an IP nor a CIDR", p)
			}
		}
	}

	return nil
}
