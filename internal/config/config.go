package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderACS  = "acs"
	ProviderSMTP = "smtp"
	ProviderLog  = "log"

	StoreLocal = "local"
	StoreS3    = "s3"

	// SMTP transport security. Auto uses implicit TLS on 465 and STARTTLS when the relay offers it.
	SMTPSecurityAuto     = "auto"
	SMTPSecurityStartTLS = "starttls"
	SMTPSecurityTLS      = "tls"
	SMTPSecurityNone     = "none"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// azureDataDir is the persistent volume on Azure App Service for Linux.
	azureDataDir = "/home/site/data"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Email    EmailConfig
	Redis    RedisConfig
	Limits   LimitsConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	BaseURL         string        `envconfig:"BASE_URL"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	Debug           bool          `envconfig:"DEBUG" default:"false"`
}

type DatabaseConfig struct {
	Driver string `envconfig:"DB_DRIVER" default:"sqlite"`
	URL    string `envconfig:"DATABASE_URL"`
}

type StorageConfig struct {
	DataDir string `envconfig:"DATA_DIR"`
	Backend string `envconfig:"IMAGE_STORE" default:"local"`
	S3      S3Config
}

type S3Config struct {
	Bucket          string `envconfig:"S3_BUCKET"`
	Region          string `envconfig:"S3_REGION" default:"auto"`
	Endpoint        string `envconfig:"S3_ENDPOINT"`
	Prefix          string `envconfig:"S3_PREFIX" default:"uploads/"`
	AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
}

type EmailConfig struct {
	Provider         string        `envconfig:"EMAIL_PROVIDER" default:"acs"`
	ConnectionString string        `envconfig:"ACS_EMAIL_CONNECTION_STRING"`
	From             string        `envconfig:"FROM_EMAIL"`
	PollTimeout      time.Duration `envconfig:"EMAIL_POLL_TIMEOUT" default:"2m"`
	SMTPHost         string        `envconfig:"SMTP_HOST"`
	SMTPPort         int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser         string        `envconfig:"SMTP_USER"`
	SMTPPassword     string        `envconfig:"SMTP_PASSWORD"`
	SMTPSecurity     string        `envconfig:"SMTP_SECURITY" default:"auto"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type LimitsConfig struct {
	MaxTTL         time.Duration `envconfig:"MAX_TTL" default:"720h"`
	MaxUploadBytes int64         `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
}

// Load reads .env (if present) and then the process environment.
// Variables already set in the environment win over .env values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.DataDir == "" {
		if os.Getenv("WEBSITE_SITE_NAME") != "" {
			c.Storage.DataDir = azureDataDir
		} else {
			c.Storage.DataDir = "data"
		}
	}
	if c.Database.URL == "" && c.Database.Driver == DriverSQLite {
		c.Database.URL = SQLiteDSN(filepath.Join(c.Storage.DataDir, "app.db"))
	}
}

// SQLiteDSN builds a modernc sqlite DSN with a busy timeout and a stable time format.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// UploadDir is where the local image store keeps files.
func (c *Config) UploadDir() string {
	return filepath.Join(c.Storage.DataDir, "uploads")
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required for DB_DRIVER=%s", c.Database.Driver)
	}

	switch c.Storage.Backend {
	case StoreLocal:
	case StoreS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for IMAGE_STORE=s3")
		}
	default:
		return fmt.Errorf("unsupported IMAGE_STORE %q", c.Storage.Backend)
	}

	switch c.Email.Provider {
	case ProviderACS:
		if c.Email.ConnectionString == "" || c.Email.From == "" {
			return fmt.Errorf("missing ACS_EMAIL_CONNECTION_STRING or FROM_EMAIL")
		}
	case ProviderSMTP:
		if c.Email.SMTPHost == "" || c.Email.From == "" {
			return fmt.Errorf("missing SMTP_HOST or FROM_EMAIL")
		}
		switch c.Email.SMTPSecurity {
		case SMTPSecurityAuto, SMTPSecurityStartTLS, SMTPSecurityTLS, SMTPSecurityNone:
		default:
			return fmt.Errorf("unsupported SMTP_SECURITY %q", c.Email.SMTPSecurity)
		}
	case ProviderLog:
	default:
		return fmt.Errorf("unsupported EMAIL_PROVIDER %q", c.Email.Provider)
	}

	if c.Limits.MaxTTL <= 0 {
		return fmt.Errorf("MAX_TTL must be positive")
	}
	if c.Limits.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Database.URL = mask(c.Database.URL)
	c.Storage.S3.SecretAccessKey = mask(c.Storage.S3.SecretAccessKey)
	c.Email.ConnectionString = mask(c.Email.ConnectionString)
	c.Email.SMTPPassword = mask(c.Email.SMTPPassword)
	c.Redis.Password = mask(c.Redis.Password)
	return c
}
