package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "log")
	t.Setenv("WEBSITE_SITE_NAME", "")
	t.Setenv("DATA_DIR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data", cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join("data", "uploads"), cfg.UploadDir())
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, SQLiteDSN(filepath.Join("data", "app.db")), cfg.Database.URL)
	assert.Equal(t, StoreLocal, cfg.Storage.Backend)
	assert.Equal(t, 720*time.Hour, cfg.Limits.MaxTTL)
	assert.Equal(t, int64(10<<20), cfg.Limits.MaxUploadBytes)
	assert.Equal(t, 2*time.Minute, cfg.Email.PollTimeout)
}

func TestLoadAzureDataDir(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "log")
	t.Setenv("DATA_DIR", "")
	t.Setenv("WEBSITE_SITE_NAME", "my-site")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/home/site/data", cfg.Storage.DataDir)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_URL", "https://links.example.com")
	t.Setenv("DATA_DIR", "/srv/linkdrop")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/linkdrop?sslmode=disable")
	t.Setenv("IMAGE_STORE", "s3")
	t.Setenv("S3_BUCKET", "images")
	t.Setenv("EMAIL_PROVIDER", "acs")
	t.Setenv("ACS_EMAIL_CONNECTION_STRING", "endpoint=https://x.communication.azure.com/;accesskey=c2VjcmV0")
	t.Setenv("FROM_EMAIL", "DoNotReply@example.com")
	t.Setenv("MAX_TTL", "24h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://links.example.com", cfg.Server.BaseURL)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "images", cfg.Storage.S3.Bucket)
	assert.Equal(t, "uploads/", cfg.Storage.S3.Prefix)
	assert.Equal(t, "DoNotReply@example.com", cfg.Email.From)
	assert.Equal(t, 24*time.Hour, cfg.Limits.MaxTTL)

	red := cfg.Redacted()
	assert.Equal(t, "***", red.Email.ConnectionString)
	assert.Equal(t, "***", red.Database.URL)
	assert.NotEqual(t, "***", cfg.Email.ConnectionString)
}

func TestValidate(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	t.Setenv("WEBSITE_SITE_NAME", "")

	t.Run("acs needs connection string", func(t *testing.T) {
		t.Setenv("EMAIL_PROVIDER", "acs")
		t.Setenv("ACS_EMAIL_CONNECTION_STRING", "")
		t.Setenv("FROM_EMAIL", "a@example.com")
		_, err := Load()
		assert.ErrorContains(t, err, "ACS_EMAIL_CONNECTION_STRING")
	})

	t.Run("postgres needs url", func(t *testing.T) {
		t.Setenv("EMAIL_PROVIDER", "log")
		t.Setenv("DB_DRIVER", "postgres")
		t.Setenv("DATABASE_URL", "")
		_, err := Load()
		assert.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("unknown store", func(t *testing.T) {
		t.Setenv("EMAIL_PROVIDER", "log")
		t.Setenv("IMAGE_STORE", "ftp")
		_, err := Load()
		assert.ErrorContains(t, err, "IMAGE_STORE")
	})

	t.Run("unknown smtp security", func(t *testing.T) {
		t.Setenv("EMAIL_PROVIDER", "smtp")
		t.Setenv("SMTP_HOST", "smtp.example.com")
		t.Setenv("FROM_EMAIL", "a@example.com")
		t.Setenv("SMTP_SECURITY", "ssl")
		_, err := Load()
		assert.ErrorContains(t, err, "SMTP_SECURITY")
	})
}
