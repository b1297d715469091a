package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"linkdrop/internal/models"
	"linkdrop/internal/service"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS messages (
	token TEXT PRIMARY KEY,
	recipient TEXT NOT NULL,
	subject TEXT NOT NULL,
	text TEXT NOT NULL,
	image_path TEXT,
	image_url TEXT,
	image_content_type TEXT,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	token TEXT PRIMARY KEY,
	recipient TEXT NOT NULL,
	subject TEXT NOT NULL,
	text TEXT NOT NULL,
	image_path TEXT,
	image_url TEXT,
	image_content_type TEXT,
	expires_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);`

type SQLRepo struct {
	db *sqlx.DB
}

var _ service.MessageRepository = (*SQLRepo)(nil)

// Open connects with driver "postgres" or "sqlite" and pings the database.
func Open(ctx context.Context, driver, dsn string) (*SQLRepo, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		// One writer at a time; avoids SQLITE_BUSY under concurrent requests.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &SQLRepo{db: db}, nil
}

// Migrate ensures the messages table exists.
func (r *SQLRepo) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if r.db.DriverName() == "postgres" {
		schema = postgresSchema
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure messages table exists: %w", err)
	}
	return nil
}

func (r *SQLRepo) Create(ctx context.Context, msg *models.Message) error {
	query := `INSERT INTO messages
	          (token, recipient, subject, text, image_path, image_url, image_content_type, expires_at, created_at)
	          VALUES (:token, :recipient, :subject, :text, :image_path, :image_url, :image_content_type, :expires_at, :created_at)`
	_, err := r.db.NamedExecContext(ctx, query, msg)
	return err
}

func (r *SQLRepo) FindByToken(ctx context.Context, token string) (*models.Message, error) {
	query := r.db.Rebind(`SELECT token, recipient, subject, text, image_path, image_url, image_content_type, expires_at, created_at
	          FROM messages
	          WHERE token = ?`)
	var msg models.Message
	if err := r.db.GetContext(ctx, &msg, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *SQLRepo) Delete(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM messages WHERE token = ?`), token)
	return err
}

func (r *SQLRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepo) Close() error {
	return r.db.Close()
}
