package db

import (
	"context"

	"github.com/appity/backend/internal/model"
)

type queries struct {
	q dbtx
}

func (db *Postgres) EnsureAuthSchema(ctx context.Context) error {
	stmts := []string{
		`
		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN DEFAULT TRUE,
			is_staff BOOLEAN NOT NULL DEFAULT FALSE,
			is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS auth_tokens (
			id BIGSERIAL PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expire_at TIMESTAMPTZ,
			frontend BOOLEAN NOT NULL DEFAULT FALSE,
			session_key TEXT,
			display_name TEXT
		)
		`,
		`CREATE INDEX IF NOT EXISTS auth_tokens_user_id_idx ON auth_tokens(user_id)`,
		`CREATE INDEX IF NOT EXISTS auth_tokens_session_key_idx ON auth_tokens(session_key)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS auth_tokens_frontend_session_idx ON auth_tokens(user_id, session_key) WHERE frontend`,
		`
		CREATE TABLE IF NOT EXISTS otp_tokens (
			id BIGSERIAL PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			auth_token_id BIGINT NOT NULL REFERENCES auth_tokens(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expire_at TIMESTAMPTZ NOT NULL
		)
		`,
		`CREATE INDEX IF NOT EXISTS otp_tokens_auth_token_id_idx ON otp_tokens(auth_token_id)`,
	}

	for _, query := range stmts {
		if _, err := db.Pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

const userColumns = `id, email, password_hash, first_name, last_name, language, is_active, is_staff, is_superuser, created_at, updated_at`

func scanUser(row interface{ Scan(dest ...any) error }) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Language,
		&user.IsActive,
		&user.IsStaff,
		&user.IsSuperuser,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (db *queries) CreateUser(ctx context.Context, user *model.User) (*model.User, error) {
	query := `
		INSERT INTO users (email, password_hash, first_name, last_name, language, is_active, is_staff, is_superuser, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING ` + userColumns
	return scanUser(db.q.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Language,
		user.IsActive,
		user.IsStaff,
		user.IsSuperuser,
	))
}

func (db *queries) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(db.q.QueryRow(ctx, query, email))
}

func (db *queries) GetUserByID(ctx context.Context, userID int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.q.QueryRow(ctx, query, userID))
}
