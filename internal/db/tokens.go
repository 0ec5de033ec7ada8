package db

import (
	"context"
	"time"

	"github.com/appity/backend/internal/model"
)

const tokenColumns = `id, token, user_id, created_at, expire_at, frontend, session_key, display_name`

func scanToken(row interface{ Scan(dest ...any) error }) (*model.AuthToken, error) {
	var token model.AuthToken
	err := row.Scan(
		&token.ID,
		&token.Token,
		&token.UserID,
		&token.CreatedAt,
		&token.ExpireAt,
		&token.Frontend,
		&token.SessionKey,
		&token.DisplayName,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

func (db *queries) LockUserTokens(ctx context.Context, userID int64) error {
	_, err := db.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1::bigint)`, userID)
	return err
}

func (db *queries) GetToken(ctx context.Context, token string, sessionKey *string) (*model.AuthToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM auth_tokens
		WHERE token = $1 AND session_key IS NOT DISTINCT FROM $2::text
	`
	return scanToken(db.q.QueryRow(ctx, query, token, sessionKey))
}

func (db *queries) FindToken(ctx context.Context, userID int64, frontend bool, sessionKey *string) (*model.AuthToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM auth_tokens
		WHERE user_id = $1 AND frontend = $2 AND session_key IS NOT DISTINCT FROM $3::text
		ORDER BY id
		LIMIT 1
	`
	return scanToken(db.q.QueryRow(ctx, query, userID, frontend, sessionKey))
}

func (db *queries) InsertToken(ctx context.Context, token *model.AuthToken) (*model.AuthToken, error) {
	query := `
		INSERT INTO auth_tokens (token, user_id, created_at, expire_at, frontend, session_key, display_name)
		VALUES ($1, $2, NOW(), $3, $4, $5, $6)
		RETURNING ` + tokenColumns
	return scanToken(db.q.QueryRow(ctx, query,
		token.Token,
		token.UserID,
		token.ExpireAt,
		token.Frontend,
		token.SessionKey,
		token.DisplayName,
	))
}

func (db *queries) DeleteToken(ctx context.Context, id int64) error {
	_, err := db.q.Exec(ctx, `DELETE FROM auth_tokens WHERE id = $1`, id)
	return err
}

func (db *queries) DeleteFrontendToken(ctx context.Context, userID int64, sessionKey string) error {
	_, err := db.q.Exec(ctx, `
		DELETE FROM auth_tokens
		WHERE user_id = $1 AND frontend AND session_key = $2
	`, userID, sessionKey)
	return err
}

func (db *queries) DeleteSessionTokens(ctx context.Context, sessionKey string) (int64, error) {
	tag, err := db.q.Exec(ctx, `DELETE FROM auth_tokens WHERE session_key = $1`, sessionKey)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (db *queries) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.q.Exec(ctx, `
		DELETE FROM auth_tokens
		WHERE expire_at IS NOT NULL AND expire_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (db *queries) ListFrontendSessionKeys(ctx context.Context) ([]string, error) {
	rows, err := db.q.Query(ctx, `
		SELECT DISTINCT session_key
		FROM auth_tokens
		WHERE frontend AND session_key IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (db *queries) InsertOtp(ctx context.Context, otp *model.OtpToken) (*model.OtpToken, error) {
	query := `
		INSERT INTO otp_tokens (token, auth_token_id, created_at, expire_at)
		VALUES ($1, $2, NOW(), $3)
		RETURNING id, token, auth_token_id, created_at, expire_at
	`
	var out model.OtpToken
	err := db.q.QueryRow(ctx, query, otp.Token, otp.AuthTokenID, otp.ExpireAt).Scan(
		&out.ID,
		&out.Token,
		&out.AuthTokenID,
		&out.CreatedAt,
		&out.ExpireAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (db *queries) GetOtp(ctx context.Context, otp string) (*model.OtpToken, *model.AuthToken, error) {
	query := `
		SELECT o.id, o.token, o.auth_token_id, o.created_at, o.expire_at,
			t.id, t.token, t.user_id, t.created_at, t.expire_at, t.frontend, t.session_key, t.display_name
		FROM otp_tokens o
		JOIN auth_tokens t ON t.id = o.auth_token_id
		WHERE o.token = $1
		FOR UPDATE OF o
	`
	var (
		o model.OtpToken
		t model.AuthToken
	)
	err := db.q.QueryRow(ctx, query, otp).Scan(
		&o.ID,
		&o.Token,
		&o.AuthTokenID,
		&o.CreatedAt,
		&o.ExpireAt,
		&t.ID,
		&t.Token,
		&t.UserID,
		&t.CreatedAt,
		&t.ExpireAt,
		&t.Frontend,
		&t.SessionKey,
		&t.DisplayName,
	)
	if err != nil {
		return nil, nil, translate(err)
	}
	return &o, &t, nil
}

func (db *queries) DeleteOtp(ctx context.Context, id int64) error {
	_, err := db.q.Exec(ctx, `DELETE FROM otp_tokens WHERE id = $1`, id)
	return err
}

func (db *queries) DeleteExpiredOtps(ctx context.Context, authTokenID int64, now time.Time) (int64, error) {
	tag, err := db.q.Exec(ctx, `
		DELETE FROM otp_tokens
		WHERE expire_at <= $2 AND ($1::bigint = 0 OR auth_token_id = $1::bigint)
	`, authTokenID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
