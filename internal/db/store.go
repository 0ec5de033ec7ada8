package db

import (
	"context"
	"errors"
	"time"

	"github.com/appity/backend/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
)

// Queries is the user and token surface shared by pool-level calls and
// transactions. Lookups return ErrNotFound when nothing matches; deletes of
// missing rows succeed.
type Queries interface {
	CreateUser(ctx context.Context, user *model.User) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// LockUserTokens serializes token mutations for one user until the
	// surrounding transaction ends.
	LockUserTokens(ctx context.Context, userID int64) error
	// GetToken matches on the token string and the bound session; a nil
	// sessionKey only matches session-less tokens.
	GetToken(ctx context.Context, token string, sessionKey *string) (*model.AuthToken, error)
	FindToken(ctx context.Context, userID int64, frontend bool, sessionKey *string) (*model.AuthToken, error)
	InsertToken(ctx context.Context, token *model.AuthToken) (*model.AuthToken, error)
	DeleteToken(ctx context.Context, id int64) error
	DeleteFrontendToken(ctx context.Context, userID int64, sessionKey string) error
	DeleteSessionTokens(ctx context.Context, sessionKey string) (int64, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	ListFrontendSessionKeys(ctx context.Context) ([]string, error)

	InsertOtp(ctx context.Context, otp *model.OtpToken) (*model.OtpToken, error)
	// GetOtp returns the OTP row and its parent token, locking the OTP row
	// when called inside a transaction.
	GetOtp(ctx context.Context, otp string) (*model.OtpToken, *model.AuthToken, error)
	DeleteOtp(ctx context.Context, id int64) error
	// DeleteExpiredOtps removes expired OTPs of one parent token, or of all
	// tokens when authTokenID is zero.
	DeleteExpiredOtps(ctx context.Context, authTokenID int64, now time.Time) (int64, error)
}

type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}

func IsNoRows(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrDuplicate
	default:
		return err
	}
}
