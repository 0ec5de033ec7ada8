package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/model"
)

const DefaultOtpLifetime = 600 * time.Second

// OtpExchange hands out single-use tokens that stand in for a parent
// AuthToken on one later request.
type OtpExchange struct {
	store    db.Store
	lifetime time.Duration
	now      func() time.Time
}

func NewOtpExchange(store db.Store, lifetime time.Duration) *OtpExchange {
	if lifetime <= 0 {
		lifetime = DefaultOtpLifetime
	}
	return &OtpExchange{store: store, lifetime: lifetime, now: time.Now}
}

// Generate drops the expired OTPs of token and creates a new one.
func (x *OtpExchange) Generate(ctx context.Context, token *model.AuthToken) (string, error) {
	if token == nil {
		return "", ErrInvalidInput
	}
	now := x.now()
	if _, err := x.store.DeleteExpiredOtps(ctx, token.ID, now); err != nil {
		return "", err
	}

	str, err := newOtpString()
	if err != nil {
		return "", err
	}
	otp, err := x.store.InsertOtp(ctx, &model.OtpToken{
		Token:       str,
		AuthTokenID: token.ID,
		ExpireAt:    now.Add(x.lifetime),
	})
	if err != nil {
		return "", err
	}
	return otp.Token, nil
}

// Redeem consumes otp and returns the owner and the parent token. The OTP
// is deleted on every attempt that finds it, expired or not.
func (x *OtpExchange) Redeem(ctx context.Context, otp string) (*model.User, *model.AuthToken, error) {
	var (
		found  *model.OtpToken
		parent *model.AuthToken
		owner  *model.User
	)
	err := x.store.InTx(ctx, func(q db.Queries) error {
		o, t, err := q.GetOtp(ctx, otp)
		if err != nil {
			return err
		}
		if err := q.DeleteOtp(ctx, o.ID); err != nil {
			return err
		}
		u, err := q.GetUserByID(ctx, t.UserID)
		if err != nil {
			return err
		}
		found, parent, owner = o, t, u
		return nil
	})
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil, ErrOtpNotFound
		}
		return nil, nil, err
	}
	if found.IsExpired(x.now()) {
		return nil, nil, ErrOtpExpired
	}
	return owner, parent, nil
}

func newOtpString() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
