package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/model"
)

const tokenRandomBytes = 19

// SessionInfo is the part of a browser session the token layer reads.
type SessionInfo interface {
	Key() string
	ExpireAtBrowserClose() bool
}

type TokenService struct {
	store  db.Store
	policy SessionPolicy
	now    func() time.Time
}

func NewTokenService(store db.Store, policy SessionPolicy) *TokenService {
	return &TokenService{store: store, policy: policy, now: time.Now}
}

// Create returns the token for (user, frontend, sessionKey), inserting one
// without an expiry when none exists.
func (s *TokenService) Create(ctx context.Context, user *model.User, frontend bool, sessionKey *string) (*model.AuthToken, error) {
	var out *model.AuthToken
	err := s.store.InTx(ctx, func(q db.Queries) error {
		if err := q.LockUserTokens(ctx, user.ID); err != nil {
			return err
		}
		tok, _, err := getOrCreateToken(ctx, q, user, frontend, sessionKey, nil)
		out = tok
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the token. A token that is already gone is not an error.
func (s *TokenService) Delete(ctx context.Context, token *model.AuthToken) error {
	if token == nil {
		return nil
	}
	return s.store.DeleteToken(ctx, token.ID)
}

// CreateAPIToken issues a labelled, session-less token. ttl zero means the
// token never expires by time.
func (s *TokenService) CreateAPIToken(ctx context.Context, user *model.User, displayName string, ttl time.Duration) (*model.AuthToken, error) {
	str, err := newTokenString(user.Email)
	if err != nil {
		return nil, err
	}
	tok := &model.AuthToken{
		Token:       str,
		UserID:      user.ID,
		DisplayName: &displayName,
	}
	if ttl > 0 {
		expireAt := s.now().Add(ttl)
		tok.ExpireAt = &expireAt
	}
	return s.store.InsertToken(ctx, tok)
}

// Info describes token as seen from sess. Every field is nil unless the
// token is bound to that session.
func (s *TokenService) Info(token *model.AuthToken, sess SessionInfo) model.TokenInfo {
	if token == nil || sess == nil || sess.Key() == "" || !token.BoundTo(sess.Key()) {
		return model.TokenInfo{}
	}
	browserClose := sess.ExpireAtBrowserClose()
	short := s.policy.Seconds(false)
	long := s.policy.Seconds(true)
	return model.TokenInfo{
		Token:                &token.Token,
		ExpireAt:             token.ExpireAt,
		ExpireAtBrowserClose: &browserClose,
		ExpirySeconds:        token.ExpirySeconds(s.now()),
		ShortSessionSeconds:  &short,
		LongSessionSeconds:   &long,
	}
}

// getOrCreateToken must run inside a transaction holding the user's token
// lock. expireAt is only applied to a newly inserted token.
func getOrCreateToken(ctx context.Context, q db.Queries, user *model.User, frontend bool, sessionKey *string, expireAt *time.Time) (*model.AuthToken, bool, error) {
	tok, err := q.FindToken(ctx, user.ID, frontend, sessionKey)
	if err == nil {
		return tok, false, nil
	}
	if !db.IsNoRows(err) {
		return nil, false, err
	}

	str, err := newTokenString(user.Email)
	if err != nil {
		return nil, false, err
	}
	tok, err = q.InsertToken(ctx, &model.AuthToken{
		Token:      str,
		UserID:     user.ID,
		ExpireAt:   expireAt,
		Frontend:   frontend,
		SessionKey: sessionKey,
	})
	if err != nil {
		return nil, false, err
	}
	return tok, true, nil
}

// newTokenString is a two character hint taken from the email followed by
// hex encoded random bytes.
func newTokenString(email string) (string, error) {
	b := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return tokenHint(email) + hex.EncodeToString(b), nil
}

func tokenHint(email string) string {
	if len(email) < 2 {
		return "tk"
	}
	hint := email[:2]
	for i := 0; i < len(hint); i++ {
		c := hint[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return "tk"
		}
	}
	return hint
}
