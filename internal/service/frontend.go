package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/model"
	"github.com/appity/backend/internal/session"
)

// SessionManager issues and rotates frontend tokens bound to browser
// sessions. At most one frontend token exists per (user, session).
type SessionManager struct {
	store    db.Store
	sessions *session.Store
	policy   SessionPolicy
	logger   *slog.Logger
	now      func() time.Time
}

func NewSessionManager(store db.Store, sessions *session.Store, policy SessionPolicy, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		store:    store,
		sessions: sessions,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *SessionManager) Policy() SessionPolicy {
	return m.policy
}

// InitializeFrontendToken returns the live frontend token of user for
// sessionKey. A zero ttl uses the short session duration. An existing live
// token is returned unchanged; an expired one is replaced.
func (m *SessionManager) InitializeFrontendToken(ctx context.Context, user *model.User, sessionKey string, ttl time.Duration) (*model.AuthToken, error) {
	if sessionKey == "" {
		return nil, ErrNoSession
	}
	var out *model.AuthToken
	err := m.store.InTx(ctx, func(q db.Queries) error {
		if err := q.LockUserTokens(ctx, user.ID); err != nil {
			return err
		}
		tok, err := m.initializeFrontendTokenTx(ctx, q, user, sessionKey, ttl)
		out = tok
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *SessionManager) initializeFrontendTokenTx(ctx context.Context, q db.Queries, user *model.User, sessionKey string, ttl time.Duration) (*model.AuthToken, error) {
	if ttl <= 0 {
		ttl = m.policy.Duration(false)
	}
	now := m.now()
	expireAt := now.Add(ttl)

	tok, created, err := getOrCreateToken(ctx, q, user, true, &sessionKey, &expireAt)
	if err != nil {
		return nil, err
	}
	if created || !tok.IsExpired(now) {
		return tok, nil
	}

	if err := q.DeleteToken(ctx, tok.ID); err != nil {
		return nil, err
	}
	tok, _, err = getOrCreateToken(ctx, q, user, true, &sessionKey, &expireAt)
	return tok, err
}

// ExtendFrontendSession moves the request to a new session key holding the
// same data and a new frontend token. The old session and its tokens are
// removed only after the new token and session are saved.
func (m *SessionManager) ExtendFrontendSession(ctx context.Context, user *model.User, token *model.AuthToken, sess *session.Session, remember bool) (*model.AuthToken, error) {
	if token == nil || !token.Frontend {
		return nil, fmt.Errorf("%w: cannot extend session for non-frontend token", ErrConflict)
	}
	oldKey := sess.Key()

	// the target's token stays with the old key, so impersonation ends here
	if sess.Has(session.KeyImpersonate) || sess.Has(session.KeyImpersonator) {
		sess.Delete(session.KeyImpersonate)
		sess.Delete(session.KeyImpersonator)
		sess.Delete(session.KeyActiveClientID)
	}
	if remember {
		sess.SetExpiry(m.policy.Seconds(true))
	} else {
		sess.SetExpiry(0)
	}
	if err := sess.Create(ctx); err != nil {
		return nil, err
	}

	tok, err := m.InitializeFrontendToken(ctx, user, sess.Key(), m.policy.Duration(remember))
	if err != nil {
		_ = m.sessions.Destroy(ctx, sess.Key())
		return nil, err
	}
	sess.Set(session.KeyToken, tok.Token)
	if err := sess.Save(ctx); err != nil {
		_ = m.store.DeleteToken(ctx, tok.ID)
		return nil, err
	}

	if oldKey != "" {
		m.dropSession(ctx, oldKey)
	}
	return tok, nil
}

// TokenLogin resets sess, binds it to user and stores a fresh frontend
// token in it. A ttl longer than the short duration makes the session
// outlive the browser.
func (m *SessionManager) TokenLogin(ctx context.Context, sess *session.Session, user *model.User, ttl time.Duration) (*model.AuthToken, error) {
	oldKey, err := sess.Flush(ctx)
	if err != nil {
		return nil, err
	}
	if oldKey != "" {
		m.dropSession(ctx, oldKey)
	}

	if ttl <= 0 {
		ttl = m.policy.Duration(false)
	}
	if ttl > m.policy.Duration(false) {
		sess.SetExpiry(int(ttl / time.Second))
	} else {
		sess.SetExpiry(0)
	}
	sess.SetInt64(session.KeyUserID, user.ID)
	if err := sess.Save(ctx); err != nil {
		return nil, err
	}

	tok, err := m.InitializeFrontendToken(ctx, user, sess.Key(), ttl)
	if err != nil {
		return nil, err
	}
	sess.Set(session.KeyToken, tok.Token)
	if err := sess.Save(ctx); err != nil {
		return nil, err
	}
	return tok, nil
}

// Logout deletes token, if any, then flushes sess along with every token
// bound to it.
func (m *SessionManager) Logout(ctx context.Context, sess *session.Session, token *model.AuthToken) error {
	if token != nil {
		if err := m.store.DeleteToken(ctx, token.ID); err != nil {
			return err
		}
	}
	if sess == nil {
		return nil
	}
	oldKey, err := sess.Flush(ctx)
	if err != nil {
		return err
	}
	if oldKey != "" {
		if _, err := m.store.DeleteSessionTokens(ctx, oldKey); err != nil {
			return err
		}
	}
	return nil
}

func (m *SessionManager) dropSession(ctx context.Context, key string) {
	if err := m.sessions.Destroy(ctx, key); err != nil {
		m.logger.WarnContext(ctx, "failed to destroy old session", "error", err)
	}
	if _, err := m.store.DeleteSessionTokens(ctx, key); err != nil {
		m.logger.WarnContext(ctx, "failed to delete old session tokens", "error", err)
	}
}
