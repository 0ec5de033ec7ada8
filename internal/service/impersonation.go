package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/model"
	"github.com/appity/backend/internal/session"
)

// Impersonation lets staff act as another user inside their own session.
// The impersonator keeps presenting their own token; the target gets a
// frontend token bound to the same session.
type Impersonation struct {
	store    db.Store
	sessions *SessionManager
}

func NewImpersonation(store db.Store, sessions *SessionManager) *Impersonation {
	return &Impersonation{store: store, sessions: sessions}
}

// Start replaces any frontend token target holds for sess with a fresh one
// and records both users in the session.
func (i *Impersonation) Start(ctx context.Context, impersonator, target *model.User, sess *session.Session) (*model.AuthToken, error) {
	if !impersonator.CanImpersonate() {
		return nil, ErrForbidden
	}
	if target.ID == impersonator.ID {
		return nil, fmt.Errorf("%w: cannot impersonate yourself", ErrInvalidInput)
	}
	if target.IsAdmin() {
		return nil, fmt.Errorf("%w: cannot impersonate staff", ErrForbidden)
	}
	if !target.Active() {
		return nil, fmt.Errorf("%w: user is inactive", ErrInvalidInput)
	}
	key := sess.Key()
	if key == "" {
		return nil, ErrNoSession
	}

	var tok *model.AuthToken
	err := i.store.InTx(ctx, func(q db.Queries) error {
		if err := q.LockUserTokens(ctx, target.ID); err != nil {
			return err
		}
		if err := q.DeleteFrontendToken(ctx, target.ID, key); err != nil {
			return err
		}
		t, err := i.sessions.initializeFrontendTokenTx(ctx, q, target, key, i.sessions.policy.Duration(false))
		tok = t
		return err
	})
	if err != nil {
		return nil, err
	}

	sess.SetInt64(session.KeyImpersonate, target.ID)
	sess.SetInt64(session.KeyImpersonator, impersonator.ID)
	sess.Delete(session.KeyActiveClientID)
	if err := sess.Save(ctx); err != nil {
		return nil, err
	}
	return tok, nil
}

// Stop clears the impersonation markers and the target's frontend token.
// A session that is not impersonating is left alone.
func (i *Impersonation) Stop(ctx context.Context, sess *session.Session) error {
	targetID, ok := sess.GetInt64(session.KeyImpersonate)
	if !ok {
		return nil
	}
	if key := sess.Key(); key != "" {
		if err := i.store.DeleteFrontendToken(ctx, targetID, key); err != nil {
			return err
		}
	}
	sess.Delete(session.KeyImpersonate)
	sess.Delete(session.KeyImpersonator)
	sess.Delete(session.KeyActiveClientID)
	return sess.Save(ctx)
}

// FrontendTokenForRequest returns the token that API calls on path should
// act with: the impersonated user's frontend token while impersonating,
// otherwise current. It returns nil when the target has no token.
func (i *Impersonation) FrontendTokenForRequest(ctx context.Context, path string, sess SessionReader, current *model.AuthToken) (*model.AuthToken, error) {
	if sess == nil || !strings.HasPrefix(path, "/api/") {
		return current, nil
	}
	if _, ok := sess.Get(session.KeyImpersonate); !ok {
		return current, nil
	}
	targetID, ok := sessionInt64(sess, session.KeyImpersonate)
	if !ok {
		return nil, nil
	}
	key := sess.Key()
	tok, err := i.store.FindToken(ctx, targetID, true, &key)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return tok, nil
}

func Impersonating(sess SessionReader) (int64, bool) {
	if sess == nil {
		return 0, false
	}
	if _, ok := sess.Get(session.KeyImpersonate); !ok {
		return 0, false
	}
	return sessionInt64(sess, session.KeyImpersonator)
}

func sessionInt64(sess SessionReader, key string) (int64, bool) {
	raw, ok := sess.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
