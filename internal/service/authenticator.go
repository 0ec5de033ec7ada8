package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/model"
	"github.com/appity/backend/internal/session"
)

const (
	// HeaderScheme is the Authorization scheme, matched case-insensitively.
	HeaderScheme = "Fleio-Token"
	// OtpQueryParam carries an OTP on GET and POST requests.
	OtpQueryParam = "fleio-token"
)

// SessionReader is the read-only view of the ambient session the
// authenticator needs.
type SessionReader interface {
	Key() string
	Get(key string) (string, bool)
}

// RoutePolicy reports whether a route accepts unauthenticated callers.
type RoutePolicy interface {
	IsAnonymous(route string) bool
}

// Credentials is everything the authenticator looks at in a request.
type Credentials struct {
	Method        string
	Route         string
	Authorization string
	Otp           string
	// Session is nil when the request carries no session.
	Session SessionReader
}

type Outcome int

const (
	Rejected Outcome = iota
	Authenticated
	AnonymousPass
	// Failed means the store could not answer; the request cannot be judged.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Authenticated:
		return "authenticated"
	case AnonymousPass:
		return "anonymous"
	case Failed:
		return "failed"
	default:
		return "rejected"
	}
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	User   *model.User
	Token  *model.AuthToken
	ViaOtp bool
}

// Result is the tagged outcome of Authenticate. Identity is set only for
// Authenticated. Err holds the *AuthError behind Rejected, the suppressed
// *AuthError behind an AnonymousPass (if any), or the store error behind
// Failed.
type Result struct {
	Outcome  Outcome
	Identity *Identity
	Err      error
}

type Authenticator struct {
	store  db.Queries
	otp    *OtpExchange
	routes RoutePolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewAuthenticator(store db.Queries, otp *OtpExchange, routes RoutePolicy, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:  store,
		otp:    otp,
		routes: routes,
		logger: logger,
		now:    time.Now,
	}
}

type attempt struct {
	anonymous bool
}

func (at attempt) reject(err *AuthError) Result {
	if at.anonymous {
		return Result{Outcome: AnonymousPass, Err: err}
	}
	return Result{Outcome: Rejected, Err: err}
}

func failed(err error) Result {
	return Result{Outcome: Failed, Err: err}
}

// Authenticate runs the credential state machine for one request.
func (a *Authenticator) Authenticate(ctx context.Context, cr Credentials) Result {
	at := attempt{anonymous: a.routes != nil && a.routes.IsAnonymous(cr.Route)}

	parts := strings.Fields(cr.Authorization)
	if len(parts) == 0 || !strings.EqualFold(parts[0], HeaderScheme) {
		if cr.Otp != "" && (cr.Method == http.MethodGet || cr.Method == http.MethodPost) {
			return a.fromOtp(ctx, cr, at)
		}
		if at.anonymous {
			return Result{Outcome: AnonymousPass}
		}
		return Result{Outcome: Rejected, Err: errNoCredentials}
	}

	switch {
	case len(parts) == 1:
		return at.reject(errHeaderEmpty)
	case len(parts) > 2:
		return at.reject(errHeaderSpaces)
	case !validTokenString(parts[1]):
		return at.reject(errHeaderChars)
	}
	return a.fromHeader(ctx, parts[1], cr, at)
}

func (a *Authenticator) fromHeader(ctx context.Context, token string, cr Credentials, at attempt) Result {
	var sessionKey *string
	if cr.Session != nil && cr.Session.Key() != "" {
		key := cr.Session.Key()
		sessionKey = &key
	}

	tok, err := a.store.GetToken(ctx, token, sessionKey)
	if err != nil {
		if db.IsNoRows(err) {
			return at.reject(errInvalidToken)
		}
		return failed(err)
	}
	return a.validate(ctx, tok, nil, cr, at, false)
}

func (a *Authenticator) fromOtp(ctx context.Context, cr Credentials, at attempt) Result {
	if a.otp == nil {
		return at.reject(errInvalidToken)
	}
	user, tok, err := a.otp.Redeem(ctx, cr.Otp)
	switch {
	case errors.Is(err, ErrOtpNotFound):
		return at.reject(errInvalidToken)
	case errors.Is(err, ErrOtpExpired):
		return at.reject(errExpiredToken)
	case err != nil:
		return failed(err)
	}
	return a.validate(ctx, tok, user, cr, at, true)
}

// validate applies the expiry, activity and session binding checks to a
// token that was found. user may be nil, in which case it is loaded.
func (a *Authenticator) validate(ctx context.Context, tok *model.AuthToken, user *model.User, cr Credentials, at attempt, viaOtp bool) Result {
	if tok.IsExpired(a.now()) {
		if tok.Frontend {
			if err := a.store.DeleteToken(ctx, tok.ID); err != nil {
				a.logger.WarnContext(ctx, "failed to delete expired token", "error", err)
			}
		}
		return at.reject(errExpiredToken)
	}

	if user == nil {
		u, err := a.store.GetUserByID(ctx, tok.UserID)
		if err != nil {
			if db.IsNoRows(err) {
				return at.reject(errUserInactive)
			}
			return failed(err)
		}
		user = u
	}
	if !user.Active() {
		return at.reject(errUserInactive)
	}

	if tok.Frontend && !viaOtp {
		ok, err := a.sessionMatches(ctx, tok, cr.Session)
		if err != nil {
			return failed(err)
		}
		if !ok {
			return at.reject(errMismatchedToken)
		}
	}

	return Result{
		Outcome:  Authenticated,
		Identity: &Identity{User: user, Token: tok, ViaOtp: viaOtp},
	}
}

// sessionMatches cross-checks a frontend token against the token the
// session recorded. Sessions that recorded none are not checked. While
// impersonating, the presented token must be the impersonator's own live
// frontend token and belong to one of the two users.
func (a *Authenticator) sessionMatches(ctx context.Context, tok *model.AuthToken, sess SessionReader) (bool, error) {
	if sess == nil {
		return true, nil
	}
	stored, ok := sess.Get(session.KeyToken)
	if !ok {
		return true, nil
	}

	if !hasKeys(sess, session.KeyImpersonate, session.KeyImpersonator) {
		return stored == tok.Token, nil
	}

	targetID, ok1 := sessionInt64(sess, session.KeyImpersonate)
	impersonatorID, ok2 := sessionInt64(sess, session.KeyImpersonator)
	if !ok1 || !ok2 {
		return false, nil
	}
	if tok.UserID != targetID && tok.UserID != impersonatorID {
		return false, nil
	}

	key := sess.Key()
	live, err := a.store.FindToken(ctx, impersonatorID, true, &key)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	if live.IsExpired(a.now()) {
		return false, nil
	}
	return live.Token == tok.Token, nil
}

func hasKeys(sess SessionReader, keys ...string) bool {
	for _, k := range keys {
		if _, ok := sess.Get(k); !ok {
			return false
		}
	}
	return true
}

// validTokenString rejects non UTF-8 input and control characters.
func validTokenString(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}
