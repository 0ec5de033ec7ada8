package model

import "time"

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Language     string
	// IsActive is nil when the activity state is unknown; unknown counts as active.
	IsActive    *bool
	IsStaff     bool
	IsSuperuser bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (u *User) Active() bool {
	return u.IsActive == nil || *u.IsActive
}

func (u *User) IsAdmin() bool {
	return u.IsStaff || u.IsSuperuser
}

func (u *User) CanImpersonate() bool {
	return u.IsStaff
}

func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}

// AuthToken is a live authentication credential. Frontend tokens are bound to
// exactly one session; API tokens may have no session at all.
type AuthToken struct {
	ID          int64
	Token       string
	UserID      int64
	CreatedAt   time.Time
	ExpireAt    *time.Time
	Frontend    bool
	SessionKey  *string
	DisplayName *string
}

// IsExpired reports whether the token has an expiry at or before now.
// Tokens without ExpireAt never expire by time.
func (t *AuthToken) IsExpired(now time.Time) bool {
	return t.ExpireAt != nil && !t.ExpireAt.After(now)
}

// ExpirySeconds returns the whole seconds remaining, or nil for a
// non-expiring token. The value is negative once the token has expired.
func (t *AuthToken) ExpirySeconds(now time.Time) *int64 {
	if t.ExpireAt == nil {
		return nil
	}
	secs := int64(t.ExpireAt.Sub(now) / time.Second)
	return &secs
}

func (t *AuthToken) BoundTo(sessionKey string) bool {
	if t.SessionKey == nil {
		return sessionKey == ""
	}
	return *t.SessionKey == sessionKey
}

// OtpToken is a single-use child of an AuthToken.
type OtpToken struct {
	ID          int64
	Token       string
	AuthTokenID int64
	CreatedAt   time.Time
	ExpireAt    time.Time
}

func (o *OtpToken) IsExpired(now time.Time) bool {
	return !o.ExpireAt.After(now)
}

type LoginRequest struct {
	Email      string `json:"email" binding:"required,max=255"`
	Password   string `json:"password" binding:"required,max=255"`
	RememberMe bool   `json:"remember_me"`
}

type SignupRequest struct {
	Email     string `json:"email" binding:"required,email,max=255"`
	Password  string `json:"password" binding:"required,min=8,max=128"`
	FirstName string `json:"first_name" binding:"required,max=30"`
	LastName  string `json:"last_name" binding:"required,max=30"`
	Language  string `json:"language" binding:"omitempty,max=5"`
}

type ExtendSessionRequest struct {
	Remember bool `json:"remember"`
}

type APITokenRequest struct {
	DisplayName string `json:"display_name" binding:"required,max=255"`
	TTLSeconds  int    `json:"ttl_seconds" binding:"gte=0"`
}

// TokenInfo is what the browser learns about its frontend token. All fields
// are nil when the token is not bound to the requesting session.
type TokenInfo struct {
	Token                *string    `json:"token"`
	ExpireAt             *time.Time `json:"expire_at"`
	ExpireAtBrowserClose *bool      `json:"expire_at_browser_close"`
	ExpirySeconds        *int64     `json:"expiry_seconds"`
	ShortSessionSeconds  *int       `json:"short_session_seconds"`
	LongSessionSeconds   *int       `json:"long_session_seconds"`
}

type UserInfo struct {
	ID           int64      `json:"id"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	FullName     string     `json:"full_name"`
	Email        string     `json:"email"`
	Language     string     `json:"language"`
	IsStaff      bool       `json:"is_staff"`
	Impersonator *int64     `json:"impersonator,omitempty"`
	AuthToken    *TokenInfo `json:"appity_token"`
}

type CurrentUserResponse struct {
	User *UserInfo `json:"user,omitempty"`
}

type OtpResponse struct {
	Otp string `json:"otp"`
}

type APITokenResponse struct {
	Token       string     `json:"token"`
	DisplayName string     `json:"display_name"`
	ExpireAt    *time.Time `json:"expire_at"`
}
