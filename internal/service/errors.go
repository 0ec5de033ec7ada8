package service

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrMisconfigured      = errors.New("auth config invalid")
	ErrRateLimited        = errors.New("too many attempts")
	ErrNoSession          = errors.New("request has no session")

	ErrOtpNotFound = errors.New("otp token not found")
	ErrOtpExpired  = errors.New("otp token expired")
)

type Reason string

const (
	ReasonNoCredentials   Reason = "no_credentials"
	ReasonMalformedHeader Reason = "malformed_header"
	ReasonInvalidToken    Reason = "invalid_token"
	ReasonExpiredToken    Reason = "expired_token"
	ReasonUserInactive    Reason = "user_inactive"
	ReasonMismatchedToken Reason = "mismatched_token"
)

// AuthError is an authentication failure. Every reason maps to 401.
type AuthError struct {
	Reason  Reason
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

func authFailed(reason Reason, msg string) *AuthError {
	return &AuthError{Reason: reason, Message: msg}
}

var (
	errNoCredentials   = authFailed(ReasonNoCredentials, "Authentication credentials were not provided.")
	errHeaderEmpty     = authFailed(ReasonMalformedHeader, "Invalid token header. No credentials provided.")
	errHeaderSpaces    = authFailed(ReasonMalformedHeader, "Invalid token header. Token string should not contain spaces.")
	errHeaderChars     = authFailed(ReasonMalformedHeader, "Invalid token header. Token string should not contain invalid characters.")
	errInvalidToken    = authFailed(ReasonInvalidToken, "Invalid token.")
	errExpiredToken    = authFailed(ReasonExpiredToken, "Expired token.")
	errUserInactive    = authFailed(ReasonUserInactive, "User inactive or deleted.")
	errMismatchedToken = authFailed(ReasonMismatchedToken, "Mismatched token.")
)

// ReasonOf returns the rejection reason of err, if it is an AuthError.
func ReasonOf(err error) (Reason, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return "", false
}
