package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/appity/backend/internal/config"
	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/model"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

type userRepo interface {
	CreateUser(ctx context.Context, user *model.User) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// LoginFailure describes a rejected password login. It deliberately has no
// password field.
type LoginFailure struct {
	Email      string
	RemoteAddr string
	At         time.Time
}

// FailureSink receives login failures for lockout and auditing.
type FailureSink interface {
	LoginFailed(ctx context.Context, f LoginFailure)
}

type LogFailureSink struct {
	Logger *slog.Logger
}

func (s LogFailureSink) LoginFailed(ctx context.Context, f LoginFailure) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "login failed", "email", f.Email, "remote_addr", f.RemoteAddr)
}

// SessionPolicy is the pair of session durations: Short is bound to the
// browser session, Long applies to "remember me".
type SessionPolicy struct {
	Short time.Duration
	Long  time.Duration
}

func NewSessionPolicy(cfg config.AuthConfig) SessionPolicy {
	return SessionPolicy{
		Short: time.Duration(cfg.ShortSessionSeconds) * time.Second,
		Long:  time.Duration(cfg.LongSessionSeconds) * time.Second,
	}
}

func (p SessionPolicy) Duration(remember bool) time.Duration {
	if remember {
		return p.Long
	}
	return p.Short
}

func (p SessionPolicy) Seconds(remember bool) int {
	return int(p.Duration(remember) / time.Second)
}

type AuthService struct {
	repo        userRepo
	sink        FailureSink
	allowSignup bool
	now         func() time.Time
}

func NewAuthService(repo userRepo, sink FailureSink, cfg config.AuthConfig) *AuthService {
	if sink == nil {
		sink = LogFailureSink{}
	}
	return &AuthService{
		repo:        repo,
		sink:        sink,
		allowSignup: cfg.AllowSignup,
		now:         time.Now,
	}
}

func (s *AuthService) AllowSignup() bool {
	return s.allowSignup
}

// Verify checks an email/password pair. The email match is exact. A wrong
// password or an inactive account emits one LoginFailure; an unknown email
// does not.
func (s *AuthService) Verify(ctx context.Context, email, password, remoteAddr string) (*model.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil && user.Active() {
		return user, nil
	}

	s.sink.LoginFailed(ctx, LoginFailure{
		Email:      email,
		RemoteAddr: remoteAddr,
		At:         s.now(),
	})
	return nil, ErrInvalidCredentials
}

func (s *AuthService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *AuthService) Signup(ctx context.Context, req model.SignupRequest) (*model.User, error) {
	if !s.allowSignup {
		return nil, ErrForbidden
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || len(req.Password) < minPasswordLength {
		return nil, ErrInvalidInput
	}
	if strings.Contains(strings.ToLower(req.Password), strings.ToLower(email)) {
		return nil, fmt.Errorf("%w: cannot use email in password", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	active := true
	user, err := s.repo.CreateUser(ctx, &model.User{
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Language:     req.Language,
		IsActive:     &active,
	})
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return user, nil
}

// EnsureAdmin creates the bootstrap staff superuser when it does not exist.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" {
		return nil
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: ADMIN_PASSWORD must be at least %d characters", ErrMisconfigured, minPasswordLength)
	}

	_, err := s.repo.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !db.IsNoRows(err) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	active := true
	_, err = s.repo.CreateUser(ctx, &model.User{
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     &active,
		IsStaff:      true,
		IsSuperuser:  true,
	})
	if errors.Is(err, db.ErrDuplicate) {
		return nil
	}
	return err
}
