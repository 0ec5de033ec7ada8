package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var ErrMisconfigured = errors.New("config invalid")

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Session  SessionConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Addr            string `validate:"required"`
	GinMode         string `validate:"omitempty,oneof=debug release test"`
	CORSOrigins     []string
	CORSCredentials bool
	// TrustedProxies lists the proxies whose forwarding headers set the client IP.
	TrustedProxies  []string
	StoreDriver     string        `validate:"oneof=postgres memory"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

type LogConfig struct {
	Level string
	JSON  bool
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

type RedisConfig struct {
	Addr      string `validate:"required,hostname_port"`
	Password  string
	DB        int `validate:"gte=0"`
	KeyPrefix string
}

type SessionConfig struct {
	CookieName     string `validate:"required"`
	CookieDomain   string
	CookiePath     string `validate:"required"`
	CookieSecure   bool
	CookieSameSite string        `validate:"oneof=lax strict none"`
	ServerTTL      time.Duration `validate:"gt=0"`
}

// AuthConfig holds the session-duration policy and token lifetimes.
type AuthConfig struct {
	ShortSessionSeconds int `validate:"gt=0"`
	LongSessionSeconds  int `validate:"gtefield=ShortSessionSeconds"`
	OtpLifetimeSeconds  int `validate:"gt=0"`
	AllowSignup         bool
	AdminEmail          string `validate:"omitempty,email"`
	AdminPassword       string
	MaxLoginAttempts    int           `validate:"gte=0"`
	LoginWindow         time.Duration `validate:"gt=0"`
	MaxSignupAttempts   int           `validate:"gte=0"`
	SignupWindow        time.Duration `validate:"gt=0"`
	SweepInterval       time.Duration `validate:"gte=0"`
	// FailureWebhookURL receives login failure events when set.
	FailureWebhookURL string `validate:"omitempty,url"`
}

// Load reads the configuration from the environment. Parse failures are
// collected so every bad variable is reported at once.
func Load() (Config, error) {
	p := &parser{}
	cfg := Config{
		Server: ServerConfig{
			Addr:            getenv("SERVER_ADDR", ":8080"),
			GinMode:         os.Getenv("GIN_MODE"),
			CORSOrigins:     splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
			CORSCredentials: p.bool("CORS_ALLOW_CREDENTIALS", true),
			TrustedProxies:  splitList(os.Getenv("TRUSTED_PROXIES")),
			StoreDriver:     getenv("STORE_DRIVER", "postgres"),
			ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level: getenv("LOG_LEVEL", "info"),
			JSON:  p.bool("LOG_JSON", false),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:      getenv("REDIS_ADDR", "localhost:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        p.int("REDIS_DB", 0),
			KeyPrefix: getenv("REDIS_KEY_PREFIX", "appity:"),
		},
		Session: SessionConfig{
			CookieName:     getenv("SESSION_COOKIE_NAME", "sessionid"),
			CookieDomain:   os.Getenv("SESSION_COOKIE_DOMAIN"),
			CookiePath:     getenv("SESSION_COOKIE_PATH", "/"),
			CookieSecure:   p.bool("SESSION_COOKIE_SECURE", true),
			CookieSameSite: strings.ToLower(getenv("SESSION_COOKIE_SAMESITE", "lax")),
			ServerTTL:      p.duration("SESSION_SERVER_TTL", 14*24*time.Hour),
		},
		Auth: AuthConfig{
			ShortSessionSeconds: p.int("USER_SHORT_SESSION_SECONDS", 3600),
			LongSessionSeconds:  p.int("USER_LONG_SESSION_SECONDS", 30*24*3600),
			OtpLifetimeSeconds:  p.int("OTP_TOKEN_LIFETIME_SECONDS", 600),
			AllowSignup:         p.bool("ALLOW_SIGNUP", false),
			AdminEmail:          os.Getenv("ADMIN_EMAIL"),
			AdminPassword:       os.Getenv("ADMIN_PASSWORD"),
			MaxLoginAttempts:    p.int("LOGIN_MAX_ATTEMPTS", 10),
			LoginWindow:         p.duration("LOGIN_WINDOW", 15*time.Minute),
			MaxSignupAttempts:   p.int("SIGNUP_MAX_ATTEMPTS", 5),
			SignupWindow:        p.duration("SIGNUP_WINDOW", time.Hour),
			SweepInterval:       p.duration("AUTH_SWEEP_INTERVAL", time.Hour),
			FailureWebhookURL:   os.Getenv("LOGIN_FAILURE_WEBHOOK_URL"),
		},
	}
	if len(p.bad) > 0 {
		return cfg, fmt.Errorf("%w: invalid %s", ErrMisconfigured, strings.Join(p.bad, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace())
			}
			return fmt.Errorf("%w: %s", ErrMisconfigured, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	if c.Session.CookieSameSite == "none" && !c.Session.CookieSecure {
		return fmt.Errorf("%w: SameSite=None requires Secure cookie", ErrMisconfigured)
	}
	return nil
}

type parser struct {
	bad []string
}

func (p *parser) bool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.bad = append(p.bad, key)
		return fallback
	}
	return v
}

func (p *parser) int(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.bad = append(p.bad, key)
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.bad = append(p.bad, key)
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
