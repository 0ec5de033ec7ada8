package db

import (
	"context"
	"sync"
	"time"

	"github.com/appity/backend/internal/model"
)

// Memory is a process-local Store for development and tests. Transactions
// are serialized but not rolled back on error.
type Memory struct {
	txMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	users   map[int64]model.User
	tokens  map[int64]model.AuthToken
	otps    map[int64]model.OtpToken
	nowFunc func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:   make(map[int64]model.User),
		tokens:  make(map[int64]model.AuthToken),
		otps:    make(map[int64]model.OtpToken),
		nowFunc: time.Now,
	}
}

func (m *Memory) InTx(ctx context.Context, fn func(q Queries) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateUser(ctx context.Context, user *model.User) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return nil, ErrDuplicate
		}
	}
	u := *user
	u.ID = m.id()
	u.CreatedAt = m.nowFunc()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = u
	return &u, nil
}

// DeleteUser removes a user and, like the foreign keys, its tokens and OTPs.
func (m *Memory) DeleteUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	for tid, t := range m.tokens {
		if t.UserID == id {
			m.deleteTokenLocked(tid)
		}
	}
	return nil
}

func (m *Memory) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) LockUserTokens(ctx context.Context, userID int64) error {
	return nil
}

func sameSession(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *Memory) GetToken(ctx context.Context, token string, sessionKey *string) (*model.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Token == token && sameSession(t.SessionKey, sessionKey) {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindToken(ctx context.Context, userID int64, frontend bool, sessionKey *string) (*model.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *model.AuthToken
	for _, t := range m.tokens {
		if t.UserID == userID && t.Frontend == frontend && sameSession(t.SessionKey, sessionKey) {
			if found == nil || t.ID < found.ID {
				found = &t
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (m *Memory) InsertToken(ctx context.Context, token *model.AuthToken) (*model.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[token.UserID]; !ok {
		return nil, ErrNotFound
	}
	for _, t := range m.tokens {
		if t.Token == token.Token {
			return nil, ErrDuplicate
		}
		if token.Frontend && t.Frontend && t.UserID == token.UserID && sameSession(t.SessionKey, token.SessionKey) {
			return nil, ErrDuplicate
		}
	}
	t := *token
	t.ID = m.id()
	t.CreatedAt = m.nowFunc()
	m.tokens[t.ID] = t
	return &t, nil
}

func (m *Memory) deleteTokenLocked(id int64) {
	delete(m.tokens, id)
	for oid, o := range m.otps {
		if o.AuthTokenID == id {
			delete(m.otps, oid)
		}
	}
}

func (m *Memory) DeleteToken(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteTokenLocked(id)
	return nil
}

func (m *Memory) DeleteFrontendToken(ctx context.Context, userID int64, sessionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tokens {
		if t.UserID == userID && t.Frontend && t.SessionKey != nil && *t.SessionKey == sessionKey {
			m.deleteTokenLocked(id)
		}
	}
	return nil
}

func (m *Memory) DeleteSessionTokens(ctx context.Context, sessionKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if t.SessionKey != nil && *t.SessionKey == sessionKey {
			m.deleteTokenLocked(id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if t.IsExpired(now) {
			m.deleteTokenLocked(id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListFrontendSessionKeys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var keys []string
	for _, t := range m.tokens {
		if !t.Frontend || t.SessionKey == nil {
			continue
		}
		if _, ok := seen[*t.SessionKey]; ok {
			continue
		}
		seen[*t.SessionKey] = struct{}{}
		keys = append(keys, *t.SessionKey)
	}
	return keys, nil
}

func (m *Memory) InsertOtp(ctx context.Context, otp *model.OtpToken) (*model.OtpToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[otp.AuthTokenID]; !ok {
		return nil, ErrNotFound
	}
	for _, o := range m.otps {
		if o.Token == otp.Token {
			return nil, ErrDuplicate
		}
	}
	o := *otp
	o.ID = m.id()
	o.CreatedAt = m.nowFunc()
	m.otps[o.ID] = o
	return &o, nil
}

func (m *Memory) GetOtp(ctx context.Context, otp string) (*model.OtpToken, *model.AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.otps {
		if o.Token != otp {
			continue
		}
		t, ok := m.tokens[o.AuthTokenID]
		if !ok {
			return nil, nil, ErrNotFound
		}
		return &o, &t, nil
	}
	return nil, nil, ErrNotFound
}

func (m *Memory) DeleteOtp(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.otps, id)
	return nil
}

func (m *Memory) DeleteExpiredOtps(ctx context.Context, authTokenID int64, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, o := range m.otps {
		if (authTokenID == 0 || o.AuthTokenID == authTokenID) && o.IsExpired(now) {
			delete(m.otps, id)
			n++
		}
	}
	return n, nil
}

// CountOtps reports how many OTPs belong to a token.
func (m *Memory) CountOtps(authTokenID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.otps {
		if o.AuthTokenID == authTokenID {
			n++
		}
	}
	return n
}

// SetUserActive overwrites a user's activity flag.
func (m *Memory) SetUserActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.IsActive = &active
		m.users[id] = u
	}
}

// SetTokenExpiry overwrites a token's expiry. Used to age tokens in tests.
func (m *Memory) SetTokenExpiry(id int64, expireAt *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[id]; ok {
		t.ExpireAt = expireAt
		m.tokens[id] = t
	}
}
