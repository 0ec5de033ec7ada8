// Package session keeps the ambient per-browser session state in Redis.
//
// A session is a flat string map addressed by an unguessable key carried in
// a cookie. Keys are never reused: Create always allocates a fresh key, and
// Flush drops both the data and the key.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	KeyToken          = "fleio_token"
	KeyImpersonate    = "impersonate"
	KeyImpersonator   = "impersonator"
	KeyActiveClientID = "active_client_id"
	KeyUserID         = "_auth_user_id"
)

var (
	ErrRedisUnavailable = errors.New("redis unavailable")
	ErrKeyCollision     = errors.New("session key collision")
)

const createAttempts = 3

type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewStore returns a Store keeping sessions under prefix+"session:". ttl is
// the server-side lifetime of sessions that expire at browser close.
func NewStore(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	return &Store{redis: redisClient, prefix: prefix, ttl: ttl}
}

type record struct {
	Data   map[string]string `json:"data"`
	Expiry int               `json:"expiry"`
}

// Session is not safe for concurrent use; each request owns its copy.
type Session struct {
	store  *Store
	key    string
	data   map[string]string
	expiry int
}

func (s *Store) redisKey(key string) string {
	return s.prefix + "session:" + key
}

// New returns an empty, unsaved session.
func (s *Store) New() *Session {
	return &Session{store: s, data: make(map[string]string), expiry: -1}
}

// Load returns the stored session for key. Unknown or empty keys yield an
// empty session without a key, so a stale cookie never resurrects state.
func (s *Store) Load(ctx context.Context, key string) (*Session, error) {
	sess := s.New()
	if key == "" {
		return sess, nil
	}
	raw, err := s.redis.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sess, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// corrupt blobs are treated as missing sessions
		return sess, nil
	}
	sess.key = key
	if rec.Data != nil {
		sess.data = rec.Data
	}
	sess.expiry = rec.Expiry
	return sess, nil
}

// Destroy deletes the server-side data for key. Missing keys are not an error.
func (s *Store) Destroy(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.redis.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Missing returns the subset of keys that no longer have server-side data.
func (s *Store) Missing(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Exists(ctx, s.redisKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	var missing []string
	for i, cmd := range cmds {
		if cmd.Val() == 0 {
			missing = append(missing, keys[i])
		}
	}
	return missing, nil
}

func (s *Session) Key() string {
	return s.key
}

func (s *Session) Get(key string) (string, bool) {
	v, ok := s.data[key]
	return v, ok
}

func (s *Session) GetInt64(key string) (int64, bool) {
	v, ok := s.data[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Session) Set(key, value string) {
	s.data[key] = value
}

func (s *Session) SetInt64(key string, value int64) {
	s.data[key] = strconv.FormatInt(value, 10)
}

func (s *Session) Delete(key string) {
	delete(s.data, key)
}

// Has reports whether every key is present.
func (s *Session) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := s.data[k]; !ok {
			return false
		}
	}
	return true
}

// SetExpiry sets the lifetime in seconds; 0 means expire at browser close.
func (s *Session) SetExpiry(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	s.expiry = seconds
}

// ExpireAtBrowserClose is true unless an explicit positive expiry was set.
func (s *Session) ExpireAtBrowserClose() bool {
	return s.expiry <= 0
}

// CookieMaxAge is the Max-Age for the session cookie: 0 for a browser
// session cookie, -1 to delete the cookie when there is no session.
func (s *Session) CookieMaxAge() int {
	if s.key == "" {
		return -1
	}
	if s.expiry <= 0 {
		return 0
	}
	return s.expiry
}

func (s *Session) ttl() time.Duration {
	if s.expiry > 0 {
		return time.Duration(s.expiry) * time.Second
	}
	return s.store.ttl
}

func (s *Session) encode() ([]byte, error) {
	return json.Marshal(record{Data: s.data, Expiry: s.expiry})
}

// Create moves the session to a brand-new key, persisting the current data
// there. Data stored under the previous key is left untouched.
func (s *Session) Create(ctx context.Context) error {
	blob, err := s.encode()
	if err != nil {
		return err
	}
	for range createAttempts {
		key, err := newKey()
		if err != nil {
			return err
		}
		ok, err := s.store.redis.SetNX(ctx, s.store.redisKey(key), blob, s.ttl()).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if ok {
			s.key = key
			return nil
		}
	}
	return ErrKeyCollision
}

// Save writes the session under its key, creating one when needed.
func (s *Session) Save(ctx context.Context) error {
	if s.key == "" {
		return s.Create(ctx)
	}
	blob, err := s.encode()
	if err != nil {
		return err
	}
	if err := s.store.redis.Set(ctx, s.store.redisKey(s.key), blob, s.ttl()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Flush deletes the stored data, clears the in-memory state and drops the
// key. It returns the key that was destroyed, if any.
func (s *Session) Flush(ctx context.Context) (string, error) {
	old := s.key
	if err := s.store.Destroy(ctx, old); err != nil {
		return "", err
	}
	s.key = ""
	s.data = make(map[string]string)
	s.expiry = -1
	return old, nil
}

func newKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
