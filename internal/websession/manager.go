// Package websession implements cookie-backed admin sessions for the
// management API: scrypt password verification and in-memory tokens with a
// sliding TTL.
package websession

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/scrypt"

	"github.com/ccgw/cc-gw/types"
)

// CookieName is the session cookie set on login.
const CookieName = "ccgw_session"

// TTL is the sliding session lifetime.
const TTL = 12 * time.Hour

// scrypt parameters for the admin password.
const (
	scryptN      = 1 << 14
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// HashPassword derives the stored hash for a password, returning base64
// hash and salt.
func HashPassword(password string) (hash, salt string, err error) {
	rawSalt := make([]byte, saltLen)
	if _, err := rand.Read(rawSalt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key, err := scrypt.Key([]byte(password), rawSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", "", fmt.Errorf("derive key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), base64.StdEncoding.EncodeToString(rawSalt), nil
}

// VerifyPassword checks a password against the stored base64 hash+salt in
// constant time.
func VerifyPassword(password, hashB64, saltB64 string) bool {
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(hashB64)
	if err != nil {
		return false
	}
	got, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

type session struct {
	username  string
	expiresAt time.Time
}

// Manager holds active admin sessions in memory. Every access purges
// expired entries and slides the accessed session forward.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewManager creates a session manager with the default TTL.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: map[string]*session{},
		ttl:      TTL,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "websession")),
	}
}

// Login verifies the credentials against the stored hash and mints a
// session token. Unknown user and wrong password are indistinguishable.
func (m *Manager) Login(username, password, wantUser, hashB64, saltB64 string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(wantUser)) == 1
	passOK := VerifyPassword(password, hashB64, saltB64)
	if !userOK || !passOK {
		return "", types.NewError(types.ErrAuthInvalid, "invalid credentials")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", types.NewError(types.ErrInternalError, "generate session token").WithCause(err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	m.mu.Lock()
	m.purgeLocked()
	m.sessions[token] = &session{
		username:  username,
		expiresAt: m.now().Add(m.ttl),
	}
	m.mu.Unlock()

	m.logger.Info("admin login", zap.String("user", username))
	return token, nil
}

// Validate checks a token, sliding its expiry forward on success.
func (m *Manager) Validate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked()

	s, ok := m.sessions[token]
	if !ok {
		return "", false
	}
	s.expiresAt = m.now().Add(m.ttl)
	return s.username, true
}

// Logout revokes the exact token. Unknown tokens are a no-op.
func (m *Manager) Logout(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// ActiveCount reports live sessions after a purge.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked()
	return len(m.sessions)
}

func (m *Manager) purgeLocked() {
	now := m.now()
	for token, s := range m.sessions {
		if now.After(s.expiresAt) {
			delete(m.sessions, token)
		}
	}
}
