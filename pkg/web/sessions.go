package web

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/creker7/netvigil/pkg/users"
)

const (
	sessionCookie   = "netvigil_session"
	sessionLifetime = 12 * time.Hour
)

var errInvalidSession = errors.New("invalid or expired session")

// sessionClaims is the JWT payload. The server-side state keyed by ID
// carries what can change mid-session (the site filter).
type sessionClaims struct {
	UserID   string     `json:"uid"`
	Username string     `json:"username"`
	Role     users.Role `json:"role"`
	jwt.RegisteredClaims
}

// session is the live server-side record.
type session struct {
	claims sessionClaims
	sites  []string // active site filter; nil means all sites
}

// sessionManager signs cookies with a per-process random key. Restarting
// the service logs everyone out, which is acceptable for this surface.
type sessionManager struct {
	secret []byte
	secure bool

	mu     sync.Mutex
	active map[string]*session
}

func newSessionManager(secure bool) (*sessionManager, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}

	return &sessionManager{
		secret: secret,
		secure: secure,
		active: make(map[string]*session),
	}, nil
}

// open creates a session and returns the cookie to set.
func (m *sessionManager) open(u users.User) (*http.Cookie, error) {
	now := time.Now()

	claims := sessionClaims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionLifetime)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	m.mu.Lock()
	m.active[claims.ID] = &session{claims: claims}
	m.mu.Unlock()

	return &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(sessionLifetime),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	}, nil
}

// resolve validates the cookie and returns the live session.
func (m *sessionManager) resolve(r *http.Request) (*session, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, errInvalidSession
	}

	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.active[claims.ID]
	if !ok {
		// Signed but revoked (logout or restart).
		return nil, errInvalidSession
	}

	return sess, nil
}

// close revokes the session behind the request, if any.
func (m *sessionManager) close(r *http.Request) {
	sess, err := m.resolve(r)
	if err != nil {
		return
	}

	m.mu.Lock()
	delete(m.active, sess.claims.ID)
	m.mu.Unlock()
}

// setSites replaces the session's active site filter.
func (m *sessionManager) setSites(sess *session, sites []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(sites) == 0 {
		sess.sites = nil
		return
	}

	sess.sites = append([]string(nil), sites...)
}

func (m *sessionManager) sites(sess *session) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sess.sites
}

func clearedCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}
