// Package session identifies chat sessions with signed tokens carried in a
// cookie or request header.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	SessionContextKey ContextKey = "session"

	CookieName   = "portfoliochat_session"
	HeaderName   = "X-Session-ID"
	DefaultTTL   = 24 * time.Hour
	tokenIssuer  = "portfoliochat"
	secretLength = 32
)

type Claims struct {
	jwt.RegisteredClaims
}

// Manager issues and validates session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a manager signing with secret. An empty secret is
// replaced with random bytes, so sessions do not survive a restart.
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, secretLength)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		log.Info().Msg("no session secret configured, generated an ephemeral one")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: key, ttl: ttl, now: time.Now}, nil
}

// Issue creates a token for a new random session ID.
func (m *Manager) Issue() (id, token string, err error) {
	id = uuid.NewString()
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   id,
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	return id, token, err
}

// Validate parses a token and returns its session ID.
func (m *Manager) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if _, err := uuid.Parse(claims.Subject); err != nil {
			return "", errors.New("invalid session id")
		}
		return claims.Subject, nil
	}
	return "", fmt.Errorf("invalid token")
}

// tokenFromRequest looks at the session header, a bearer token and the cookie, in that order.
func tokenFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderName)); v != "" {
		return v
	}
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// Middleware attaches a session ID to every request, issuing a new session
// (and cookie) when the request carries no valid token.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if tok := tokenFromRequest(r); tok != "" {
			var err error
			if id, err = m.Validate(tok); err != nil {
				log.Debug().Err(err).Msg("discarding invalid session token")
				id = ""
			}
		}

		if id == "" {
			newID, token, err := m.Issue()
			if err != nil {
				log.Error().Err(err).Msg("failed to issue session token")
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
			id = newID
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    token,
				Path:     "/",
				Expires:  m.now().Add(m.ttl),
				HttpOnly: true,
				Secure:   isHTTPS(r),
				SameSite: http.SameSiteLaxMode,
			})
			w.Header().Set(HeaderName, token)
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// FromContext extracts the session ID from request context
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(SessionContextKey).(string); ok {
		return id
	}
	return ""
}
