package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func TestIssueAndValidate(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	id, token, err := m.Issue()
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got != id {
		t.Errorf("expected session %s, got %s", id, got)
	}

	other, _ := NewManager("other-secret", time.Hour)
	if _, err := other.Validate(token); err == nil {
		t.Error("token signed with another secret must be rejected")
	}
}

func TestValidateRejects(t *testing.T) {
	m, _ := NewManager("test-secret", time.Hour)

	expired, _ := NewManager("test-secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	_, expiredToken, _ := expired.Issue()

	noneToken, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "not-a-uuid",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString([]byte("test-secret"))

	tests := map[string]string{
		"garbage":     "not.a.token",
		"expired":     expiredToken,
		"alg none":    noneToken,
		"bad subject": badSubject,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := m.Validate(tok); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}

func TestRandomSecret(t *testing.T) {
	a, _ := NewManager("", 0)
	b, _ := NewManager("", 0)
	_, token, _ := a.Issue()
	if _, err := a.Validate(token); err != nil {
		t.Fatalf("manager must accept its own tokens: %v", err)
	}
	if _, err := b.Validate(token); err == nil {
		t.Error("generated secrets should differ between managers")
	}
	if a.ttl != DefaultTTL {
		t.Errorf("expected default ttl, got %v", a.ttl)
	}
}

func TestMiddleware(t *testing.T) {
	m, _ := NewManager("test-secret", time.Hour)
	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	// first request gets a new session and cookie
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", nil))
	first := seen
	if first == "" {
		t.Fatal("expected a session id in context")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName || !cookies[0].HttpOnly {
		t.Fatalf("expected an HttpOnly session cookie, got %+v", cookies)
	}
	if rec.Header().Get(HeaderName) == "" {
		t.Error("expected the token in the response header")
	}

	tests := []struct {
		name    string
		prepare func(r *http.Request)
		same    bool
	}{
		{name: "cookie", prepare: func(r *http.Request) { r.AddCookie(cookies[0]) }, same: true},
		{name: "header", prepare: func(r *http.Request) { r.Header.Set(HeaderName, cookies[0].Value) }, same: true},
		{name: "bearer", prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+cookies[0].Value) }, same: true},
		{name: "invalid token", prepare: func(r *http.Request) { r.Header.Set(HeaderName, "junk") }, same: false},
		{name: "no token", prepare: func(r *http.Request) {}, same: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/chat", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if (seen == first) != tt.same {
				t.Errorf("session reuse = %v, want %v", seen == first, tt.same)
			}
			if tt.same && len(rec.Result().Cookies()) != 0 {
				t.Error("a valid session should not be reissued")
			}
		})
	}
}

func TestSecureCookieBehindHTTPS(t *testing.T) {
	m, _ := NewManager("test-secret", time.Hour)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if c := rec.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Errorf("expected a secure cookie, got %+v", c)
	}
}

func TestFromContextEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if FromContext(req.Context()) != "" {
		t.Error("expected empty session id")
	}
}
