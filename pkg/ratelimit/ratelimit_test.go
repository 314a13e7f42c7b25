package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsvishaal/web-extraction-agent/pkg/auth"
)

// newTestLimiter pins the limiter clock and returns a pointer the test
// advances to move time.
func newTestLimiter(requests int64, window time.Duration) (*Limiter, *time.Time) {
	l := New(Config{Requests: requests, Window: window})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_AllowsUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	for i, wantRemaining := range []int64{2, 1, 0} {
		d := l.Allow("client")
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, int64(3), d.Limit)
		assert.Equal(t, wantRemaining, d.Remaining)
	}
}

func TestLimiter_DeniesOverLimit(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)
	start := *now

	l.Allow("client")
	l.Allow("client")

	d := l.Allow("client")
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
	assert.Equal(t, start.Add(time.Minute), d.Reset)
	assert.Equal(t, time.Minute, d.RetryAfter)

	// Denied requests consume their slot too: the client stays denied
	// for the rest of the window.
	*now = now.Add(30 * time.Second)
	d = l.Allow("client")
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)
}

func TestLimiter_WindowReset(t *testing.T) {
	l, now := newTestLimiter(1, time.Minute)

	assert.True(t, l.Allow("client").Allowed)
	assert.False(t, l.Allow("client").Allowed)

	*now = now.Add(time.Minute)

	d := l.Allow("client")
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
	assert.Equal(t, now.Add(time.Minute), d.Reset)
}

func TestLimiter_IndependentIdentifiers(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	assert.True(t, l.Allow("a").Allowed)
	assert.False(t, l.Allow("a").Allowed)
	assert.True(t, l.Allow("b").Allowed)
}

func TestLimiter_DisabledAllowsEverything(t *testing.T) {
	l := New(Config{Requests: 0})

	for i := 0; i < 100; i++ {
		d := l.Allow("client")
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(0), d.Limit)
	}
}

func TestLimiter_SweepDropsIdleWindows(t *testing.T) {
	l, now := newTestLimiter(5, time.Minute)

	l.Allow("idle")
	require.Len(t, l.windows, 1)

	*now = now.Add(2 * time.Minute)
	l.Allow("active")

	assert.Len(t, l.windows, 1)
	assert.Contains(t, l.windows, "active")
}

func TestDefaultIdentifier_ClaimsSubject(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/agents/webx", nil)
	r = r.WithContext(auth.ContextWithClaims(r.Context(), &auth.Claims{Subject: "user-42"}))

	assert.Equal(t, "sub:user-42", DefaultIdentifier(r))
}

func TestDefaultIdentifier_ClientAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/agents/webx", nil)
	r.RemoteAddr = "203.0.113.9:51234"
	assert.Equal(t, "ip:203.0.113.9", DefaultIdentifier(r))

	// Proxies occasionally hand over a bare host.
	r.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "ip:203.0.113.9", DefaultIdentifier(r))
}

func TestMiddleware_SetsHeadersAndPasses(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	called := false
	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agents/webx", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestMiddleware_DeniesWith429(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for a denied request")
	}))

	req := httptest.NewRequest(http.MethodPost, "/agents/webx", nil)
	h.ServeHTTP(httptest.NewRecorder(), req.Clone(req.Context()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "61", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestMiddleware_DisabledLimiterAddsNoHeaders(t *testing.T) {
	l := New(Config{Requests: 0})

	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agents/webx", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestMiddleware_KeysOnClaimsSubject(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(subject string) int {
		req := httptest.NewRequest(http.MethodPost, "/agents/webx", nil)
		req.RemoteAddr = "198.51.100.7:1000"
		req = req.WithContext(auth.ContextWithClaims(req.Context(), &auth.Claims{Subject: subject}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// Same source address, distinct subjects: each gets its own budget.
	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusOK, send("bob"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
}
