package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// voteRouter mirrors the production order: identity, then replay detection,
// then the limiter in front of a vote-like endpoint.
func voteRouter(rl *RateLimiter, lookup IdempotencyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header(requestIDHeader, "rid-vote"); c.Next() })
	r.Use(Authenticate(AuthOptions{}))
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.Use(rl.Handler())
	r.POST("/answers/:id/vote", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"vote_count": 1}) })
	return r
}

func vote(r http.Handler, user, ip, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/answers/a1/vote", nil)
	req.RemoteAddr = ip + ":40000"
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestKeyByUserOrIP(t *testing.T) {
	cases := []struct {
		name string
		user string
		want string
	}{
		{"anonymous falls back to ip", "", "ip:198.51.100.7"},
		{"voter keyed by identity", "carol", "user:carol"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Request.RemoteAddr = "198.51.100.7:5555"
			if tc.user != "" {
				c.Set(ctxKeyUserID, tc.user)
			}
			if got := KeyByUserOrIP()(c); got != tc.want {
				t.Fatalf("key = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(5, -3, nil)
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want 1", rl.burst)
	}
	if rl.keyFn == nil {
		t.Fatal("nil key func must default to KeyByUserOrIP")
	}
	a := rl.getVisitor("user:dave")
	if rl.getVisitor("user:dave") != a {
		t.Fatal("bucket for the same key must be reused")
	}
	if rl.getVisitor("user:erin") == a {
		t.Fatal("distinct keys must get distinct buckets")
	}
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.ttl = time.Minute

	rl.mu.Lock()
	rl.visitors["user:idle"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-2 * time.Minute)}
	rl.visitors["user:recent"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now()}
	rl.cleanupN = 4999
	rl.mu.Unlock()

	rl.getVisitor("user:new")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["user:idle"]; ok {
		t.Fatal("idle bucket should be evicted")
	}
	for _, k := range []string{"user:recent", "user:new"} {
		if _, ok := rl.visitors[k]; !ok {
			t.Fatalf("bucket %q should survive", k)
		}
	}
	if rl.cleanupN != 0 {
		t.Fatalf("cleanup counter = %d, want reset", rl.cleanupN)
	}
}

func TestIsRateBypass(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if IsRateBypass(c) {
		t.Fatal("bypass must default to false")
	}
	c.Set(ctxKeyRateBypass, 1)
	if IsRateBypass(c) {
		t.Fatal("non-bool marker must read as false")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatal("bypass marker not honoured")
	}
}

func TestRateLimiter_PerVoterBuckets(t *testing.T) {
	r := voteRouter(NewRateLimiter(1, 1, nil), nil)

	if w := vote(r, "alice", "203.0.113.1", ""); w.Code != http.StatusOK {
		t.Fatalf("alice first vote = %d", w.Code)
	}
	w := vote(r, "alice", "203.0.113.1", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("alice second vote = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q, want 1", got)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] != "rid-vote" {
		t.Fatalf("unexpected body: %v", body)
	}

	// Same address, different voter: separate budget.
	if w := vote(r, "bob", "203.0.113.1", ""); w.Code != http.StatusOK {
		t.Fatalf("bob vote = %d, want 200", w.Code)
	}
	// Anonymous callers share the address bucket, independent of voters.
	if w := vote(r, "", "203.0.113.1", ""); w.Code != http.StatusOK {
		t.Fatalf("anonymous first = %d", w.Code)
	}
	if w := vote(r, "", "203.0.113.1", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("anonymous second = %d, want 429", w.Code)
	}
}

func TestRateLimiter_DeniedRequestKeepsNextToken(t *testing.T) {
	r := voteRouter(NewRateLimiter(5, 1, nil), nil)

	if w := vote(r, "alice", "203.0.113.2", ""); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	for i := 0; i < 3; i++ {
		if w := vote(r, "alice", "203.0.113.2", ""); w.Code != http.StatusTooManyRequests {
			t.Fatalf("burst retry %d = %d, want 429", i, w.Code)
		}
	}
	// One refill interval is 200ms; rejected attempts must not have borrowed it.
	time.Sleep(250 * time.Millisecond)
	if w := vote(r, "alice", "203.0.113.2", ""); w.Code != http.StatusOK {
		t.Fatalf("after refill = %d, want 200", w.Code)
	}
}

func TestRateLimiter_ReplaySkipsBudget(t *testing.T) {
	lookup := func(_ context.Context, uid, _, key string, _ time.Time) (*StoredResponse, error) {
		if uid == "alice" && key == "vote-1" {
			return &StoredResponse{Status: http.StatusOK, Body: []byte(`{"vote_count":1}`)}, nil
		}
		return nil, nil
	}
	r := voteRouter(NewRateLimiter(1, 1, nil), lookup)

	if w := vote(r, "alice", "203.0.113.3", ""); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	// Budget is spent, but a retry of a completed request is served anyway.
	if w := vote(r, "alice", "203.0.113.3", "vote-1"); w.Code != http.StatusOK {
		t.Fatalf("replay = %d, want 200", w.Code)
	}
	// An unknown key is a fresh request and still limited.
	if w := vote(r, "alice", "203.0.113.3", "vote-2"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("fresh keyed request = %d, want 429", w.Code)
	}
}
