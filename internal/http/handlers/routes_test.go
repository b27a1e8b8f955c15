package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRegister_AppliesGuards(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const replayed = http.StatusAccepted

	auth := func(c *gin.Context) {
		if c.GetHeader("X-User-ID") == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
	// Stands in for a stored response so no handler runs.
	idem := func(c *gin.Context) { c.AbortWithStatus(replayed) }

	r := gin.New()
	New(Deps{}).Register(r.Group("/api/v1"), RouteGuards{Auth: auth, Idempotent: idem})

	guarded := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/questions"},
		{http.MethodPut, "/api/v1/questions/q1"},
		{http.MethodDelete, "/api/v1/questions/q1"},
		{http.MethodPost, "/api/v1/questions/q1/answers"},
		{http.MethodPost, "/api/v1/questions/q1/vote"},
		{http.MethodPut, "/api/v1/answers/a1"},
		{http.MethodDelete, "/api/v1/answers/a1"},
		{http.MethodPost, "/api/v1/answers/a1/vote"},
		{http.MethodPost, "/api/v1/answers/a1/accept"},
		{http.MethodGet, "/api/v1/notifications"},
		{http.MethodGet, "/api/v1/notifications/stream"},
		{http.MethodPut, "/api/v1/notifications/read-all"},
		{http.MethodPut, "/api/v1/notifications/n1/read"},
		{http.MethodDelete, "/api/v1/notifications/n1"},
	}
	for _, rt := range guarded {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("anonymous %s %s = %d, want 401", rt.method, rt.path, w.Code)
		}
	}

	for _, path := range []string{"/api/v1/questions/q1/vote", "/api/v1/answers/a1/vote", "/api/v1/answers/a1/accept"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("X-User-ID", "alice")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != replayed {
			t.Errorf("POST %s = %d, idempotency guard not applied", path, w.Code)
		}
	}
}
