// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements request-token de-duplication for unsafe methods.
// Voting is a toggle and accepting switches the accepted answer, so a client
// retrying a request it never saw the response for would undo or redo its
// own action. A client that sends an Idempotency-Key instead gets the
// response of the first successful request replayed.
//
// Two pieces cooperate:
//   - IdempotencyValidator (global) validates the header, stashes the key and
//     looks up a stored response for (user, scope, key). A hit marks the
//     request as a replay, which also lets the rate limiter skip it.
//   - Idempotent (per route) serves the stored response on a replay, or
//     captures the handler's 2xx response and hands it to a save function.
//
// The scope is the method and concrete path, e.g. "POST /api/v1/answers/<id>/vote",
// so the same key used against two targets never collides.
package middleware

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed marks responses served from storage.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // *StoredResponse when a replay exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// StoredResponse is a previously completed response.
type StoredResponse struct {
	Status int
	Body   []byte
}

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a stored response exists for this request.
func IsReplay(c *gin.Context) bool {
	return storedReplay(c) != nil
}

func storedReplay(c *gin.Context) *StoredResponse {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return nil
	}
	r, _ := v.(*StoredResponse)
	return r
}

// IdempotencyScope names the target of a request for key scoping.
func IdempotencyScope(c *gin.Context) string {
	return c.Request.Method + " " + c.Request.URL.Path
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Defaults to ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup returns the stored response for (userID, scope, key) that
// is still valid at now, or nil when there is none. TTL is enforced by the
// implementation. Errors do not block normal processing.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (*StoredResponse, error)

// IdempotencySave records a completed response for (userID, scope, key).
type IdempotencySave func(ctx context.Context, userID, scope, key string, status int, body []byte) error

// IdempotencyValidator validates the Idempotency-Key header on unsafe
// methods and marks replays. A malformed key is answered with 400; the key
// is ignored on safe methods and for anonymous callers.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "validation_failed",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		uid := UserID(c)
		if lookup != nil && uid != "" {
			rec, err := lookup(c.Request.Context(), uid, IdempotencyScope(c), key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if rec != nil {
				c.Set(ctxKeyIdemReplay, rec)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// Idempotent serves stored responses for replays and records successful
// responses of keyed requests. Install it on the routes whose effect must
// not be repeated.
func Idempotent(save IdempotencySave) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rec := storedReplay(c); rec != nil {
			c.Header(HeaderIdempotencyReplayed, "true")
			c.Data(rec.Status, "application/json; charset=utf-8", rec.Body)
			c.Abort()
			return
		}

		key, ok := GetIdempotencyKey(c)
		uid := UserID(c)
		if !ok || uid == "" || save == nil {
			c.Next()
			return
		}

		rec := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		if status < 200 || status >= 300 {
			return
		}
		if err := save(c.Request.Context(), uid, IdempotencyScope(c), key, status, rec.buf.Bytes()); err != nil {
			LoggerFrom(c).Warn().Err(err).Str("key", key).Msg("idempotency save failed")
		}
	}
}

// recordingWriter tees the response body so it can be stored.
type recordingWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
