package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
//
// HSTS is only sent for HTTPS requests and only when EnableHSTS is set; turn
// it on when traffic is HTTPS end-to-end. HSTSMaxAge defaults to 180 days.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	NoStore      bool // Cache-Control: no-store plus the legacy Pragma/Expires pair
	EnablePolicy bool // Permissions-Policy and X-Permitted-Cross-Domain-Policies
}

// exposedHeaders are the response headers browser clients need to read:
// correlation IDs, replay markers, list validators and back-off hints.
var exposedHeaders = []string{requestIDHeader, HeaderIdempotencyReplayed, "ETag", "Retry-After"}

// SecurityHeaders attaches conservative security headers for a JSON API.
// nosniff, frame denial and no-referrer are always set. No CSP is sent since
// nothing here serves HTML.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 180 * 24 * time.Hour
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore {
			NoStore(c)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		exposeHeaders(h, exposedHeaders...)

		c.Next()
	}
}

// NoStore marks the current response as uncacheable. Handlers serving
// per-user data (notifications) call it directly.
func NoStore(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// exposeHeaders appends names to Access-Control-Expose-Headers, keeping any
// value already present and skipping names listed there.
func exposeHeaders(h http.Header, names ...string) {
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	have := make(map[string]struct{})
	for _, p := range strings.Split(cur, ",") {
		if p = strings.TrimSpace(p); p != "" {
			have[strings.ToLower(p)] = struct{}{}
		}
	}
	out := cur
	for _, n := range names {
		if _, ok := have[strings.ToLower(n)]; ok {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += n
	}
	if out != "" {
		h.Set(hdr, out)
	}
}

// isHTTPS reports whether the request arrived over TLS directly or through a
// proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
