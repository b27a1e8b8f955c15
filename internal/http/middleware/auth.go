// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's identity. The board does not issue tokens;
// it only verifies them. When a JWT secret is configured, a bearer token
// signed with HS256 is required to act as a user and its "user_id" claim
// (or the standard "sub" claim) becomes the identity. Without a secret the
// service runs in development mode and trusts the X-User-ID header.
//
// Authenticate never rejects anonymous requests; RequireUser does, on the
// routes that mutate state or read private data.
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ctxKeyUserID is the Gin context key holding the verified identity.
	ctxKeyUserID = "userID"
	// HeaderUserID is the development identity header.
	HeaderUserID = "X-User-ID"
)

// AuthOptions configures Authenticate.
type AuthOptions struct {
	// Secret is the HS256 key. Empty enables the X-User-ID header instead.
	Secret []byte
	// Issuer, when set, must match the token's "iss" claim.
	Issuer string
	// Leeway tolerates clock skew on exp/nbf checks.
	Leeway time.Duration
}

// userClaims accepts both the legacy user_id claim and sub.
type userClaims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

var errNoIdentity = errors.New("token carries no user identity")

// Authenticate resolves the caller and stores the identity in the Gin
// context. A present but invalid bearer token is answered with 401.
func Authenticate(opts AuthOptions) gin.HandlerFunc {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(opts.Leeway))
	}
	parser := jwt.NewParser(parserOpts...)

	return func(c *gin.Context) {
		if len(opts.Secret) == 0 {
			if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
				c.Set(ctxKeyUserID, uid)
			}
			c.Next()
			return
		}

		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}
		uid, err := verify(parser, raw, opts.Secret)
		if err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("rejected bearer token")
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "invalid bearer token",
			})
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}

// RequireUser rejects requests without an identity with 401.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "authentication required",
			})
			return
		}
		c.Next()
	}
}

// UserID returns the identity stored by Authenticate, or "" for anonymous
// requests.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func bearerToken(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

func verify(p *jwt.Parser, raw string, secret []byte) (string, error) {
	var claims userClaims
	_, err := p.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	uid := strings.TrimSpace(claims.UserID)
	if uid == "" {
		uid = strings.TrimSpace(claims.Subject)
	}
	if uid == "" {
		return "", errNoIdentity
	}
	return uid, nil
}
