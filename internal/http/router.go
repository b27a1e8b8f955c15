// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, identity, idempotency, rate limiting, CORS and security
// headers.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic router setup; all dependencies injected
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/config"
	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/http/handlers"
	"github.com/tbourn/go-qa-backend/internal/http/middleware"
	"github.com/tbourn/go-qa-backend/internal/notify"
	"github.com/tbourn/go-qa-backend/internal/repo"
	"github.com/tbourn/go-qa-backend/internal/services"
)

// questionRepoShim adapts the repository free functions to the
// services.QuestionRepo interface expected by the QuestionService.
type questionRepoShim struct{}

// CreateQuestion proxies repo.CreateQuestion.
func (questionRepoShim) CreateQuestion(ctx context.Context, db *gorm.DB, authorID, title, body string, tags []string) (*domain.Question, error) {
	return repo.CreateQuestion(ctx, db, authorID, title, body, tags)
}

// GetQuestion proxies repo.GetQuestion.
func (questionRepoShim) GetQuestion(ctx context.Context, db *gorm.DB, id string) (*domain.Question, error) {
	return repo.GetQuestion(ctx, db, id)
}

// CountQuestions proxies repo.CountQuestions (pagination support).
func (questionRepoShim) CountQuestions(ctx context.Context, db *gorm.DB, f repo.QuestionFilter) (int64, error) {
	return repo.CountQuestions(ctx, db, f)
}

// ListQuestionsPage proxies repo.ListQuestionsPage (pagination support).
func (questionRepoShim) ListQuestionsPage(ctx context.Context, db *gorm.DB, f repo.QuestionFilter, offset, limit int) ([]domain.Question, error) {
	return repo.ListQuestionsPage(ctx, db, f, offset, limit)
}

// IncrementViews proxies repo.IncrementViews.
func (questionRepoShim) IncrementViews(ctx context.Context, db *gorm.DB, id string) error {
	return repo.IncrementViews(ctx, db, id)
}

// UpdateQuestionContent proxies repo.UpdateQuestionContent.
func (questionRepoShim) UpdateQuestionContent(ctx context.Context, db *gorm.DB, id string, version int64, title, body string, tags []string) error {
	return repo.UpdateQuestionContent(ctx, db, id, version, title, body, tags)
}

// SoftDeleteQuestion proxies repo.SoftDeleteQuestion.
func (questionRepoShim) SoftDeleteQuestion(ctx context.Context, db *gorm.DB, id string, version int64) error {
	return repo.SoftDeleteQuestion(ctx, db, id, version)
}

// CountAnswersByQuestion proxies repo.CountAnswersByQuestion.
func (questionRepoShim) CountAnswersByQuestion(ctx context.Context, db *gorm.DB, ids []string) (map[string]int64, error) {
	return repo.CountAnswersByQuestion(ctx, db, ids)
}

// Tallies proxies repo.Tallies.
func (questionRepoShim) Tallies(ctx context.Context, db *gorm.DB, kind domain.EntityKind, ids []string) (map[string]int, error) {
	return repo.Tallies(ctx, db, kind, ids)
}

// Deps are the long-lived collaborators the router wires into services.
// Relay and Bus are optional: without a relay notifications wait for the
// next poll, without a bus the stream endpoint answers 404.
type Deps struct {
	DB    *gorm.DB
	Relay *notify.Relay
	Bus   *notify.Bus
}

var corsMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

var corsAllowHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
	middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
}

var corsExposeHeaders = []string{
	"X-Request-ID", "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed,
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression,
// identity, idempotency and rate limiting, CORS and security headers, health
// and metrics endpoints, and then mounts the versioned public API under
// cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip (the SSE stream is excluded)
//  8. Authenticate + request-scoped logger
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per user/IP, bypass on replay)
//  11. CORS and Security headers
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	db := d.DB
	streamPath := joinPath(cfg.APIBasePath, "/notifications/stream")

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression; event streams must reach the client unbuffered
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{streamPath})))

	// 8) Identity, then the logger that carries it
	r.Use(middleware.Authenticate(middleware.AuthOptions{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.JWTIssuer,
		Leeway: cfg.Auth.Leeway,
	}))
	r.Use(middleware.Logger())

	// 9) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, scope, key string, now time.Time) (*middleware.StoredResponse, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if err != nil || rec == nil {
				return nil, err
			}
			return &middleware.StoredResponse{Status: rec.Status, Body: rec.Body}, nil
		},
	))

	// 10) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 11) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    corsExposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    corsExposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	uow := services.NewUnitOfWork(db, cfg.Engine.ConflictMaxAttempts, cfg.Engine.ConflictBaseDelay)
	engine := services.NewEngine(uow, notify.NewEmitter(), d.Relay)
	if cfg.Engine.MaxBodyRunes > 0 {
		engine.MaxBodyRunes = cfg.Engine.MaxBodyRunes
	}
	questions := services.NewQuestionService(uow, questionRepoShim{})
	questions.BodyMaxRunes = engine.MaxBodyRunes

	hd := handlers.Deps{
		Questions:     questions,
		Answers:       &services.AnswerService{UoW: uow, BodyMaxRunes: engine.MaxBodyRunes},
		Engine:        engine,
		Notifications: &services.NotificationService{DB: db},
		ETags:         handlers.DBETags{DB: db},
	}
	if d.Bus != nil {
		hd.Stream = d.Bus
	}
	h := handlers.New(hd)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	h.Register(api, handlers.RouteGuards{
		Auth: middleware.RequireUser(),
		Idempotent: middleware.Idempotent(func(ctx context.Context, userID, scope, key string, status int, body []byte) error {
			_, err := repo.CreateIdempotency(ctx, db, userID, scope, key, status, body, cfg.IdempotencyTTL)
			return err
		}),
	})
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error. A non-positive cap disables it.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
