package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-qa-backend/internal/config"
	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/http/middleware"
	"github.com/tbourn/go-qa-backend/internal/notify"
	"github.com/tbourn/go-qa-backend/internal/repo"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		MaxBodyBytes:   1 << 20,
		RateRPS:        1000,
		RateBurst:      1000,
		IdempotencyTTL: time.Hour,
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		Engine: config.EngineConfig{
			ConflictMaxAttempts: 3,
			ConflictBaseDelay:   time.Millisecond,
			MaxBodyRunes:        10000,
		},
	}
}

func newRouter(t *testing.T, cfg config.Config, d Deps) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if d.DB == nil {
		d.DB = newTestDB(t)
	}
	r := gin.New()
	RegisterRoutes(r, d, cfg)
	return r
}

func send(t *testing.T, r http.Handler, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func asUser(id string) []string { return []string{middleware.HeaderUserID, id} }

func mustID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var v struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil || v.ID == "" {
		t.Fatalf("decode id: %v; body=%s", err, w.Body.String())
	}
	return v.ID
}

func seedQA(t *testing.T, r http.Handler) (questionID, answerID string) {
	t.Helper()
	questionID = mustID(t, send(t, r, http.MethodPost, "/api/v1/questions",
		gin.H{"title": "Why is my map nil?", "body": "Assignment panics.", "tags": []string{"go"}},
		asUser("asker")...))
	answerID = mustID(t, send(t, r, http.MethodPost, "/api/v1/questions/"+questionID+"/answers",
		gin.H{"content": "Initialise it with make."}, asUser("helper")...))
	return questionID, answerID
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r := newRouter(t, testConfig(), Deps{})

	// /health works
	w := send(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = send(t, r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	if w = send(t, r, http.MethodGet, "/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	if w = send(t, r, http.MethodPost, "/health", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is opt-in
	if w = send(t, r, http.MethodGet, "/swagger/index.html", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r := newRouter(t, cfg, Deps{})

	w := send(t, r, http.MethodGet, "/health", nil, "Origin", "http://example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	// API mounted under the configured base path
	if w = send(t, r, http.MethodGet, "/api/v2/questions", nil); w.Code != http.StatusOK {
		t.Fatalf("GET /api/v2/questions = %d %s", w.Code, w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}

	// zero disables the cap
	r2 := gin.New()
	r2.Use(limitBody(0))
	r2.POST("/echo", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, "%d", len(b))
	})
	w = httptest.NewRecorder()
	r2.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusOK || w.Body.String() != "12" {
		t.Fatalf("uncapped echo = %d %q", w.Code, w.Body.String())
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := send(t, r, http.MethodGet, path, nil)
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

func Test_joinPath(t *testing.T) {
	cases := map[[2]string]string{
		{"", "/x"}:        "/x",
		{"/", "/x"}:       "/x",
		{"/api/v1", "/x"}: "/api/v1/x",
	}
	for in, want := range cases {
		if got := joinPath(in[0], in[1]); got != want {
			t.Fatalf("joinPath(%q,%q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

// Smoke test that a request traverses the whole middleware pipeline.
func TestPipeline_Smoke(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	r := newRouter(t, cfg, Deps{})

	w := send(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers missing, X-Content-Type-Options=%q", got)
	}
}

func TestRegisterRoutes_WritesRequireIdentity(t *testing.T) {
	r := newRouter(t, testConfig(), Deps{})

	w := send(t, r, http.MethodPost, "/api/v1/questions", gin.H{"title": "t", "body": "b"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous create = %d, want 401", w.Code)
	}
	if w = send(t, r, http.MethodGet, "/api/v1/notifications", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous notifications = %d, want 401", w.Code)
	}
	// reads stay public
	if w = send(t, r, http.MethodGet, "/api/v1/questions", nil); w.Code != http.StatusOK {
		t.Fatalf("anonymous list = %d, want 200", w.Code)
	}
}

func TestRegisterRoutes_BearerToken(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: "qa-test"}
	r := newRouter(t, cfg, Deps{})

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "qa-test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	body := gin.H{"title": "Token question", "body": "Signed in."}
	w := send(t, r, http.MethodPost, "/api/v1/questions", body, "Authorization", "Bearer "+signed)
	if w.Code != http.StatusCreated {
		t.Fatalf("bearer create = %d %s", w.Code, w.Body.String())
	}
	var q domain.Question
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil || q.AuthorID != "alice" {
		t.Fatalf("author = %q (err %v), want alice", q.AuthorID, err)
	}

	// The development header is ignored once a secret is configured.
	if w = send(t, r, http.MethodPost, "/api/v1/questions", body, asUser("mallory")...); w.Code != http.StatusUnauthorized {
		t.Fatalf("header identity with secret = %d, want 401", w.Code)
	}
	if w = send(t, r, http.MethodPost, "/api/v1/questions", body, "Authorization", "Bearer garbage"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", w.Code)
	}
}

func TestRegisterRoutes_IdempotentVoteReplay(t *testing.T) {
	r := newRouter(t, testConfig(), Deps{})
	_, answerID := seedQA(t, r)
	path := "/api/v1/answers/" + answerID + "/vote"
	vote := gin.H{"type": "upvote"}

	first := send(t, r, http.MethodPost, path, vote, append(asUser("voter"), middleware.HeaderIdempotencyKey, "retry-1")...)
	if first.Code != http.StatusOK {
		t.Fatalf("first vote = %d %s", first.Code, first.Body.String())
	}
	if first.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("first response must not be marked as replay")
	}

	// Same key: the stored response comes back and the toggle is not repeated.
	again := send(t, r, http.MethodPost, path, vote, append(asUser("voter"), middleware.HeaderIdempotencyKey, "retry-1")...)
	if again.Code != http.StatusOK || again.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay = %d replayed=%q", again.Code, again.Header().Get(middleware.HeaderIdempotencyReplayed))
	}
	if !bytes.Equal(first.Body.Bytes(), again.Body.Bytes()) {
		t.Fatalf("replay body %s != %s", again.Body.String(), first.Body.String())
	}

	// Without a key the request is executed and retracts the vote.
	w := send(t, r, http.MethodPost, path, vote, asUser("voter")...)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"vote_count":0`)) {
		t.Fatalf("unkeyed toggle = %d %s", w.Code, w.Body.String())
	}

	// Keys are scoped per user.
	w = send(t, r, http.MethodPost, path, vote, append(asUser("other"), middleware.HeaderIdempotencyKey, "retry-1")...)
	if w.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("another user's key must not replay")
	}

	// Malformed key
	w = send(t, r, http.MethodPost, path, vote, append(asUser("voter"), middleware.HeaderIdempotencyKey, "bad key!")...)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed key = %d, want 400", w.Code)
	}
}

func TestRegisterRoutes_IdempotencyLookupErrorDoesNotBlock(t *testing.T) {
	db := newTestDB(t)
	r := newRouter(t, testConfig(), Deps{DB: db})
	// Drop the table so every lookup errors.
	if err := db.Migrator().DropTable(&domain.Idempotency{}); err != nil {
		t.Fatalf("drop: %v", err)
	}

	w := send(t, r, http.MethodPost, "/api/v1/questions",
		gin.H{"title": "Still works", "body": "Lookup failures are logged."},
		append(asUser("u1"), middleware.HeaderIdempotencyKey, "k-err")...)
	if w.Code != http.StatusCreated {
		t.Fatalf("create with failing lookup = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_GzipAndStreamExclusion(t *testing.T) {
	r := newRouter(t, testConfig(), Deps{})

	w := send(t, r, http.MethodGet, "/api/v1/questions", nil, "Accept-Encoding", "gzip")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}

	// No bus wired: the stream answers 404 uncompressed.
	w = send(t, r, http.MethodGet, "/api/v1/notifications/stream", nil, append(asUser("u1"), "Accept-Encoding", "gzip")...)
	if w.Code != http.StatusNotFound || w.Header().Get("Content-Encoding") != "" {
		t.Fatalf("stream = %d enc=%q", w.Code, w.Header().Get("Content-Encoding"))
	}
}

func TestRegisterRoutes_RelayDeliversToBus(t *testing.T) {
	db := newTestDB(t)
	bus := notify.NewBus(4)
	t.Cleanup(bus.Close)
	relay := notify.NewRelay(db, bus, 10, time.Hour)

	r := newRouter(t, testConfig(), Deps{DB: db, Relay: relay, Bus: bus})
	sub := bus.Subscribe("asker")
	defer sub.Close()

	seedQA(t, r)

	n, err := relay.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RunOnce = %d, %v; want 1 delivery", n, err)
	}
	select {
	case got := <-sub.C:
		if got.Kind != domain.NotifyNewAnswer || got.RecipientID != "asker" {
			t.Fatalf("unexpected delivery: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery on bus")
	}
}

func Test_questionRepoShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	shim := questionRepoShim{}
	ctx := context.Background()

	q, err := shim.CreateQuestion(ctx, db, "u1", "Title", "Body", []string{"go"})
	if err != nil || q.ID == "" {
		t.Fatalf("CreateQuestion: %+v, %v", q, err)
	}
	got, err := shim.GetQuestion(ctx, db, q.ID)
	if err != nil || got.ID != q.ID {
		t.Fatalf("GetQuestion: %+v, %v", got, err)
	}
	if err := shim.IncrementViews(ctx, db, q.ID); err != nil {
		t.Fatalf("IncrementViews: %v", err)
	}
	if err := shim.UpdateQuestionContent(ctx, db, q.ID, got.Version, "Title 2", "Body 2", []string{"go", "maps"}); err != nil {
		t.Fatalf("UpdateQuestionContent: %v", err)
	}

	n, err := shim.CountQuestions(ctx, db, repo.QuestionFilter{})
	if err != nil || n != 1 {
		t.Fatalf("CountQuestions = %d, %v", n, err)
	}
	page, err := shim.ListQuestionsPage(ctx, db, repo.QuestionFilter{Tag: "maps"}, 0, 10)
	if err != nil || len(page) != 1 || page[0].Title != "Title 2" {
		t.Fatalf("ListQuestionsPage: %+v, %v", page, err)
	}

	counts, err := shim.CountAnswersByQuestion(ctx, db, []string{q.ID})
	if err != nil || counts[q.ID] != 0 {
		t.Fatalf("CountAnswersByQuestion: %v, %v", counts, err)
	}
	tallies, err := shim.Tallies(ctx, db, domain.EntityQuestion, []string{q.ID})
	if err != nil || tallies[q.ID] != 0 {
		t.Fatalf("Tallies: %v, %v", tallies, err)
	}

	cur, err := shim.GetQuestion(ctx, db, q.ID)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if err := shim.SoftDeleteQuestion(ctx, db, q.ID, cur.Version); err != nil {
		t.Fatalf("SoftDeleteQuestion: %v", err)
	}
	if n, _ := shim.CountQuestions(ctx, db, repo.QuestionFilter{}); n != 0 {
		t.Fatalf("CountQuestions after delete = %d", n)
	}
}
