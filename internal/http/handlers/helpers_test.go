package handlers

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
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/http/middleware"
	"github.com/tbourn/go-qa-backend/internal/notify"
	"github.com/tbourn/go-qa-backend/internal/repo"
	"github.com/tbourn/go-qa-backend/internal/services"
)

// ---------- test DB + repo shim ----------

func newHandlersDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
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
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testQuestionRepo implements services.QuestionRepo with the repo package,
// like the router does.
type testQuestionRepo struct{}

func (testQuestionRepo) CreateQuestion(ctx context.Context, db *gorm.DB, authorID, title, body string, tags []string) (*domain.Question, error) {
	return repo.CreateQuestion(ctx, db, authorID, title, body, tags)
}

func (testQuestionRepo) GetQuestion(ctx context.Context, db *gorm.DB, id string) (*domain.Question, error) {
	return repo.GetQuestion(ctx, db, id)
}

func (testQuestionRepo) CountQuestions(ctx context.Context, db *gorm.DB, f repo.QuestionFilter) (int64, error) {
	return repo.CountQuestions(ctx, db, f)
}

func (testQuestionRepo) ListQuestionsPage(ctx context.Context, db *gorm.DB, f repo.QuestionFilter, offset, limit int) ([]domain.Question, error) {
	return repo.ListQuestionsPage(ctx, db, f, offset, limit)
}

func (testQuestionRepo) IncrementViews(ctx context.Context, db *gorm.DB, id string) error {
	return repo.IncrementViews(ctx, db, id)
}

func (testQuestionRepo) UpdateQuestionContent(ctx context.Context, db *gorm.DB, id string, version int64, title, body string, tags []string) error {
	return repo.UpdateQuestionContent(ctx, db, id, version, title, body, tags)
}

func (testQuestionRepo) SoftDeleteQuestion(ctx context.Context, db *gorm.DB, id string, version int64) error {
	return repo.SoftDeleteQuestion(ctx, db, id, version)
}

func (testQuestionRepo) CountAnswersByQuestion(ctx context.Context, db *gorm.DB, ids []string) (map[string]int64, error) {
	return repo.CountAnswersByQuestion(ctx, db, ids)
}

func (testQuestionRepo) Tallies(ctx context.Context, db *gorm.DB, kind domain.EntityKind, ids []string) (map[string]int, error) {
	return repo.Tallies(ctx, db, kind, ids)
}

// ---------- API harness ----------

type testAPI struct {
	r   *gin.Engine
	db  *gorm.DB
	bus *notify.Bus
}

// newTestAPI wires real services over a private database. Identity comes
// from the X-User-ID header; routes are not guarded by RequireUser so the
// service-level permission mapping is exercised.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlersDB(t)
	bus := notify.NewBus(8)
	t.Cleanup(bus.Close)

	uow := services.NewUnitOfWork(db, 3, time.Millisecond)
	engine := services.NewEngine(uow, notify.NewEmitter(), nil)
	h := New(Deps{
		Questions:     services.NewQuestionService(uow, testQuestionRepo{}),
		Answers:       &services.AnswerService{UoW: uow},
		Engine:        engine,
		Notifications: &services.NotificationService{DB: db},
		ETags:         DBETags{DB: db},
		Stream:        bus,
		Heartbeat:     50 * time.Millisecond,
	})

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Authenticate(middleware.AuthOptions{}))
	h.Register(r.Group("/api/v1"), RouteGuards{})
	return &testAPI{r: r, db: db, bus: bus}
}

// do sends a JSON request as user (anonymous when empty) and returns the
// recorder.
func (a *testAPI) do(t *testing.T, method, path, user string, body any, hdr ...string) *httptest.ResponseRecorder {
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
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v; body=%s", v, err, w.Body.String())
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, status, w.Body.String())
	}
	if er := decode[ErrorResponse](t, w); er.Code != code {
		t.Fatalf("code = %q, want %q", er.Code, code)
	}
}

func (a *testAPI) createQuestion(t *testing.T, author string) domain.Question {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/questions", author, QuestionRequest{
		Title: "How do channels work?",
		Body:  "Explain buffered vs unbuffered.",
		Tags:  []string{"Go", "concurrency"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create question: %d %s", w.Code, w.Body.String())
	}
	return decode[domain.Question](t, w)
}

func (a *testAPI) submitAnswer(t *testing.T, questionID, author string) domain.Answer {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/questions/"+questionID+"/answers", author, SubmitAnswerRequest{Content: "answer by " + author})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit answer: %d %s", w.Code, w.Body.String())
	}
	return decode[domain.Answer](t, w)
}
