package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/notify"
	"github.com/tbourn/go-qa-backend/internal/repo"
)

// ---------- test helpers ----------

// newSvcDB opens a private in-memory database with the full schema. A single
// connection keeps shared-cache sqlite from reporting table locks when tests
// run transactions from several goroutines.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
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

type countingKicker struct{ n int }

func (k *countingKicker) Kick() { k.n++ }

func newEngine(t *testing.T) (*Engine, *gorm.DB, *countingKicker) {
	t.Helper()
	db := newSvcDB(t)
	k := &countingKicker{}
	uow := NewUnitOfWork(db, 5, time.Millisecond)
	return NewEngine(uow, notify.NewEmitter(), k), db, k
}

func mkQuestion(t *testing.T, db *gorm.DB, author string) *domain.Question {
	t.Helper()
	q, err := repo.CreateQuestion(context.Background(), db, author, "How do channels work?", "body", []string{"go"})
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	return q
}

// mkAnswer inserts an answer directly with a fixed creation time.
func mkAnswer(t *testing.T, db *gorm.DB, questionID, author string, created time.Time) *domain.Answer {
	t.Helper()
	a := &domain.Answer{
		ID:         uuid.NewString(),
		QuestionID: questionID,
		AuthorID:   author,
		Body:       "answer by " + author,
		IsActive:   true,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("create answer: %v", err)
	}
	return a
}

func reloadQuestion(t *testing.T, db *gorm.DB, id string) *domain.Question {
	t.Helper()
	q, err := repo.GetQuestion(context.Background(), db, id)
	if err != nil {
		t.Fatalf("reload question: %v", err)
	}
	return q
}

func reloadAnswer(t *testing.T, db *gorm.DB, id string) *domain.Answer {
	t.Helper()
	a, err := repo.GetAnswer(context.Background(), db, id)
	if err != nil {
		t.Fatalf("reload answer: %v", err)
	}
	return a
}

func notificationsFor(t *testing.T, db *gorm.DB, recipient string) []domain.Notification {
	t.Helper()
	var out []domain.Notification
	if err := db.Where("recipient_id = ?", recipient).Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return out
}

func acceptedIDs(t *testing.T, db *gorm.DB, questionID string) []string {
	t.Helper()
	var ids []string
	if err := db.Model(&domain.Answer{}).
		Where("question_id = ? AND is_accepted = ?", questionID, true).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		t.Fatalf("accepted ids: %v", err)
	}
	return ids
}

// questionRepo proxies the repo package to the QuestionRepo contract.
type questionRepo struct{}

func (questionRepo) CreateQuestion(ctx context.Context, db *gorm.DB, authorID, title, body string, tags []string) (*domain.Question, error) {
	return repo.CreateQuestion(ctx, db, authorID, title, body, tags)
}

func (questionRepo) GetQuestion(ctx context.Context, db *gorm.DB, id string) (*domain.Question, error) {
	return repo.GetQuestion(ctx, db, id)
}

func (questionRepo) CountQuestions(ctx context.Context, db *gorm.DB, f repo.QuestionFilter) (int64, error) {
	return repo.CountQuestions(ctx, db, f)
}

func (questionRepo) ListQuestionsPage(ctx context.Context, db *gorm.DB, f repo.QuestionFilter, offset, limit int) ([]domain.Question, error) {
	return repo.ListQuestionsPage(ctx, db, f, offset, limit)
}

func (questionRepo) IncrementViews(ctx context.Context, db *gorm.DB, id string) error {
	return repo.IncrementViews(ctx, db, id)
}

func (questionRepo) UpdateQuestionContent(ctx context.Context, db *gorm.DB, id string, version int64, title, body string, tags []string) error {
	return repo.UpdateQuestionContent(ctx, db, id, version, title, body, tags)
}

func (questionRepo) SoftDeleteQuestion(ctx context.Context, db *gorm.DB, id string, version int64) error {
	return repo.SoftDeleteQuestion(ctx, db, id, version)
}

func (questionRepo) CountAnswersByQuestion(ctx context.Context, db *gorm.DB, ids []string) (map[string]int64, error) {
	return repo.CountAnswersByQuestion(ctx, db, ids)
}

func (questionRepo) Tallies(ctx context.Context, db *gorm.DB, kind domain.EntityKind, ids []string) (map[string]int, error) {
	return repo.Tallies(ctx, db, kind, ids)
}
