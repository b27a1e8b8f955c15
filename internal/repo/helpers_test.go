package repo

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-qa-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func newMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()
	return newTestDB(t, &domain.Question{}, &domain.Answer{}, &domain.Vote{}, &domain.Notification{}, &domain.Idempotency{})
}

func seedQuestion(t *testing.T, db *gorm.DB, id, author string, created time.Time) *domain.Question {
	t.Helper()
	q := &domain.Question{ID: id, AuthorID: author, Title: "title " + id, Body: "body", IsActive: true, CreatedAt: created, UpdatedAt: created}
	if err := db.Create(q).Error; err != nil {
		t.Fatalf("seed question %s: %v", id, err)
	}
	return q
}

func seedAnswer(t *testing.T, db *gorm.DB, id, questionID, author string, created time.Time) *domain.Answer {
	t.Helper()
	a := &domain.Answer{ID: id, QuestionID: questionID, AuthorID: author, Body: "answer " + id, IsActive: true, CreatedAt: created, UpdatedAt: created}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("seed answer %s: %v", id, err)
	}
	return a
}
