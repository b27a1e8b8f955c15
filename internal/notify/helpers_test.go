package notify

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-qa-backend/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:notify_%s?mode=memory&cache=shared", uuid.NewString())
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
	if err := db.AutoMigrate(&domain.Question{}, &domain.Answer{}, &domain.Notification{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func fixtures() (*domain.Question, *domain.Answer) {
	now := time.Now().UTC()
	q := &domain.Question{ID: "q1", AuthorID: "asker", Title: "Why Go?", Body: "b", IsActive: true, CreatedAt: now, UpdatedAt: now}
	a := &domain.Answer{ID: "a1", QuestionID: "q1", AuthorID: "helper", Body: "because", IsActive: true, CreatedAt: now, UpdatedAt: now}
	return q, a
}

func countNotifications(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Notification{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
