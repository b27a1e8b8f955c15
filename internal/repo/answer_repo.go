// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Answer
// model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
)

// CreateAnswer inserts a new pending, active answer under questionID.
func CreateAnswer(ctx context.Context, db *gorm.DB, questionID, authorID, body string) (*domain.Answer, error) {
	now := time.Now().UTC()
	a := &domain.Answer{
		ID:         uuid.NewString(),
		QuestionID: questionID,
		AuthorID:   authorID,
		Body:       body,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// GetAnswer fetches an answer by ID regardless of its active flag.
func GetAnswer(ctx context.Context, db *gorm.DB, id string) (*domain.Answer, error) {
	var a domain.Answer
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAnswerForUpdate is GetAnswer with a row lock on dialects that support
// one. It must be called inside a transaction.
func GetAnswerForUpdate(ctx context.Context, tx *gorm.DB, id string) (*domain.Answer, error) {
	var a domain.Answer
	if err := forUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ListActiveAnswers returns the active answers of a question ordered by
// (CreatedAt ASC, ID ASC). Ranking by tally happens in the service layer.
func ListActiveAnswers(ctx context.Context, db *gorm.DB, questionID string) ([]domain.Answer, error) {
	var out []domain.Answer
	err := db.WithContext(ctx).
		Where("question_id = ? AND is_active = ?", questionID, true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListAcceptedAnswers returns every answer of a question flagged accepted.
// Under a healthy schema this is zero or one row.
func ListAcceptedAnswers(ctx context.Context, tx *gorm.DB, questionID string) ([]domain.Answer, error) {
	var out []domain.Answer
	err := tx.WithContext(ctx).
		Where("question_id = ? AND is_accepted = ?", questionID, true).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// CountAnswersByQuestion returns the number of active answers for each of
// the given question ids in one grouped query. Questions without answers
// are absent from the map.
func CountAnswersByQuestion(ctx context.Context, db *gorm.DB, questionIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(questionIDs))
	if len(questionIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		QuestionID string
		N          int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Answer{}).
		Select("question_id, COUNT(*) AS n").
		Where("question_id IN ? AND is_active = ?", questionIDs, true).
		Group("question_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.QuestionID] = r.N
	}
	return out, nil
}

// SetAnswerAccepted flips the accepted flag of an answer at the given version.
func SetAnswerAccepted(ctx context.Context, tx *gorm.DB, id string, version int64, accepted bool) error {
	return mustAffect(tx.WithContext(ctx).
		Model(&domain.Answer{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"is_accepted": accepted,
			"version":     gorm.Expr("version + 1"),
		}))
}

// BumpAnswerVersion advances the version of an answer without changing
// anything else.
func BumpAnswerVersion(ctx context.Context, tx *gorm.DB, id string, version int64) error {
	return mustAffect(tx.WithContext(ctx).
		Model(&domain.Answer{}).
		Where("id = ? AND version = ?", id, version).
		Update("version", gorm.Expr("version + 1")))
}

// UpdateAnswerBody rewrites the body of an answer at the given version.
func UpdateAnswerBody(ctx context.Context, db *gorm.DB, id string, version int64, body string) error {
	return mustAffect(db.WithContext(ctx).
		Model(&domain.Answer{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"body":    body,
			"version": gorm.Expr("version + 1"),
		}))
}

// SoftDeleteAnswer marks an answer inactive and not accepted at the given
// version. Callers holding the question pointer must clear it in the same
// transaction.
func SoftDeleteAnswer(ctx context.Context, tx *gorm.DB, id string, version int64) error {
	return mustAffect(tx.WithContext(ctx).
		Model(&domain.Answer{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"is_active":   false,
			"is_accepted": false,
			"version":     gorm.Expr("version + 1"),
		}))
}
