// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Question
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a question is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Version-guarded updates that match no row return ErrStale.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
)

// QuestionFilter narrows and orders a question listing.
type QuestionFilter struct {
	Tag       string // exact tag match; empty for all
	SortBy    string // created_at | updated_at | views
	Ascending bool
}

var questionSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"views":      "views",
}

// IsQuestionSortKey reports whether s names a sortable question column.
// The empty string selects the default (created_at) and is accepted.
func IsQuestionSortKey(s string) bool {
	if s == "" {
		return true
	}
	_, ok := questionSortColumns[s]
	return ok
}

// CreateQuestion inserts a new active Question authored by authorID.
func CreateQuestion(ctx context.Context, db *gorm.DB, authorID, title, body string, tags []string) (*domain.Question, error) {
	now := time.Now().UTC()
	q := &domain.Question{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Title:     title,
		Body:      body,
		Tags:      strings.Join(tags, ","),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(q).Error; err != nil {
		return nil, err
	}
	return q, nil
}

// GetQuestion fetches a question by ID regardless of its active flag.
func GetQuestion(ctx context.Context, db *gorm.DB, id string) (*domain.Question, error) {
	var q domain.Question
	if err := db.WithContext(ctx).Where("id = ?", id).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQuestionForUpdate is GetQuestion with a row lock on dialects that
// support one. It must be called inside a transaction.
func GetQuestionForUpdate(ctx context.Context, tx *gorm.DB, id string) (*domain.Question, error) {
	var q domain.Question
	if err := forUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// likeEscaper neutralises LIKE metacharacters; pair with ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func questionScope(db *gorm.DB, f QuestionFilter) *gorm.DB {
	q := db.Model(&domain.Question{}).Where("is_active = ?", true)
	if tag := strings.TrimSpace(f.Tag); tag != "" {
		// Tags are stored comma-joined; pad both sides so "go" does not match "golang".
		q = q.Where(`(',' || tags || ',') LIKE ? ESCAPE '\'`, "%,"+likeEscaper.Replace(tag)+",%")
	}
	return q
}

// CountQuestions returns the number of active questions matching f.
func CountQuestions(ctx context.Context, db *gorm.DB, f QuestionFilter) (int64, error) {
	var total int64
	err := questionScope(db.WithContext(ctx), f).Count(&total).Error
	return total, err
}

// ListQuestionsPage returns a page of active questions matching f. Ties on
// the sort column are broken by id so pages are stable.
func ListQuestionsPage(ctx context.Context, db *gorm.DB, f QuestionFilter, offset, limit int) ([]domain.Question, error) {
	col, ok := questionSortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if f.Ascending {
		dir = "ASC"
	}
	var out []domain.Question
	err := questionScope(db.WithContext(ctx), f).
		Order(col + " " + dir).
		Order("id " + dir).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// IncrementViews bumps the view counter of an active question. It does not
// touch Version because views are not part of the consistency protocol.
func IncrementViews(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Question{}).
		Where("id = ? AND is_active = ?", id, true).
		UpdateColumn("views", gorm.Expr("views + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateQuestionContent rewrites the content fields of a question at the
// given version.
func UpdateQuestionContent(ctx context.Context, db *gorm.DB, id string, version int64, title, body string, tags []string) error {
	return mustAffect(db.WithContext(ctx).
		Model(&domain.Question{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"title":   title,
			"body":    body,
			"tags":    strings.Join(tags, ","),
			"version": gorm.Expr("version + 1"),
		}))
}

// SoftDeleteQuestion marks a question inactive at the given version.
func SoftDeleteQuestion(ctx context.Context, db *gorm.DB, id string, version int64) error {
	return mustAffect(db.WithContext(ctx).
		Model(&domain.Question{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"is_active": false,
			"version":   gorm.Expr("version + 1"),
		}))
}

// SetAcceptedAnswer points the question at answerID (nil clears it) at the
// given version.
func SetAcceptedAnswer(ctx context.Context, tx *gorm.DB, id string, version int64, answerID *string) error {
	return mustAffect(tx.WithContext(ctx).
		Model(&domain.Question{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"accepted_answer_id": answerID,
			"version":            gorm.Expr("version + 1"),
		}))
}

// BumpQuestionVersion advances the version of a question without changing
// anything else, claiming the row for the current writer.
func BumpQuestionVersion(ctx context.Context, tx *gorm.DB, id string, version int64) error {
	return mustAffect(tx.WithContext(ctx).
		Model(&domain.Question{}).
		Where("id = ? AND version = ?", id, version).
		Update("version", gorm.Expr("version + 1")))
}
