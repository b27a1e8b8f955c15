// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
)

// AnswersStats returns aggregate metadata for the active answers of a
// question: the row count, the greatest UpdatedAt and the sum of versions.
//
// Every vote, acceptance or edit bumps an answer's version, so versionSum
// changes whenever the ordered listing could change, even when two writes
// land within the same timestamp tick.
//
// When the question has no answers, count and versionSum are 0 and
// maxUpdatedAt is nil.
func AnswersStats(ctx context.Context, db *gorm.DB, questionID string) (count int64, maxUpdatedAt *time.Time, versionSum int64, err error) {
	q := db.WithContext(ctx).Model(&domain.Answer{}).Where("question_id = ? AND is_active = ?", questionID, true)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, 0, err
	}
	if count == 0 {
		return 0, nil, 0, nil
	}

	var sum struct{ V int64 }
	if err = db.WithContext(ctx).Model(&domain.Answer{}).
		Select("COALESCE(SUM(version), 0) AS v").
		Where("question_id = ? AND is_active = ?", questionID, true).
		Scan(&sum).Error; err != nil {
		return 0, nil, 0, err
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Answer{}).
		Select("updated_at").
		Where("question_id = ? AND is_active = ?", questionID, true).
		Order("updated_at DESC").Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, 0, err
	}
	return count, &row.UpdatedAt, sum.V, nil
}

// NotificationsStats returns the number of notifications owned by
// recipientID, how many of them are unread, and the newest CreatedAt.
func NotificationsStats(ctx context.Context, db *gorm.DB, recipientID string) (count, unread int64, newest *time.Time, err error) {
	base := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Notification{}).Where("recipient_id = ?", recipientID)
	}
	if err = base().Count(&count).Error; err != nil {
		return 0, 0, nil, err
	}
	if count == 0 {
		return 0, 0, nil, nil
	}
	if err = base().Where("read_at IS NULL").Count(&unread).Error; err != nil {
		return 0, 0, nil, err
	}
	var row struct {
		CreatedAt time.Time
	}
	if err = base().Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, 0, nil, err
	}
	return count, unread, &row.CreatedAt, nil
}
