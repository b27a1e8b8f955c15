// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Notification model: recipient-scoped reads and the outbox bookkeeping used
// by the delivery relay.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
)

// CreateNotification inserts n as-is. The caller assigns ID and CreatedAt.
func CreateNotification(ctx context.Context, tx *gorm.DB, n *domain.Notification) error {
	return tx.WithContext(ctx).Create(n).Error
}

func notificationScope(db *gorm.DB, recipientID string, unreadOnly bool) *gorm.DB {
	q := db.Model(&domain.Notification{}).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	return q
}

// CountNotifications returns the number of notifications owned by
// recipientID, optionally only the unread ones.
func CountNotifications(ctx context.Context, db *gorm.DB, recipientID string, unreadOnly bool) (int64, error) {
	var total int64
	err := notificationScope(db.WithContext(ctx), recipientID, unreadOnly).Count(&total).Error
	return total, err
}

// ListNotificationsPage returns a page of the recipient's notifications,
// newest first.
func ListNotificationsPage(ctx context.Context, db *gorm.DB, recipientID string, unreadOnly bool, offset, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	err := notificationScope(db.WithContext(ctx), recipientID, unreadOnly).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListNotificationsForQuestion returns all notifications referencing a
// question ordered by creation time. Used by tests and diagnostics.
func ListNotificationsForQuestion(ctx context.Context, db *gorm.DB, questionID string) ([]domain.Notification, error) {
	var out []domain.Notification
	err := db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// GetNotification fetches a notification owned by recipientID.
func GetNotification(ctx context.Context, db *gorm.DB, id, recipientID string) (*domain.Notification, error) {
	var n domain.Notification
	err := db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkNotificationRead sets ReadAt on a notification owned by recipientID.
// ReadAt is set only once; marking an already-read notification is a no-op.
// Returns ErrNotFound when no such notification exists for the recipient.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, id, recipientID string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND recipient_id = ? AND read_at IS NULL", id, recipientID).
		UpdateColumn("read_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	_, err := GetNotification(ctx, db, id, recipientID)
	return err
}

// MarkAllNotificationsRead sets ReadAt on every unread notification of the
// recipient and returns how many were updated.
func MarkAllNotificationsRead(ctx context.Context, db *gorm.DB, recipientID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("recipient_id = ? AND read_at IS NULL", recipientID).
		UpdateColumn("read_at", now)
	return res.RowsAffected, res.Error
}

// DeleteNotification removes a notification owned by recipientID.
func DeleteNotification(ctx context.Context, db *gorm.DB, id, recipientID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Delete(&domain.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListUndelivered returns up to limit notifications the relay has not
// delivered yet, oldest first. Rows that failed maxAttempts times or more
// are skipped; maxAttempts <= 0 disables the cap.
func ListUndelivered(ctx context.Context, db *gorm.DB, limit, maxAttempts int) ([]domain.Notification, error) {
	var out []domain.Notification
	q := db.WithContext(ctx).Where("delivered_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("delivery_attempts < ?", maxAttempts)
	}
	err := q.Order("created_at ASC, id ASC").Limit(limit).Find(&out).Error
	return out, err
}

// MarkDelivered stamps DeliveredAt on the given notifications.
func MarkDelivered(ctx context.Context, db *gorm.DB, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id IN ? AND delivered_at IS NULL", ids).
		UpdateColumn("delivered_at", now).Error
}

// BumpDeliveryAttempts records one failed delivery for each id.
func BumpDeliveryAttempts(ctx context.Context, db *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id IN ?", ids).
		UpdateColumn("delivery_attempts", gorm.Expr("delivery_attempts + 1")).Error
}
