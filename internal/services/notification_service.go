// Package services – NotificationService
//
// This file implements the recipient-facing side of notifications: listing,
// marking read and deleting. Notifications are created only by the
// notify.Emitter inside engine transactions; this service never creates
// them. Every operation is scoped to the recipient, so another user's
// notification reads as not found.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/repo"
	"github.com/tbourn/go-qa-backend/internal/utils"
)

// NotificationService serves a recipient's notifications.
type NotificationService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (s *NotificationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ListPage returns a page of the recipient's notifications, newest first,
// and the total matching count. unreadOnly restricts both to unread rows.
func (s *NotificationService) ListPage(ctx context.Context, recipientID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, int64, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", recipientID),
			attribute.Bool("unread_only", unreadOnly),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if strings.TrimSpace(recipientID) == "" {
		return nil, 0, fmt.Errorf("%w: authentication required", ErrPermission)
	}
	page, pageSize = utils.NormalizePage(page, pageSize)

	total, err := repo.CountNotifications(ctx, s.DB, recipientID, unreadOnly)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Notification{}, 0, nil
	}
	items, err := repo.ListNotificationsPage(ctx, s.DB, recipientID, unreadOnly, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// MarkRead marks one notification read and returns it. Marking an already
// read notification keeps its original ReadAt.
func (s *NotificationService) MarkRead(ctx context.Context, recipientID, id string) (*domain.Notification, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("user.id", recipientID),
			attribute.String("notification.id", id),
		),
	)
	defer span.End()

	if strings.TrimSpace(recipientID) == "" {
		return nil, fmt.Errorf("%w: authentication required", ErrPermission)
	}
	if err := repo.MarkNotificationRead(ctx, s.DB, id, recipientID, s.now()); err != nil {
		return nil, mapNotFound(err, "notification")
	}
	n, err := repo.GetNotification(ctx, s.DB, id, recipientID)
	if err != nil {
		return nil, mapNotFound(err, "notification")
	}
	return n, nil
}

// MarkAllRead marks every unread notification of the recipient read and
// reports how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "MarkAllRead", trace.WithAttributes(attribute.String("user.id", recipientID)))
	defer span.End()

	if strings.TrimSpace(recipientID) == "" {
		return 0, fmt.Errorf("%w: authentication required", ErrPermission)
	}
	return repo.MarkAllNotificationsRead(ctx, s.DB, recipientID, s.now())
}

// Delete removes one of the recipient's notifications.
func (s *NotificationService) Delete(ctx context.Context, recipientID, id string) error {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("user.id", recipientID),
			attribute.String("notification.id", id),
		),
	)
	defer span.End()

	if strings.TrimSpace(recipientID) == "" {
		return fmt.Errorf("%w: authentication required", ErrPermission)
	}
	return mapNotFound(repo.DeleteNotification(ctx, s.DB, id, recipientID), "notification")
}
