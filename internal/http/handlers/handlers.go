// Package handlers exposes the Q&A board over HTTP.
//
// Handlers are transport-thin: they bind and validate input, call the
// services, and translate results (including service errors, see errors.go)
// into HTTP responses.
package handlers

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/notify"
	"github.com/tbourn/go-qa-backend/internal/repo"
)

//
// Service contracts (context-aware)
//

// QuestionService manages question content.
type QuestionService interface {
	Create(ctx context.Context, authorID, title, body string, tags []string) (*domain.Question, error)
	ListPage(ctx context.Context, f repo.QuestionFilter, page, pageSize int) ([]domain.QuestionView, int64, error)
	Get(ctx context.Context, id string) (*domain.QuestionView, error)
	Update(ctx context.Context, userID, id, title, body string, tags []string) (*domain.Question, error)
	Delete(ctx context.Context, userID, id string) error
}

// AnswerService edits and removes answers.
type AnswerService interface {
	Get(ctx context.Context, id string) (*domain.Answer, error)
	Update(ctx context.Context, userID, id, body string) (*domain.Answer, error)
	Delete(ctx context.Context, userID, id string) error
}

// Engine is the vote/acceptance consistency engine.
type Engine interface {
	SubmitAnswer(ctx context.Context, questionID, authorID, content string) (*domain.Answer, error)
	VoteOn(ctx context.Context, entityKind domain.EntityKind, entityID, voterID string, kind domain.VoteKind) (int, error)
	AcceptAnswer(ctx context.Context, questionID, answerID, requester string) (*domain.Answer, error)
	ListAnswers(ctx context.Context, questionID string) ([]domain.AnswerView, error)
}

// NotificationService serves a recipient's notifications.
type NotificationService interface {
	ListPage(ctx context.Context, recipientID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, int64, error)
	MarkRead(ctx context.Context, recipientID, id string) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	Delete(ctx context.Context, recipientID, id string) error
}

// ETagSource computes version keys for cacheable listings; handlers wrap
// them into weak ETags. An error means "no validator" and the listing is
// served in full.
type ETagSource interface {
	AnswersETag(ctx context.Context, questionID string) (string, error)
	NotificationsETag(ctx context.Context, recipientID string) (string, error)
}

// Subscriber hands out live notification subscriptions.
type Subscriber interface {
	Subscribe(recipientID string) *notify.Subscription
}

//
// Handler wiring
//

// Deps are the collaborators of Handlers. ETags and Stream are optional.
type Deps struct {
	Questions     QuestionService
	Answers       AnswerService
	Engine        Engine
	Notifications NotificationService
	ETags         ETagSource
	Stream        Subscriber
	// Heartbeat is the SSE keep-alive interval; 0 selects 25s.
	Heartbeat time.Duration
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	questions     QuestionService
	answers       AnswerService
	engine        Engine
	notifications NotificationService
	etags         ETagSource
	stream        Subscriber
	heartbeat     time.Duration
}

// New constructs Handlers bound to d.
func New(d Deps) *Handlers {
	hb := d.Heartbeat
	if hb <= 0 {
		hb = 25 * time.Second
	}
	return &Handlers{
		questions:     d.Questions,
		answers:       d.Answers,
		engine:        d.Engine,
		notifications: d.Notifications,
		etags:         d.ETags,
		stream:        d.Stream,
		heartbeat:     hb,
	}
}

// DBETags derives validators from aggregate queries on db.
type DBETags struct {
	DB *gorm.DB
}

// AnswersETag changes whenever an answer is added, removed, edited, voted on
// or (un)accepted, since each of those bumps a version or UpdatedAt.
func (e DBETags) AnswersETag(ctx context.Context, questionID string) (string, error) {
	count, maxTS, versions, err := repo.AnswersStats(ctx, e.DB, questionID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("answers:%s:%d:%d:%d", questionID, count, unixNano(maxTS), versions), nil
}

// NotificationsETag changes when a notification arrives, is read or deleted.
func (e DBETags) NotificationsETag(ctx context.Context, recipientID string) (string, error) {
	count, unread, newest, err := repo.NotificationsStats(ctx, e.DB, recipientID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("notifications:%s:%d:%d:%d", recipientID, count, unread, unixNano(newest)), nil
}

func unixNano(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}
