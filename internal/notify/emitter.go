// Package notify produces and delivers notifications for Q&A events.
//
// Emission happens inside the caller's database transaction: the Emitter
// writes a notification row under a SAVEPOINT, so the row commits exactly
// when the triggering state change commits, and a failed write is rolled
// back to the savepoint without aborting the surrounding transaction.
//
// Delivery is decoupled from emission. The Relay polls committed, undelivered
// rows (transactional outbox) and publishes them on the in-process Bus, from
// which live subscribers such as the SSE stream receive them.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/repo"
)

const savepointName = "notify_emit"

// WriteFunc persists a notification row using tx.
type WriteFunc func(ctx context.Context, tx *gorm.DB, n *domain.Notification) error

// Emitter builds notifications for qualifying events and writes them into
// the caller's transaction. The zero value is ready to use.
type Emitter struct {
	// Write persists the row; defaults to repo.CreateNotification.
	Write WriteFunc
	// Now returns the creation timestamp; defaults to time.Now().UTC().
	Now func() time.Time
}

// NewEmitter returns an Emitter with default collaborators.
func NewEmitter() *Emitter {
	return &Emitter{Write: repo.CreateNotification}
}

// NewAnswer emits a new-answer notification to the question author. It is
// suppressed when the author answered their own question.
//
// The returned notification is nil when suppressed or when the write failed.
// Failures are logged and counted, never returned: the answer must be
// created regardless.
func (e *Emitter) NewAnswer(ctx context.Context, tx *gorm.DB, q *domain.Question, a *domain.Answer) *domain.Notification {
	if a.AuthorID == q.AuthorID {
		notificationsTotal.WithLabelValues(string(domain.NotifyNewAnswer), "suppressed").Inc()
		return nil
	}
	return e.emit(ctx, tx, &domain.Notification{
		RecipientID: q.AuthorID,
		SenderID:    a.AuthorID,
		Kind:        domain.NotifyNewAnswer,
		Message:     fmt.Sprintf(`Someone answered your question: "%s"`, q.Title),
		QuestionID:  q.ID,
		AnswerID:    a.ID,
	})
}

// AnswerAccepted emits an answer-accepted notification to the answer author.
// It is suppressed when the acceptor accepted their own answer.
func (e *Emitter) AnswerAccepted(ctx context.Context, tx *gorm.DB, q *domain.Question, a *domain.Answer, acceptorID string) *domain.Notification {
	if a.AuthorID == acceptorID {
		notificationsTotal.WithLabelValues(string(domain.NotifyAnswerAccepted), "suppressed").Inc()
		return nil
	}
	return e.emit(ctx, tx, &domain.Notification{
		RecipientID: a.AuthorID,
		SenderID:    acceptorID,
		Kind:        domain.NotifyAnswerAccepted,
		Message:     fmt.Sprintf(`Your answer was accepted for: "%s"`, q.Title),
		QuestionID:  q.ID,
		AnswerID:    a.ID,
	})
}

func (e *Emitter) emit(ctx context.Context, tx *gorm.DB, n *domain.Notification) *domain.Notification {
	log := zerolog.Ctx(ctx).With().
		Str("kind", string(n.Kind)).
		Str("recipient_id", n.RecipientID).
		Str("question_id", n.QuestionID).
		Str("answer_id", n.AnswerID).
		Logger()

	n.ID = uuid.NewString()
	n.CreatedAt = e.now()

	write := e.Write
	if write == nil {
		write = repo.CreateNotification
	}

	if err := tx.SavePoint(savepointName).Error; err != nil {
		log.Error().Err(err).Msg("notification savepoint failed")
		notificationsTotal.WithLabelValues(string(n.Kind), "emit_failed").Inc()
		return nil
	}
	if err := write(ctx, tx, n); err != nil {
		if rerr := tx.RollbackTo(savepointName).Error; rerr != nil {
			log.Error().Err(rerr).Msg("rollback to notification savepoint failed")
		}
		log.Error().Err(err).Msg("notification emit failed")
		notificationsTotal.WithLabelValues(string(n.Kind), "emit_failed").Inc()
		return nil
	}

	log.Debug().Str("notification_id", n.ID).Msg("notification queued")
	notificationsTotal.WithLabelValues(string(n.Kind), "emitted").Inc()
	return n
}

func (e *Emitter) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}
