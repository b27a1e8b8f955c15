// Package services – AnswerService
//
// This file implements author-only edits of answers. Submission, voting and
// acceptance belong to the Engine; AnswerService covers the content
// lifecycle around them. Deleting the accepted answer clears the question's
// accepted pointer in the same transaction so the two never disagree.
package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/repo"
)

// AnswerService edits and removes answers.
type AnswerService struct {
	UoW          *UnitOfWork
	BodyMaxRunes int
}

// Get returns an active answer whose question is active.
func (s *AnswerService) Get(ctx context.Context, id string) (*domain.Answer, error) {
	a, err := repo.GetAnswer(ctx, s.UoW.DB, id)
	if err != nil {
		return nil, mapNotFound(err, "answer")
	}
	if !a.IsActive {
		return nil, fmt.Errorf("%w: answer", ErrNotFound)
	}
	if _, err := activeQuestion(ctx, s.UoW.DB, a.QuestionID); err != nil {
		return nil, err
	}
	return a, nil
}

// Update replaces the body of an answer. Only its author may do so.
func (s *AnswerService) Update(ctx context.Context, userID, id, body string) (*domain.Answer, error) {
	tr := otel.Tracer("services/AnswerService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("answer.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: authentication required", ErrPermission)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: answer content is required", ErrValidation)
	}
	max := s.BodyMaxRunes
	if max <= 0 {
		max = DefaultMaxBodyRunes
	}
	if utf8.RuneCountInString(body) > max {
		return nil, fmt.Errorf("%w: answer content exceeds %d characters", ErrValidation, max)
	}

	var out *domain.Answer
	err := s.UoW.Do(ctx, "update_answer", "answer:"+id, func(ctx context.Context, tx *gorm.DB) error {
		a, err := ownedAnswer(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if _, err := activeQuestion(ctx, tx, a.QuestionID); err != nil {
			return err
		}
		if err := repo.UpdateAnswerBody(ctx, tx, a.ID, a.Version, body); err != nil {
			return err
		}
		a.Body = body
		a.Version++
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete soft-deletes an answer. Only its author may do so. When the answer
// is the accepted one the question loses its accepted answer.
func (s *AnswerService) Delete(ctx context.Context, userID, id string) error {
	tr := otel.Tracer("services/AnswerService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("answer.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: authentication required", ErrPermission)
	}

	// The question key is needed before the transaction so deletion
	// serializes with acceptance on the same question.
	a, err := repo.GetAnswer(ctx, s.UoW.DB, id)
	if err != nil {
		return mapNotFound(err, "answer")
	}

	var cleared bool
	err = s.UoW.Do(ctx, "delete_answer", "question:"+a.QuestionID, func(ctx context.Context, tx *gorm.DB) error {
		cleared = false

		q, err := loadActiveQuestion(ctx, tx, a.QuestionID)
		if err != nil {
			return err
		}
		cur, err := ownedAnswer(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if err := repo.SoftDeleteAnswer(ctx, tx, cur.ID, cur.Version); err != nil {
			return err
		}
		if q.AcceptedAnswerID != nil && *q.AcceptedAnswerID == cur.ID {
			cleared = true
			return repo.SetAcceptedAnswer(ctx, tx, q.ID, q.Version, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Debug().
		Str("answer_id", id).
		Str("question_id", a.QuestionID).
		Bool("cleared_accepted", cleared).
		Msg("answer deleted")
	return nil
}

func ownedAnswer(ctx context.Context, tx *gorm.DB, id, userID string) (*domain.Answer, error) {
	a, err := repo.GetAnswerForUpdate(ctx, tx, id)
	if err != nil {
		return nil, mapNotFound(err, "answer")
	}
	if !a.IsActive {
		return nil, fmt.Errorf("%w: answer", ErrNotFound)
	}
	if a.AuthorID != userID {
		return nil, fmt.Errorf("%w: only the author can modify this answer", ErrPermission)
	}
	return a, nil
}
