// Package services – Engine
//
// This file implements the vote/acceptance consistency engine. The Engine
// loads the affected aggregates, delegates the state transition to the vote
// ledger or the acceptance controller, persists the result together with any
// notification as one unit of work, and kicks the notification relay once
// the transaction has committed.
//
// Observability: every public method is OpenTelemetry-instrumented and logs
// through the request-scoped zerolog logger carried in ctx.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/acceptance"
	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/ledger"
	"github.com/tbourn/go-qa-backend/internal/notify"
	"github.com/tbourn/go-qa-backend/internal/repo"
)

// DefaultMaxBodyRunes caps question and answer bodies.
const DefaultMaxBodyRunes = 10000

// Kicker is notified after a commit that queued notifications.
type Kicker interface {
	Kick()
}

// Engine is the consistency engine behind submit, vote, accept and list.
type Engine struct {
	UoW     *UnitOfWork
	Emitter *notify.Emitter
	// Relay is optional; when set it is kicked after commits that queued a
	// notification.
	Relay Kicker

	MaxBodyRunes int
}

// NewEngine wires an Engine with default limits.
func NewEngine(uow *UnitOfWork, emitter *notify.Emitter, relay Kicker) *Engine {
	if emitter == nil {
		emitter = notify.NewEmitter()
	}
	return &Engine{UoW: uow, Emitter: emitter, Relay: relay, MaxBodyRunes: DefaultMaxBodyRunes}
}

func tracer() trace.Tracer { return otel.Tracer("services/Engine") }

// SubmitAnswer creates a pending answer under an active question and queues
// a new-answer notification for the question author in the same transaction.
func (e *Engine) SubmitAnswer(ctx context.Context, questionID, authorID, content string) (*domain.Answer, error) {
	ctx, span := tracer().Start(ctx, "SubmitAnswer",
		trace.WithAttributes(
			attribute.String("question.id", questionID),
			attribute.String("user.id", authorID),
		),
	)
	defer span.End()

	if strings.TrimSpace(authorID) == "" {
		return nil, fmt.Errorf("%w: authentication required", ErrPermission)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: answer content is required", ErrValidation)
	}
	if max := e.maxBody(); utf8.RuneCountInString(content) > max {
		return nil, fmt.Errorf("%w: answer content exceeds %d characters", ErrValidation, max)
	}

	var (
		created *domain.Answer
		queued  bool
	)
	err := e.UoW.Do(ctx, "submit_answer", "", func(ctx context.Context, tx *gorm.DB) error {
		created, queued = nil, false

		q, err := loadActiveQuestion(ctx, tx, questionID)
		if err != nil {
			return err
		}
		a, err := repo.CreateAnswer(ctx, tx, q.ID, authorID, content)
		if err != nil {
			return err
		}
		created = a
		queued = e.Emitter.NewAnswer(ctx, tx, q, a) != nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.kick(queued)
	zerolog.Ctx(ctx).Debug().
		Str("question_id", questionID).
		Str("answer_id", created.ID).
		Bool("notified", queued).
		Msg("answer submitted")
	return created, nil
}

// VoteOn applies a vote by voterID to the entity and returns its new tally.
// Voting the same way twice retracts the vote; voting the other way
// switches it.
func (e *Engine) VoteOn(ctx context.Context, entityKind domain.EntityKind, entityID, voterID string, kind domain.VoteKind) (int, error) {
	ctx, span := tracer().Start(ctx, "VoteOn",
		trace.WithAttributes(
			attribute.String("entity.kind", string(entityKind)),
			attribute.String("entity.id", entityID),
			attribute.String("user.id", voterID),
			attribute.String("vote.kind", string(kind)),
		),
	)
	defer span.End()

	if !entityKind.Valid() {
		return 0, fmt.Errorf("%w: %v", ErrValidation, domain.ErrUnknownEntityKind)
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %v", ErrValidation, domain.ErrUnknownVoteKind)
	}
	if strings.TrimSpace(voterID) == "" {
		return 0, fmt.Errorf("%w: authentication required", ErrPermission)
	}

	var res ledger.Result
	key := "vote:" + string(entityKind) + ":" + entityID
	err := e.UoW.Do(ctx, "vote", key, func(ctx context.Context, tx *gorm.DB) error {
		res = ledger.Result{}

		bump, err := claimVotable(ctx, tx, entityKind, entityID)
		if err != nil {
			return err
		}
		votes, err := repo.ListVotes(ctx, tx, entityKind, entityID)
		if err != nil {
			return err
		}
		r, err := ledger.Cast(votes, voterID, kind)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err := applyVoteChange(ctx, tx, entityKind, entityID, r); err != nil {
			return err
		}
		if err := bump(); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return 0, err
	}

	votesTotal.WithLabelValues(string(entityKind), string(res.Outcome)).Inc()
	zerolog.Ctx(ctx).Debug().
		Str("entity_kind", string(entityKind)).
		Str("entity_id", entityID).
		Str("outcome", string(res.Outcome)).
		Int("tally", res.Tally).
		Msg("vote applied")
	return res.Tally, nil
}

// claimVotable loads an active votable entity and returns a function that
// bumps its version. Bumping after the vote rows are written makes any
// concurrent writer that read the same version fail and retry.
func claimVotable(ctx context.Context, tx *gorm.DB, kind domain.EntityKind, id string) (func() error, error) {
	switch kind {
	case domain.EntityQuestion:
		q, err := loadActiveQuestion(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		return func() error { return repo.BumpQuestionVersion(ctx, tx, q.ID, q.Version) }, nil

	case domain.EntityAnswer:
		a, err := repo.GetAnswerForUpdate(ctx, tx, id)
		if err != nil {
			return nil, mapNotFound(err, "answer")
		}
		if !a.IsActive {
			return nil, fmt.Errorf("%w: answer", ErrNotFound)
		}
		// Answers of a deleted question are gone with it. The parent is read
		// without a lock so answer votes never hold question rows.
		if _, err := activeQuestion(ctx, tx, a.QuestionID); err != nil {
			return nil, err
		}
		return func() error { return repo.BumpAnswerVersion(ctx, tx, a.ID, a.Version) }, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrValidation, domain.ErrUnknownEntityKind)
}

func applyVoteChange(ctx context.Context, tx *gorm.DB, kind domain.EntityKind, id string, r ledger.Result) error {
	if len(r.Duplicates) > 0 {
		ids := make([]string, len(r.Duplicates))
		for i, d := range r.Duplicates {
			ids[i] = d.ID
		}
		if err := repo.DeleteVotes(ctx, tx, ids...); err != nil {
			return err
		}
	}
	switch r.Change.Op {
	case ledger.OpInsert:
		_, err := repo.InsertVote(ctx, tx, kind, id, r.Change.VoterID, r.Change.Kind)
		return err
	case ledger.OpDelete:
		return repo.DeleteVotes(ctx, tx, r.Change.Prior.ID)
	case ledger.OpUpdate:
		return repo.UpdateVoteKind(ctx, tx, r.Change.Prior.ID, r.Change.Prior.Kind, r.Change.Kind)
	}
	return fmt.Errorf("unexpected ledger op %v", r.Change.Op)
}

// AcceptAnswer marks answerID as the accepted answer of questionID on
// behalf of requester, unsetting any previously accepted answer first.
// Re-accepting the current answer succeeds without writes or notification.
func (e *Engine) AcceptAnswer(ctx context.Context, questionID, answerID, requester string) (*domain.Answer, error) {
	ctx, span := tracer().Start(ctx, "AcceptAnswer",
		trace.WithAttributes(
			attribute.String("question.id", questionID),
			attribute.String("answer.id", answerID),
			attribute.String("user.id", requester),
		),
	)
	defer span.End()

	if strings.TrimSpace(requester) == "" {
		acceptancesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: authentication required", ErrPermission)
	}

	var (
		accepted *domain.Answer
		plan     acceptance.Plan
		queued   bool
	)
	err := e.UoW.Do(ctx, "accept", "question:"+questionID, func(ctx context.Context, tx *gorm.DB) error {
		accepted, plan, queued = nil, acceptance.Plan{}, false

		q, err := loadActiveQuestion(ctx, tx, questionID)
		if err != nil {
			return err
		}
		// A missing answer is decided by the controller too, so that a
		// non-author is refused before learning whether it exists.
		target, err := repo.GetAnswerForUpdate(ctx, tx, answerID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		var ts acceptance.AnswerState
		if target != nil {
			ts = answerState(target)
		}

		p, err := acceptance.Decide(questionState(q), ts, requester)
		if err != nil {
			return mapAcceptanceErr(err)
		}
		plan = p
		if p.Noop {
			accepted = target
			return nil
		}

		// Unset every other accepted answer before setting the target. This
		// covers the previous pointer and repairs any stray flag.
		others, err := repo.ListAcceptedAnswers(ctx, tx, q.ID)
		if err != nil {
			return err
		}
		for _, o := range others {
			if o.ID == target.ID {
				continue
			}
			if err := repo.SetAnswerAccepted(ctx, tx, o.ID, o.Version, false); err != nil {
				return err
			}
		}
		if err := repo.SetAnswerAccepted(ctx, tx, target.ID, target.Version, true); err != nil {
			return err
		}
		if err := repo.SetAcceptedAnswer(ctx, tx, q.ID, q.Version, &target.ID); err != nil {
			return err
		}

		target.IsAccepted = true
		target.Version++
		accepted = target
		if p.Notify {
			queued = e.Emitter.AnswerAccepted(ctx, tx, q, target, requester) != nil
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPermission) || errors.Is(err, ErrNotFound) {
			acceptancesTotal.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}

	result := "accepted"
	switch {
	case plan.Noop:
		result = "noop"
	case plan.UnsetAnswerID != "":
		result = "switched"
	}
	acceptancesTotal.WithLabelValues(result).Inc()
	e.kick(queued)

	zerolog.Ctx(ctx).Debug().
		Str("question_id", questionID).
		Str("answer_id", answerID).
		Str("previous_answer_id", plan.UnsetAnswerID).
		Str("result", result).
		Msg("answer accepted")
	return accepted, nil
}

// ListAnswers returns the active answers of an active question with their
// tallies, accepted answer first, then by tally descending, then oldest
// first. Ties that survive all three are broken by ID so the order is total.
func (e *Engine) ListAnswers(ctx context.Context, questionID string) ([]domain.AnswerView, error) {
	ctx, span := tracer().Start(ctx, "ListAnswers",
		trace.WithAttributes(attribute.String("question.id", questionID)),
	)
	defer span.End()

	db := e.UoW.DB
	if _, err := activeQuestion(ctx, db, questionID); err != nil {
		return nil, err
	}
	answers, err := repo.ListActiveAnswers(ctx, db, questionID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(answers))
	for i := range answers {
		ids[i] = answers[i].ID
	}
	tallies, err := repo.Tallies(ctx, db, domain.EntityAnswer, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.AnswerView, len(answers))
	for i, a := range answers {
		out[i] = domain.AnswerView{Answer: a, VoteCount: tallies[a.ID]}
	}
	SortAnswers(out)
	return out, nil
}

// SortAnswers orders views by the answer listing contract.
func SortAnswers(views []domain.AnswerView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.IsAccepted != b.IsAccepted {
			return a.IsAccepted
		}
		if a.VoteCount != b.VoteCount {
			return a.VoteCount > b.VoteCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (e *Engine) kick(queued bool) {
	if queued && e.Relay != nil {
		e.Relay.Kick()
	}
}

func (e *Engine) maxBody() int {
	if e.MaxBodyRunes > 0 {
		return e.MaxBodyRunes
	}
	return DefaultMaxBodyRunes
}

// loadActiveQuestion reads a question (locked inside transactions on
// dialects that support it) and maps missing or soft-deleted rows to
// ErrNotFound.
func loadActiveQuestion(ctx context.Context, db *gorm.DB, id string) (*domain.Question, error) {
	q, err := repo.GetQuestionForUpdate(ctx, db, id)
	if err != nil {
		return nil, mapNotFound(err, "question")
	}
	if !q.IsActive {
		return nil, fmt.Errorf("%w: question", ErrNotFound)
	}
	return q, nil
}

// activeQuestion is loadActiveQuestion without the row lock.
func activeQuestion(ctx context.Context, db *gorm.DB, id string) (*domain.Question, error) {
	q, err := repo.GetQuestion(ctx, db, id)
	if err != nil {
		return nil, mapNotFound(err, "question")
	}
	if !q.IsActive {
		return nil, fmt.Errorf("%w: question", ErrNotFound)
	}
	return q, nil
}

func mapNotFound(err error, what string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

func mapAcceptanceErr(err error) error {
	switch {
	case errors.Is(err, acceptance.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermission, err)
	case errors.Is(err, acceptance.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func questionState(q *domain.Question) acceptance.QuestionState {
	s := acceptance.QuestionState{ID: q.ID, AuthorID: q.AuthorID}
	if q.AcceptedAnswerID != nil {
		s.AcceptedAnswerID = *q.AcceptedAnswerID
	}
	return s
}

func answerState(a *domain.Answer) acceptance.AnswerState {
	return acceptance.AnswerState{
		ID:         a.ID,
		QuestionID: a.QuestionID,
		AuthorID:   a.AuthorID,
		IsAccepted: a.IsAccepted,
		IsActive:   a.IsActive,
	}
}
