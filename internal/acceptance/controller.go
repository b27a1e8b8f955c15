// Package acceptance enforces the single-accepted-answer rule for a question.
//
// Decide is pure: given the current question and target answer it returns a
// Plan describing the writes that move the question to its next state. The
// caller applies the plan inside one transaction, unsetting the previous
// answer before setting the target so that no reader ever observes two
// accepted answers for the same question.
package acceptance

import "errors"

var (
	// ErrPermission is returned when the requester is not the question author.
	ErrPermission = errors.New("acceptance: only the question author may accept an answer")
	// ErrNotFound is returned when the answer is inactive or belongs to another question.
	ErrNotFound = errors.New("acceptance: answer not found for question")
)

// QuestionState is the part of a question the controller reads.
type QuestionState struct {
	ID               string
	AuthorID         string
	AcceptedAnswerID string // empty when no answer is accepted
}

// AnswerState is the part of an answer the controller reads.
type AnswerState struct {
	ID         string
	QuestionID string
	AuthorID   string
	IsAccepted bool
	IsActive   bool
}

// Plan is the transition computed by Decide.
//
// When Noop is true nothing must be written and nothing emitted. Otherwise
// the caller must, in order and in one unit of work:
//  1. unset IsAccepted on UnsetAnswerID (when non-empty),
//  2. set IsAccepted on AcceptAnswerID,
//  3. point the question at AcceptAnswerID,
//  4. emit an answer-accepted notification when Notify is true.
type Plan struct {
	Noop           bool
	UnsetAnswerID  string
	AcceptAnswerID string
	Notify         bool
}

// Decide computes the plan for requester accepting target under q.
//
// Authorization is checked first so a non-author learns nothing about the
// answer. Re-accepting the currently accepted answer succeeds as a no-op.
func Decide(q QuestionState, target AnswerState, requester string) (Plan, error) {
	if requester == "" || requester != q.AuthorID {
		return Plan{}, ErrPermission
	}
	if target.QuestionID != q.ID || !target.IsActive {
		return Plan{}, ErrNotFound
	}

	if q.AcceptedAnswerID == target.ID && target.IsAccepted {
		return Plan{Noop: true, AcceptAnswerID: target.ID}, nil
	}

	p := Plan{
		AcceptAnswerID: target.ID,
		Notify:         target.AuthorID != requester,
	}
	if q.AcceptedAnswerID != "" && q.AcceptedAnswerID != target.ID {
		p.UnsetAnswerID = q.AcceptedAnswerID
	}
	return p, nil
}
