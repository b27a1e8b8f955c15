// Package ledger implements the vote set transition for a single votable
// entity (question or answer) and the tally derived from it.
//
// The ledger is pure: it never touches storage. Callers load the current
// vote set, call Cast, persist Result.Change and report Result.Tally.
package ledger

import (
	"errors"

	"github.com/tbourn/go-qa-backend/internal/domain"
)

// ErrInvalidKind is returned by Cast when kind is neither upvote nor downvote.
var ErrInvalidKind = errors.New("ledger: invalid vote kind")

// Outcome describes what a cast did to the voter's entry.
type Outcome string

const (
	// OutcomeAdded means the voter had no vote and now has one.
	OutcomeAdded Outcome = "added"
	// OutcomeRetracted means the voter repeated their vote and it was removed.
	OutcomeRetracted Outcome = "retracted"
	// OutcomeSwitched means the voter's vote changed direction in place.
	OutcomeSwitched Outcome = "switched"
)

// Op is the storage operation needed to persist a cast.
type Op int

const (
	OpInsert Op = iota + 1
	OpDelete
	OpUpdate
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	}
	return "unknown"
}

// Change is the minimal persistence delta for one cast. Prior is the stored
// entry being deleted or updated and is nil for inserts.
type Change struct {
	Op      Op
	VoterID string
	Kind    domain.VoteKind
	Prior   *domain.Vote
}

// Result is the outcome of Cast.
//
// Fields:
//   - Votes: the next vote set, one entry per voter, input order preserved.
//   - Tally: upvotes minus downvotes over Votes.
//   - Outcome / Change: what happened and how to persist it.
//   - Duplicates: extra entries for a voter found in the input; they are not
//     part of Votes and should be purged by the caller.
type Result struct {
	Votes      []domain.Vote
	Tally      int
	Outcome    Outcome
	Change     Change
	Duplicates []domain.Vote
}

// Cast applies a vote by voterID to the current vote set:
//
//	no prior vote      -> add
//	same kind again    -> retract (toggle off)
//	different kind     -> switch in place
//
// Cast makes no authentication decision; voterID is assumed verified.
func Cast(current []domain.Vote, voterID string, kind domain.VoteKind) (Result, error) {
	if !kind.Valid() {
		return Result{}, ErrInvalidKind
	}

	votes, dups := Normalize(current)
	res := Result{Duplicates: dups}

	idx := -1
	for i := range votes {
		if votes[i].VoterID == voterID {
			idx = i
			break
		}
	}

	switch {
	case idx < 0:
		votes = append(votes, domain.Vote{VoterID: voterID, Kind: kind})
		res.Outcome = OutcomeAdded
		res.Change = Change{Op: OpInsert, VoterID: voterID, Kind: kind}

	case votes[idx].Kind == kind:
		prior := votes[idx]
		votes = append(votes[:idx], votes[idx+1:]...)
		res.Outcome = OutcomeRetracted
		res.Change = Change{Op: OpDelete, VoterID: voterID, Kind: kind, Prior: &prior}

	default:
		prior := votes[idx]
		votes[idx].Kind = kind
		res.Outcome = OutcomeSwitched
		res.Change = Change{Op: OpUpdate, VoterID: voterID, Kind: kind, Prior: &prior}
	}

	res.Votes = votes
	res.Tally = Tally(votes)
	return res, nil
}

// Normalize returns a copy of votes holding only the first entry per voter,
// plus the entries it dropped.
func Normalize(votes []domain.Vote) (kept, dropped []domain.Vote) {
	seen := make(map[string]struct{}, len(votes))
	kept = make([]domain.Vote, 0, len(votes)+1)
	for _, v := range votes {
		if _, ok := seen[v.VoterID]; ok {
			dropped = append(dropped, v)
			continue
		}
		seen[v.VoterID] = struct{}{}
		kept = append(kept, v)
	}
	return kept, dropped
}

// Tally returns Σ(upvote) − Σ(downvote). Entries of unknown kind count zero.
func Tally(votes []domain.Vote) int {
	n := 0
	for _, v := range votes {
		n += v.Kind.Weight()
	}
	return n
}

// Counts returns the upvote and downvote breakdown of votes.
func Counts(votes []domain.Vote) (up, down int) {
	for _, v := range votes {
		switch v.Kind {
		case domain.Upvote:
			up++
		case domain.Downvote:
			down++
		}
	}
	return up, down
}
