package domain

import (
	"errors"
	"strings"
)

// VoteKind is the closed set of vote directions.
type VoteKind string

const (
	Upvote   VoteKind = "upvote"
	Downvote VoteKind = "downvote"
)

// Valid reports whether k is upvote or downvote.
func (k VoteKind) Valid() bool { return k == Upvote || k == Downvote }

// Weight is +1 for upvotes, -1 for downvotes and 0 otherwise.
func (k VoteKind) Weight() int {
	switch k {
	case Upvote:
		return 1
	case Downvote:
		return -1
	}
	return 0
}

// EntityKind names the votable aggregate a vote belongs to.
type EntityKind string

const (
	EntityQuestion EntityKind = "question"
	EntityAnswer   EntityKind = "answer"
)

// Valid reports whether k is question or answer.
func (k EntityKind) Valid() bool { return k == EntityQuestion || k == EntityAnswer }

// NotificationKind is the closed set of notification types.
type NotificationKind string

const (
	NotifyNewAnswer      NotificationKind = "new-answer"
	NotifyAnswerAccepted NotificationKind = "answer-accepted"
)

var (
	// ErrUnknownVoteKind is returned by ParseVoteKind for values outside
	// {upvote, downvote}.
	ErrUnknownVoteKind = errors.New("vote kind must be upvote or downvote")
	// ErrUnknownEntityKind is returned by ParseEntityKind for values outside
	// {question, answer}.
	ErrUnknownEntityKind = errors.New("entity kind must be question or answer")
)

// ParseVoteKind converts a wire value into a VoteKind. Matching is exact
// after trimming surrounding whitespace.
func ParseVoteKind(s string) (VoteKind, error) {
	k := VoteKind(strings.TrimSpace(s))
	if !k.Valid() {
		return "", ErrUnknownVoteKind
	}
	return k, nil
}

// ParseEntityKind converts a wire value into an EntityKind.
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(strings.TrimSpace(s))
	if !k.Valid() {
		return "", ErrUnknownEntityKind
	}
	return k, nil
}
