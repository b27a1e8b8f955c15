// Package domain defines the persistence models for questions, answers,
// votes, and notifications. These types are mapped with GORM and form the
// core data layer of the Q&A board.
package domain

import (
	"time"
)

// Question is a post asking for answers. The only fields the consistency
// engine mutates are AcceptedAnswerID and Version; the rest is content owned
// by the question author.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - AuthorID: identifier of the asker; indexed for "my questions" queries.
//   - Title / Body / Tags: free-text content. Tags are stored comma-joined.
//   - AcceptedAnswerID: the single accepted answer, or nil.
//   - IsActive: false once soft-deleted. Questions are never hard-deleted
//     while answers reference them.
//   - Views: read counter incremented on fetch.
//   - Version: optimistic concurrency token bumped on every engine write.
type Question struct {
	ID               string    `json:"id"                 gorm:"type:char(36);primaryKey"`
	AuthorID         string    `json:"author_id"          gorm:"type:varchar(64);not null;index:idx_questions_author"`
	Title            string    `json:"title"              gorm:"type:varchar(255);not null"`
	Body             string    `json:"body"               gorm:"type:text;not null"`
	Tags             string    `json:"tags"               gorm:"type:varchar(512);not null;default:''"`
	AcceptedAnswerID *string   `json:"accepted_answer_id" gorm:"type:char(36)"`
	IsActive         bool      `json:"is_active"          gorm:"not null;default:true;index:idx_questions_active_created,priority:1"`
	Views            int64     `json:"views"              gorm:"not null;default:0"`
	Version          int64     `json:"-"                  gorm:"not null;default:0"`
	CreatedAt        time.Time `json:"created_at"         gorm:"index:idx_questions_active_created,priority:2"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for Question.
func (Question) TableName() string { return "questions" }

// Answer is a reply to a question. IsAccepted flips only through the
// acceptance protocol of the consistency engine.
//
// The partial unique index ux_answers_accepted allows at most one accepted
// answer per question at the storage level.
type Answer struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	QuestionID string    `json:"question_id" gorm:"type:char(36);not null;index:idx_answers_question,priority:1;uniqueIndex:ux_answers_accepted,where:is_accepted"`
	AuthorID   string    `json:"author_id"   gorm:"type:varchar(64);not null;index"`
	Body       string    `json:"body"        gorm:"type:text;not null"`
	IsAccepted bool      `json:"is_accepted" gorm:"not null;default:false"`
	IsActive   bool      `json:"is_active"   gorm:"not null;default:true"`
	Version    int64     `json:"-"           gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index:idx_answers_question,priority:2"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Question is the parent. Answers are never orphaned because questions
	// are only soft-deleted.
	Question Question `json:"-" gorm:"foreignKey:QuestionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Answer.
func (Answer) TableName() string { return "answers" }

// AnswerView is an answer together with its derived vote tally, as returned
// by the ordered answer listing.
type AnswerView struct {
	Answer
	VoteCount int `json:"vote_count"`
}

// QuestionView is a question with derived counters for listings.
type QuestionView struct {
	Question
	VoteCount   int   `json:"vote_count"`
	AnswerCount int64 `json:"answer_count"`
}

// Vote is a single voter's vote on a question or an answer. The tally of an
// entity is always derived from its votes and never stored.
//
// The unique index ux_votes_entity_voter guarantees one vote per voter per
// entity, so a voter can never hold an upvote and a downvote at once.
type Vote struct {
	ID         string     `json:"id"          gorm:"type:char(36);primaryKey"`
	EntityKind EntityKind `json:"entity_kind" gorm:"type:varchar(16);not null;uniqueIndex:ux_votes_entity_voter,priority:1;check:entity_kind IN ('question','answer')"`
	EntityID   string     `json:"entity_id"   gorm:"type:char(36);not null;uniqueIndex:ux_votes_entity_voter,priority:2"`
	VoterID    string     `json:"voter_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_votes_entity_voter,priority:3"`
	Kind       VoteKind   `json:"kind"        gorm:"type:varchar(16);not null;check:kind IN ('upvote','downvote')"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Vote.
func (Vote) TableName() string { return "votes" }

// Notification informs a recipient about an answer to their question or the
// acceptance of their answer. Rows are written only by the notification
// emitter as a side effect of engine operations.
//
// Fields:
//   - RecipientID: owner; the only user allowed to see the row.
//   - SenderID: the user whose action triggered the notification.
//   - Kind: new-answer or answer-accepted.
//   - Message / QuestionID / AnswerID: payload.
//   - ReadAt: set once by the recipient.
//   - DeliveredAt / DeliveryAttempts: relay bookkeeping (outbox semantics).
type Notification struct {
	ID               string           `json:"id"              gorm:"type:char(36);primaryKey"`
	RecipientID      string           `json:"recipient_id"    gorm:"type:varchar(64);not null;index:idx_notifications_recipient,priority:1"`
	SenderID         string           `json:"sender_id"       gorm:"type:varchar(64);not null"`
	Kind             NotificationKind `json:"kind"            gorm:"type:varchar(32);not null;check:kind IN ('new-answer','answer-accepted')"`
	Message          string           `json:"message"         gorm:"type:text;not null"`
	QuestionID       string           `json:"question_id"     gorm:"type:char(36);not null"`
	AnswerID         string           `json:"answer_id"       gorm:"type:char(36);not null"`
	ReadAt           *time.Time       `json:"read_at,omitempty"`
	DeliveredAt      *time.Time       `json:"-"               gorm:"index:idx_notifications_undelivered,priority:1"`
	DeliveryAttempts int              `json:"-"               gorm:"not null;default:0"`
	CreatedAt        time.Time        `json:"created_at"      gorm:"index:idx_notifications_recipient,priority:2;index:idx_notifications_undelivered,priority:2"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }
