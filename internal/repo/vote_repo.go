// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Vote
// model. Tallies are always computed from the votes table; no counter is
// stored anywhere.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
)

// ListVotes returns the vote set of one entity ordered by (CreatedAt, ID).
func ListVotes(ctx context.Context, db *gorm.DB, kind domain.EntityKind, entityID string) ([]domain.Vote, error) {
	var out []domain.Vote
	err := db.WithContext(ctx).
		Where("entity_kind = ? AND entity_id = ?", kind, entityID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// InsertVote records a new vote by voterID on an entity.
func InsertVote(ctx context.Context, tx *gorm.DB, kind domain.EntityKind, entityID, voterID string, vk domain.VoteKind) (*domain.Vote, error) {
	now := time.Now().UTC()
	v := &domain.Vote{
		ID:         uuid.NewString(),
		EntityKind: kind,
		EntityID:   entityID,
		VoterID:    voterID,
		Kind:       vk,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.WithContext(ctx).Create(v).Error; err != nil {
		return nil, err
	}
	return v, nil
}

// DeleteVotes removes the votes with the given ids. Deleting fewer rows than
// requested means another writer changed the set and yields ErrStale.
func DeleteVotes(ctx context.Context, tx *gorm.DB, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	res := tx.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Vote{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(ids)) {
		return ErrStale
	}
	return nil
}

// UpdateVoteKind switches the direction of an existing vote, guarded by its
// previous kind.
func UpdateVoteKind(ctx context.Context, tx *gorm.DB, id string, from, to domain.VoteKind) error {
	return mustAffect(tx.WithContext(ctx).
		Model(&domain.Vote{}).
		Where("id = ? AND kind = ?", id, from).
		Update("kind", to))
}

// Tallies computes the tally of each given entity with one aggregate query.
// Entities without votes are absent from the map (tally 0).
func Tallies(ctx context.Context, db *gorm.DB, kind domain.EntityKind, entityIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		EntityID string
		Tally    int
	}
	err := db.WithContext(ctx).
		Model(&domain.Vote{}).
		Select("entity_id, SUM(CASE WHEN kind = ? THEN 1 WHEN kind = ? THEN -1 ELSE 0 END) AS tally",
			string(domain.Upvote), string(domain.Downvote)).
		Where("entity_kind = ? AND entity_id IN ?", kind, entityIDs).
		Group("entity_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.EntityID] = r.Tally
	}
	return out, nil
}

// Tally computes the tally of a single entity.
func Tally(ctx context.Context, db *gorm.DB, kind domain.EntityKind, entityID string) (int, error) {
	m, err := Tallies(ctx, db, kind, []string{entityID})
	if err != nil {
		return 0, err
	}
	return m[entityID], nil
}
