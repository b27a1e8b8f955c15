package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/repo"
)

func TestUnitOfWork_RetriesTransientThenSucceeds(t *testing.T) {
	db := newSvcDB(t)
	u := NewUnitOfWork(db, 4, time.Millisecond)

	calls := 0
	err := u.Do(context.Background(), "test", "k", func(ctx context.Context, tx *gorm.DB) error {
		calls++
		if calls < 3 {
			return repo.ErrStale
		}
		return nil
	})
	if err != nil {
		t.Fatalf("want success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestUnitOfWork_ExhaustedBecomesConflict(t *testing.T) {
	db := newSvcDB(t)
	u := NewUnitOfWork(db, 3, time.Millisecond)

	calls := 0
	err := u.Do(context.Background(), "test", "", func(ctx context.Context, tx *gorm.DB) error {
		calls++
		return repo.ErrStale
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestUnitOfWork_TerminalErrorNotRetried(t *testing.T) {
	db := newSvcDB(t)
	u := NewUnitOfWork(db, 5, time.Millisecond)

	calls := 0
	err := u.Do(context.Background(), "test", "k", func(ctx context.Context, tx *gorm.DB) error {
		calls++
		return ErrPermission
	})
	if !errors.Is(err, ErrPermission) || errors.Is(err, ErrConflict) {
		t.Fatalf("want bare ErrPermission, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestUnitOfWork_RollsBackFailedAttempt(t *testing.T) {
	db := newSvcDB(t)
	u := NewUnitOfWork(db, 2, time.Millisecond)

	calls := 0
	err := u.Do(context.Background(), "test", "k", func(ctx context.Context, tx *gorm.DB) error {
		calls++
		if _, err := repo.CreateQuestion(ctx, tx, "u1", "t", "b", nil); err != nil {
			return err
		}
		if calls == 1 {
			return repo.ErrStale
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	var n int64
	db.Model(&domain.Question{}).Count(&n)
	if n != 1 {
		t.Fatalf("only the committed attempt should persist, got %d rows", n)
	}
}

func TestUnitOfWork_CancelledBeforeStart(t *testing.T) {
	db := newSvcDB(t)
	u := NewUnitOfWork(db, 3, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := u.Do(ctx, "test", "", func(context.Context, *gorm.DB) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run for a cancelled context")
	}
}

func TestUnitOfWork_AttemptOutlivesCancellation(t *testing.T) {
	db := newSvcDB(t)
	u := NewUnitOfWork(db, 3, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	err := u.Do(ctx, "test", "", func(txCtx context.Context, tx *gorm.DB) error {
		cancel()
		if txCtx.Err() != nil {
			t.Errorf("attempt context must not be cancelled")
		}
		_, err := repo.CreateQuestion(txCtx, tx, "u1", "t", "b", nil)
		return err
	})
	if err != nil {
		t.Fatalf("started attempt should commit, got %v", err)
	}
	var n int64
	db.Model(&domain.Question{}).Count(&n)
	if n != 1 {
		t.Fatalf("want committed row, got %d", n)
	}
}
