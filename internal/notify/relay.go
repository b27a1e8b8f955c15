package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/repo"
)

// Relay defaults.
const (
	DefaultBatchSize    = 100
	DefaultPollInterval = 2 * time.Second
	DefaultMaxAttempts  = 10
)

// Relay publishes committed, undelivered notifications to a Publisher and
// marks each row delivered only after the publish succeeded. A failed
// publish bumps the row's attempt counter and ends the cycle, so the next
// cycle resumes from the same row.
type Relay struct {
	DB          *gorm.DB
	Publisher   Publisher
	BatchSize   int
	MaxAttempts int
	Interval    time.Duration
	Now         func() time.Time

	kickOnce sync.Once
	kick     chan struct{}
}

// NewRelay returns a Relay with the given collaborators and defaults for
// any non-positive setting.
func NewRelay(db *gorm.DB, pub Publisher, batchSize int, interval time.Duration) *Relay {
	return &Relay{DB: db, Publisher: pub, BatchSize: batchSize, Interval: interval}
}

func (r *Relay) kickCh() chan struct{} {
	r.kickOnce.Do(func() { r.kick = make(chan struct{}, 1) })
	return r.kick
}

// Kick asks a running relay to start a cycle now. It never blocks; kicks
// that arrive while one is already pending are coalesced.
func (r *Relay) Kick() {
	if r == nil {
		return
	}
	select {
	case r.kickCh() <- struct{}{}:
	default:
	}
}

// RunOnce publishes one bounded batch of pending notifications and returns
// how many were delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "notify_relay").Logger()

	limit := r.BatchSize
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	pending, err := repo.ListUndelivered(ctx, r.DB, limit, maxAttempts)
	if err != nil {
		log.Error().Err(err).Msg("list undelivered notifications failed")
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	delivered := 0
	for _, n := range pending {
		if err := r.Publisher.Publish(ctx, n); err != nil {
			log.Warn().Err(err).
				Str("notification_id", n.ID).
				Int("attempts", n.DeliveryAttempts+1).
				Msg("notification publish failed")
			notificationsTotal.WithLabelValues(string(n.Kind), "delivery_failed").Inc()
			if berr := repo.BumpDeliveryAttempts(ctx, r.DB, []string{n.ID}); berr != nil {
				log.Error().Err(berr).Str("notification_id", n.ID).Msg("bump delivery attempts failed")
			}
			return delivered, err
		}
		if err := repo.MarkDelivered(ctx, r.DB, []string{n.ID}, r.now()); err != nil {
			log.Error().Err(err).Str("notification_id", n.ID).Msg("mark notification delivered failed")
			return delivered, err
		}
		notificationsTotal.WithLabelValues(string(n.Kind), "delivered").Inc()
		delivered++
	}

	log.Debug().Int("delivered", delivered).Msg("notification relay cycle completed")
	return delivered, nil
}

// Run executes relay cycles on every tick and on every Kick until ctx is
// cancelled. Cycle errors are logged and retried on the next tick. Run
// returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	kick := r.kickCh()
	for {
		// Drain whatever is already pending before waiting.
		for {
			n, err := r.RunOnce(ctx)
			if err != nil || n == 0 || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-kick:
		}
	}
}

func (r *Relay) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Compile-time check that Bus satisfies Publisher.
var _ Publisher = (*Bus)(nil)

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, n domain.Notification) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, n domain.Notification) error { return f(ctx, n) }
