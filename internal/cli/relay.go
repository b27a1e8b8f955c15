package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/tbourn/go-qa-backend/internal/domain"
	"github.com/tbourn/go-qa-backend/internal/notify"
)

func newRelayCmd(a *app) *cobra.Command {
	var maxBatches int
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Drain the notification outbox once, logging each delivery",
		Long: "relay marks pending notifications delivered without a live stream. " +
			"Use it to clear a backlog left by a server that stopped before its relay caught up; " +
			"recipients still find the notifications through the list endpoint.",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, closeDB(db)) }()

			ctx := a.log.WithContext(cmd.Context())
			pub := notify.PublisherFunc(func(_ context.Context, n domain.Notification) error {
				a.log.Info().
					Str("notification_id", n.ID).
					Str("recipient_id", n.RecipientID).
					Str("kind", string(n.Kind)).
					Msg("notification delivered")
				return nil
			})
			relay := notify.NewRelay(db, pub, a.cfg.Notify.BatchSize, a.cfg.Notify.PollInterval)
			relay.MaxAttempts = a.cfg.Notify.MaxAttempts

			total, err := drain(ctx, relay, maxBatches)
			a.log.Info().Int("delivered", total).Msg("outbox drained")
			return err
		},
	}
	cmd.Flags().IntVar(&maxBatches, "max-batches", 0, "stop after this many batches (0 = until the outbox is empty)")
	return cmd
}

// drain runs relay cycles until one delivers nothing, fails, or maxBatches
// cycles have run.
func drain(ctx context.Context, r *notify.Relay, maxBatches int) (int, error) {
	total := 0
	for i := 0; maxBatches <= 0 || i < maxBatches; i++ {
		n, err := r.RunOnce(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
	return total, nil
}
