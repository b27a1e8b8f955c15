package cli

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/tbourn/go-qa-backend/internal/repo"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and purge expired request tokens",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, closeDB(db)) }()

			n, err := repo.PurgeExpiredIdempotency(cmd.Context(), db, time.Now().UTC())
			if err != nil {
				return err
			}
			a.log.Info().Str("db", a.cfg.DB.Driver).Int64("purged_idempotency", n).Msg("schema up to date")
			return nil
		},
	}
}
