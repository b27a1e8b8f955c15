package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-qa-backend/internal/config"
	httpapi "github.com/tbourn/go-qa-backend/internal/http"
	"github.com/tbourn/go-qa-backend/internal/notify"
	"github.com/tbourn/go-qa-backend/internal/observability"
	"github.com/tbourn/go-qa-backend/internal/repo"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the notification relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

// serve runs the API server, the relay worker and the idempotency purger
// until ctx is cancelled or one of them fails, then shuts everything down.
func (a *app) serve(ctx context.Context) (err error) {
	cfg := a.cfg
	ctx = a.log.WithContext(ctx)

	db, err := a.openDB()
	if err != nil {
		return err
	}
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, a.version)
	if err != nil {
		return multierr.Append(err, closeDB(db))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err = multierr.Combine(err, shutdownOTel(flushCtx), closeDB(db))
	}()

	bus := notify.NewBus(cfg.Notify.StreamBuffer)
	relay := notify.NewRelay(db, bus, cfg.Notify.BatchSize, cfg.Notify.PollInterval)
	relay.MaxAttempts = cfg.Notify.MaxAttempts

	if cfg.Auth.HeaderAuth() {
		a.log.Warn().Str("gin_mode", cfg.GinMode).Msg("no JWT_SECRET: identities are taken from the unverified X-User-ID header")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{DB: db, Relay: relay, Bus: bus}, cfg)
	srv := newHTTPServer(ctx, cfg, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Str("db", cfg.DB.Driver).Str("version", a.version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return purgeIdempotency(gctx, db, cfg.IdempotencyTTL) })
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		// Live streams only end once their subscriptions close.
		bus.Close()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// newHTTPServer builds the API server. Request contexts inherit ctx's values
// (the logger) but not its cancellation: a stop signal must not abort
// requests that Shutdown is still letting finish.
func newHTTPServer(ctx context.Context, cfg config.Config, h http.Handler) *http.Server {
	base := context.WithoutCancel(ctx)
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
}

// purgeIdempotency deletes expired request-token records every ttl, clamped
// to between a minute and an hour, until ctx is cancelled.
func purgeIdempotency(ctx context.Context, db *gorm.DB, ttl time.Duration) error {
	every := ttl
	if every <= 0 || every > time.Hour {
		every = time.Hour
	}
	if every < time.Minute {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			lg := zerolog.Ctx(ctx)
			if err != nil {
				lg.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				lg.Debug().Int64("purged", n).Msg("expired idempotency records removed")
			}
		}
	}
}
