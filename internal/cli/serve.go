package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eduquiz/rewards/internal/api"
	"github.com/eduquiz/rewards/internal/daemon"
	"github.com/eduquiz/rewards/internal/infra/postgres"
	"github.com/eduquiz/rewards/internal/infra/redisrate"
	"github.com/eduquiz/rewards/internal/infra/sqlite"
	"github.com/eduquiz/rewards/internal/ledger"
	"github.com/eduquiz/rewards/internal/ratelimit"
	"github.com/eduquiz/rewards/internal/store"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rewards daemon",
	Long:  `Start the HTTP API, the reward ledger, and the scheduled rate-limit sweep.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, rl, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	feed := api.NewFeedHub()
	svc := ledger.New(st, ledgerConfig(cfg), feed)
	limiter := ratelimit.New(rl, cfg.RateLimit.LimiterConfig())

	server := api.NewServer(svc, limiter)
	server.SetFeed(feed)
	if cfg.Metrics.Enabled {
		server.EnableMetrics()
	}

	// Scheduled sweep keeps rate_limit_records from growing without bound.
	var sched *cron.Cron
	if cfg.RateLimit.SweepSchedule != "" {
		sched = cron.New()
		if _, err := sched.AddFunc(cfg.RateLimit.SweepSchedule, func() {
			if _, err := limiter.Sweep(context.Background()); err != nil {
				log.WithError(err).Error("scheduled sweep failed")
			}
		}); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", cfg.RateLimit.SweepSchedule, err)
		}
		sched.Start()
		defer sched.Stop()
	}

	httpSrv := &http.Server{
		Addr:              cfg.API.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.API.Addr()).Info("rewards daemon listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// openStores opens the primary store and the rate-limit record store per
// config. The returned cleanup closes whichever handles were opened.
func openStores(ctx context.Context, cfg daemon.Config) (store.Store, store.RateLimitStore, func(), error) {
	var (
		st store.Store
		rl store.RateLimitStore
	)

	switch cfg.Store.Driver {
	case "sqlite", "":
		db, err := sqlite.Open(cfg.Store.DataDir)
		if err != nil {
			return nil, nil, nil, err
		}
		st, rl = db, db
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, nil, err
		}
		st, rl = db, db
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	closers := []func(){func() { st.Close() }}

	// Redis overrides where rate-limit records live; the primary store keeps
	// everything else.
	if cfg.RateLimit.RedisURL != "" {
		r, err := redisrate.Open(cfg.RateLimit.RedisURL)
		if err != nil {
			st.Close()
			return nil, nil, nil, err
		}
		if err := r.Ping(ctx); err != nil {
			r.Close()
			st.Close()
			return nil, nil, nil, fmt.Errorf("redis unreachable: %w", err)
		}
		rl = r
		closers = append(closers, func() { r.Close() })
	}

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return st, rl, cleanup, nil
}

func ledgerConfig(cfg daemon.Config) ledger.Config {
	out := ledger.DefaultConfig()
	if cfg.Grants.MaxGold > 0 {
		out.MaxGrantGold = cfg.Grants.MaxGold
	}
	if cfg.Grants.MaxExp > 0 {
		out.MaxGrantExp = cfg.Grants.MaxExp
	}
	return out
}
