package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/abelbrown/contestare/internal/api"
	"github.com/abelbrown/contestare/internal/audit"
	"github.com/abelbrown/contestare/internal/auth"
	"github.com/abelbrown/contestare/internal/catalog"
	"github.com/abelbrown/contestare/internal/config"
	"github.com/abelbrown/contestare/internal/contest"
	"github.com/abelbrown/contestare/internal/logging"
	"github.com/abelbrown/contestare/internal/metrics"
	"github.com/abelbrown/contestare/internal/payment"
)

const (
	ringSize      = 1000
	purgeInterval = time.Hour
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

Settings come from the config file, then a .env file, then the environment.

Examples:
  contestare serve
  contestare serve --addr :8080 --debug-endpoints
  CONTESTARE_DB=/tmp/c.db contestare serve`,
		RunE: runServe,
	}
	cmd.Flags().String("env", ".env", "dotenv file loaded before the config")
	cmd.Flags().String("addr", "", "listen address (overrides config)")
	cmd.Flags().Bool("debug-endpoints", false, "expose /api/debug/events")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	envPath, _ := cmd.Flags().GetString("env")
	if err := config.LoadEnvFile(envPath); err != nil {
		return fmt.Errorf("load %s: %w", envPath, err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if on, _ := cmd.Flags().GetBool("debug-endpoints"); on {
		cfg.Server.DebugEndpoints = true
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := logging.Init(logging.Options{
		Dir:     cfg.Log.Dir,
		Level:   cfg.Log.Level,
		Stderr:  true,
		Version: Version,
	}); err != nil {
		return err
	}
	defer logging.Close()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	events, eventFile, err := audit.OpenFile(cfg.EventLogPath())
	if err != nil {
		return err
	}
	ring := audit.NewRingBuffer(ringSize)
	events.SetRingBuffer(ring)
	defer func() {
		events.Close()
		eventFile.Close()
	}()

	st, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	authSvc := auth.New(st, auth.WithTTL(cfg.Session.TTL.Std()), auth.WithAudit(events))
	catalogSvc := catalog.New(st, catalog.WithAudit(events), catalog.WithMetrics(m))
	svc := api.Services{
		Auth: authSvc,
		Contest: contest.New(st,
			contest.WithDocumentDir(cfg.DocumentDir()),
			contest.WithAudit(events),
			contest.WithMetrics(m)),
		Catalog: catalogSvc,
		Payment: payment.New(st, cfg.Payments, payment.WithAudit(events), payment.WithMetrics(m)),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := catalogSvc.Seed(ctx); err != nil {
		return err
	}

	srv := api.New(st, svc, cfg.Server,
		api.WithMetrics(m),
		api.WithAudit(events, ring),
		api.WithRateLimit(cfg.RateLimit),
		api.WithSession(cfg.Session))

	events.Emit(audit.Event{
		Kind:  audit.KindStartup,
		Comp:  "main",
		Msg:   cfg.Server.Addr,
		Extra: map[string]any{"version": Version, "db": cfg.Database.Path},
	})
	go purgeSessions(ctx, authSvc)

	err = srv.Run(ctx, cfg.Server.Addr)
	if err != nil {
		events.Error(audit.KindError, "main", err)
	}
	events.Emit(audit.Event{Kind: audit.KindShutdown, Comp: "main"})
	logging.Info("Contestare stopped")
	return err
}

// purgeSessions drops expired sessions until ctx is done.
func purgeSessions(ctx context.Context, svc *auth.Service) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				logging.Warn("Session purge failed", "err", err)
				continue
			}
			if n > 0 {
				logging.Debug("Purged expired sessions", "count", n)
			}
		}
	}
}
