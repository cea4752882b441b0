package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/waterwheel/waterwheel/internal/bus"
	"github.com/waterwheel/waterwheel/internal/config"
	"github.com/waterwheel/waterwheel/internal/dispatch"
	"github.com/waterwheel/waterwheel/internal/glue"
	"github.com/waterwheel/waterwheel/internal/ingester"
	"github.com/waterwheel/waterwheel/internal/logger"
	"github.com/waterwheel/waterwheel/internal/metrics"
	"github.com/waterwheel/waterwheel/internal/postoffice"
	"github.com/waterwheel/waterwheel/internal/store"
	"github.com/waterwheel/waterwheel/internal/supervisor"
	"github.com/waterwheel/waterwheel/internal/tokenproc"
	"github.com/waterwheel/waterwheel/internal/trigsched"
)

func serverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the scheduler, token processor, progress ingester, and HTTP glue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer wires every core component and runs them until the
// process receives SIGINT/SIGTERM or a component's supervisor trips
// its circuit breaker (spec §5/§7: 5 failures in 60 seconds aborts the
// process rather than running on in a silently wedged state).
func runServer(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	lg := logger.New(os.Stderr, slog.LevelInfo, nil)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	b, err := bus.NewFromURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer b.Close()

	// spec §9: only one scheduler may run against a given database at
	// a time. The Postgres advisory lock is the cross-host mechanism —
	// it blocks until any prior holder exits, so a standby process
	// started here simply waits its turn. The file lock is secondary,
	// host-local defense in depth against two processes racing to
	// start on the very same machine, and fails fast instead of
	// blocking since the advisory lock already handles the real race.
	schedLock, err := store.AcquireSchedulerLock(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("server: acquire scheduler advisory lock: %w", err)
	}
	defer schedLock.Close(context.Background())

	fileLock := flock.New(cfg.SchedulerLockFile)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("server: scheduler file lock %s: %w", cfg.SchedulerLockFile, err)
	}
	if !locked {
		return fmt.Errorf("server: another waterwheel server already holds %s", cfg.SchedulerLockFile)
	}
	defer fileLock.Unlock()

	po := postoffice.New()
	reg := prometheus.NewRegistry()
	met := metrics.NewRegistry(reg)

	disp := dispatch.New(st, b, met, lg.With("component", "dispatch"))
	sched := trigsched.New(st, po, met, lg.With("component", "trigsched"))
	proc := tokenproc.New(st, disp, met, lg.With("component", "tokenproc"), po.ProcessToken)

	host, _ := os.Hostname()
	ing := ingester.New(st, b, po, lg.With("component", "ingester"), host+"-ingester")

	gl := glue.New(po, st, disp, lg.With("component", "glue"))
	mux := http.NewServeMux()
	mux.Handle("/int-api/", gl.Router())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: cfg.BindAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sv := supervisor.New("trigsched", cfg.CircuitBreakerFailures, cfg.CircuitBreakerWindow, lg)
		return sv.Run(gctx, sched.Run)
	})
	g.Go(func() error {
		sv := supervisor.New("tokenproc", cfg.CircuitBreakerFailures, cfg.CircuitBreakerWindow, lg)
		return sv.Run(gctx, proc.Run)
	})
	g.Go(func() error {
		sv := supervisor.New("ingester", cfg.CircuitBreakerFailures, cfg.CircuitBreakerWindow, lg)
		return sv.Run(gctx, ing.Run)
	})
	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.ListenAndServe() }()
		select {
		case <-gctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})

	if err := g.Wait(); err != nil {
		lg.Error("server exiting on error", "error", err)
		return err
	}
	return nil
}
