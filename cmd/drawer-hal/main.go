// drawer-hal: tiny privileged service that opens the cash drawer on behalf
// of the unprivileged point-of-sale front-end.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"drawer-hal/internal/config"
	"drawer-hal/internal/diagnostics"
	"drawer-hal/internal/drawer"
	"drawer-hal/internal/handlers"
	"drawer-hal/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "drawer-hal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("DRAWER_ENV_FILE"))
	if err != nil {
		return err
	}

	log, err := config.NewLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	log.Infow("drawer-hal starting", "addr", cfg.Addr(), "logDir", cfg.LogDir)

	prefs, err := config.LoadPreferences(cfg.PreferencesFile)
	if err != nil {
		return err
	}

	sink, err := diagnostics.NewSink(cfg.LogDir, diagnostics.WithLogger(log.Named("diagnostics")))
	if err != nil {
		return err
	}
	defer sink.Close()

	collector := metrics.NewCollector()
	opts := append(cfg.EngineOptions(prefs), drawer.WithRecorder(collector))
	engine := drawer.New(sink, opts...)

	limiter := handlers.NewRateLimiter(cfg.OpenRate, cfg.OpenBurst, log.Named("ratelimit"))
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	limiter.StartCleanup(10*time.Minute, stopCleanup)

	// Create router
	r := chi.NewRouter()
	h := handlers.NewDrawerHandler(engine, sink, log.Named("http"))
	handlers.SetupRoutes(r, h, handlers.RouteOptions{
		Metrics:     collector,
		OpenLimiter: limiter,
	})

	// Serial exhaustion can take minutes: five rates per device, each
	// bounded by the open timeout.
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("drawer-hal listening", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	notify(log, daemon.SdNotifyReady)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Infow("shutting down drawer-hal", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	notify(log, daemon.SdNotifyStopping)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("drawer-hal stopped")
	return nil
}

// notify reports state to systemd when running under a Type=notify unit.
func notify(log *zap.SugaredLogger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warnw("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		log.Debugw("sd_notify sent", "state", state)
	}
}
