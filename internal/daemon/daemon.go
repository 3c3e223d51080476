package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deckforge/deckd/internal/api"
	"github.com/deckforge/deckd/internal/app/ledger"
	"github.com/deckforge/deckd/internal/app/orchestrator"
	"github.com/deckforge/deckd/internal/domain"
	"github.com/deckforge/deckd/internal/infra/observability"
	"github.com/deckforge/deckd/internal/infra/sqlite"
	"github.com/deckforge/deckd/internal/stage"
)

// Run starts the daemon and blocks until SIGINT/SIGTERM.
func Run(cfg Config) error {
	if err := os.MkdirAll(cfg.Store.Dir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.Open(cfg.Store.Dir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	// Crash recovery: jobs stranded mid-generation by the previous process
	// go back to the queue with their reservations intact.
	requeued, err := db.RequeueInterrupted()
	if err != nil {
		return fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	if len(requeued) > 0 {
		log.Printf("[daemon] requeued %d interrupted jobs", len(requeued))
	}

	led := ledger.New(db)
	tracer := observability.NewTracer(observability.TracerConfig{
		Enabled:  cfg.Tracing.Enabled,
		MaxSpans: cfg.Tracing.MaxSpans,
	})

	adapters, err := buildAdapters(cfg.Stages)
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Config{
		Workers:       cfg.Generation.Workers,
		PollInterval:  cfg.Generation.PollIntervalDuration(),
		StageTimeout:  cfg.Generation.StageTimeoutDuration(),
		CostPerSlide:  cfg.Credits.CostPerSlide,
		MaxSlideCount: cfg.Generation.MaxSlideCount,
	}, db, led, adapters, tracer)
	orch.Start()

	srv := api.NewServer(db, orch, led, tracer)
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[daemon] listening on http://%s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		orch.Stop()
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		log.Printf("[daemon] received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[daemon] http shutdown: %v", err)
	}
	orch.Stop()
	log.Printf("[daemon] stopped")
	return nil
}

// buildAdapters selects the stage provider. Without an API key the static
// adapter keeps the full pipeline usable offline.
func buildAdapters(cfg StagesConfig) (domain.StageAdapters, error) {
	switch cfg.Provider {
	case "", "openai":
		if cfg.APIKey == "" {
			log.Printf("[daemon] no stage API key configured, using static generation")
			return stage.NewStatic().Adapters(), nil
		}
		c := stage.NewOpenAIClient(cfg.APIKey, cfg.Model)
		return domain.StageAdapters{Outline: c, Writer: c, Layout: c}, nil
	case "static":
		return stage.NewStatic().Adapters(), nil
	default:
		return domain.StageAdapters{}, fmt.Errorf("unknown stage provider %q", cfg.Provider)
	}
}
