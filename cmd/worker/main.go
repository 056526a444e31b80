package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bchauvel/lexia/internal/bootstrap"
	"github.com/bchauvel/lexia/internal/config"
	"github.com/bchauvel/lexia/internal/observability/logging"
	"github.com/bchauvel/lexia/internal/observability/metrics"
)

const importTimeout = 30 * time.Minute

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	m := metrics.NewWorkerMetrics("worker")
	go serveMetrics(ctx, cfg.WorkerMetricsPort, m, logger)
	go reconcileLoop(ctx, app, m, cfg.ReconcileInterval)

	logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeImportRequested(ctx, func(handlerCtx context.Context, source string) error {
		sources := []string{source}
		if source == "" {
			sources = app.Importer.Sources()
		}
		for _, name := range sources {
			if err := runImport(handlerCtx, app, m, name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}

func runImport(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, source string) error {
	runCtx, cancel := context.WithTimeout(ctx, importTimeout)
	defer cancel()

	m.StartImport()
	start := time.Now()
	stats, err := app.Importer.RunImport(runCtx, source)
	m.FinishImport("worker", source, time.Since(start), err)
	m.ObserveImportStats("worker", source, stats.Ingested, stats.Skipped, stats.Failed)
	m.ObserveEmbeddingFailures("worker", source, stats.EmbeddingFailures)
	return err
}

// reconcileLoop periodically repairs drift between the relational store and
// the vector index: orphan vectors are deleted, chunks whose vector went
// missing are flagged so keyword search keeps serving them.
func reconcileLoop(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := app.Store.Reconcile(ctx)
			if err != nil {
				app.Logger.Error("reconcile failed", "error", err)
				continue
			}
			m.ObserveReconcile(report.OrphanVectorsDeleted, report.ChunksMissingVectors)
			app.Logger.Info("reconcile finished",
				"orphan_vectors_deleted", report.OrphanVectorsDeleted,
				"chunks_missing_vectors", report.ChunksMissingVectors)
		}
	}
}

func serveMetrics(ctx context.Context, port string, m *metrics.WorkerMetrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", "error", err)
	}
}
