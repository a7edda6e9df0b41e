package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/symptom-assistant/internal/adapters/http"
	mcpadapter "github.com/kirillkom/symptom-assistant/internal/adapters/mcp"
	"github.com/kirillkom/symptom-assistant/internal/bootstrap"
	"github.com/kirillkom/symptom-assistant/internal/config"
	"github.com/kirillkom/symptom-assistant/internal/observability/logging"
	"github.com/kirillkom/symptom-assistant/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Observer: httpMetrics.Pipeline()})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	tools := mcpadapter.NewTools(app.SubmitUC, app.EnrichUC, app.QueryUC, app.ChatUC, httpadapter.OwnerFromContext)
	router, err := httpadapter.NewRouter(cfg, httpadapter.Dependencies{
		Submitter:      app.SubmitUC,
		Processor:      app.EnrichUC,
		Reader:         app.QueryUC,
		Exporter:       app.ExportUC,
		Chat:           app.ChatUC,
		Metrics:        httpMetrics,
		Breakers:       app.BreakerStates,
		QueueConnected: app.Queue.Connected,
		MCP:            tools.HTTPHandler(),
	})
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		app.Close()
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Covers the synchronous enrichment trigger, which waits on the LLM call.
		WriteTimeout: time.Duration(cfg.EnrichmentTimeoutSeconds+15) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
}
