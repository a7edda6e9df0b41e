package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/symptom-assistant/internal/config"
	"github.com/kirillkom/symptom-assistant/internal/core/domain"
	"github.com/kirillkom/symptom-assistant/internal/core/ports"
	"github.com/kirillkom/symptom-assistant/internal/core/usecase"
	"github.com/kirillkom/symptom-assistant/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/symptom-assistant/internal/infrastructure/llm/openai"
	"github.com/kirillkom/symptom-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/symptom-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/symptom-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/symptom-assistant/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/symptom-assistant/internal/infrastructure/storage/minio"
)

// Options carries the process-specific hooks each binary plugs in.
type Options struct {
	Observer    ports.PipelineObserver
	OnDelivered func(lag time.Duration)
}

type App struct {
	Config config.Config

	Queue *nats.Queue
	Repo  ports.AnalysisRepository

	SubmitUC *usecase.SubmitAnalysisUseCase
	EnrichUC *usecase.EnrichAnalysisUseCase
	QueryUC  *usecase.AnalysisQueryUseCase
	ExportUC *usecase.ExportAnalysesUseCase
	ChatUC   *usecase.ChatUseCase

	llmExec   *resilience.Executor
	queueExec *resilience.Executor
	closeFn   func()
}

// ValidateStartup rejects configurations the pipeline cannot run with.
func ValidateStartup(cfg config.Config) error {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return domain.WrapError(domain.ErrUpstreamConfig, "startup", errors.New("OPENAI_API_KEY is required"))
	}
	return nil
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if err := ValidateStartup(cfg); err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(ctx, cfg.DBDriver, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewAnalysisRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	archive, err := newArchive(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init archive storage: %w", err)
	}

	queueExec := resilience.NewExecutor(resilience.DefaultPolicy())
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: queueExec,
		HandlerTimeout:     time.Duration(cfg.WorkerTimeoutSeconds) * time.Second,
		OnDelivered:        opts.OnDelivered,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	llmExec := resilience.NewExecutor(resilience.SingleAttempt())
	client := openai.New(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	}, llmExec)
	enricher := openai.NewSymptomEnricher(client, time.Duration(cfg.EnrichmentTimeoutSeconds)*time.Second)
	responder := openai.NewChatResponder(client, time.Duration(cfg.ChatTimeoutSeconds)*time.Second)

	slog.Info("bootstrap_ready",
		"db_driver", cfg.DBDriver,
		"storage_backend", cfg.StorageBackend,
		"model", client.Model(),
		"nats_subject", cfg.NATSSubject,
	)

	enrichUC := usecase.NewEnrichAnalysisUseCase(repo, enricher, archive, opts.Observer).
		WithInFlightWindow(time.Duration(cfg.WorkerTimeoutSeconds) * time.Second)

	return &App{
		Config: cfg,
		Queue:  queue,
		Repo:   repo,

		SubmitUC: usecase.NewSubmitAnalysisUseCase(repo, queue, opts.Observer),
		EnrichUC: enrichUC,
		QueryUC:  usecase.NewAnalysisQueryUseCase(repo),
		ExportUC: usecase.NewExportAnalysesUseCase(repo, xlsx.NewWriter()),
		ChatUC:   usecase.NewChatUseCase(responder, cfg.ChatContextMessages, opts.Observer),

		llmExec:   llmExec,
		queueExec: queueExec,
		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func newArchive(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "", "local":
		return localfs.New(cfg.StoragePath)
	case "minio":
		return minio.New(ctx, minio.Config{
			Endpoint:  cfg.MinioEndpoint,
			Region:    cfg.MinioRegion,
			Bucket:    cfg.MinioBucket,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// BreakerStates lists every circuit breaker of the outbound dependencies.
func (a *App) BreakerStates() []resilience.BreakerState {
	states := append(a.llmExec.States(), a.queueExec.States()...)
	return states
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
