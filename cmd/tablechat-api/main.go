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

	"golang.org/x/sync/errgroup"

	"github.com/tablechat/tablechat/internal/api"
	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/completion"
	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/sandbox"
	s3store "github.com/tablechat/tablechat/internal/storage/s3"
	"github.com/tablechat/tablechat/internal/transcript"
	transcriptpostgres "github.com/tablechat/tablechat/internal/transcript/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("tablechat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server exited", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var readiness []api.ReadinessCheck

	var source dataset.Source = dataset.DirSource{Dir: cfg.Datasets.Dir}
	if cfg.Datasets.Source == config.DatasetSourceS3 {
		objectStore, err := s3store.New(ctx, cfg.ObjectStore)
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		source = dataset.ObjectStoreSource{Store: objectStore, Prefix: cfg.Datasets.ObjectPrefix}
		readiness = append(readiness, api.CheckDatasetObjects(objectStore, cfg.Datasets.ObjectPrefix))
	}

	loadCtx, cancelLoad := context.WithTimeout(ctx, time.Minute)
	store, err := (&dataset.Loader{Source: source, Logger: logger}).Load(loadCtx, nil)
	cancelLoad()
	if err != nil {
		return fmt.Errorf("load datasets: %w", err)
	}
	schema := dataset.DescribeSchema(store, cfg.Datasets.SchemaSampleRows)

	engine, err := sandbox.NewEngine(store, sandbox.Config{
		Threads:          cfg.Sandbox.Threads,
		MaxMemory:        cfg.Sandbox.MaxMemory,
		ExecutionTimeout: cfg.Sandbox.ExecutionTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}

	pipelines, err := pipeline.NewCache(func(credential, model string) (*pipeline.Pipeline, error) {
		client, err := completion.NewOpenAIClient(completion.OpenAIConfig{
			BaseURL: cfg.Completion.BaseURL,
			APIKey:  credential,
			Timeout: cfg.Completion.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return pipeline.New(client, engine, schema, pipeline.Config{
			Model:        model,
			MaxTokens:    cfg.Completion.MaxTokens,
			RetryBudget:  cfg.Pipeline.RetryBudget,
			PreviewLimit: cfg.Pipeline.PreviewLimit,
		}, logger)
	}, cfg.Pipeline.MaxInstances)
	if err != nil {
		return fmt.Errorf("pipeline cache: %w", err)
	}

	var transcripts transcript.Store = transcript.NewMemoryStore()
	if cfg.Transcript.DSN != "" {
		db, err := transcriptpostgres.Open(ctx, transcriptpostgres.DBConfig{
			DSN:             cfg.Transcript.DSN,
			ApplicationName: cfg.Service.Name,
			MaxOpenConns:    cfg.Transcript.MaxOpenConns,
			MaxIdleConns:    cfg.Transcript.MaxIdleConns,
			ConnMaxIdleTime: cfg.Transcript.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Transcript.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("transcript db: %w", err)
		}
		defer func() { _ = db.Close() }()
		transcripts = transcriptpostgres.NewRepository(db)
	} else {
		logger.Warn("TABLECHAT_TRANSCRIPT_DSN not set; transcripts are kept in memory")
	}
	readiness = append(readiness, api.CheckTranscriptStore(transcripts))

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Pipelines:         pipelines,
		Transcripts:       transcripts,
		Schema:            schema,
		Limiter:           api.NewAskLimiter(cfg.RateLimit.AskPerMinute, cfg.RateLimit.AskBurst),
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return fmt.Errorf("static auth keys: %w", err)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("datasets", cfg.Datasets.Source),
			slog.String("default_model", cfg.Completion.Model),
			slog.Int("tables", len(store.Names())),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api server")
		// In-flight asks may be waiting on the completion service.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return group.Wait()
}
