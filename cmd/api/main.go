package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/scanmux/scanmux/internal/adapters"
	"github.com/scanmux/scanmux/internal/application"
	"github.com/scanmux/scanmux/internal/application/review"
	"github.com/scanmux/scanmux/internal/application/runs"
	"github.com/scanmux/scanmux/internal/config"
	"github.com/scanmux/scanmux/internal/domain/artifacts"
	"github.com/scanmux/scanmux/internal/domain/history"
	"github.com/scanmux/scanmux/internal/domain/tools"
	"github.com/scanmux/scanmux/internal/domain/triage"
	openaiclient "github.com/scanmux/scanmux/internal/infra/ai/openai"
	mysqldb "github.com/scanmux/scanmux/internal/infra/db/mysql"
	postgresdb "github.com/scanmux/scanmux/internal/infra/db/postgres"
	"github.com/scanmux/scanmux/internal/infra/executor/docker"
	"github.com/scanmux/scanmux/internal/infra/executor/local"
	"github.com/scanmux/scanmux/internal/infra/httpserver"
	minioStore "github.com/scanmux/scanmux/internal/infra/storage"
	"github.com/scanmux/scanmux/internal/middleware"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("config load error")
	}
	if v := os.Getenv("API_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}

	ctx := context.Background()

	// connect the history store for the configured driver
	var (
		db          *sql.DB
		historyRepo history.Repository
		triageRepo  triage.Repository
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err = postgresdb.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connect error")
		}
		if err := postgresdb.EnsureSchema(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("postgres schema error")
		}
		historyRepo = postgresdb.NewHistoryRepository(db)
		triageRepo = postgresdb.NewTriageRepository(db)
	default:
		db, err = mysqldb.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			logger.Fatal().Err(err).Msg("mysql connect error")
		}
		if err := mysqldb.EnsureSchema(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("mysql schema error")
		}
		historyRepo = mysqldb.NewHistoryRepository(db)
		triageRepo = mysqldb.NewTriageRepository(db)
	}
	defer db.Close()

	// artifact store is optional
	var store artifacts.Store
	if cfg.Minio.Enabled {
		s, err := minioStore.New(ctx, logger,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("minio init error")
		}
		store = s
	}

	orchOpts, err := cfg.OrchestratorOptions()
	if err != nil {
		logger.Fatal().Err(err).Msg("orchestrator config error")
	}
	profiles, err := cfg.ToolDefinitions()
	if err != nil {
		logger.Fatal().Err(err).Msg("profile config error")
	}

	var runner tools.Runner = local.NewRunner()
	if cfg.Orchestrator.Executor == "docker" {
		runner = &docker.Runner{Images: cfg.Orchestrator.Images}
	}

	registry := adapters.DefaultRegistry()
	orchestrator := runs.NewOrchestrator(runner, registry, logger, orchOpts)

	runsSvc := &runs.Service{
		Orchestrator: orchestrator,
		Registry:     registry,
		Repo:         historyRepo,
		Artifacts:    store,
		Dedup:        cfg.DedupOptions(),
		Clock:        application.SystemClock{},
		Log:          logger,
		OutputDir:    cfg.Orchestrator.OutputDir,
	}

	reviewSvc := &review.Service{
		Repo:   historyRepo,
		Advice: triageRepo,
		Clock:  application.SystemClock{},
	}

	// advice provider is optional; without a key the triage endpoint
	// reports unavailable
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		model := cfg.AI.Model
		if model == "" {
			model = "o3-2025-04-16"
		}
		reviewSvc.Advisor = openaiclient.NewClient(apiKey, model)
		reviewSvc.Model = model
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateCapacity > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateCapacity, cfg.Server.RateRefill)
	}

	handler := httpserver.NewRouter(runsSvc, reviewSvc, httpserver.Options{
		Profiles:    profiles,
		AuthToken:   cfg.Server.AuthToken,
		RateLimiter: limiter,
		Health: map[string]middleware.HealthChecker{
			"database": &middleware.DatabaseHealthChecker{DB: db},
		},
		Log: logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		logger.Info().Str("addr", addr).Str("driver", cfg.Database.Driver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
