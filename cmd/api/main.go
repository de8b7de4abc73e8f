package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/bizledger/internal/api"
	"github.com/dvloznov/bizledger/internal/api/handlers"
	"github.com/dvloznov/bizledger/internal/app"
	"github.com/dvloznov/bizledger/internal/bigquery"
	"github.com/dvloznov/bizledger/internal/config"
	"github.com/dvloznov/bizledger/internal/jobs/inmemory"
	"github.com/dvloznov/bizledger/internal/logger"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	port := flag.String("port", "", "HTTP server port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log, app.Options{Ingestion: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.QueueSize, cfg.Jobs.Workers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job worker")
	if err := jobQueue.Start(workerCtx, a.AutoReconcileHandler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	var runs bigquery.RunLister
	if a.Recorder != nil {
		runs = a.Recorder
	}

	handler := api.NewRouter(api.Handlers{
		Statements:     handlers.NewStatementsHandler(a.Ingestor(), a.BankRecords, log).WithIngestTimeout(cfg.Server.IngestTimeout()),
		Reconciliation: handlers.NewReconciliationHandler(a.Reconcile, log),
		Jobs:           handlers.NewJobsHandler(jobQueue, jobStore, log),
		Runs:           handlers.NewRunsHandler(runs, log),
		DB:             a.DB.Pool,
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
