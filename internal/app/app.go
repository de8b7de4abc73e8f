// Package app builds the service graph shared by the binaries.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/bizledger/internal/config"
	"github.com/dvloznov/bizledger/internal/extract"
	"github.com/dvloznov/bizledger/internal/gcsuploader"
	infraBQ "github.com/dvloznov/bizledger/internal/infra/bigquery"
	"github.com/dvloznov/bizledger/internal/infra/postgres"
	"github.com/dvloznov/bizledger/internal/jobs"
	"github.com/dvloznov/bizledger/internal/pipeline"
	"github.com/dvloznov/bizledger/internal/reconcile"
	"github.com/rs/zerolog"
)

// App holds the wired services. Recorder and Archiver are nil when their
// backends are not configured.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	DB          *postgres.DB
	BankRecords *postgres.BankRecordRepository
	Payments    *postgres.PaymentRepository

	Reconcile *reconcile.Service
	Auto      *reconcile.AutoReconciler

	Recorder *infraBQ.RunRecorder
	Archiver *gcsuploader.Archiver
	storage  *storage.Client

	completer *pipeline.GeminiCompleter
}

// Options selects the optional parts of the graph a binary needs.
type Options struct {
	// Ingestion creates the model client. Binaries that never ingest skip it.
	Ingestion bool
}

// New connects to the database and optional cloud services.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	db, err := postgres.New(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		BankRecords: postgres.NewBankRecordRepository(db),
		Payments:    postgres.NewPaymentRepository(db),
	}
	a.Reconcile = reconcile.NewService(a.Payments, log)
	a.Auto = reconcile.NewAutoReconciler(a.Reconcile, a.Payments, a.BankRecords, log)

	if cfg.ArchiveEnabled() {
		client, err := storage.NewClient(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.storage = client
		if a.Archiver, err = gcsuploader.NewArchiver(client, cfg.Storage.Bucket); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		log.Warn().Msg("No GCS bucket configured - original statements will not be archived")
	}

	if cfg.AuditEnabled() {
		if a.Recorder, err = infraBQ.NewRunRecorder(ctx, cfg.Audit.Project, cfg.Audit.Dataset); err != nil {
			a.Close()
			return nil, err
		}
	}

	if opts.Ingestion {
		if a.completer, err = pipeline.NewGeminiCompleter(ctx, cfg.LLM.APIKey, cfg.LLM.Model); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

// Ingestor returns the statement ingestion pipeline. It requires
// Options.Ingestion.
func (a *App) Ingestor() *pipeline.Ingestor {
	deps := pipeline.Deps{
		Extractor: extract.New(a.Log),
		Parser:    pipeline.NewModelParser(a.completer, a.Config.LLM.RetryPolicy()).WithAttemptTimeout(a.Config.LLM.Timeout),
		Store:     a.BankRecords,
		Log:       a.Log,
	}
	// Typed nil pointers must not reach the interfaces.
	if a.Recorder != nil {
		deps.Recorder = a.Recorder
	}
	if a.Archiver != nil {
		deps.Archiver = a.Archiver
	}
	return pipeline.NewIngestor(deps)
}

// StatementStore returns the archive for reading gs:// URIs, or nil.
func (a *App) StatementStore() gcsuploader.StatementStore {
	if a.Archiver == nil {
		return nil
	}
	return a.Archiver
}

// AutoReconcileHandler runs queued auto reconciliation jobs.
func (a *App) AutoReconcileHandler() jobs.JobHandler {
	return AutoReconcileHandler(a.Auto, a.Log)
}

// Close releases every client. It is safe to call on a partially built App.
func (a *App) Close() {
	if a.Recorder != nil {
		if err := a.Recorder.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("Failed to close BigQuery client")
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("Failed to close storage client")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
