package pipeline

import (
	"context"

	"github.com/dvloznov/bizledger/internal/intake"
	"github.com/dvloznov/bizledger/internal/logger"
	"github.com/rs/zerolog"
)

// Deps are the collaborators of an Ingestor. Recorder and Archiver are optional.
type Deps struct {
	Extractor TextExtractor
	Parser    RecordParser
	Store     RecordStore
	Recorder  RunRecorder
	Archiver  Archiver
	Log       zerolog.Logger
}

// Ingestor runs uploaded statements through the ingestion pipeline.
type Ingestor struct {
	deps Deps
}

// NewIngestor creates an Ingestor. A nil Recorder is replaced with NopRecorder.
func NewIngestor(deps Deps) *Ingestor {
	if deps.Recorder == nil {
		deps.Recorder = NopRecorder{}
	}
	return &Ingestor{deps: deps}
}

// NewStatementIngestionPipeline creates the standard ingestion step chain.
func (i *Ingestor) NewStatementIngestionPipeline() *Pipeline {
	d := i.deps
	return NewPipeline(
		&ValidateUploadStep{},
		&StartRunStep{Recorder: d.Recorder},
		&ArchiveStep{Archiver: d.Archiver},
		&ExtractTextStep{Extractor: d.Extractor, Recorder: d.Recorder},
		&ParseRecordsStep{Parser: d.Parser, Recorder: d.Recorder},
		&PersistRecordsStep{Store: d.Store, Recorder: d.Recorder},
		&MarkSuccessStep{Recorder: d.Recorder},
	)
}

// Ingest validates, extracts, parses and stores one statement. Nothing is
// written to the ledger unless every step before persistence succeeded.
func (i *Ingestor) Ingest(ctx context.Context, upload intake.Upload) (*IngestResult, error) {
	log := logger.WithFields(i.deps.Log, map[string]interface{}{
		"business_id": upload.BusinessID,
		"filename":    cleanFilename(upload.Filename),
	})
	ctx = logger.WithContext(ctx, log)

	state := &PipelineState{Upload: upload}
	if err := i.NewStatementIngestionPipeline().Execute(ctx, state); err != nil {
		log.Error().Err(err).Str("run_id", state.RunID).Msg("statement ingestion failed")
		return nil, err
	}

	res := &IngestResult{
		RunID:    state.RunID,
		Inserted: len(state.Records),
		Dropped:  state.Parsed.Dropped,
		Records:  state.Records,
	}
	log.Info().
		Str("run_id", res.RunID).
		Int("inserted", res.Inserted).
		Int("dropped", res.Dropped).
		Msg("statement ingested")
	return res, nil
}

// NopRecorder discards audit events. It is used when no audit store is configured.
type NopRecorder struct{}

func (NopRecorder) StartRun(ctx context.Context, run RunInfo) (string, error) { return "", nil }

func (NopRecorder) StoreModelOutput(ctx context.Context, runID, modelName, rawOutput string) error {
	return nil
}

func (NopRecorder) MarkRunFailed(ctx context.Context, runID string, runErr error) {}

func (NopRecorder) MarkRunSucceeded(ctx context.Context, runID string, summary RunSummary) error {
	return nil
}
