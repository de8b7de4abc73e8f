package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/dvloznov/bizledger/internal/intake"
	"github.com/dvloznov/bizledger/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("bizledger/pipeline")

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Upload     intake.Upload
	Kind       intake.FileKind
	RunID      string
	ArchiveURI string
	Text       string
	Parsed     *ParseResult
	Records    []domain.BankRecord
}

// failRun marks the audit run failed, if one was started, and returns err.
func failRun(ctx context.Context, rec RunRecorder, state *PipelineState, err error) error {
	if state.RunID != "" {
		rec.MarkRunFailed(ctx, state.RunID, err)
	}
	return err
}

// Step 1: ValidateUploadStep rejects uploads that break the intake rules.
type ValidateUploadStep struct{}

func (s *ValidateUploadStep) Execute(ctx context.Context, state *PipelineState) error {
	kind, err := intake.Validate(state.Upload)
	if err != nil {
		return err
	}
	state.Kind = kind
	return nil
}

// Step 2: StartRunStep opens an audit run (status=RUNNING).
type StartRunStep struct {
	Recorder RunRecorder
}

func (s *StartRunStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	runID, err := s.Recorder.StartRun(ctx, RunInfo{
		BusinessID:     state.Upload.BusinessID,
		Filename:       cleanFilename(state.Upload.Filename),
		FileKind:       state.Kind,
		SizeBytes:      len(state.Upload.Data),
		ChecksumSHA256: checksumSHA256(state.Upload.Data),
	})
	if err != nil {
		log.Warn().Err(err).Msg("could not start ingestion run audit, continuing without it")
		return nil
	}
	state.RunID = runID
	return nil
}

// Step 3: ArchiveStep keeps a copy of the original file.
type ArchiveStep struct {
	Archiver Archiver
}

func (s *ArchiveStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Archiver == nil {
		return nil
	}
	u := state.Upload
	uri, err := s.Archiver.Archive(ctx, u.BusinessID, cleanFilename(u.Filename), u.ContentType, u.Data)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("could not archive upload")
		return nil
	}
	state.ArchiveURI = uri
	return nil
}

// Step 4: ExtractTextStep turns the file into text.
type ExtractTextStep struct {
	Extractor TextExtractor
	Recorder  RunRecorder
}

func (s *ExtractTextStep) Execute(ctx context.Context, state *PipelineState) error {
	text, err := s.Extractor.Extract(state.Kind, state.Upload.Data)
	if err != nil {
		return failRun(ctx, s.Recorder, state, err)
	}
	state.Text = text
	return nil
}

// Step 5: ParseRecordsStep asks the model for records and keeps the raw reply.
type ParseRecordsStep struct {
	Parser   RecordParser
	Recorder RunRecorder
}

func (s *ParseRecordsStep) Execute(ctx context.Context, state *PipelineState) error {
	parsed, err := s.Parser.ParseRecords(ctx, state.Text)
	if err != nil {
		return failRun(ctx, s.Recorder, state, err)
	}
	state.Parsed = parsed

	if state.RunID != "" {
		if err := s.Recorder.StoreModelOutput(ctx, state.RunID, parsed.Model, parsed.RawOutput); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("run_id", state.RunID).Msg("could not store model output")
		}
	}
	return nil
}

// Step 6: PersistRecordsStep writes the batch in one transaction.
type PersistRecordsStep struct {
	Store    RecordStore
	Recorder RunRecorder
}

func (s *PersistRecordsStep) Execute(ctx context.Context, state *PipelineState) error {
	rows, err := s.Store.InsertBankRecords(ctx, state.Upload.BusinessID, state.Parsed.Records)
	if err != nil {
		return failRun(ctx, s.Recorder, state, err)
	}
	state.Records = rows
	return nil
}

// Step 7: MarkSuccessStep closes the audit run as SUCCESS.
type MarkSuccessStep struct {
	Recorder RunRecorder
}

func (s *MarkSuccessStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.RunID == "" {
		return nil
	}
	summary := RunSummary{
		RecordsInserted: len(state.Records),
		RecordsDropped:  state.Parsed.Dropped,
		TokensInput:     state.Parsed.TokensInput,
		TokensOutput:    state.Parsed.TokensOutput,
		ArchiveURI:      state.ArchiveURI,
	}
	if err := s.Recorder.MarkRunSucceeded(ctx, state.RunID, summary); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", state.RunID).Msg("could not mark run succeeded")
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially, stopping at the first
// failure.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		name := stepName(step)
		stepCtx, span := tracer.Start(ctx, name)
		span.SetAttributes(attribute.Int("pipeline.step", i+1))

		err := step.Execute(stepCtx, state)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, name, err)
		}
		span.End()
	}
	return nil
}

func stepName(step PipelineStep) string {
	name := fmt.Sprintf("%T", step)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
