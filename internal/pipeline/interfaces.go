package pipeline

import (
	"context"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/dvloznov/bizledger/internal/intake"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// Completer is the extraction model: given instructions and statement text it
// returns the model's raw reply.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// TextExtractor converts file bytes into text.
type TextExtractor interface {
	Extract(kind intake.FileKind, data []byte) (string, error)
}

// RecordParser turns statement text into validated records.
type RecordParser interface {
	ParseRecords(ctx context.Context, text string) (*ParseResult, error)
}

// RecordStore persists a batch of bank records atomically.
type RecordStore interface {
	InsertBankRecords(ctx context.Context, businessID string, records []domain.ExtractedRecord) ([]domain.BankRecord, error)
}

// RunRecorder keeps an audit trail of ingestion runs and raw model output.
type RunRecorder interface {
	StartRun(ctx context.Context, run RunInfo) (string, error)
	StoreModelOutput(ctx context.Context, runID, modelName, rawOutput string) error
	MarkRunFailed(ctx context.Context, runID string, runErr error)
	MarkRunSucceeded(ctx context.Context, runID string, summary RunSummary) error
}

// Archiver keeps a copy of the original upload and returns where it was put.
type Archiver interface {
	Archive(ctx context.Context, businessID, filename, contentType string, data []byte) (string, error)
}
