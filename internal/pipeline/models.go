package pipeline

import (
	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/dvloznov/bizledger/internal/intake"
)

// CompletionRequest is one prompt for the extraction model.
type CompletionRequest struct {
	System string
	User   string
}

// Completion is the model's reply plus token usage when the backend reports it.
type Completion struct {
	Text         string
	Model        string
	TokensInput  int64
	TokensOutput int64
}

// ParseResult is the outcome of turning statement text into records.
type ParseResult struct {
	Records   []domain.ExtractedRecord
	Dropped   int
	RawOutput string
	Model     string

	TokensInput  int64
	TokensOutput int64
}

// RunInfo describes an upload at the start of an ingestion run.
type RunInfo struct {
	BusinessID     string
	Filename       string
	FileKind       intake.FileKind
	SizeBytes      int
	ChecksumSHA256 string
}

// RunSummary is recorded when a run succeeds.
type RunSummary struct {
	RecordsInserted int
	RecordsDropped  int
	TokensInput     int64
	TokensOutput    int64
	ArchiveURI      string
}

// IngestResult is returned to the caller of Ingest.
type IngestResult struct {
	RunID    string
	Inserted int
	Dropped  int
	Records  []domain.BankRecord
}
