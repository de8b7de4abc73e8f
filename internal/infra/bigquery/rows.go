package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/bizledger/internal/bigquery"
)

const (
	ingestionRunsTable = "ingestion_runs"
	modelOutputsTable  = "model_outputs"
)

type IngestionRunRow struct {
	RunID          string `bigquery:"run_id"`      // REQUIRED
	BusinessID     string `bigquery:"business_id"` // REQUIRED
	Filename       string `bigquery:"filename"`
	FileKind       string `bigquery:"file_kind"`
	SizeBytes      int64  `bigquery:"size_bytes"`
	ChecksumSHA256 string `bigquery:"checksum_sha256"`

	ArchiveURI bigquery.NullString `bigquery:"archive_uri"` // NULLABLE, set on success

	ParserType    string `bigquery:"parser_type"`
	ParserVersion string `bigquery:"parser_version"`

	Status       string              `bigquery:"status"`
	ErrorMessage bigquery.NullString `bigquery:"error_message"`

	RecordsInserted bigquery.NullInt64 `bigquery:"records_inserted"`
	RecordsDropped  bigquery.NullInt64 `bigquery:"records_dropped"`
	TokensInput     bigquery.NullInt64 `bigquery:"tokens_input"`
	TokensOutput    bigquery.NullInt64 `bigquery:"tokens_output"`

	StartedTS  time.Time              `bigquery:"started_ts"`
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"`
}

// ModelOutputRow keeps the model's reply verbatim. RawOutput is a STRING
// column because a failed run may have produced invalid JSON.
type ModelOutputRow struct {
	OutputID  string    `bigquery:"output_id"`
	RunID     string    `bigquery:"run_id"`
	ModelName string    `bigquery:"model_name"`
	RawOutput string    `bigquery:"raw_output"`
	CreatedTS time.Time `bigquery:"created_ts"`
}

// toIngestionRun converts a stored row to the shared audit type.
func toIngestionRun(row IngestionRunRow) bq.IngestionRun {
	run := bq.IngestionRun{
		RunID:           row.RunID,
		BusinessID:      row.BusinessID,
		Filename:        row.Filename,
		FileKind:        row.FileKind,
		SizeBytes:       row.SizeBytes,
		ChecksumSHA256:  row.ChecksumSHA256,
		ParserType:      row.ParserType,
		ParserVersion:   row.ParserVersion,
		Status:          bq.RunStatus(row.Status),
		RecordsInserted: row.RecordsInserted.Int64,
		RecordsDropped:  row.RecordsDropped.Int64,
		TokensInput:     row.TokensInput.Int64,
		TokensOutput:    row.TokensOutput.Int64,
		StartedAt:       row.StartedTS,
	}
	if row.ArchiveURI.Valid {
		run.ArchiveURI = row.ArchiveURI.StringVal
	}
	if row.ErrorMessage.Valid {
		run.ErrorMessage = row.ErrorMessage.StringVal
	}
	if row.FinishedTS.Valid {
		t := row.FinishedTS.Timestamp
		run.FinishedAt = &t
	}
	return run
}
