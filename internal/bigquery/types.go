// Package bigquery holds the audit types shared between the BigQuery
// recorder and its readers, so callers do not depend on the client library.
package bigquery

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// IngestionRun is one statement upload as recorded by the audit trail.
type IngestionRun struct {
	RunID           string     `json:"run_id"`
	BusinessID      string     `json:"business_id"`
	Filename        string     `json:"filename"`
	FileKind        string     `json:"file_kind"`
	SizeBytes       int64      `json:"size_bytes"`
	ChecksumSHA256  string     `json:"checksum_sha256"`
	ArchiveURI      string     `json:"archive_uri,omitempty"`
	ParserType      string     `json:"parser_type"`
	ParserVersion   string     `json:"parser_version"`
	Status          RunStatus  `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	RecordsInserted int64      `json:"records_inserted"`
	RecordsDropped  int64      `json:"records_dropped"`
	TokensInput     int64      `json:"tokens_input"`
	TokensOutput    int64      `json:"tokens_output"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// RunLister reads back recorded runs.
type RunLister interface {
	// ListRuns returns the most recent runs of a business, newest first.
	ListRuns(ctx context.Context, businessID string, limit int) ([]IngestionRun, error)
}
