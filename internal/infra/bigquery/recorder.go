// Package bigquery records ingestion runs and raw model output in BigQuery
// for audit.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/bizledger/internal/bigquery"
	"github.com/dvloznov/bizledger/internal/logger"
	"github.com/dvloznov/bizledger/internal/pipeline"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const maxErrorMessageLen = 2000

// RunRecorder implements pipeline.RunRecorder and bq.RunLister on top of
// DML statements, which avoids streaming-buffer limits on later UPDATEs.
type RunRecorder struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	now       func() time.Time
}

var (
	_ pipeline.RunRecorder = (*RunRecorder)(nil)
	_ bq.RunLister         = (*RunRecorder)(nil)
)

// NewRunRecorder opens a BigQuery client for projectID.
func NewRunRecorder(ctx context.Context, projectID, datasetID string, opts ...option.ClientOption) (*RunRecorder, error) {
	if projectID == "" || datasetID == "" {
		return nil, errors.New("NewRunRecorder: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewRunRecorder: creating client: %w", err)
	}
	return &RunRecorder{client: client, projectID: projectID, datasetID: datasetID, now: time.Now}, nil
}

// Close closes the BigQuery client connection.
func (r *RunRecorder) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RunRecorder) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", r.projectID, r.datasetID, name)
}

// StartRun inserts a RUNNING row and returns the generated run_id.
func (r *RunRecorder) StartRun(ctx context.Context, run pipeline.RunInfo) (string, error) {
	runID := uuid.NewString()

	err := r.exec(ctx, "StartRun", fmt.Sprintf(`
		INSERT INTO %s (
			run_id, business_id, filename, file_kind, size_bytes, checksum_sha256,
			parser_type, parser_version, status, started_ts
		)
		VALUES (
			@run_id, @business_id, @filename, @file_kind, @size_bytes, @checksum_sha256,
			@parser_type, @parser_version, @status, @started_ts
		)
	`, r.table(ingestionRunsTable)), []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "business_id", Value: run.BusinessID},
		{Name: "filename", Value: run.Filename},
		{Name: "file_kind", Value: string(run.FileKind)},
		{Name: "size_bytes", Value: int64(run.SizeBytes)},
		{Name: "checksum_sha256", Value: run.ChecksumSHA256},
		{Name: "parser_type", Value: pipeline.ParserType},
		{Name: "parser_version", Value: pipeline.ParserVersion},
		{Name: "status", Value: string(bq.RunRunning)},
		{Name: "started_ts", Value: r.now()},
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// StoreModelOutput keeps the raw model reply of a run.
func (r *RunRecorder) StoreModelOutput(ctx context.Context, runID, modelName, rawOutput string) error {
	row := ModelOutputRow{
		OutputID:  uuid.NewString(),
		RunID:     runID,
		ModelName: modelName,
		RawOutput: rawOutput,
		CreatedTS: r.now(),
	}
	return r.exec(ctx, "StoreModelOutput", fmt.Sprintf(`
		INSERT INTO %s (output_id, run_id, model_name, raw_output, created_ts)
		VALUES (@output_id, @run_id, @model_name, @raw_output, @created_ts)
	`, r.table(modelOutputsTable)), []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "run_id", Value: row.RunID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "raw_output", Value: row.RawOutput},
		{Name: "created_ts", Value: row.CreatedTS},
	})
}

// MarkRunFailed sets status=FAILED. Failures are logged, not returned, since
// the caller is already handling the original error.
func (r *RunRecorder) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	err := r.exec(ctx, "MarkRunFailed", fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, r.table(ingestionRunsTable)), []bigquery.QueryParameter{
		{Name: "status", Value: string(bq.RunFailed)},
		{Name: "finished_ts", Value: r.now()},
		{Name: "error_message", Value: truncateError(runErr)},
		{Name: "run_id", Value: runID},
	})
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("run_id", runID).Msg("MarkRunFailed: could not update run")
	}
}

// MarkRunSucceeded sets status=SUCCESS and the run's totals.
func (r *RunRecorder) MarkRunSucceeded(ctx context.Context, runID string, summary pipeline.RunSummary) error {
	return r.exec(ctx, "MarkRunSucceeded", fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = NULL,
		    archive_uri = NULLIF(@archive_uri, ''),
		    records_inserted = @records_inserted,
		    records_dropped = @records_dropped,
		    tokens_input = @tokens_input,
		    tokens_output = @tokens_output
		WHERE run_id = @run_id
	`, r.table(ingestionRunsTable)), []bigquery.QueryParameter{
		{Name: "status", Value: string(bq.RunSuccess)},
		{Name: "finished_ts", Value: r.now()},
		{Name: "archive_uri", Value: summary.ArchiveURI},
		{Name: "records_inserted", Value: int64(summary.RecordsInserted)},
		{Name: "records_dropped", Value: int64(summary.RecordsDropped)},
		{Name: "tokens_input", Value: summary.TokensInput},
		{Name: "tokens_output", Value: summary.TokensOutput},
		{Name: "run_id", Value: runID},
	})
}

// ListRuns returns the most recent runs of a business, newest first.
func (r *RunRecorder) ListRuns(ctx context.Context, businessID string, limit int) ([]bq.IngestionRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	q := r.client.Query(fmt.Sprintf(`
		SELECT *
		FROM %s
		WHERE business_id = @business_id
		ORDER BY started_ts DESC
		LIMIT @limit
	`, r.table(ingestionRunsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "business_id", Value: businessID},
		{Name: "limit", Value: int64(limit)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: reading query: %w", err)
	}

	runs := []bq.IngestionRun{}
	for {
		var row IngestionRunRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRuns: reading row: %w", err)
		}
		runs = append(runs, toIngestionRun(row))
	}
	return runs, nil
}

func (r *RunRecorder) exec(ctx context.Context, op, sql string, params []bigquery.QueryParameter) error {
	q := r.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}
	return nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return msg
}
