package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

// EnsureTables creates the dataset and audit tables when they are missing.
// Schemas are inferred from the row structs.
func (r *RunRecorder) EnsureTables(ctx context.Context) error {
	ds := r.client.Dataset(r.datasetID)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("EnsureTables: creating dataset %s: %w", r.datasetID, err)
	}

	tables := []struct {
		name string
		row  any
		meta func(bigquery.Schema) *bigquery.TableMetadata
	}{
		{ingestionRunsTable, IngestionRunRow{}, func(s bigquery.Schema) *bigquery.TableMetadata {
			return &bigquery.TableMetadata{
				Schema:           s,
				TimePartitioning: &bigquery.TimePartitioning{Field: "started_ts"},
				Clustering:       &bigquery.Clustering{Fields: []string{"business_id"}},
			}
		}},
		{modelOutputsTable, ModelOutputRow{}, func(s bigquery.Schema) *bigquery.TableMetadata {
			return &bigquery.TableMetadata{Schema: s}
		}},
	}

	for _, t := range tables {
		schema, err := bigquery.InferSchema(t.row)
		if err != nil {
			return fmt.Errorf("EnsureTables: inferring schema for %s: %w", t.name, err)
		}
		if err := ds.Table(t.name).Create(ctx, t.meta(schema)); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("EnsureTables: creating table %s: %w", t.name, err)
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
