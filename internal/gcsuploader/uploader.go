// Package gcsuploader archives statement uploads in Google Cloud Storage and
// reads them back.
package gcsuploader

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/bizledger/internal/gcs"
	"github.com/google/uuid"
)

// Re-export interface from shared package
type StatementStore = gcs.StatementStore

// Archiver stores uploads in one bucket.
type Archiver struct {
	client *storage.Client
	bucket string
	now    func() time.Time
	newID  func() string
}

var _ StatementStore = (*Archiver)(nil)

// NewArchiver wraps an existing storage client. The caller owns the client.
func NewArchiver(client *storage.Client, bucket string) (*Archiver, error) {
	if bucket == "" {
		return nil, errors.New("NewArchiver: bucket is required")
	}
	return &Archiver{client: client, bucket: bucket, now: time.Now, newID: uuid.NewString}, nil
}

// ObjectName returns statements/<business>/<yyyy/mm/dd>/<uuid>-<file>.
func ObjectName(businessID, filename, id string, at time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "statement"
	}
	return fmt.Sprintf("statements/%s/%s/%s-%s", businessID, at.UTC().Format("2006/01/02"), id, name)
}

// Archive uploads data and returns its gs:// URI.
func (a *Archiver) Archive(ctx context.Context, businessID, filename, contentType string, data []byte) (string, error) {
	objectName := ObjectName(businessID, filename, a.newID(), a.now())

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{
		"business_id":       businessID,
		"original_filename": filename,
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Archive: writing object: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Archive: finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}

// Fetch downloads an object from any bucket the client can read.
func (a *Archiver) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	return FetchFromGCS(ctx, a.client, gcsURI)
}
