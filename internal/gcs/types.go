package gcs

import (
	"context"
)

// StatementStore keeps original statement files in object storage.
type StatementStore interface {
	// Archive writes an upload under the business's prefix and returns its gs:// URI.
	Archive(ctx context.Context, businessID, filename, contentType string, data []byte) (string, error)

	// Fetch downloads the bytes behind a gs:// URI.
	Fetch(ctx context.Context, gcsURI string) ([]byte, error)
}
