// Package intake decides whether an uploaded statement may enter the pipeline.
package intake

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/dvloznov/bizledger/internal/domain"
)

// MaxFileSize is the largest accepted upload, in bytes.
const MaxFileSize = 5 * 1024 * 1024

// FileKind is the container format of an upload.
type FileKind string

const (
	KindCSV  FileKind = "csv"
	KindXLSX FileKind = "xlsx"
	KindXLS  FileKind = "xls"
	KindPDF  FileKind = "pdf"
)

// Upload is a statement file as received from a client.
type Upload struct {
	Filename    string
	ContentType string
	BusinessID  string
	Data        []byte
}

var mimeKinds = map[string]FileKind{
	"text/csv":        KindCSV,
	"application/pdf": KindPDF,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": KindXLSX,
	"application/vnd.ms-excel": KindXLS,
}

var extKinds = map[string]FileKind{
	".csv":  KindCSV,
	".pdf":  KindPDF,
	".xlsx": KindXLSX,
	".xls":  KindXLS,
}

// DetectKind infers the file kind from the declared MIME type, falling back to
// the filename extension. The second result is false if neither is recognised.
func DetectKind(contentType, filename string) (FileKind, bool) {
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			mt = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
		}
		if k, ok := mimeKinds[strings.ToLower(mt)]; ok {
			return k, true
		}
	}
	k, ok := extKinds[strings.ToLower(filepath.Ext(filename))]
	return k, ok
}

// Validate checks the business, size and type of an upload. It has no side
// effects; a rejected upload never reaches extraction.
func Validate(u Upload) (FileKind, error) {
	const op = "intake.Validate"

	if strings.TrimSpace(u.BusinessID) == "" {
		return "", domain.NewValidationError(op, "business_id",
			"No business was specified for this upload",
			"Select a business and upload the statement again")
	}

	if len(u.Data) > MaxFileSize {
		return "", domain.NewValidationError(op, "size",
			fmt.Sprintf("File is too large (%.1f MB)", float64(len(u.Data))/(1024*1024)),
			"Upload a statement smaller than 5 MB, or split it into several files")
	}

	kind, ok := DetectKind(u.ContentType, u.Filename)
	if !ok {
		return "", domain.NewValidationError(op, "type",
			fmt.Sprintf("Unsupported file type %q", displayType(u)),
			"Upload a CSV, XLSX, XLS or PDF bank statement")
	}

	return kind, nil
}

func displayType(u Upload) string {
	if ext := filepath.Ext(u.Filename); ext != "" {
		return ext
	}
	if u.ContentType != "" {
		return u.ContentType
	}
	return "unknown"
}
