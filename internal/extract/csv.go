package extract

import (
	"bytes"

	"github.com/dvloznov/bizledger/internal/domain"
)

// extractCSV passes CSV through untouched; the model reads it as-is.
func extractCSV(data []byte) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", domain.NewExtractionError("extract.CSV",
			"The CSV file has no readable content",
			"Check that the export contains transaction rows", nil)
	}
	return string(data), nil
}
