// Package extract turns an uploaded statement into plain text for the model.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/dvloznov/bizledger/internal/intake"
	"github.com/rs/zerolog"
)

// MinContentLength is the least amount of text a binary format must yield
// before it is handed to the model.
const MinContentLength = 10

// Extractor converts file bytes of a known kind into text.
type Extractor struct {
	log zerolog.Logger
}

// New creates an Extractor.
func New(log zerolog.Logger) *Extractor {
	return &Extractor{log: log}
}

// Extract returns the text content of data. CSV is returned unchanged; the
// other kinds are parsed and normalised and must produce at least
// MinContentLength characters.
func (e *Extractor) Extract(kind intake.FileKind, data []byte) (string, error) {
	switch kind {
	case intake.KindCSV:
		return extractCSV(data)
	case intake.KindXLSX:
		return e.extractXLSX(data)
	case intake.KindXLS:
		return e.extractXLS(data)
	case intake.KindPDF:
		return e.extractPDF(data)
	}
	return "", domain.NewExtractionError("extract.Extract",
		"Unsupported file kind "+string(kind),
		"Upload a CSV, XLSX, XLS or PDF bank statement", nil)
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x00]+`)
	blankLines      = regexp.MustCompile(`\n{2,}`)
)

// normalize collapses runs of whitespace, trims every line and drops empty ones.
func normalize(s string) string {
	s = strings.ToValidUTF8(s, " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = horizontalSpace.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func tooShort(s string) bool {
	return utf8.RuneCountInString(s) < MinContentLength
}
