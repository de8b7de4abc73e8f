package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/extrame/xls"
)

const maxXLSRows = 100000

func (e *Extractor) extractXLS(data []byte) (string, error) {
	text, err := readLegacyWorkbook(data)
	if err != nil {
		e.log.Warn().Err(err).Msg("xls reader failed, scanning binary")
	}
	if err != nil || tooShort(text) {
		text = normalize(scanPrintableRuns(data, 4))
	}
	if tooShort(text) {
		return "", domain.NewExtractionError("extract.XLS",
			"No readable content found in the spreadsheet",
			"Try saving the statement as XLSX or CSV and upload it again", err)
	}
	return text, nil
}

func readLegacyWorkbook(data []byte) (text string, err error) {
	// The BIFF reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("xls reader panic: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, row := range wb.ReadAllCells(maxXLSRows) {
		line := strings.TrimSpace(strings.Join(row, "\t"))
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return normalize(b.String()), nil
}

// scanPrintableRuns keeps runs of at least minRun printable ASCII bytes,
// which is where BIFF stores uncompressed cell strings and number labels.
func scanPrintableRuns(data []byte, minRun int) string {
	var out []string
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= minRun {
			out = append(out, string(data[start:end]))
		}
		start = -1
	}
	for i, c := range data {
		if c >= 0x20 && c < 0x7f {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(data))
	return strings.Join(out, " ")
}
