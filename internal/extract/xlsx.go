package extract

import (
	"archive/zip"
	"bytes"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/xuri/excelize/v2"
)

const maxZipEntrySize = 20 << 20

var (
	sharedStringRe = regexp.MustCompile(`<t(?:\s[^>]*)?>([^<]*)</t>`)
	cellValueRe    = regexp.MustCompile(`<v>([^<]*)</v>`)
)

func (e *Extractor) extractXLSX(data []byte) (string, error) {
	text, err := readWorkbook(data)
	if err != nil {
		e.log.Warn().Err(err).Msg("excelize could not read workbook, scanning container")
	}
	if err != nil || tooShort(text) {
		text = normalize(scanXLSXContainer(data))
	}
	if tooShort(text) {
		return "", domain.NewExtractionError("extract.XLSX",
			"No readable content found in the spreadsheet",
			"Try exporting the statement as CSV and upload it again", err)
	}
	return text, nil
}

// readWorkbook renders every sheet as tab separated rows.
func readWorkbook(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", err
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return normalize(b.String()), nil
}

// scanXLSXContainer pulls shared strings and raw cell values out of the zip
// parts without interpreting the workbook structure. If the bytes are not a
// readable zip the same markers are searched for directly.
func scanXLSXContainer(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return scanMarkers(data)
	}

	var parts []string
	for _, f := range zr.File {
		if f.Name != "xl/sharedStrings.xml" && !strings.HasPrefix(f.Name, "xl/worksheets/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(rc, maxZipEntrySize))
		rc.Close()
		if err != nil && len(body) == 0 {
			continue
		}
		parts = append(parts, scanMarkers(body))
	}
	return strings.Join(parts, "\n")
}

func scanMarkers(body []byte) string {
	var out []string
	for _, m := range sharedStringRe.FindAllSubmatch(body, -1) {
		if s := strings.TrimSpace(html.UnescapeString(string(m[1]))); s != "" {
			out = append(out, s)
		}
	}
	for _, m := range cellValueRe.FindAllSubmatch(body, -1) {
		if s := strings.TrimSpace(string(m[1])); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}
