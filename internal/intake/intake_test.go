package intake

import (
	"bytes"
	"testing"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		filename    string
		want        FileKind
		ok          bool
	}{
		{"csv mime", "text/csv", "x.bin", KindCSV, true},
		{"csv mime with charset", "text/csv; charset=utf-8", "", KindCSV, true},
		{"pdf mime", "application/pdf", "", KindPDF, true},
		{"xlsx mime", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "", KindXLSX, true},
		{"xls mime", "application/vnd.ms-excel", "", KindXLS, true},
		{"octet stream falls back to extension", "application/octet-stream", "statement.XLSX", KindXLSX, true},
		{"no mime uses extension", "", "jan.csv", KindCSV, true},
		{"xls extension", "", "old.xls", KindXLS, true},
		{"unknown", "image/png", "scan.png", "", false},
		{"nothing", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectKind(tt.contentType, tt.filename)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		upload     Upload
		wantKind   FileKind
		constraint string
	}{
		{
			name:     "valid csv",
			upload:   Upload{Filename: "jan.csv", ContentType: "text/csv", BusinessID: "b1", Data: []byte("a,b")},
			wantKind: KindCSV,
		},
		{
			name:     "exactly at limit",
			upload:   Upload{Filename: "s.pdf", BusinessID: "b1", Data: make([]byte, MaxFileSize)},
			wantKind: KindPDF,
		},
		{
			name:       "missing business",
			upload:     Upload{Filename: "jan.csv", Data: []byte("a")},
			constraint: "business_id",
		},
		{
			name:       "one byte over limit",
			upload:     Upload{Filename: "s.pdf", BusinessID: "b1", Data: make([]byte, MaxFileSize+1)},
			constraint: "size",
		},
		{
			name:       "unsupported type",
			upload:     Upload{Filename: "photo.jpg", ContentType: "image/jpeg", BusinessID: "b1", Data: []byte("x")},
			constraint: "type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := Validate(tt.upload)
			if tt.constraint == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantKind, kind)
				return
			}
			require.Error(t, err)
			de, ok := domain.AsError(err)
			require.True(t, ok)
			assert.Equal(t, domain.KindValidation, de.Kind)
			assert.Equal(t, tt.constraint, de.Constraint)
			assert.NotEmpty(t, de.Remedy)
		})
	}
}

func TestValidate_SixMegabytePDFRejectedOnSize(t *testing.T) {
	u := Upload{
		Filename:    "big.pdf",
		ContentType: "application/pdf",
		BusinessID:  "b1",
		Data:        bytes.Repeat([]byte{'x'}, 6*1024*1024),
	}

	_, err := Validate(u)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "size", de.Constraint)
	assert.Contains(t, de.UserMessage(), "5 MB")
}
