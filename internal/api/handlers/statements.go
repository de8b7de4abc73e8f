package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dvloznov/bizledger/internal/api/middleware"
	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/dvloznov/bizledger/internal/infra/postgres"
	"github.com/dvloznov/bizledger/internal/intake"
	"github.com/dvloznov/bizledger/internal/logger"
	"github.com/dvloznov/bizledger/internal/pipeline"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// maxUploadBody bounds the whole multipart request. It is larger than
// intake.MaxFileSize so that an oversized file still reaches intake and is
// reported with the usual size message.
const maxUploadBody = 2*intake.MaxFileSize + 1<<20

// Ingestor runs one statement through the ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, upload intake.Upload) (*pipeline.IngestResult, error)
}

// BankRecordLister pages through stored bank records.
type BankRecordLister interface {
	ListBankRecords(ctx context.Context, businessID string, f postgres.BankRecordFilter) ([]domain.BankRecord, error)
}

// StatementsHandler handles statement uploads and the resulting bank records.
type StatementsHandler struct {
	ingestor      Ingestor
	records       BankRecordLister
	log           zerolog.Logger
	ingestTimeout time.Duration
}

// NewStatementsHandler creates a new statements handler.
func NewStatementsHandler(ingestor Ingestor, records BankRecordLister, log zerolog.Logger) *StatementsHandler {
	return &StatementsHandler{ingestor: ingestor, records: records, log: log}
}

// WithIngestTimeout bounds each upload, counted from when the handler starts.
// It must stay below the server's WriteTimeout so the outcome can be written.
func (h *StatementsHandler) WithIngestTimeout(d time.Duration) *StatementsHandler {
	h.ingestTimeout = d
	return h
}

// Upload handles POST /api/bank-statements/upload
func (h *StatementsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	const op = "Upload"
	log := logger.FromContext(r.Context())

	ctx := r.Context()
	if h.ingestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.ingestTimeout)
		defer cancel()
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(intake.MaxFileSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, log, domain.NewValidationError(op, "size",
				"File is too large",
				"Upload a statement smaller than 5 MB, or split it into several files"), "upload rejected")
			return
		}
		writeErr(w, log, domain.NewValidationError(op, "form",
			"The upload must be a multipart form",
			"Send the statement as the \"file\" field of a multipart/form-data request"), "upload rejected")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, log, domain.NewValidationError(op, "file",
			"No file was uploaded",
			"Attach the bank statement as the \"file\" field"), "upload rejected")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, log, domain.NewValidationError(op, "file",
			"The uploaded file could not be read",
			"Upload the statement again"), "upload rejected")
		return
	}

	res, err := h.ingestor.Ingest(ctx, intake.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		BusinessID:  r.FormValue("businessId"),
		Data:        data,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = domain.NewUpstreamError(op,
				"The statement took too long to process",
				"Try again, or split the statement into smaller files", err)
		}
		writeErr(w, log, err, "statement import failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Successfully imported %d bank records", res.Inserted),
		"runId":   res.RunID,
		"dropped": res.Dropped,
	})
}

// ListBankRecords handles GET /api/businesses/{businessId}/bank-records
func (h *StatementsHandler) ListBankRecords(w http.ResponseWriter, r *http.Request) {
	businessID := mux.Vars(r)["businessId"]
	query := r.URL.Query()

	filter := postgres.BankRecordFilter{
		Limit:  intParam(query.Get("limit"), 0),
		Offset: intParam(query.Get("offset"), 0),
	}
	switch query.Get("processed") {
	case "":
	case "true":
		v := true
		filter.Processed = &v
	case "false":
		v := false
		filter.Processed = &v
	default:
		middleware.WriteError(w, http.StatusBadRequest, "processed must be true or false")
		return
	}

	records, err := h.records.ListBankRecords(r.Context(), businessID, filter)
	if err != nil {
		writeErr(w, h.log, err, "Failed to list bank records")
		return
	}
	if records == nil {
		records = []domain.BankRecord{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"bank_records": records,
		"count":        len(records),
	})
}
