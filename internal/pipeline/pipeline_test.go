package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/dvloznov/bizledger/internal/intake"
	"github.com/dvloznov/bizledger/internal/pipeline"
	"github.com/dvloznov/bizledger/internal/pipeline/mocks"
	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salaryRecord() domain.ExtractedRecord {
	return domain.ExtractedRecord{
		Date:        civil.Date{Year: 2025, Month: 1, Day: 15},
		Direction:   domain.MoneyIn,
		Description: "Salary Payment",
		Amount:      decimal.RequireFromString("5000.00"),
	}
}

func csvUpload() intake.Upload {
	return intake.Upload{
		Filename:    "jan.csv",
		ContentType: "text/csv",
		BusinessID:  "biz-1",
		Data:        []byte("2025-01-15, Salary Payment, 5000.00, Employer Name, credit\n"),
	}
}

func TestIngest_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	extractor := mocks.NewMockTextExtractor(ctrl)
	parser := mocks.NewMockRecordParser(ctrl)
	store := mocks.NewMockRecordStore(ctrl)
	recorder := mocks.NewMockRunRecorder(ctrl)
	archiver := mocks.NewMockArchiver(ctrl)

	upload := csvUpload()
	rec := salaryRecord()

	gomock.InOrder(
		recorder.EXPECT().StartRun(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, run pipeline.RunInfo) (string, error) {
				assert.Equal(t, "biz-1", run.BusinessID)
				assert.Equal(t, intake.KindCSV, run.FileKind)
				assert.Len(t, run.ChecksumSHA256, 64)
				return "run-1", nil
			}),
		archiver.EXPECT().Archive(gomock.Any(), "biz-1", "jan.csv", "text/csv", upload.Data).
			Return("gs://bucket/statements/biz-1/jan.csv", nil),
		extractor.EXPECT().Extract(intake.KindCSV, upload.Data).Return(string(upload.Data), nil),
		parser.EXPECT().ParseRecords(gomock.Any(), string(upload.Data)).Return(&pipeline.ParseResult{
			Records:   []domain.ExtractedRecord{rec},
			RawOutput: `{"records": [...]}`,
			Model:     "gemini-2.5-flash",
		}, nil),
		recorder.EXPECT().StoreModelOutput(gomock.Any(), "run-1", "gemini-2.5-flash", `{"records": [...]}`).Return(nil),
		store.EXPECT().InsertBankRecords(gomock.Any(), "biz-1", []domain.ExtractedRecord{rec}).Return([]domain.BankRecord{
			{ID: "br-1", BusinessID: "biz-1", Date: rec.Date, Type: domain.MoneyIn, Description: rec.Description, Amount: rec.Amount},
		}, nil),
		recorder.EXPECT().MarkRunSucceeded(gomock.Any(), "run-1", pipeline.RunSummary{
			RecordsInserted: 1,
			ArchiveURI:      "gs://bucket/statements/biz-1/jan.csv",
		}).Return(nil),
	)

	ing := pipeline.NewIngestor(pipeline.Deps{
		Extractor: extractor,
		Parser:    parser,
		Store:     store,
		Recorder:  recorder,
		Archiver:  archiver,
		Log:       zerolog.Nop(),
	})

	res, err := ing.Ingest(context.Background(), upload)
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.Records, 1)
	assert.False(t, res.Records[0].Processed)
}

func TestIngest_OversizedPDFNeverReachesExtractor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No expectations: any call fails the test.
	extractor := mocks.NewMockTextExtractor(ctrl)
	parser := mocks.NewMockRecordParser(ctrl)
	store := mocks.NewMockRecordStore(ctrl)
	recorder := mocks.NewMockRunRecorder(ctrl)

	ing := pipeline.NewIngestor(pipeline.Deps{
		Extractor: extractor,
		Parser:    parser,
		Store:     store,
		Recorder:  recorder,
		Log:       zerolog.Nop(),
	})

	_, err := ing.Ingest(context.Background(), intake.Upload{
		Filename:    "statement.pdf",
		ContentType: "application/pdf",
		BusinessID:  "biz-1",
		Data:        bytes.Repeat([]byte("%"), 6*1024*1024),
	})
	require.Error(t, err)

	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindValidation, de.Kind)
	assert.Equal(t, "size", de.Constraint)
}

func TestIngest_PersistenceFailureMarksRunFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	extractor := mocks.NewMockTextExtractor(ctrl)
	parser := mocks.NewMockRecordParser(ctrl)
	store := mocks.NewMockRecordStore(ctrl)
	recorder := mocks.NewMockRunRecorder(ctrl)

	upload := csvUpload()
	dbErr := domain.NewPersistenceError("InsertBankRecords", "Could not save bank records", errors.New("connection reset"))

	recorder.EXPECT().StartRun(gomock.Any(), gomock.Any()).Return("run-9", nil)
	extractor.EXPECT().Extract(intake.KindCSV, upload.Data).Return(string(upload.Data), nil)
	parser.EXPECT().ParseRecords(gomock.Any(), gomock.Any()).Return(&pipeline.ParseResult{
		Records: []domain.ExtractedRecord{salaryRecord()},
	}, nil)
	recorder.EXPECT().StoreModelOutput(gomock.Any(), "run-9", gomock.Any(), gomock.Any()).Return(nil)
	store.EXPECT().InsertBankRecords(gomock.Any(), "biz-1", gomock.Any()).Return(nil, dbErr)
	recorder.EXPECT().MarkRunFailed(gomock.Any(), "run-9", dbErr)

	ing := pipeline.NewIngestor(pipeline.Deps{
		Extractor: extractor,
		Parser:    parser,
		Store:     store,
		Recorder:  recorder,
		Log:       zerolog.Nop(),
	})

	_, err := ing.Ingest(context.Background(), upload)
	require.Error(t, err)
	assert.Equal(t, domain.KindPersistence, domain.KindOf(err))
	assert.ErrorIs(t, err, dbErr)
}

func TestIngest_ParseFailureStoresNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	extractor := mocks.NewMockTextExtractor(ctrl)
	parser := mocks.NewMockRecordParser(ctrl)
	store := mocks.NewMockRecordStore(ctrl)

	upstream := domain.NewUpstreamError("ParseRecords", pipeline.NoValidRecordsMessage, "Check the file", nil)
	extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return("some text", nil)
	parser.EXPECT().ParseRecords(gomock.Any(), "some text").Return(nil, upstream)
	store.EXPECT().InsertBankRecords(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	// Without a recorder the ingestor falls back to NopRecorder.
	ing := pipeline.NewIngestor(pipeline.Deps{
		Extractor: extractor,
		Parser:    parser,
		Store:     store,
		Log:       zerolog.Nop(),
	})

	_, err := ing.Ingest(context.Background(), csvUpload())
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamService, domain.KindOf(err))
}

func TestIngest_AuditOutageDoesNotBlockIngestion(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	extractor := mocks.NewMockTextExtractor(ctrl)
	parser := mocks.NewMockRecordParser(ctrl)
	store := mocks.NewMockRecordStore(ctrl)
	recorder := mocks.NewMockRunRecorder(ctrl)

	recorder.EXPECT().StartRun(gomock.Any(), gomock.Any()).Return("", errors.New("bigquery unavailable"))
	extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return("text", nil)
	parser.EXPECT().ParseRecords(gomock.Any(), gomock.Any()).Return(&pipeline.ParseResult{
		Records: []domain.ExtractedRecord{salaryRecord()},
	}, nil)
	store.EXPECT().InsertBankRecords(gomock.Any(), gomock.Any(), gomock.Any()).Return([]domain.BankRecord{{ID: "br-1"}}, nil)

	ing := pipeline.NewIngestor(pipeline.Deps{
		Extractor: extractor,
		Parser:    parser,
		Store:     store,
		Recorder:  recorder,
		Log:       zerolog.Nop(),
	})

	res, err := ing.Ingest(context.Background(), csvUpload())
	require.NoError(t, err)
	assert.Equal(t, "", res.RunID)
	assert.Equal(t, 1, res.Inserted)
}

func TestIngest_BestEffortFailuresAreLogged(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	extractor := mocks.NewMockTextExtractor(ctrl)
	parser := mocks.NewMockRecordParser(ctrl)
	store := mocks.NewMockRecordStore(ctrl)
	recorder := mocks.NewMockRunRecorder(ctrl)
	archiver := mocks.NewMockArchiver(ctrl)

	recorder.EXPECT().StartRun(gomock.Any(), gomock.Any()).Return("run-1", nil)
	archiver.EXPECT().Archive(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", errors.New("bucket gone"))
	extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return("text", nil)
	parser.EXPECT().ParseRecords(gomock.Any(), gomock.Any()).Return(&pipeline.ParseResult{
		Records:   []domain.ExtractedRecord{salaryRecord()},
		RawOutput: `{"records":[]}`,
		Model:     "gemini-test",
	}, nil)
	recorder.EXPECT().StoreModelOutput(gomock.Any(), "run-1", "gemini-test", gomock.Any()).
		Return(errors.New("insert failed"))
	store.EXPECT().InsertBankRecords(gomock.Any(), gomock.Any(), gomock.Any()).Return([]domain.BankRecord{{ID: "br-1"}}, nil)
	recorder.EXPECT().MarkRunSucceeded(gomock.Any(), "run-1", gomock.Any()).Return(errors.New("dml quota"))

	var buf bytes.Buffer
	ing := pipeline.NewIngestor(pipeline.Deps{
		Extractor: extractor,
		Parser:    parser,
		Store:     store,
		Recorder:  recorder,
		Archiver:  archiver,
		Log:       zerolog.New(&buf),
	})

	res, err := ing.Ingest(context.Background(), csvUpload())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	out := buf.String()
	assert.Contains(t, out, "could not archive upload")
	assert.Contains(t, out, "could not store model output")
	assert.Contains(t, out, "could not mark run succeeded")
	assert.Contains(t, out, `"level":"warn"`)
}
