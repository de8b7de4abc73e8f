package postgres

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

const bankRecordColumns = `id::text, business_id::text, date::text, type, description,
	amount::text, beneficiary_name, processed, transaction_id::text, created_at`

const insertBankRecordSQL = `
	INSERT INTO bank_records (business_id, date, type, description, amount, beneficiary_name, processed)
	VALUES ($1::uuid, $2::date, $3, $4, $5::numeric, $6, false)
	RETURNING ` + bankRecordColumns

// BankRecordFilter narrows ListBankRecords. A nil Processed matches both states.
type BankRecordFilter struct {
	Processed *bool
	Limit     int
	Offset    int
}

type BankRecordRepository struct {
	db *DB
}

func NewBankRecordRepository(db *DB) *BankRecordRepository {
	return &BankRecordRepository{db: db}
}

// InsertBankRecords stores every record for businessID in one transaction.
// Either all rows are created, unprocessed, or none are.
func (r *BankRecordRepository) InsertBankRecords(ctx context.Context, businessID string, records []domain.ExtractedRecord) ([]domain.BankRecord, error) {
	const op = "InsertBankRecords"

	if err := requireUUID(op, "business_id", businessID); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []domain.BankRecord{}, nil
	}

	var created []domain.BankRecord
	err := r.db.InTx(ctx, pgx.TxOptions{}, func(q tracer) error {
		created = make([]domain.BankRecord, 0, len(records))

		batch := &pgx.Batch{}
		for _, rec := range records {
			batch.Queue(insertBankRecordSQL,
				businessID, rec.Date.String(), string(rec.Direction), rec.Description,
				rec.Amount.Abs().String(), rec.BeneficiaryName)
		}

		results := q.SendBatch(ctx, batch)
		for i := range records {
			br, err := scanBankRecord(results.QueryRow())
			if err != nil {
				_ = results.Close()
				return fmt.Errorf("inserting record %d: %w", i+1, err)
			}
			created = append(created, br)
		}
		return results.Close()
	})
	if err != nil {
		return nil, persistenceError(op, err)
	}
	return created, nil
}

// ListBankRecords returns a page of a business's records, newest first.
func (r *BankRecordRepository) ListBankRecords(ctx context.Context, businessID string, f BankRecordFilter) ([]domain.BankRecord, error) {
	const op = "ListBankRecords"

	if err := requireUUID(op, "business_id", businessID); err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.conn().Query(ctx, `
		SELECT `+bankRecordColumns+`
		FROM bank_records
		WHERE business_id = $1::uuid
		  AND ($2::boolean IS NULL OR processed = $2::boolean)
		ORDER BY date DESC, created_at DESC, id
		LIMIT $3 OFFSET $4`,
		businessID, f.Processed, limit, offset)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	records, err := collectBankRecords(rows)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	return records, nil
}

// ListUnprocessed returns every unreconciled record of a business, oldest first.
func (r *BankRecordRepository) ListUnprocessed(ctx context.Context, businessID string) ([]domain.BankRecord, error) {
	const op = "ListUnprocessed"

	if err := requireUUID(op, "business_id", businessID); err != nil {
		return nil, err
	}
	rows, err := r.db.conn().Query(ctx, `
		SELECT `+bankRecordColumns+`
		FROM bank_records
		WHERE business_id = $1::uuid AND NOT processed
		ORDER BY date, created_at, id`, businessID)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	records, err := collectBankRecords(rows)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	return records, nil
}

// BusinessesWithUnprocessed lists businesses that have at least one
// unreconciled bank record.
func (r *BankRecordRepository) BusinessesWithUnprocessed(ctx context.Context) ([]string, error) {
	rows, err := r.db.conn().Query(ctx,
		`SELECT DISTINCT business_id::text FROM bank_records WHERE NOT processed ORDER BY 1`)
	if err != nil {
		return nil, persistenceError("BusinessesWithUnprocessed", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, persistenceError("BusinessesWithUnprocessed", err)
	}
	return ids, nil
}

func (r *BankRecordRepository) GetBankRecord(ctx context.Context, id string) (*domain.BankRecord, error) {
	const op = "GetBankRecord"

	if err := requireUUID(op, "id", id); err != nil {
		return nil, err
	}
	br, err := scanBankRecord(r.db.conn().QueryRow(ctx,
		`SELECT `+bankRecordColumns+` FROM bank_records WHERE id = $1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError(op, "bank record", id)
	}
	if err != nil {
		return nil, persistenceError(op, err)
	}
	return &br, nil
}

func scanBankRecord(row pgx.Row) (domain.BankRecord, error) {
	var (
		br             domain.BankRecord
		date, typ, amt string
	)
	err := row.Scan(&br.ID, &br.BusinessID, &date, &typ, &br.Description,
		&amt, &br.BeneficiaryName, &br.Processed, &br.TransactionID, &br.CreatedAt)
	if err != nil {
		return br, err
	}
	if br.Date, err = civil.ParseDate(date); err != nil {
		return br, fmt.Errorf("parsing date %q: %w", date, err)
	}
	if br.Amount, err = decimal.NewFromString(amt); err != nil {
		return br, fmt.Errorf("parsing amount %q: %w", amt, err)
	}
	br.Type = domain.Direction(typ)
	return br, nil
}

func collectBankRecords(rows pgx.Rows) ([]domain.BankRecord, error) {
	defer rows.Close()

	records := []domain.BankRecord{}
	for rows.Next() {
		br, err := scanBankRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, br)
	}
	return records, rows.Err()
}

func requireUUID(op, field, value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return domain.NewValidationError(op, field,
			fmt.Sprintf("%s %q is not a valid identifier", field, value),
			"Provide the UUID of an existing record")
	}
	return nil
}
