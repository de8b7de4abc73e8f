package postgres

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id::text, business_id::text, kind, description,
	total::text, amount_paid::text, payment_status`

const paymentColumns = `id::text, business_id::text, transaction_id::text, bank_record_id::text,
	amount::text, payment_date::text, notes, created_at`

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

// PaymentRepository owns payments and, through the database triggers, the
// payment state of transactions. It never writes amount_paid or
// payment_status itself.
type PaymentRepository struct {
	db *DB
}

func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// LinkPayment records a payment from a bank record against a transaction and
// marks the bank record processed, all in one serializable transaction.
func (r *PaymentRepository) LinkPayment(ctx context.Context, req domain.LinkRequest) (*domain.PaymentResult, error) {
	const op = "LinkPayment"

	for field, id := range map[string]string{
		"business_id":    req.BusinessID,
		"transaction_id": req.TransactionID,
		"bank_record_id": req.BankRecordID,
	} {
		if err := requireUUID(op, field, id); err != nil {
			return nil, err
		}
	}

	var result domain.PaymentResult
	err := r.db.InTx(ctx, serializable, func(q tracer) error {
		txn, err := scanTransaction(q.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE id = $1::uuid FOR UPDATE`, req.TransactionID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError(op, "transaction", req.TransactionID)
		}
		if err != nil {
			return err
		}

		br, err := scanBankRecord(q.QueryRow(ctx,
			`SELECT `+bankRecordColumns+` FROM bank_records WHERE id = $1::uuid FOR UPDATE`, req.BankRecordID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError(op, "bank record", req.BankRecordID)
		}
		if err != nil {
			return err
		}

		if txn.BusinessID != req.BusinessID || br.BusinessID != req.BusinessID {
			return domain.NewValidationError(op, "business_id",
				"transaction and bank record must belong to the same business",
				"Link records of the business you are reconciling")
		}
		if br.Processed {
			return domain.NewValidationError(op, "bank_record_id",
				"bank record already reconciled", "Unlink the existing payment first")
		}

		amount := br.Amount
		if req.Amount != nil {
			amount = *req.Amount
		}
		if !amount.IsPositive() {
			return domain.NewValidationError(op, "amount",
				"payment amount must be greater than zero", "Provide a positive amount")
		}
		date := br.Date
		if req.PaymentDate != nil {
			date = *req.PaymentDate
		}

		payment, err := scanPayment(q.QueryRow(ctx, `
			INSERT INTO payments (business_id, transaction_id, bank_record_id, amount, payment_date, notes)
			VALUES ($1::uuid, $2::uuid, $3::uuid, $4::numeric, $5::date, $6)
			RETURNING `+paymentColumns,
			req.BusinessID, req.TransactionID, req.BankRecordID, amount.String(), date.String(), req.Notes))
		if err != nil {
			return err
		}

		if _, err := q.Exec(ctx,
			`UPDATE bank_records SET processed = true, transaction_id = $2::uuid WHERE id = $1::uuid`,
			req.BankRecordID, req.TransactionID); err != nil {
			return err
		}

		updated, err := getTransaction(ctx, q, req.TransactionID)
		if err != nil {
			return err
		}
		result = domain.PaymentResult{Payment: payment, Transaction: updated}
		return nil
	})
	if err != nil {
		return nil, persistenceError(op, err)
	}
	return &result, nil
}

// UpdatePaymentAmount changes the amount of an existing payment.
func (r *PaymentRepository) UpdatePaymentAmount(ctx context.Context, paymentID string, amount decimal.Decimal) (*domain.PaymentResult, error) {
	const op = "UpdatePaymentAmount"

	if err := requireUUID(op, "id", paymentID); err != nil {
		return nil, err
	}

	var result domain.PaymentResult
	err := r.db.InTx(ctx, serializable, func(q tracer) error {
		payment, err := scanPayment(q.QueryRow(ctx, `
			UPDATE payments SET amount = $2::numeric WHERE id = $1::uuid
			RETURNING `+paymentColumns, paymentID, amount.String()))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError(op, "payment", paymentID)
		}
		if err != nil {
			return err
		}
		txn, err := getTransaction(ctx, q, payment.TransactionID)
		if err != nil {
			return err
		}
		result = domain.PaymentResult{Payment: payment, Transaction: txn}
		return nil
	})
	if err != nil {
		return nil, persistenceError(op, err)
	}
	return &result, nil
}

// UnlinkPayment deletes a payment and returns its bank record to the
// unprocessed pool.
func (r *PaymentRepository) UnlinkPayment(ctx context.Context, paymentID string) (*domain.Transaction, error) {
	const op = "UnlinkPayment"

	if err := requireUUID(op, "id", paymentID); err != nil {
		return nil, err
	}

	var txn domain.Transaction
	err := r.db.InTx(ctx, serializable, func(q tracer) error {
		var txnID, bankRecordID string
		err := q.QueryRow(ctx,
			`DELETE FROM payments WHERE id = $1::uuid RETURNING transaction_id::text, bank_record_id::text`,
			paymentID).Scan(&txnID, &bankRecordID)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError(op, "payment", paymentID)
		}
		if err != nil {
			return err
		}

		if _, err := q.Exec(ctx,
			`UPDATE bank_records SET processed = false, transaction_id = NULL WHERE id = $1::uuid`,
			bankRecordID); err != nil {
			return err
		}

		txn, err = getTransaction(ctx, q, txnID)
		return err
	})
	if err != nil {
		return nil, persistenceError(op, err)
	}
	return &txn, nil
}

// Recompute rebuilds a transaction's payment state from its payments.
func (r *PaymentRepository) Recompute(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	const op = "Recompute"

	if err := requireUUID(op, "id", transactionID); err != nil {
		return nil, err
	}

	var txn domain.Transaction
	err := r.db.InTx(ctx, serializable, func(q tracer) error {
		if _, err := q.Exec(ctx, `SELECT recompute_transaction_payment($1::uuid)`, transactionID); err != nil {
			return err
		}
		var err error
		txn, err = getTransaction(ctx, q, transactionID)
		return err
	})
	if err != nil {
		return nil, persistenceError(op, err)
	}
	return &txn, nil
}

func (r *PaymentRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if err := requireUUID("GetTransaction", "id", id); err != nil {
		return nil, err
	}
	txn, err := getTransaction(ctx, r.db.conn(), id)
	if err != nil {
		return nil, persistenceError("GetTransaction", err)
	}
	return &txn, nil
}

// ListPayments returns the payments of a transaction, oldest first.
func (r *PaymentRepository) ListPayments(ctx context.Context, transactionID string) ([]domain.PaymentRecord, error) {
	const op = "ListPayments"

	if err := requireUUID(op, "transaction_id", transactionID); err != nil {
		return nil, err
	}
	rows, err := r.db.conn().Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE transaction_id = $1::uuid
		ORDER BY payment_date, created_at`, transactionID)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	defer rows.Close()

	payments := []domain.PaymentRecord{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, persistenceError(op, err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError(op, err)
	}
	return payments, nil
}

// ListOpenTransactions returns the business's transactions that are not
// fully paid.
func (r *PaymentRepository) ListOpenTransactions(ctx context.Context, businessID string) ([]domain.Transaction, error) {
	const op = "ListOpenTransactions"

	if err := requireUUID(op, "business_id", businessID); err != nil {
		return nil, err
	}
	rows, err := r.db.conn().Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE business_id = $1::uuid AND payment_status <> 'paid'
		ORDER BY created_at, id`, businessID)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	defer rows.Close()

	txns := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, persistenceError(op, err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError(op, err)
	}
	return txns, nil
}

// CreateTransaction inserts a sale or expense with no payments. Its status is
// set on insert: paid for a zero total, unpaid otherwise.
func (r *PaymentRepository) CreateTransaction(ctx context.Context, nt domain.NewTransaction) (*domain.Transaction, error) {
	const op = "CreateTransaction"

	if err := requireUUID(op, "business_id", nt.BusinessID); err != nil {
		return nil, err
	}
	if _, err := domain.ParseTransactionKind(string(nt.Kind)); err != nil {
		return nil, domain.NewValidationError(op, "kind", err.Error(), "Use sale or expense")
	}
	if nt.Total.IsNegative() {
		return nil, domain.NewValidationError(op, "total", "total must not be negative", "Provide a total of zero or more")
	}

	txn, err := scanTransaction(r.db.conn().QueryRow(ctx, `
		INSERT INTO transactions (business_id, kind, description, total)
		VALUES ($1::uuid, $2, $3, $4::numeric)
		RETURNING `+transactionColumns,
		nt.BusinessID, string(nt.Kind), nt.Description, nt.Total.String()))
	if err != nil {
		return nil, persistenceError(op, err)
	}
	return &txn, nil
}

// CreateBusiness inserts a business and returns its id.
func (r *PaymentRepository) CreateBusiness(ctx context.Context, name string) (string, error) {
	var id string
	err := r.db.conn().QueryRow(ctx,
		`INSERT INTO businesses (name) VALUES ($1) RETURNING id::text`, name).Scan(&id)
	if err != nil {
		return "", persistenceError("CreateBusiness", err)
	}
	return id, nil
}

func getTransaction(ctx context.Context, q tracer, id string) (domain.Transaction, error) {
	txn, err := scanTransaction(q.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return txn, domain.NewNotFoundError("GetTransaction", "transaction", id)
	}
	return txn, err
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		t                 domain.Transaction
		kind, status      string
		total, amountPaid string
	)
	if err := row.Scan(&t.ID, &t.BusinessID, &kind, &t.Description, &total, &amountPaid, &status); err != nil {
		return t, err
	}
	var err error
	if t.Total, err = decimal.NewFromString(total); err != nil {
		return t, fmt.Errorf("parsing total %q: %w", total, err)
	}
	if t.AmountPaid, err = decimal.NewFromString(amountPaid); err != nil {
		return t, fmt.Errorf("parsing amount_paid %q: %w", amountPaid, err)
	}
	t.Kind = domain.TransactionKind(kind)
	t.PaymentStatus = domain.PaymentStatus(status)
	return t, nil
}

func scanPayment(row pgx.Row) (domain.PaymentRecord, error) {
	var (
		p            domain.PaymentRecord
		amount, date string
	)
	err := row.Scan(&p.ID, &p.BusinessID, &p.TransactionID, &p.BankRecordID, &amount, &date, &p.Notes, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return p, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	if p.PaymentDate, err = civil.ParseDate(date); err != nil {
		return p, fmt.Errorf("parsing payment_date %q: %w", date, err)
	}
	return p, nil
}
