package reconcile

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPaymentStore keeps payments in memory and derives transaction state the
// same way the database trigger does.
type MockPaymentStore struct {
	txns     map[string]*domain.Transaction
	payments map[string]domain.PaymentRecord
	records  map[string]*domain.BankRecord
	nextID   int

	LinkPaymentFunc func(ctx context.Context, req domain.LinkRequest) (*domain.PaymentResult, error)
	linkCalls       []domain.LinkRequest
}

func newMockStore() *MockPaymentStore {
	return &MockPaymentStore{
		txns:     map[string]*domain.Transaction{},
		payments: map[string]domain.PaymentRecord{},
		records:  map[string]*domain.BankRecord{},
	}
}

func (m *MockPaymentStore) addTxn(id string, kind domain.TransactionKind, total string) {
	m.txns[id] = &domain.Transaction{
		ID: id, BusinessID: "biz", Kind: kind,
		Total: decimal.RequireFromString(total), PaymentStatus: domain.StatusUnpaid,
	}
}

func (m *MockPaymentStore) addRecord(id string, dir domain.Direction, amount string) domain.BankRecord {
	br := &domain.BankRecord{
		ID: id, BusinessID: "biz", Type: dir, Description: id,
		Date: civil.Date{Year: 2025, Month: 2, Day: 1}, Amount: decimal.RequireFromString(amount),
	}
	m.records[id] = br
	return *br
}

func (m *MockPaymentStore) recompute(txnID string) {
	t := m.txns[txnID]
	var amounts []decimal.Decimal
	for _, p := range m.payments {
		if p.TransactionID == txnID {
			amounts = append(amounts, p.Amount)
		}
	}
	t.AmountPaid, t.PaymentStatus = domain.RecomputePayment(t.Total, amounts)
}

func (m *MockPaymentStore) LinkPayment(ctx context.Context, req domain.LinkRequest) (*domain.PaymentResult, error) {
	m.linkCalls = append(m.linkCalls, req)
	if m.LinkPaymentFunc != nil {
		return m.LinkPaymentFunc(ctx, req)
	}
	t, ok := m.txns[req.TransactionID]
	if !ok {
		return nil, domain.NewNotFoundError("LinkPayment", "transaction", req.TransactionID)
	}
	br := m.records[req.BankRecordID]
	if br.Processed {
		return nil, domain.NewValidationError("LinkPayment", "bank_record_id", "bank record already reconciled", "")
	}
	amount := br.Amount
	if req.Amount != nil {
		amount = *req.Amount
	}
	m.nextID++
	p := domain.PaymentRecord{
		ID: "p" + string(rune('0'+m.nextID)), BusinessID: req.BusinessID,
		TransactionID: t.ID, BankRecordID: br.ID, Amount: amount, PaymentDate: br.Date,
	}
	m.payments[p.ID] = p
	br.Processed = true
	m.recompute(t.ID)
	return &domain.PaymentResult{Payment: p, Transaction: *t}, nil
}

func (m *MockPaymentStore) UpdatePaymentAmount(ctx context.Context, id string, amount decimal.Decimal) (*domain.PaymentResult, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.NewNotFoundError("UpdatePaymentAmount", "payment", id)
	}
	p.Amount = amount
	m.payments[id] = p
	m.recompute(p.TransactionID)
	return &domain.PaymentResult{Payment: p, Transaction: *m.txns[p.TransactionID]}, nil
}

func (m *MockPaymentStore) UnlinkPayment(ctx context.Context, id string) (*domain.Transaction, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.NewNotFoundError("UnlinkPayment", "payment", id)
	}
	delete(m.payments, id)
	m.records[p.BankRecordID].Processed = false
	m.recompute(p.TransactionID)
	t := *m.txns[p.TransactionID]
	return &t, nil
}

func (m *MockPaymentStore) Recompute(ctx context.Context, id string) (*domain.Transaction, error) {
	m.recompute(id)
	t := *m.txns[id]
	return &t, nil
}

func (m *MockPaymentStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	t, ok := m.txns[id]
	if !ok {
		return nil, domain.NewNotFoundError("GetTransaction", "transaction", id)
	}
	c := *t
	return &c, nil
}

func (m *MockPaymentStore) ListPayments(ctx context.Context, txnID string) ([]domain.PaymentRecord, error) {
	out := []domain.PaymentRecord{}
	for _, p := range m.payments {
		if p.TransactionID == txnID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockPaymentStore) ListOpenTransactions(ctx context.Context, businessID string) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		if t, ok := m.txns[id]; ok && t.PaymentStatus != domain.StatusPaid {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *MockPaymentStore) ListUnprocessed(ctx context.Context, businessID string) ([]domain.BankRecord, error) {
	var out []domain.BankRecord
	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		if br, ok := m.records[id]; ok && !br.Processed {
			out = append(out, *br)
		}
	}
	return out, nil
}

func (m *MockPaymentStore) BusinessesWithUnprocessed(ctx context.Context) ([]string, error) {
	return []string{"biz"}, nil
}

func amt(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestService_PartialThenFullPayment(t *testing.T) {
	store := newMockStore()
	store.addTxn("t1", domain.KindSale, "100")
	store.addRecord("r1", domain.MoneyIn, "40")
	store.addRecord("r2", domain.MoneyIn, "60")
	svc := NewService(store, zerolog.Nop())
	ctx := context.Background()

	res, err := svc.Link(ctx, domain.LinkRequest{BusinessID: "biz", TransactionID: "t1", BankRecordID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyPaid, res.Transaction.PaymentStatus)

	res, err = svc.Link(ctx, domain.LinkRequest{BusinessID: "biz", TransactionID: "t1", BankRecordID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, res.Transaction.PaymentStatus)

	txn, err := svc.Unlink(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyPaid, txn.PaymentStatus)
	assert.True(t, txn.AmountPaid.Equal(decimal.RequireFromString("40")))

	detail, err := svc.Transaction(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, detail.Payments, 1)
	assert.True(t, detail.Outstanding.Equal(decimal.RequireFromString("60")))
}

func TestService_LinkValidation(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, zerolog.Nop())

	tests := []struct {
		name       string
		req        domain.LinkRequest
		constraint string
	}{
		{"missing business", domain.LinkRequest{TransactionID: "t1", BankRecordID: "r1"}, "business_id"},
		{"missing transaction", domain.LinkRequest{BusinessID: "biz", BankRecordID: "r1"}, "transaction_id"},
		{"missing bank record", domain.LinkRequest{BusinessID: "biz", TransactionID: "t1", BankRecordID: "  "}, "bank_record_id"},
		{"zero amount", domain.LinkRequest{BusinessID: "biz", TransactionID: "t1", BankRecordID: "r1", Amount: amt("0")}, "amount"},
		{"negative amount", domain.LinkRequest{BusinessID: "biz", TransactionID: "t1", BankRecordID: "r1", Amount: amt("-5")}, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Link(context.Background(), tt.req)
			de, ok := domain.AsError(err)
			require.True(t, ok)
			assert.Equal(t, domain.KindValidation, de.Kind)
			assert.Equal(t, tt.constraint, de.Constraint)
		})
	}
	assert.Empty(t, store.linkCalls)
}

func TestService_UpdateAmountRejectsZero(t *testing.T) {
	svc := NewService(newMockStore(), zerolog.Nop())
	_, err := svc.UpdateAmount(context.Background(), "p1", decimal.Zero)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestAutoReconciler_Run(t *testing.T) {
	store := newMockStore()
	store.addTxn("t1", domain.KindSale, "250")
	// Two expenses of 80 make r2 ambiguous.
	store.addTxn("t2", domain.KindExpense, "80")
	store.addTxn("t3", domain.KindExpense, "80")
	store.addTxn("t4", domain.KindSale, "999")
	store.addRecord("r1", domain.MoneyIn, "250")
	store.addRecord("r2", domain.MoneyOut, "80")
	// Direction mismatches: money-in never settles an expense, money-out never a sale.
	store.addRecord("r3", domain.MoneyIn, "80")
	store.addRecord("r4", domain.MoneyOut, "250")

	svc := NewService(store, zerolog.Nop())
	auto := NewAutoReconciler(svc, store, store, zerolog.Nop())

	report, err := auto.Run(context.Background(), "biz")
	require.NoError(t, err)

	assert.Equal(t, 4, report.Examined)
	require.Len(t, report.Matched, 1)
	assert.Equal(t, "r1", report.Matched[0].BankRecordID)
	assert.Equal(t, "t1", report.Matched[0].TransactionID)
	assert.Equal(t, 1, report.Ambiguous)
	assert.Equal(t, 2, report.Unmatched)
	assert.Empty(t, report.Errors)
	assert.Equal(t, domain.StatusPaid, store.txns["t1"].PaymentStatus)
	assert.True(t, store.records["r1"].Processed)
	assert.False(t, store.records["r2"].Processed)
}

func TestAutoReconciler_SecondRecordSeesUpdatedOutstanding(t *testing.T) {
	store := newMockStore()
	store.addTxn("t1", domain.KindSale, "50")
	store.addRecord("r1", domain.MoneyIn, "50")
	store.addRecord("r2", domain.MoneyIn, "50")

	auto := NewAutoReconciler(NewService(store, zerolog.Nop()), store, store, zerolog.Nop())
	report, err := auto.Run(context.Background(), "biz")
	require.NoError(t, err)

	assert.Len(t, report.Matched, 1)
	assert.Equal(t, 1, report.Unmatched)
}

func TestAutoReconciler_LinkErrorsAreReported(t *testing.T) {
	store := newMockStore()
	store.addTxn("t1", domain.KindSale, "10")
	store.addRecord("r1", domain.MoneyIn, "10")
	store.LinkPaymentFunc = func(ctx context.Context, req domain.LinkRequest) (*domain.PaymentResult, error) {
		return nil, errors.New("could not serialize access")
	}

	auto := NewAutoReconciler(NewService(store, zerolog.Nop()), store, store, zerolog.Nop())
	reports, err := auto.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Len(t, reports[0].Errors, 1)
	assert.Equal(t, "r1", reports[0].Errors[0].BankRecordID)
	assert.Empty(t, reports[0].Matched)
}

func TestCandidatesFor_ZeroAmountNeverMatches(t *testing.T) {
	open := []domain.Transaction{{ID: "t", BusinessID: "biz", Kind: domain.KindSale, Total: decimal.Zero}}
	br := domain.BankRecord{ID: "r", BusinessID: "biz", Type: domain.MoneyIn, Amount: decimal.Zero}
	assert.Empty(t, candidatesFor(br, open))
}
