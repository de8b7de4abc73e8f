package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TransactionKind distinguishes receivables from payables.
type TransactionKind string

const (
	// KindSale is money owed to the business.
	KindSale TransactionKind = "sale"
	// KindExpense is money owed by the business.
	KindExpense TransactionKind = "expense"
)

// PaymentStatus is derived from amount_paid against total.
type PaymentStatus string

const (
	StatusUnpaid        PaymentStatus = "unpaid"
	StatusPartiallyPaid PaymentStatus = "partially_paid"
	StatusPaid          PaymentStatus = "paid"
)

// Transaction is a sale or expense whose payment state is maintained by the
// reconciliation trigger. AmountPaid and PaymentStatus are never written
// directly by application code.
type Transaction struct {
	ID            string          `json:"id"`
	BusinessID    string          `json:"business_id"`
	Kind          TransactionKind `json:"kind"`
	Description   string          `json:"description,omitempty"`
	Total         decimal.Decimal `json:"total"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
}

// Outstanding returns total minus amount paid, floored at zero.
func (t *Transaction) Outstanding() decimal.Decimal {
	out := t.Total.Sub(t.AmountPaid)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// MatchesDirection reports whether a bank movement in direction d can settle t.
func (t *Transaction) MatchesDirection(d Direction) bool {
	switch t.Kind {
	case KindSale:
		return d == MoneyIn
	case KindExpense:
		return d == MoneyOut
	}
	return false
}

// DerivePaymentStatus maps amountPaid against total onto a PaymentStatus.
// A zero total with nothing paid counts as paid.
func DerivePaymentStatus(amountPaid, total decimal.Decimal) PaymentStatus {
	switch {
	case amountPaid.GreaterThanOrEqual(total):
		return StatusPaid
	case amountPaid.IsPositive():
		return StatusPartiallyPaid
	default:
		return StatusUnpaid
	}
}

// RecomputePayment rebuilds a transaction's payment state from the full set of
// linked payment amounts. It never looks at the previous state, so applying it
// any number of times yields the same result.
func RecomputePayment(total decimal.Decimal, payments []decimal.Decimal) (decimal.Decimal, PaymentStatus) {
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p)
	}
	return paid, DerivePaymentStatus(paid, total)
}

// ParseTransactionKind validates a kind string.
func ParseTransactionKind(s string) (TransactionKind, error) {
	switch TransactionKind(s) {
	case KindSale, KindExpense:
		return TransactionKind(s), nil
	}
	return "", fmt.Errorf("unknown transaction kind %q", s)
}
