package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDerivePaymentStatus(t *testing.T) {
	tests := []struct {
		name  string
		paid  string
		total string
		want  PaymentStatus
	}{
		{"nothing paid", "0", "100", StatusUnpaid},
		{"partial", "40", "100", StatusPartiallyPaid},
		{"exact", "100", "100", StatusPaid},
		{"overpaid", "120", "100", StatusPaid},
		{"cents short", "99.99", "100.00", StatusPartiallyPaid},
		{"zero total", "0", "0", StatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivePaymentStatus(d(tt.paid), d(tt.total)))
		})
	}
}

func TestRecomputePayment_PartialThenFull(t *testing.T) {
	total := d("100")

	paid, status := RecomputePayment(total, []decimal.Decimal{d("40")})
	assert.True(t, paid.Equal(d("40")))
	assert.Equal(t, StatusPartiallyPaid, status)

	paid, status = RecomputePayment(total, []decimal.Decimal{d("40"), d("60")})
	assert.True(t, paid.Equal(d("100")))
	assert.Equal(t, StatusPaid, status)
}

func TestRecomputePayment_NoPaymentsIsUnpaid(t *testing.T) {
	paid, status := RecomputePayment(d("250.50"), nil)
	assert.True(t, paid.IsZero())
	assert.Equal(t, StatusUnpaid, status)
}

func TestRecomputePayment_OrderIndependentAndIdempotent(t *testing.T) {
	total := d("300")
	a := []decimal.Decimal{d("10.10"), d("200"), d("89.90")}
	b := []decimal.Decimal{d("89.90"), d("10.10"), d("200")}

	paidA, statusA := RecomputePayment(total, a)
	paidB, statusB := RecomputePayment(total, b)
	assert.True(t, paidA.Equal(paidB))
	assert.Equal(t, statusA, statusB)

	again, statusAgain := RecomputePayment(total, a)
	assert.True(t, again.Equal(paidA))
	assert.Equal(t, statusA, statusAgain)
}

func TestTransaction_Outstanding(t *testing.T) {
	tx := &Transaction{Total: d("100"), AmountPaid: d("40")}
	assert.True(t, tx.Outstanding().Equal(d("60")))

	tx.AmountPaid = d("150")
	assert.True(t, tx.Outstanding().IsZero())
}

func TestTransaction_MatchesDirection(t *testing.T) {
	sale := &Transaction{Kind: KindSale}
	expense := &Transaction{Kind: KindExpense}

	assert.True(t, sale.MatchesDirection(MoneyIn))
	assert.False(t, sale.MatchesDirection(MoneyOut))
	assert.True(t, expense.MatchesDirection(MoneyOut))
	assert.False(t, expense.MatchesDirection(MoneyIn))
}

func TestParseDirection(t *testing.T) {
	for _, ok := range []string{"money-in", "money-out"} {
		got, err := ParseDirection(ok)
		require.NoError(t, err)
		assert.Equal(t, Direction(ok), got)
	}
	for _, bad := range []string{"credit", "Money-In", "", "money_in"} {
		_, err := ParseDirection(bad)
		assert.Error(t, err, bad)
	}
}

func TestKindOf_SurvivesWrapping(t *testing.T) {
	base := NewValidationError("intake.Validate", "size", "File is too large", "Upload a file under 5 MB")
	wrapped := fmt.Errorf("pipeline step 1 failed: %w", base)

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))

	de, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "size", de.Constraint)
	assert.Equal(t, "File is too large. Upload a file under 5 MB", de.UserMessage())
}
