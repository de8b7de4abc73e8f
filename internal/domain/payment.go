package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// PaymentRecord links a bank record to a transaction for some amount.
type PaymentRecord struct {
	ID            string          `json:"id"`
	BusinessID    string          `json:"business_id"`
	TransactionID string          `json:"transaction_id"`
	BankRecordID  string          `json:"bank_record_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   civil.Date      `json:"payment_date"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LinkRequest asks for a bank record to settle a transaction. A nil Amount
// or PaymentDate is taken from the bank record.
type LinkRequest struct {
	BusinessID    string           `json:"businessId"`
	TransactionID string           `json:"transactionId"`
	BankRecordID  string           `json:"bankRecordId"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	PaymentDate   *civil.Date      `json:"paymentDate,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

// PaymentResult is a payment together with the transaction state it produced.
type PaymentResult struct {
	Payment     PaymentRecord `json:"payment"`
	Transaction Transaction   `json:"transaction"`
}

// NewTransaction describes a sale or expense to create. Payment state always
// starts unpaid.
type NewTransaction struct {
	BusinessID  string          `json:"businessId"`
	Kind        TransactionKind `json:"kind"`
	Description string          `json:"description"`
	Total       decimal.Decimal `json:"total"`
}
