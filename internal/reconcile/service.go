// Package reconcile links bank records to sales and expenses. Payment state
// of a transaction is derived by the database from its payments; this package
// only ever creates, changes or removes payments.
package reconcile

import (
	"context"
	"strings"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PaymentStore is the storage the service needs. It is implemented by
// postgres.PaymentRepository.
type PaymentStore interface {
	LinkPayment(ctx context.Context, req domain.LinkRequest) (*domain.PaymentResult, error)
	UpdatePaymentAmount(ctx context.Context, paymentID string, amount decimal.Decimal) (*domain.PaymentResult, error)
	UnlinkPayment(ctx context.Context, paymentID string) (*domain.Transaction, error)
	Recompute(ctx context.Context, transactionID string) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListPayments(ctx context.Context, transactionID string) ([]domain.PaymentRecord, error)
	ListOpenTransactions(ctx context.Context, businessID string) ([]domain.Transaction, error)
}

// TransactionDetail is a transaction with the payments that settle it.
type TransactionDetail struct {
	domain.Transaction
	Outstanding decimal.Decimal        `json:"outstanding"`
	Payments    []domain.PaymentRecord `json:"payments"`
}

type Service struct {
	store PaymentStore
	log   zerolog.Logger
}

func NewService(store PaymentStore, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Link records a payment from a bank record against a transaction.
func (s *Service) Link(ctx context.Context, req domain.LinkRequest) (*domain.PaymentResult, error) {
	const op = "Link"

	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	req.BankRecordID = strings.TrimSpace(req.BankRecordID)

	switch {
	case req.BusinessID == "":
		return nil, domain.NewValidationError(op, "business_id", "businessId is required", "Provide the business the records belong to")
	case req.TransactionID == "":
		return nil, domain.NewValidationError(op, "transaction_id", "transactionId is required", "Provide the sale or expense to settle")
	case req.BankRecordID == "":
		return nil, domain.NewValidationError(op, "bank_record_id", "bankRecordId is required", "Provide the bank record that paid it")
	}
	if req.Amount != nil && !req.Amount.IsPositive() {
		return nil, domain.NewValidationError(op, "amount", "payment amount must be greater than zero", "Provide a positive amount")
	}

	res, err := s.store.LinkPayment(ctx, req)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("business_id", req.BusinessID).
		Str("transaction_id", req.TransactionID).
		Str("bank_record_id", req.BankRecordID).
		Str("payment_id", res.Payment.ID).
		Str("amount", res.Payment.Amount.String()).
		Str("payment_status", string(res.Transaction.PaymentStatus)).
		Msg("payment linked")
	return res, nil
}

// UpdateAmount changes the amount of a payment.
func (s *Service) UpdateAmount(ctx context.Context, paymentID string, amount decimal.Decimal) (*domain.PaymentResult, error) {
	if !amount.IsPositive() {
		return nil, domain.NewValidationError("UpdateAmount", "amount",
			"payment amount must be greater than zero", "Unlink the payment instead of zeroing it")
	}
	res, err := s.store.UpdatePaymentAmount(ctx, paymentID, amount)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("payment_id", paymentID).
		Str("amount", amount.String()).
		Str("payment_status", string(res.Transaction.PaymentStatus)).
		Msg("payment amount updated")
	return res, nil
}

// Unlink removes a payment and frees its bank record.
func (s *Service) Unlink(ctx context.Context, paymentID string) (*domain.Transaction, error) {
	txn, err := s.store.UnlinkPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("payment_id", paymentID).
		Str("transaction_id", txn.ID).
		Str("payment_status", string(txn.PaymentStatus)).
		Msg("payment unlinked")
	return txn, nil
}

// Recompute rebuilds the payment state of a transaction from its payments.
func (s *Service) Recompute(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return s.store.Recompute(ctx, transactionID)
}

// Transaction returns a transaction with its payments.
func (s *Service) Transaction(ctx context.Context, id string) (*TransactionDetail, error) {
	txn, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPayments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TransactionDetail{Transaction: *txn, Outstanding: txn.Outstanding(), Payments: payments}, nil
}
