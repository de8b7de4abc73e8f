package reconcile

import (
	"context"
	"fmt"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/rs/zerolog"
)

// BankRecordSource lists bank records waiting for reconciliation.
type BankRecordSource interface {
	ListUnprocessed(ctx context.Context, businessID string) ([]domain.BankRecord, error)
	BusinessesWithUnprocessed(ctx context.Context) ([]string, error)
}

// Match is one bank record the auto reconciler linked.
type Match struct {
	BankRecordID  string `json:"bank_record_id"`
	TransactionID string `json:"transaction_id"`
	PaymentID     string `json:"payment_id"`
	Amount        string `json:"amount"`
}

// MatchError is a bank record that had a single candidate but could not be linked.
type MatchError struct {
	BankRecordID string `json:"bank_record_id"`
	Message      string `json:"message"`
}

// MatchReport summarizes one auto reconciliation pass over a business.
type MatchReport struct {
	BusinessID string       `json:"business_id"`
	Examined   int          `json:"examined"`
	Matched    []Match      `json:"matched"`
	Unmatched  int          `json:"unmatched"`
	Ambiguous  int          `json:"ambiguous"`
	Errors     []MatchError `json:"errors,omitempty"`
}

// AutoReconciler links bank records that have exactly one plausible open
// transaction: same business, direction matching the kind, and outstanding
// amount equal to the bank amount. Anything less certain is left alone.
type AutoReconciler struct {
	service *Service
	store   PaymentStore
	records BankRecordSource
	log     zerolog.Logger
}

func NewAutoReconciler(service *Service, store PaymentStore, records BankRecordSource, log zerolog.Logger) *AutoReconciler {
	return &AutoReconciler{service: service, store: store, records: records, log: log}
}

// Run makes one pass over the business's unprocessed bank records.
func (a *AutoReconciler) Run(ctx context.Context, businessID string) (MatchReport, error) {
	report := MatchReport{BusinessID: businessID, Matched: []Match{}}

	records, err := a.records.ListUnprocessed(ctx, businessID)
	if err != nil {
		return report, fmt.Errorf("AutoReconciler.Run: listing bank records: %w", err)
	}
	open, err := a.store.ListOpenTransactions(ctx, businessID)
	if err != nil {
		return report, fmt.Errorf("AutoReconciler.Run: listing transactions: %w", err)
	}

	for _, br := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Examined++

		candidates := candidatesFor(br, open)
		if len(candidates) == 0 {
			report.Unmatched++
			continue
		}
		if len(candidates) > 1 {
			report.Ambiguous++
			a.log.Debug().
				Str("bank_record_id", br.ID).
				Int("candidates", len(candidates)).
				Msg("bank record left for manual reconciliation")
			continue
		}

		idx := candidates[0]
		res, err := a.service.Link(ctx, domain.LinkRequest{
			BusinessID:    businessID,
			TransactionID: open[idx].ID,
			BankRecordID:  br.ID,
			Notes:         "auto-reconciled",
		})
		if err != nil {
			report.Errors = append(report.Errors, MatchError{BankRecordID: br.ID, Message: err.Error()})
			a.log.Warn().Err(err).Str("bank_record_id", br.ID).Msg("auto link failed")
			continue
		}

		open[idx] = res.Transaction
		report.Matched = append(report.Matched, Match{
			BankRecordID:  br.ID,
			TransactionID: res.Transaction.ID,
			PaymentID:     res.Payment.ID,
			Amount:        res.Payment.Amount.String(),
		})
	}

	a.log.Info().
		Str("business_id", businessID).
		Int("examined", report.Examined).
		Int("matched", len(report.Matched)).
		Int("unmatched", report.Unmatched).
		Int("ambiguous", report.Ambiguous).
		Int("errors", len(report.Errors)).
		Msg("auto reconciliation finished")
	return report, nil
}

// RunAll reconciles every business that has unprocessed bank records.
func (a *AutoReconciler) RunAll(ctx context.Context) ([]MatchReport, error) {
	ids, err := a.records.BusinessesWithUnprocessed(ctx)
	if err != nil {
		return nil, fmt.Errorf("AutoReconciler.RunAll: %w", err)
	}
	reports := make([]MatchReport, 0, len(ids))
	for _, id := range ids {
		report, err := a.Run(ctx, id)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// candidatesFor returns indexes into open of transactions br could settle.
func candidatesFor(br domain.BankRecord, open []domain.Transaction) []int {
	if !br.Amount.IsPositive() {
		return nil
	}
	var out []int
	for i := range open {
		t := &open[i]
		if t.BusinessID != br.BusinessID || t.PaymentStatus == domain.StatusPaid {
			continue
		}
		if !t.MatchesDirection(br.Type) {
			continue
		}
		if t.Outstanding().Equal(br.Amount) {
			out = append(out, i)
		}
	}
	return out
}
