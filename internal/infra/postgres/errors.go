package postgres

import (
	"errors"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

// friendlyMessage turns a Postgres error into text a user can act on.
func friendlyMessage(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "Database error while processing the request"
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "payments_bank_record_id_key":
			return "This bank record is already linked to a payment"
		default:
			return "A record with the same unique value already exists"
		}
	case "23503":
		return "Some referenced data was not found (please refresh and try again)"
	case "23514":
		return "Some fields have invalid values"
	case "22P02":
		return "An identifier or value has an invalid format"
	default:
		return "Database error while processing the request"
	}
}

// persistenceError wraps a storage failure for op. Input problems reported by
// Postgres (bad uuid text, check violations) become validation errors.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsError(err); ok {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02", "23514":
			return &domain.Error{
				Kind:       domain.KindValidation,
				Op:         op,
				Constraint: pgErr.ConstraintName,
				Message:    friendlyMessage(err),
				Remedy:     "Check the request and try again",
				Err:        err,
			}
		case "23505":
			if pgErr.ConstraintName == "payments_bank_record_id_key" {
				return &domain.Error{
					Kind:       domain.KindValidation,
					Op:         op,
					Constraint: "bank_record_id",
					Message:    "bank record already reconciled",
					Remedy:     "Unlink the existing payment first",
					Err:        err,
				}
			}
		}
	}
	return domain.NewPersistenceError(op, friendlyMessage(err), err)
}
