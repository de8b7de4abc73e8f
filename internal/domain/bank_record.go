package domain

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Direction encodes the sign of a bank movement.
type Direction string

const (
	MoneyIn  Direction = "money-in"
	MoneyOut Direction = "money-out"
)

// ParseDirection accepts exactly "money-in" or "money-out".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case MoneyIn, MoneyOut:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// ExtractedRecord is one statement line that survived validation but has not
// been stored yet.
type ExtractedRecord struct {
	Date            civil.Date
	Direction       Direction
	Description     string
	Amount          decimal.Decimal // non-negative; sign lives in Direction
	BeneficiaryName *string
}

// BankRecord is a persisted statement line.
type BankRecord struct {
	ID              string          `json:"id"`
	BusinessID      string          `json:"business_id"`
	Date            civil.Date      `json:"date"`
	Type            Direction       `json:"type"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	BeneficiaryName *string         `json:"beneficiary_name"`
	Processed       bool            `json:"processed"`
	TransactionID   *string         `json:"transaction_id"`
	CreatedAt       time.Time       `json:"created_at"`
}
