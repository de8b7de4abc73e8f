package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/bizledger/internal/domain"
)

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// validateRecord applies the record rules to one model item:
// the date is a real YYYY-MM-DD calendar date, the type is exactly money-in
// or money-out, the description is non-empty and the amount is numeric.
// Negative amounts are stored as their absolute value.
func validateRecord(obj map[string]interface{}) (domain.ExtractedRecord, error) {
	var rec domain.ExtractedRecord

	dateStr, err := getStringField(obj, "date", true)
	if err != nil {
		return rec, err
	}
	dateStr = strings.TrimSpace(dateStr)
	if !isoDate.MatchString(dateStr) {
		return rec, fmt.Errorf("date %q is not YYYY-MM-DD", dateStr)
	}
	date, err := civil.ParseDate(dateStr)
	if err != nil {
		return rec, fmt.Errorf("date %q: %w", dateStr, err)
	}

	typ, err := getStringField(obj, "type", true)
	if err != nil {
		return rec, err
	}
	dir, err := domain.ParseDirection(typ)
	if err != nil {
		return rec, err
	}

	desc, err := getStringField(obj, "description", true)
	if err != nil {
		return rec, err
	}

	amount, err := getDecimalField(obj, "amount")
	if err != nil {
		return rec, err
	}

	beneficiary, err := getOptionalStringField(obj, "beneficiary_name")
	if err != nil {
		return rec, err
	}
	if beneficiary == nil {
		// Some replies use the shorter key.
		if beneficiary, err = getOptionalStringField(obj, "beneficiary"); err != nil {
			return rec, err
		}
	}

	rec = domain.ExtractedRecord{
		Date:            date,
		Direction:       dir,
		Description:     strings.TrimSpace(desc),
		Amount:          amount.Abs(),
		BeneficiaryName: beneficiary,
	}
	return rec, nil
}
