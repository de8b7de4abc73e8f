package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/shopspring/decimal"
)

// transformModelRecords validates every item of the model's records array and
// returns the ones that pass, plus how many were dropped.
func transformModelRecords(items []interface{}) ([]domain.ExtractedRecord, int) {
	result := make([]domain.ExtractedRecord, 0, len(items))
	dropped := 0

	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			dropped++
			continue
		}
		rec, err := validateRecord(obj)
		if err != nil {
			dropped++
			continue
		}
		result = append(result, rec)
	}

	return result, dropped
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getOptionalStringField(m map[string]interface{}, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
}

// thousandsGrouped matches amounts such as 1,234 or -12,345,678.90.
var thousandsGrouped = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// getDecimalField accepts a JSON number or a numeric string. Commas are only
// accepted as thousands separators; "1.234,56" and "12,5" are rejected.
func getDecimalField(m map[string]interface{}, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.Zero, fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case json.Number:
		return decimal.NewFromString(val.String())
	case float64:
		return decimal.NewFromFloat(val), nil
	case string:
		s := strings.TrimSpace(val)
		if strings.Contains(s, ",") {
			if !thousandsGrouped.MatchString(s) {
				return decimal.Zero, fmt.Errorf("field %q has ambiguous separators: %q", key, val)
			}
			s = strings.ReplaceAll(s, ",", "")
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q is not a number: %q", key, val)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}
