package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/dvloznov/bizledger/internal/logger"
	"github.com/dvloznov/bizledger/internal/retry"
)

// ModelParser asks the extraction model for records and validates its reply.
type ModelParser struct {
	completer Completer
	policy    retry.Policy

	// attemptTimeout bounds each model call when positive.
	attemptTimeout time.Duration
}

// NewModelParser creates a parser that calls completer under policy.
func NewModelParser(completer Completer, policy retry.Policy) *ModelParser {
	return &ModelParser{completer: completer, policy: policy}
}

// WithAttemptTimeout limits every individual model call to d.
func (p *ModelParser) WithAttemptTimeout(d time.Duration) *ModelParser {
	p.attemptTimeout = d
	return p
}

// ParseRecords sends text to the model and returns the records that pass
// validation. A reply that is not a JSON object with a records array, or in
// which no record is valid, fails the whole call.
func (p *ModelParser) ParseRecords(ctx context.Context, text string) (*ParseResult, error) {
	const op = "ParseRecords"
	log := logger.FromContext(ctx)

	policy := p.policy
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, delay time.Duration, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("model call failed, retrying")
		}
	}

	req := CompletionRequest{System: systemPrompt, User: buildUserPrompt(text)}
	completion, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*Completion, error) {
		if p.attemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
			defer cancel()
		}
		return p.completer.Complete(ctx, req)
	})
	if err != nil {
		return nil, domain.NewUpstreamError(op,
			"The statement reader service is unavailable",
			"Please try again in a few minutes", err)
	}

	rawText := completion.Text
	if strings.TrimSpace(rawText) == "" {
		return nil, domain.NewUpstreamError(op,
			"The statement reader returned an empty response",
			"Please try again, or upload the statement as CSV", nil)
	}

	items, err := decodeRecordsEnvelope(cleanModelJSON(rawText))
	if err != nil {
		return nil, domain.NewUpstreamError(op,
			"The statement reader returned a malformed response",
			"Please try again, or upload the statement as CSV", err)
	}

	records, dropped := transformModelRecords(items)
	if dropped > 0 {
		log.Info().Int("dropped", dropped).Int("kept", len(records)).Msg("discarded invalid records")
	}
	if len(records) == 0 {
		return nil, domain.NewUpstreamError(op, NoValidRecordsMessage,
			"Check that the file is a bank statement with dated transactions", nil)
	}

	return &ParseResult{
		Records:      records,
		Dropped:      dropped,
		RawOutput:    rawText,
		Model:        completion.Model,
		TokensInput:  completion.TokensInput,
		TokensOutput: completion.TokensOutput,
	}, nil
}

// decodeRecordsEnvelope requires a top-level object whose "records" key is an
// array. Numbers are kept as json.Number so amounts keep their precision.
func decodeRecordsEnvelope(clean string) ([]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()

	var envelope map[string]interface{}
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decodeRecordsEnvelope: unmarshal JSON: %w", err)
	}

	recAny, ok := envelope["records"]
	if !ok {
		return nil, fmt.Errorf("decodeRecordsEnvelope: missing 'records' key in model output")
	}
	items, ok := recAny.([]interface{})
	if !ok {
		return nil, fmt.Errorf("decodeRecordsEnvelope: 'records' is %T, want array", recAny)
	}
	return items, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimLeft(strings.TrimPrefix(s, "```"), "json")
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost object if prose surrounds it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
