package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/dvloznov/bizledger/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCompleter is a Completer with a swappable implementation.
type mockCompleter struct {
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*Completion, error)
	calls        int
}

func (m *mockCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	m.calls++
	return m.CompleteFunc(ctx, req)
}

func replying(text string) *mockCompleter {
	return &mockCompleter{CompleteFunc: func(context.Context, CompletionRequest) (*Completion, error) {
		return &Completion{Text: text, Model: "test-model"}, nil
	}}
}

func noWaitPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `{"records": []}`, `{"records": []}`},
		{"json fence", "```json\n{\"records\": []}\n```", `{"records": []}`},
		{"bare fence", "```\n{\"records\": []}\n```", `{"records": []}`},
		{"prose around", "Here you go:\n{\"records\": []}\nThanks", `{"records": []}`},
		{"whitespace", "  \n{\"records\": []}\n\n", `{"records": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanModelJSON(tt.raw))
		})
	}
}

func TestParseRecords_SalaryLine(t *testing.T) {
	completer := replying("```json\n" + `{"records": [{"date": "2025-01-15", "type": "money-in", ` +
		`"description": "Salary Payment", "amount": 5000.00, "beneficiary_name": "Employer Name"}]}` + "\n```")

	var seen CompletionRequest
	inner := completer.CompleteFunc
	completer.CompleteFunc = func(ctx context.Context, req CompletionRequest) (*Completion, error) {
		seen = req
		return inner(ctx, req)
	}

	p := NewModelParser(completer, noWaitPolicy())
	res, err := p.ParseRecords(context.Background(), "2025-01-15, Salary Payment, 5000.00, Employer Name, credit")
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, "2025-01-15", rec.Date.String())
	assert.Equal(t, domain.MoneyIn, rec.Direction)
	assert.Equal(t, "Salary Payment", rec.Description)
	assert.Equal(t, "5000", rec.Amount.String())
	require.NotNil(t, rec.BeneficiaryName)
	assert.Equal(t, "Employer Name", *rec.BeneficiaryName)
	assert.Equal(t, 0, res.Dropped)
	assert.Equal(t, "test-model", res.Model)

	assert.True(t, strings.Contains(seen.User, "Salary Payment"))
	assert.Contains(t, seen.System, `"records"`)
}

func TestParseRecords_WrongDateFormatYieldsNoRecords(t *testing.T) {
	completer := replying(`{"records": [{"date": "15-01-2025", "type": "money-in", "description": "Salary", "amount": 5000}]}`)

	_, err := NewModelParser(completer, noWaitPolicy()).ParseRecords(context.Background(), "text")
	require.Error(t, err)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindUpstreamService, de.Kind)
	assert.Equal(t, NoValidRecordsMessage, de.Message)
}

func TestParseRecords_MalformedReplies(t *testing.T) {
	replies := map[string]string{
		"not json":          "I could not find any transactions.",
		"missing records":   `{"transactions": []}`,
		"records not array": `{"records": {"date": "2025-01-15"}}`,
		"top-level array":   `[{"date": "2025-01-15"}]`,
		"empty":             "   ",
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			_, err := NewModelParser(replying(reply), noWaitPolicy()).ParseRecords(context.Background(), "text")
			require.Error(t, err)
			assert.Equal(t, domain.KindUpstreamService, domain.KindOf(err))
		})
	}
}

func TestParseRecords_RetriesTransientFailures(t *testing.T) {
	completer := &mockCompleter{}
	completer.CompleteFunc = func(context.Context, CompletionRequest) (*Completion, error) {
		if completer.calls < 3 {
			return nil, &retry.StatusError{Code: 503}
		}
		return &Completion{Text: `{"records": [{"date": "2025-01-15", "type": "money-out", "description": "Fee", "amount": 2}]}`}, nil
	}

	res, err := NewModelParser(completer, noWaitPolicy()).ParseRecords(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 3, completer.calls)
}

func TestParseRecords_ClientErrorIsNotRetried(t *testing.T) {
	completer := &mockCompleter{CompleteFunc: func(context.Context, CompletionRequest) (*Completion, error) {
		return nil, &retry.StatusError{Code: 401, Message: "API key invalid"}
	}}

	_, err := NewModelParser(completer, noWaitPolicy()).ParseRecords(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, 1, completer.calls)
	assert.Equal(t, domain.KindUpstreamService, domain.KindOf(err))

	var se *retry.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 401, se.Code)
}

func TestParseRecords_ExhaustedRetries(t *testing.T) {
	completer := &mockCompleter{CompleteFunc: func(context.Context, CompletionRequest) (*Completion, error) {
		return nil, &retry.StatusError{Code: 429}
	}}

	_, err := NewModelParser(completer, noWaitPolicy()).ParseRecords(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, 3, completer.calls)

	var exhausted *retry.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestParseRecords_KeepsValidDropsInvalid(t *testing.T) {
	completer := replying(`{"records": [
		{"date": "2025-01-15", "type": "money-in", "description": "Invoice 12", "amount": 150},
		{"date": "2025-01-16", "type": "refund", "description": "odd", "amount": 10},
		{"date": "2025-01-17", "type": "money-out", "description": "Supplier", "amount": -99.95}
	]}`)

	res, err := NewModelParser(completer, noWaitPolicy()).ParseRecords(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, "99.95", res.Records[1].Amount.String())
	for _, r := range res.Records {
		assert.False(t, r.Amount.IsNegative())
		assert.NotEmpty(t, r.Description)
	}
}

func TestParseRecords_AttemptTimeout(t *testing.T) {
	var deadline time.Time
	completer := &mockCompleter{CompleteFunc: func(ctx context.Context, req CompletionRequest) (*Completion, error) {
		deadline, _ = ctx.Deadline()
		return &Completion{Text: `{"records": [{"date": "2025-01-15", "type": "money-in", "description": "SALARY", "amount": "10"}]}`}, nil
	}}

	start := time.Now()
	_, err := NewModelParser(completer, noWaitPolicy()).
		WithAttemptTimeout(time.Minute).
		ParseRecords(context.Background(), "statement text")
	require.NoError(t, err)
	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, start.Add(time.Minute), deadline, 5*time.Second)
}
