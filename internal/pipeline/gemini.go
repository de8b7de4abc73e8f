package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/bizledger/internal/retry"
	"google.golang.org/genai"
)

// GeminiCompleter implements Completer on top of the Gemini API.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

// NewGeminiCompleter creates a client. An empty apiKey falls back to the
// GEMINI_API_KEY / GOOGLE_API_KEY environment variables read by genai.
func NewGeminiCompleter(ctx context.Context, apiKey, model string) (*GeminiCompleter, error) {
	if model == "" {
		model = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiCompleter: create genai client: %w", err)
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

// Complete sends one text prompt and returns the text reply.
func (g *GeminiCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.User), config)
	if err != nil {
		return nil, fmt.Errorf("GeminiCompleter.Complete: generate content: %w", classifyGenAIError(err))
	}

	out := &Completion{Text: resp.Text(), Model: g.model}
	if resp.UsageMetadata != nil {
		out.TokensInput = int64(resp.UsageMetadata.PromptTokenCount)
		out.TokensOutput = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// classifyGenAIError exposes the HTTP status of API errors to the retry policy.
func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &retry.StatusError{Code: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	return err
}
