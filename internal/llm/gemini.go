package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"cryptopulse/internal/cost"
)

// geminiProvider is the secondary provider, reached when the Claude chain is
// down or rate limited.
type geminiProvider struct {
	client *genai.Client
}

func newGeminiProvider(apiKey string) (*geminiProvider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiProvider{client: client}, nil
}

func (p *geminiProvider) name() string { return "gemini" }

func (p *geminiProvider) complete(ctx context.Context, model string, req Request) (*Response, error) {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + prompt
	}
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	temp := float32(req.Temperature)
	cfg.Temperature = &temp

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		var apierr genai.APIError
		if errors.As(err, &apierr) {
			return nil, &providerError{provider: "gemini", status: apierr.Code, err: err}
		}
		return nil, fmt.Errorf("gemini call failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, &providerError{provider: "gemini", status: 500, err: errors.New("empty completion")}
	}

	out := &Response{Text: text, Model: model}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	} else {
		out.InputTokens = int64(cost.EstimateTokenCount(prompt))
		out.OutputTokens = int64(cost.EstimateTokenCount(text))
	}
	return out, nil
}
