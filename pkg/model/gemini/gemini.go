package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/gridmind/gridmind/pkg/domain"
	"github.com/gridmind/gridmind/pkg/model"
)

// defaultTimeout bounds a single reasoning round-trip. No cancellation is
// exposed mid-loop; a caller that wants to abort lets this lapse.
const defaultTimeout = 60 * time.Second

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a Gemini provider for the given model.
func New(ctx context.Context, apiKey, modelName string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client, modelName: modelName, timeout: defaultTimeout}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Chat sends the exchange and returns the raw text continuation.
func (p *Provider) Chat(ctx context.Context, messages []model.Message, temperature float32) (string, error) {
	slog.Debug("Gemini.Chat", "model", p.modelName, "messageCount", len(messages))

	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		if msg.Role == domain.RoleSystem {
			systemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
			}
			continue
		}

		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	temp := temperature
	config := &genai.GenerateContentConfig{
		Temperature:       &temp,
		SystemInstruction: systemInstruction,
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Models.GenerateContent(callCtx, p.modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	return resp.Text(), nil
}
