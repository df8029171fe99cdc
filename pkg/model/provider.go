package model

import (
	"context"

	"github.com/gridmind/gridmind/pkg/domain"
)

// Message is one role-tagged entry in the reasoning exchange.
type Message struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// Provider represents the external reasoning service. It is treated as a
// black box returning free text; callers must tolerate any continuation.
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini").
	Name() string

	// Chat sends the ordered exchange and returns the model's raw text
	// continuation. Transport failures surface as errors; there is no
	// retry at this layer.
	Chat(ctx context.Context, messages []Message, temperature float32) (string, error)
}
