// Package providers defines the LLM backend interface and an
// OpenAI-compatible HTTP implementation.
package providers

import "context"

// Message is a single chat turn sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest holds the parameters for one completion call.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	Model     string    `json:"model,omitempty"`
	MaxTokens int       `json:"max_tokens"`
}

// ChatResponse is the standardized backend reply.
type ChatResponse struct {
	Content string         `json:"content"`
	Model   string         `json:"model"`
	Usage   map[string]int `json:"usage,omitempty"`
}

// LLMProvider is the interface every chat backend implements. A failed call
// returns an error; callers decide whether to fall back.
type LLMProvider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	DefaultModel() string
}
