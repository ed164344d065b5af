// Package llms provides a uniform chat/embedding interface over local and
// hosted language-model backends.
package llms

import (
	"context"
	"encoding/json"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions normalises the knobs the runtime actually uses across
// backends. JSONMode requests a json_object response format.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// ChatResponse carries the assistant text plus the undecoded backend
// payload for diagnostics.
type ChatResponse struct {
	Content string
	Raw     json.RawMessage
}

// Provider is the capability set the runtime relies on. Local (Ollama) and
// Hosted (OpenAI-compatible) implementations are provided.
type Provider interface {
	Name() string
	Chat(ctx context.Context, model string, messages []Message, opts *ChatOptions) (*ChatResponse, error)
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

func SystemMessage(content string) Message { return Message{Role: "system", Content: content} }
func UserMessage(content string) Message   { return Message{Role: "user", Content: content} }
