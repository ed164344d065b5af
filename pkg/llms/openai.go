package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/httpclient"
)

// HostedProvider speaks to an OpenAI-compatible remote API.
type HostedProvider struct {
	apiKey     string
	baseURL    string
	httpClient *httpclient.Client
}

type openaiChatRequest struct {
	Model          string                `json:"model"`
	Messages       []Message             `json:"messages"`
	Temperature    float64               `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openaiResponseFormat `json:"response_format,omitempty"`
}

type openaiResponseFormat struct {
	Type string `json:"type"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *openaiError `json:"error,omitempty"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type openaiEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *openaiError `json:"error,omitempty"`
}

func NewHostedProvider(cfg config.HostedProviderConfig) (*HostedProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("hosted provider requires an API key")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &HostedProvider{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpclient.New(),
	}, nil
}

func (p *HostedProvider) Name() string { return "hosted" }

func (p *HostedProvider) Chat(ctx context.Context, model string, messages []Message, opts *ChatOptions) (*ChatResponse, error) {
	req := openaiChatRequest{
		Model:    model,
		Messages: messages,
	}
	if opts != nil {
		req.Temperature = opts.Temperature
		req.MaxTokens = opts.MaxTokens
		if opts.JSONMode {
			req.ResponseFormat = &openaiResponseFormat{Type: "json_object"}
		}
	}

	raw, err := p.post(ctx, "/chat/completions", req)
	if err != nil {
		return nil, err
	}

	var resp openaiChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("hosted provider error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("hosted provider returned no choices")
	}
	return &ChatResponse{Content: resp.Choices[0].Message.Content, Raw: raw}, nil
}

func (p *HostedProvider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	raw, err := p.post(ctx, "/embeddings", openaiEmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, err
	}

	var resp openaiEmbedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("hosted provider error: %s", resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("hosted provider returned no embedding")
	}
	return resp.Data[0].Embedding, nil
}

func (p *HostedProvider) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hosted provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hosted provider returned HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}
