// Package llm is the HTTP transport to external language-model services.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider sends one system/user prompt pair and returns the model's text reply.
type Provider interface {
	Analyze(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// FormatSetter is implemented by providers that can constrain output to a JSON schema.
type FormatSetter interface {
	SetFormat(schema any)
}

// Provider names accepted by NewProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// maxErrorBody bounds the response text kept in an APIError.
const maxErrorBody = 512

// ErrEmptyResponse is returned when a 2xx reply carries no usable content.
var ErrEmptyResponse = errors.New("empty model response")

// APIError is a non-2xx reply from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// NewProvider creates a Provider by name. timeoutSec overrides the HTTP timeout; 0 uses
// per-provider defaults.
func NewProvider(provider, apiKey, model, endpoint string, timeoutSec int) (Provider, error) {
	timeout := 120 * time.Second
	if provider == ProviderOllama {
		timeout = 300 * time.Second
	}
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch provider {
	case ProviderAnthropic:
		return &AnthropicProvider{
			apiKey:   apiKey,
			model:    model,
			endpoint: orDefault(endpoint, "https://api.anthropic.com/v1"),
			client:   client,
		}, nil
	case ProviderOpenAI:
		return &OpenAIProvider{
			apiKey:   apiKey,
			model:    model,
			endpoint: orDefault(endpoint, "https://api.openai.com/v1"),
			client:   client,
		}, nil
	case ProviderOllama:
		return &OllamaProvider{
			model:    model,
			endpoint: orDefault(endpoint, "http://localhost:11434"),
			client:   client,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %q", provider)
	}
}

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	schema   any // tool_use input schema; nil = plain text
}

// SetFormat switches the provider to tool_use structured output.
func (p *AnthropicProvider) SetFormat(schema any) {
	p.schema = schema
}

func (p *AnthropicProvider) Analyze(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body := map[string]any{
		"model":      p.model,
		"max_tokens": 4096,
		"system":     systemPrompt,
		"messages": []map[string]any{
			{"role": "user", "content": userPrompt},
		},
	}
	if p.schema != nil {
		body["tools"] = []map[string]any{{
			"name":         "record_insights",
			"description":  "Record the security analysis as structured JSON",
			"input_schema": p.schema,
		}}
		body["tool_choice"] = map[string]string{"type": "tool", "name": "record_insights"}
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	}
	respBody, err := postJSON(ctx, p.client, ProviderAnthropic, p.endpoint+"/messages", headers, body)
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	for _, block := range result.Content {
		if block.Type == "tool_use" && len(block.Input) > 0 {
			return string(block.Input), nil
		}
	}
	for _, block := range result.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic: %w", ErrEmptyResponse)
}

// OpenAIProvider talks to OpenAI and compatible chat-completions APIs.
type OpenAIProvider struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

func (p *OpenAIProvider) Analyze(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"response_format": map[string]string{"type": "json_object"},
		"max_tokens":      4096,
	}
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	respBody, err := postJSON(ctx, p.client, ProviderOpenAI, p.endpoint+"/chat/completions", headers, body)
	if err != nil {
		return "", err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: %w", ErrEmptyResponse)
	}
	return result.Choices[0].Message.Content, nil
}

// OllamaProvider talks to a local Ollama server.
type OllamaProvider struct {
	model    string
	endpoint string
	client   *http.Client
	format   any // JSON schema object or "json"
}

// SetFormat sets the schema used for constrained output.
func (p *OllamaProvider) SetFormat(schema any) {
	p.format = schema
}

func (p *OllamaProvider) Analyze(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	format := p.format
	if format == nil {
		format = "json"
	}
	body := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"stream": false,
		"format": format,
	}
	respBody, err := postJSON(ctx, p.client, ProviderOllama, p.endpoint+"/api/chat", nil, body)
	if err != nil {
		return "", err
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if result.Message.Content == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return result.Message.Content, nil
}

func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: truncateBody(respBody)}
	}
	return respBody, nil
}

// truncateBody keeps at most maxErrorBody bytes of an error response.
func truncateBody(body []byte) string {
	if len(body) <= maxErrorBody {
		return string(body)
	}
	return string(body[:maxErrorBody]) + "... (truncated)"
}

// ExtractJSON returns the text between the first '{' and the last '}' of a model reply,
// after stripping markdown code fences. ok is false when no object is present.
func ExtractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
