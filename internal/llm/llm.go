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
)

const (
	DefaultDeepSeekURL   = "https://api.deepseek.com"
	DefaultDeepSeekModel = "deepseek-chat"
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOllamaModel   = "deepseek-r1:8b"
)

// ErrMissingAPIKey is returned when a hosted provider is configured without a key.
var ErrMissingAPIKey = errors.New("API key is required")

// Request is a single system+user exchange.
type Request struct {
	System    string
	User      string
	MaxTokens int
	JSON      bool
}

// Provider is the interface for LLM providers.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// RemoteError is a failure reported by the provider: a non-2xx status or an
// error object in an otherwise successful response.
type RemoteError struct {
	Provider string
	Status   int
	Body     string
	Message  string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.Status, strings.TrimSpace(e.Body))
}

// DeepSeekProvider talks to an OpenAI-compatible chat completion endpoint.
type DeepSeekProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewDeepSeekProvider creates a new DeepSeek provider. An empty base URL
// selects the public API.
func NewDeepSeekProvider(model, apiKey, baseURL string) (*DeepSeekProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("DeepSeek %w", ErrMissingAPIKey)
	}
	if model == "" {
		model = DefaultDeepSeekModel
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultDeepSeekURL
	}
	return &DeepSeekProvider{
		Model:   model,
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}, nil
}

// Name implements Provider.
func (d *DeepSeekProvider) Name() string { return "DeepSeek" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Stream         bool              `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one chat completion request and returns the first choice.
func (d *DeepSeekProvider) Complete(ctx context.Context, r Request) (string, error) {
	body := chatRequest{
		Model: d.Model,
		Messages: []chatMessage{
			{Role: "system", Content: r.System},
			{Role: "user", Content: strings.TrimSpace(r.User)},
		},
		MaxTokens: r.MaxTokens,
	}
	if r.JSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("DeepSeek API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &RemoteError{Provider: d.Name(), Status: resp.StatusCode, Body: string(respBody)}
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if result.Error != nil && result.Error.Message != "" {
		return "", &RemoteError{Provider: d.Name(), Status: resp.StatusCode, Message: result.Error.Message}
	}
	if len(result.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	if model == "" {
		model = DefaultOllamaModel
	}
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Name implements Provider.
func (o *OllamaProvider) Name() string { return "Ollama" }

// Complete sends a prompt to Ollama's generate endpoint.
func (o *OllamaProvider) Complete(ctx context.Context, r Request) (string, error) {
	body := map[string]any{
		"model":  o.Model,
		"system": r.System,
		"prompt": strings.TrimSpace(r.User),
		"stream": false,
		"options": map[string]any{
			"num_predict": r.MaxTokens,
			"temperature": 0.3,
		},
	}
	if r.JSON {
		body["format"] = "json"
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &RemoteError{Provider: o.Name(), Status: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if result.Error != "" {
		return "", &RemoteError{Provider: o.Name(), Status: resp.StatusCode, Message: result.Error}
	}
	return strings.TrimSpace(result.Response), nil
}

// CreateProvider creates an LLM provider by name.
func CreateProvider(provider, model, apiKey, baseURL string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "deepseek":
		return NewDeepSeekProvider(model, apiKey, baseURL)
	case "ollama":
		return NewOllamaProvider(model, baseURL), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q (allowed: deepseek, ollama)", provider)
	}
}
