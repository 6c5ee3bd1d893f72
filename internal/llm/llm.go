package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable marks rate limiting, outages and transport failures. Callers
// may retry these; every other error is final.
var ErrUnavailable = errors.New("completion service unavailable")

// Request is one completion call.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Provider is a text-completion service.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	IsConfigured() bool
}

// StatusError is a non-200 reply from a provider.
type StatusError struct {
	Provider   string
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.Code, e.Body)
}

// Unwrap classifies 429 and 5xx as ErrUnavailable.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusTooManyRequests || e.Code >= 500 {
		return ErrUnavailable
	}
	return nil
}

func statusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	e := &StatusError{Provider: provider, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}

func messages(req Request) []map[string]string {
	var msgs []map[string]string
	if req.System != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": req.System})
	}
	return append(msgs, map[string]string{"role": "user", "content": req.User})
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	log.Printf("Ollama model %q not found", o.Model)
	return false
}

// Complete sends a chat request to Ollama.
func (o *OllamaProvider) Complete(ctx context.Context, r Request) (string, error) {
	body := map[string]any{
		"model":    o.Model,
		"messages": messages(r),
		"stream":   false,
		"options": map[string]any{
			"num_predict": r.MaxTokens,
			"temperature": r.Temperature,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: ollama: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("ollama", resp)
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return result.Message.Content, nil
}

// OpenAIProvider is an OpenAI-compatible chat completions provider.
type OpenAIProvider struct {
	Model    string
	APIKey   string
	Endpoint string
	client   *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider. The key is read from the
// environment variable named apiKeyEnv.
func NewOpenAIProvider(model, endpoint, apiKeyEnv string) *OpenAIProvider {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	return &OpenAIProvider{
		Model:    model,
		APIKey:   os.Getenv(apiKeyEnv),
		Endpoint: endpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Complete sends a chat request to OpenAI.
func (o *OpenAIProvider) Complete(ctx context.Context, r Request) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	body := map[string]any{
		"model":       o.Model,
		"messages":    messages(r),
		"max_tokens":  r.MaxTokens,
		"temperature": r.Temperature,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.Endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: OpenAI: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("OpenAI", resp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// CreateProvider picks the configured provider, falling back to the other one.
// It returns nil when neither is usable.
func CreateProvider(provider, model, ollamaURL, openaiModel, openaiURL, apiKeyEnv string) Provider {
	if strings.ToLower(provider) == "ollama" {
		p := NewOllamaProvider(model, ollamaURL)
		if p.IsConfigured() {
			log.Printf("Using Ollama with model: %s", model)
			return p
		}
		log.Println("Ollama not available, trying OpenAI fallback...")
	}

	p := NewOpenAIProvider(openaiModel, openaiURL, apiKeyEnv)
	if p.IsConfigured() {
		log.Printf("Using OpenAI with model: %s", openaiModel)
		return p
	}

	if strings.ToLower(provider) != "ollama" {
		o := NewOllamaProvider(model, ollamaURL)
		if o.IsConfigured() {
			log.Printf("OpenAI key missing, using Ollama with model: %s", model)
			return o
		}
	}

	log.Printf("No completion provider available. Set %s or start Ollama.", apiKeyEnv)
	return nil
}
