// Package nl2sql sends prompts to a hosted language model and extracts the
// SQL statement from its answer.
package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatdb/chatdb/internal/config"
	"github.com/chatdb/chatdb/internal/errs"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	defaultTimeout   = 45 * time.Second
	maxErrorBodySize = 512
)

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Generator turns a fully built prompt into a single SQL statement.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Result, error)
}

// StatusError is the cause of an upstream error when the provider answered
// with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status=%d body=%s", e.StatusCode, e.Body)
}

// New builds the generator selected by cfg.Provider. Without an API key the
// process still starts; every generation then fails as an upstream error so
// the attempt is recorded like any other unreachable model.
func New(cfg config.AIConfig) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if strings.TrimSpace(cfg.APIKey) == "" && (provider == ProviderOpenAI || provider == ProviderGemini) {
		return unconfigured{provider: provider, model: cfg.Model}, nil
	}
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIGenerator(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case ProviderGemini:
		return NewGeminiGenerator(GeminiConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}

type unconfigured struct {
	provider string
	model    string
}

func (u unconfigured) Generate(context.Context, string) (Result, error) {
	return Result{Provider: u.provider, Model: u.model},
		errs.New(errs.Upstream, fmt.Sprintf("no API key is configured for the %s provider", u.provider))
}

// postJSON sends payload and decodes a 2xx answer into out. Every failure is
// an upstream error.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal provider payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errs.Wrap(errs.Upstream, "model API unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.Upstream, "read model API response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.Wrap(errs.Upstream, "model API request failed", &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(raw)), maxErrorBodySize),
		})
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Wrap(errs.Upstream, "decode model API response", err)
	}
	return nil
}

func normalizeTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultTimeout
	}
	return timeout
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
