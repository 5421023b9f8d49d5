package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"llmrelay/internal/domain"
	"llmrelay/internal/metrics"
)

const (
	DefaultTimeout      = 120 * time.Second
	DefaultNoResponse   = "No response from model."
	maxErrorBodySnippet = 512
)

var (
	// ErrBackendUnavailable covers connection failures, timeouts and non-2xx statuses.
	ErrBackendUnavailable = errors.New("backend unreachable")
	// ErrMalformedResponse means the backend answered 2xx with an undecodable body.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// BackendError is the single failure type returned by Ollama.Generate.
// Kind is one of ErrBackendUnavailable or ErrMalformedResponse.
type BackendError struct {
	Kind       error
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: status %d: %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Ollama sends prompts to an Ollama /api/generate endpoint.
type Ollama struct {
	endpoint     string
	model        string
	systemPrompt string
	noResponse   string
	timeout      time.Duration
	client       *http.Client
	logger       *slog.Logger
}

var _ domain.Inferencer = (*Ollama)(nil)

type OllamaConfig struct {
	Endpoint     string // full URL, e.g. http://localhost:11434/api/generate
	Model        string
	SystemPrompt string
	NoResponse   string        // returned when the body has no "response" field
	Timeout      time.Duration // per request; DefaultTimeout when zero
	Client       *http.Client  // optional; SharedHTTPClient(Timeout) when nil
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.NoResponse == "" {
		cfg.NoResponse = DefaultNoResponse
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Ollama{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		noResponse:   cfg.NoResponse,
		timeout:      cfg.Timeout,
		client:       cfg.Client,
		logger:       cfg.Logger.With("component", "ollama"),
	}
}

// GenerateRequest is the /api/generate request body.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response *string `json:"response"`
}

// Generate sends one non-streaming request and returns the model's text.
// Every failure is a *BackendError; nothing is retried.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	o.logger.Info("ollama request", "model", o.model)
	metrics.InferenceRequests.Inc()

	text, err := o.generate(ctx, prompt)
	elapsed := time.Since(start)
	metrics.InferenceLatency.Observe(elapsed.Seconds())
	if err != nil {
		metrics.InferenceFailures.Inc()
		o.logger.Error("ollama request failed", "err", err.Error(), "duration", elapsed.Round(10*time.Millisecond))
		return "", err
	}

	o.logger.Info("ollama response", "duration", elapsed.Round(10*time.Millisecond))
	return text, nil
}

func (o *Ollama) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		System: o.systemPrompt,
		Stream: false,
	})
	if err != nil {
		return "", &BackendError{Kind: ErrBackendUnavailable, Err: fmt.Errorf("marshal request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &BackendError{Kind: ErrBackendUnavailable, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &BackendError{Kind: ErrBackendUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySnippet))
		return "", &BackendError{
			Kind:       ErrBackendUnavailable,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", bytes.TrimSpace(snippet)),
		}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return "", &BackendError{Kind: ErrBackendUnavailable, Err: fmt.Errorf("read response: %w", err)}
		}
		return "", &BackendError{Kind: ErrMalformedResponse, StatusCode: resp.StatusCode, Err: err}
	}
	if out.Response == nil {
		return o.noResponse, nil
	}
	return *out.Response, nil
}

// Healthy checks that the Ollama server answers GET /api/tags.
func (o *Ollama) Healthy(ctx context.Context) error {
	u, err := url.Parse(o.endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	u.Path = "/api/tags"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}
