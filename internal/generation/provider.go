package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/tracing"
)

// JobRequest is the input of one generation job. Image is either a data URI
// or a public URL.
type JobRequest struct {
	Image        string `json:"image"`
	Prompt       string `json:"prompt"`
	Background   string `json:"background"`
	Quality      string `json:"quality,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

// Job is the provider's view of an asynchronous generation
type Job struct {
	ID      string
	Status  string
	Outputs []string
	Error   string
}

// Provider creates and reads generation jobs
type Provider interface {
	Configured() bool
	CreateJob(ctx context.Context, req JobRequest) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
}

// RejectionError is a non-2xx answer from the provider
type RejectionError struct {
	StatusCode int
	Body       string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("generation API error: status %d, body: %s", e.StatusCode, e.Body)
}

// HTTPProvider talks to a prediction-style REST API
type HTTPProvider struct {
	baseURL    string
	apiToken   string
	model      string
	httpClient *http.Client
	logger     *logging.Logger
}

// ProviderConfig configures an HTTPProvider
type ProviderConfig struct {
	BaseURL  string
	APIToken string
	Model    string
	Timeout  time.Duration
}

// NewHTTPProvider creates a provider client
func NewHTTPProvider(cfg ProviderConfig, logger *logging.Logger) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPProvider{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiToken: cfg.APIToken,
		model:    cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Configured reports whether an API token is present
func (p *HTTPProvider) Configured() bool {
	return p.apiToken != ""
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// CreateJob submits a prediction for the configured model
func (p *HTTPProvider) CreateJob(ctx context.Context, req JobRequest) (*Job, error) {
	body, err := json.Marshal(map[string]any{"input": req})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/models/%s/predictions", p.baseURL, p.model)
	return p.do(ctx, "create_job", http.MethodPost, endpoint, body)
}

// GetJob reads a prediction by id
func (p *HTTPProvider) GetJob(ctx context.Context, id string) (*Job, error) {
	endpoint := fmt.Sprintf("%s/v1/predictions/%s", p.baseURL, url.PathEscape(id))
	return p.do(ctx, "get_job", http.MethodGet, endpoint, nil)
}

func (p *HTTPProvider) do(ctx context.Context, operation, method, endpoint string, body []byte) (*Job, error) {
	start := time.Now()
	status := 0
	var job *Job

	err := tracing.Outbound(ctx, "generation", operation, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+p.apiToken)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to execute request: %w", err)
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &RejectionError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}

		var pr predictionResponse
		if err := json.Unmarshal(respBody, &pr); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		job = &Job{
			ID:      pr.ID,
			Status:  pr.Status,
			Outputs: parseOutputs(pr.Output),
			Error:   parseErrorField(pr.Error),
		}
		return nil
	})

	metrics.RecordProviderCall("generation", operation, time.Since(start).Seconds(), err)
	p.logger.LogProviderCall("generation", operation, status, time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return job, nil
}

// parseOutputs accepts a string, a list of strings, an object with a url,
// a list of such objects or an object with an images list.
func parseOutputs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return collectURLs(v)
}

func collectURLs(v any) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []any:
		var urls []string
		for _, item := range val {
			urls = append(urls, collectURLs(item)...)
		}
		return urls
	case map[string]any:
		for _, key := range []string{"url", "uri", "image"} {
			if s, ok := val[key].(string); ok && s != "" {
				return []string{s}
			}
		}
		for _, key := range []string{"images", "output", "urls"} {
			if nested, ok := val[key]; ok {
				return collectURLs(nested)
			}
		}
	}
	return nil
}

func parseErrorField(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
