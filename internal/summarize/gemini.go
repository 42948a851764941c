package summarize

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

	"github.com/lotas/kurzfassung/internal/applog"
	"github.com/lotas/kurzfassung/internal/settings"
	"github.com/lotas/kurzfassung/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultModel is the Gemini model used when none is configured.
	DefaultModel = "gemini-2.5-flash"

	apiBase = "https://generativelanguage.googleapis.com/v1beta/models/"

	tracerName = "github.com/lotas/kurzfassung/internal/summarize"

	// maxErrorBody bounds how much of a failed response is read for the log.
	maxErrorBody = 4 << 10
)

// EndpointForModel returns the generateContent URL for a Gemini model.
func EndpointForModel(model string) string {
	return apiBase + model + ":generateContent"
}

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type candidate struct {
	Content      *content `json:"content,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

// Client calls the Gemini generateContent endpoint. It makes exactly one
// request per Summarize call and never retries.
type Client struct {
	endpoint   string
	httpClient *http.Client
	metrics    MetricsRecorder
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the generateContent URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithHTTPClient sets the HTTP client used for the request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records every call on m.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracerProvider creates spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// NewClient returns a client for the default model.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:   EndpointForModel(DefaultModel),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		metrics:    nopRecorder{},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summarize builds the prompt for level and returns the cleaned summary or a
// classified failure. Invalid input fails before any network call.
func (c *Client) Summarize(ctx context.Context, text string, level types.Compression, apiKey string) types.Result {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "summarize.generate", trace.WithAttributes(
		attribute.String("compression", string(level)),
		attribute.Int("text.length", types.TextLen(text)),
	))
	defer span.End()

	res := c.summarize(ctx, text, level, apiKey)

	c.metrics.ObserveRequest(res.Classification, time.Since(start))
	if res.Failed() {
		span.SetAttributes(attribute.String("classification", string(res.Classification)))
		span.SetStatus(codes.Error, res.Message)
		applog.Info("summarize.failed", "classification", res.Classification, "message", res.Message)
	} else {
		span.SetAttributes(attribute.Int("summary.length", types.TextLen(res.Summary)))
		applog.Info("summarize.done", "compression", level, "summary_len", types.TextLen(res.Summary))
	}
	return res
}

func (c *Client) summarize(ctx context.Context, text string, level types.Compression, apiKey string) types.Result {
	if strings.TrimSpace(text) == "" {
		return types.Failure(types.ClassValidation, "No text provided for summarization")
	}
	if !settings.HasKeyPrefix(apiKey) {
		return types.Failure(types.ClassInvalidKey, "Invalid API key format")
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: BuildPrompt(text, level)}}}},
	})
	if err != nil {
		return types.Failure(types.ClassUnknown, fmt.Sprintf("marshal request: %v", err))
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return types.Failure(types.ClassUnknown, fmt.Sprintf("parse endpoint: %v", err))
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return types.Failure(types.ClassUnknown, fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	applog.Info("summarize.request", "compression", level, "text_len", types.TextLen(text))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL carries the key; never echo the *url.Error text.
		return types.Failure(types.ClassNetwork, "Network error: "+unwrapURLError(err).Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		applog.Info("summarize.http_error", "status", resp.StatusCode, "body", string(errBody))
		return classifyStatus(resp.StatusCode)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.Failure(types.ClassMalformedResponse, "No valid response content received from API")
	}
	return extract(result)
}

func classifyStatus(status int) types.Result {
	switch status {
	case http.StatusBadRequest:
		return types.Failure(types.ClassInvalidKey, "Invalid API key or request format. Please check your API key.")
	case http.StatusForbidden:
		return types.Failure(types.ClassInvalidKey, "API key access denied. Please verify your key has permission.")
	case http.StatusTooManyRequests:
		return types.Failure(types.ClassRateLimited, "Rate limit exceeded. Please wait and try again.")
	case http.StatusNotFound:
		return types.Failure(types.ClassInvalidKey, "API endpoint not found. Please check your API key.")
	default:
		return types.Failure(types.ClassUnknown, fmt.Sprintf("API request failed with status %d", status))
	}
}

func extract(resp generateResponse) types.Result {
	if len(resp.Candidates) == 0 {
		return types.Failure(types.ClassMalformedResponse, "No valid response content received from API")
	}
	first := resp.Candidates[0]
	if first.Content != nil && len(first.Content.Parts) > 0 && first.Content.Parts[0].Text != "" {
		return types.Success(CleanSummary(first.Content.Parts[0].Text))
	}
	if first.FinishReason != "" {
		return types.Failure(types.ClassBlockedContent, "Content blocked: "+first.FinishReason)
	}
	return types.Failure(types.ClassMalformedResponse, "No valid response content received from API")
}

func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}
