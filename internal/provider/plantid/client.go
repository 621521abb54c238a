// Package plantid implements the Plant.id provider adapter. Plant.id is the
// secondary identification source and the only provider with a disease
// diagnosis endpoint. It is slower than Pl@ntNet and carries daily and
// monthly quotas.
package plantid

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/errors"
	"github.com/floraid/floraid-go/internal/httpclient"
	"github.com/floraid/floraid-go/internal/logging"
	"github.com/floraid/floraid-go/internal/observability/metrics"
	"github.com/floraid/floraid-go/internal/provider"
)

const (
	providerID = conf.ProviderPlantID
	apiVersion = "v3"

	defaultBaseURL = "https://api.plant.id"

	identificationPath   = "/api/v3/identification"
	healthAssessmentPath = "/api/v3/health_assessment"
)

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/plantid.log", "plantid", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil)).With("service", "plantid")
	}
}

// Client is the Plant.id API adapter.
type Client struct {
	settings conf.ProviderSettings
	http     *httpclient.Client
	limiter  *rate.Limiter
	metrics  *metrics.ProviderMetrics
}

// New creates a Plant.id adapter from the provider settings block.
func New(settings conf.ProviderSettings, providerMetrics *metrics.ProviderMetrics) *Client {
	if settings.BaseURL == "" {
		settings.BaseURL = defaultBaseURL
	}
	if settings.Timeout == 0 {
		settings.Timeout = conf.DefaultPlantIDTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if settings.RateLimitMS > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(settings.RateLimitMS)*time.Millisecond), 1)
	}

	return &Client{
		settings: settings,
		http: httpclient.New(&httpclient.Config{
			DefaultTimeout: settings.Timeout,
		}),
		limiter: limiter,
		metrics: providerMetrics,
	}
}

// ID implements provider.Adapter.
func (c *Client) ID() string { return providerID }

// APIVersion implements provider.Adapter.
func (c *Client) APIVersion() string { return apiVersion }

// Timeout returns the per-call timeout bound for this adapter.
func (c *Client) Timeout() time.Duration { return c.settings.Timeout }

// Identify implements provider.Adapter.
func (c *Client) Identify(ctx context.Context, req *provider.Request) ([]provider.Suggestion, error) {
	var parsed identificationResponse
	if err := c.post(ctx, "identify", identificationPath, req, &parsed); err != nil {
		return nil, err
	}

	logger.Debug("identify succeeded",
		"is_plant_probability", parsed.Result.IsPlant.Probability,
		"suggestions", len(parsed.Result.Classification.Suggestions))

	return normalizeSuggestions(parsed.Result.Classification.Suggestions), nil
}

// AssessHealth implements provider.HealthAssessor.
func (c *Client) AssessHealth(ctx context.Context, req *provider.Request) (*provider.HealthAssessment, error) {
	var parsed healthAssessmentResponse
	if err := c.post(ctx, "health_assessment", healthAssessmentPath, req, &parsed); err != nil {
		return nil, err
	}

	assessment := &provider.HealthAssessment{
		IsHealthy:   parsed.Result.IsHealthy.Binary,
		Probability: parsed.Result.IsHealthy.Probability,
		Diseases:    normalizeSuggestions(parsed.Result.Disease.Suggestions),
	}

	logger.Debug("health assessment succeeded",
		"is_healthy", assessment.IsHealthy,
		"diseases", len(assessment.Diseases))
	return assessment, nil
}

// post runs one JSON request/response round trip against a Plant.id endpoint.
func (c *Client) post(ctx context.Context, operation, path string, req *provider.Request, out any) error {
	if len(req.Image) == 0 {
		return errors.Newf("%s requires image bytes", operation).
			Category(errors.CategoryValidation).
			Component(providerID).
			Build()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Newf("rate limit wait interrupted: %w", err).
			Category(errors.CategoryCancellation).
			Component(providerID).
			Build()
	}

	body, err := json.Marshal(identificationRequest{
		Images:        []string{base64.StdEncoding.EncodeToString(req.Image)},
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		SimilarImages: true,
	})
	if err != nil {
		return errors.Newf("failed to encode %s request: %w", operation, err).
			Category(errors.CategoryImageProcessing).
			Component(providerID).
			Build()
	}

	url := strings.TrimSuffix(c.settings.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Newf("failed to create %s request: %w", operation, err).
			Category(errors.CategoryNetwork).
			Component(providerID).
			Build()
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Api-Key", c.settings.APIKey)

	start := time.Now()
	resp, err := c.http.Do(ctx, httpReq)
	if c.metrics != nil {
		c.metrics.RequestDuration.WithLabelValues(providerID, operation).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return c.transportError(err, operation)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.statusError(resp, operation)
	}

	if err := c.http.DecodeJSON(resp, out); err != nil {
		c.countError(operation, errors.CategoryProviderResponse)
		return errors.Newf("failed to decode %s response: %w", operation, err).
			Category(errors.CategoryProviderResponse).
			Component(providerID).
			Context("request_sent", true).
			Build()
	}

	c.countRequest(operation, "success")
	return nil
}

func (c *Client) transportError(err error, operation string) error {
	category := errors.CategoryNetwork
	sent := false
	if errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryTimeout
		sent = true
	}
	c.countError(operation, category)
	return errors.Newf("%s request failed: %w", operation, err).
		Category(category).
		Component(providerID).
		Context("request_sent", sent).
		Build()
}

func (c *Client) statusError(resp *http.Response, operation string) error {
	var body apiError
	_ = c.http.DecodeJSON(resp, &body)

	category := errors.CategoryProviderResponse
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		category = errors.CategoryLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		category = errors.CategoryConfiguration
	}

	c.countError(operation, category)
	return errors.Newf("%s returned status %d: %s", operation, resp.StatusCode, body.Error).
		Category(category).
		Component(providerID).
		Context("status_code", resp.StatusCode).
		Context("request_sent", true).
		Build()
}

func (c *Client) countRequest(operation, status string) {
	if c.metrics != nil {
		c.metrics.Requests.WithLabelValues(providerID, operation, status).Inc()
	}
}

func (c *Client) countError(operation string, category errors.ErrorCategory) {
	c.countRequest(operation, "error")
	if c.metrics != nil {
		c.metrics.Errors.WithLabelValues(providerID, operation, string(category)).Inc()
	}
}

func normalizeSuggestions(raw []suggestion) []provider.Suggestion {
	suggestions := make([]provider.Suggestion, 0, len(raw))
	for _, s := range raw {
		if s.Name == "" {
			continue
		}
		normalized := provider.Suggestion{
			Source:         providerID,
			ScientificName: s.Name,
			CommonNames:    s.Details.CommonNames,
			Confidence:     s.Probability,
			Raw: map[string]any{
				"id":          s.ID,
				"probability": s.Probability,
			},
		}
		if s.Details.Description.Value != "" {
			normalized.Raw["description"] = s.Details.Description.Value
		}
		suggestions = append(suggestions, normalized)
	}
	return suggestions
}
