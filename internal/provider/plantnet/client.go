// Package plantnet implements the Pl@ntNet identification provider adapter.
// Pl@ntNet is the primary identification source: fast, accurate for common
// species, with hourly and daily request quotas.
package plantnet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
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
	providerID = conf.ProviderPlantNet
	apiVersion = "v2"

	defaultBaseURL = "https://my-api.plantnet.org"
	defaultProject = "all"
)

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/plantnet.log", "plantnet", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil)).With("service", "plantnet")
	}
}

// Client is the Pl@ntNet API adapter.
type Client struct {
	settings conf.ProviderSettings
	http     *httpclient.Client
	limiter  *rate.Limiter
	metrics  *metrics.ProviderMetrics
}

// New creates a Pl@ntNet adapter from the provider settings block.
func New(settings conf.ProviderSettings, providerMetrics *metrics.ProviderMetrics) *Client {
	if settings.BaseURL == "" {
		settings.BaseURL = defaultBaseURL
	}
	if settings.Project == "" {
		settings.Project = defaultProject
	}
	if settings.Timeout == 0 {
		settings.Timeout = conf.DefaultPlantNetTimeout
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

// Identify implements provider.Adapter. It uploads the image as multipart
// form data and normalizes the ranked species results.
func (c *Client) Identify(ctx context.Context, req *provider.Request) ([]provider.Suggestion, error) {
	if len(req.Image) == 0 {
		return nil, errors.Newf("identify requires image bytes").
			Category(errors.CategoryValidation).
			Component(providerID).
			Build()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Newf("rate limit wait interrupted: %w", err).
			Category(errors.CategoryCancellation).
			Component(providerID).
			Build()
	}

	httpReq, err := c.buildIdentifyRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(ctx, httpReq)
	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.RequestDuration.WithLabelValues(providerID, "identify").Observe(elapsed.Seconds())
	}
	if err != nil {
		return nil, c.transportError(err, "identify")
	}

	if resp.StatusCode == http.StatusNotFound {
		// Pl@ntNet answers 404 when no species matched at all. That is a
		// valid empty outcome, not a provider failure.
		_, _ = c.http.ReadBody(resp)
		c.countRequest("identify", "no_match")
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, "identify")
	}

	var parsed identifyResponse
	if err := c.http.DecodeJSON(resp, &parsed); err != nil {
		c.countError("identify", errors.CategoryProviderResponse)
		return nil, errors.Newf("failed to decode identify response: %w", err).
			Category(errors.CategoryProviderResponse).
			Component(providerID).
			Context("request_sent", true).
			Build()
	}

	c.countRequest("identify", "success")
	logger.Debug("identify succeeded",
		"results", len(parsed.Results),
		"remaining_requests", parsed.RemainingIdentificationRequests,
		"duration_ms", elapsed.Milliseconds())

	return normalizeSuggestions(&parsed), nil
}

func (c *Client) buildIdentifyRequest(ctx context.Context, req *provider.Request) (*http.Request, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("images", "image.jpg")
	if err == nil {
		_, err = part.Write(req.Image)
	}
	if err == nil {
		organs := req.Organs
		if len(organs) == 0 {
			organs = []string{"auto"}
		}
		for _, organ := range organs {
			if err = writer.WriteField("organs", organ); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		return nil, errors.Newf("failed to build multipart request: %w", err).
			Category(errors.CategoryImageProcessing).
			Component(providerID).
			Build()
	}

	url := fmt.Sprintf("%s/%s/identify/%s?api-key=%s",
		strings.TrimSuffix(c.settings.BaseURL, "/"), apiVersion, c.settings.Project, c.settings.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, errors.Newf("failed to create identify request: %w", err).
			Category(errors.CategoryNetwork).
			Component(providerID).
			Build()
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	return httpReq, nil
}

// transportError classifies a failed round trip. Timeouts mean the request
// was in flight and counts against quota; a connection that never opened
// does not.
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
	case http.StatusTooManyRequests:
		category = errors.CategoryLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		category = errors.CategoryConfiguration
	}

	c.countError(operation, category)
	return errors.Newf("%s returned status %d: %s", operation, resp.StatusCode, body.Message).
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

func normalizeSuggestions(parsed *identifyResponse) []provider.Suggestion {
	suggestions := make([]provider.Suggestion, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		name := r.Species.ScientificNameWithoutAuthor
		if name == "" {
			name = r.Species.ScientificName
		}
		if name == "" {
			continue
		}
		suggestions = append(suggestions, provider.Suggestion{
			Source:         providerID,
			ScientificName: name,
			CommonNames:    r.Species.CommonNames,
			Confidence:     r.Score,
			Raw: map[string]any{
				"score":  r.Score,
				"genus":  r.Species.Genus.ScientificNameWithoutAuthor,
				"family": r.Species.Family.ScientificNameWithoutAuthor,
			},
		})
	}
	return suggestions
}
