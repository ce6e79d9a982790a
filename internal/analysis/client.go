package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/metrics"
	"github.com/virtual-therapist/backend/internal/storage/models"
	"github.com/virtual-therapist/backend/pkg/logger"
)

const DefaultURL = "https://virtual-therapist-analysis.onrender.com/api/analyze"

// ErrUpstreamUnavailable is returned when the classifier cannot produce a usable result.
var ErrUpstreamUnavailable = errors.New("analysis service unavailable")

var endpointPattern = regexp.MustCompile(`(?i)(/(api/)?analyze|/predict)/?$`)

// ResolveURL normalizes the configured classifier location. A value that already
// names the analyze or predict endpoint is used as is; anything else is treated
// as a base URL.
func ResolveURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultURL
	}

	if endpointPattern.MatchString(raw) {
		return raw
	}

	return strings.TrimSuffix(raw, "/") + "/api/analyze"
}

type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(configuredURL string, timeout time.Duration) *Client {
	url := ResolveURL(configuredURL)

	logger.Info("Analysis client initialized", zap.String("url", url), zap.Duration("timeout", timeout))

	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) Analyze(ctx context.Context, text string) (*models.AnalysisResult, error) {
	start := time.Now()
	result, err := c.analyze(ctx, text)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.AnalysisDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	return result, err
}

func (c *Client) analyze(ctx context.Context, text string) (*models.AnalysisResult, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("Analysis service request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error("Analysis service error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(respBody), 512)),
		)
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		logger.Error("Analysis service returned invalid JSON", zap.Error(err))
		return nil, fmt.Errorf("%w: invalid response: %v", ErrUpstreamUnavailable, err)
	}
	if result.ConfidenceScores == nil {
		result.ConfidenceScores = []models.ScoreEntry{}
	}

	logger.Debug("Analysis completed",
		zap.String("top_pattern", result.TopPattern),
		zap.Int("scores", len(result.ConfidenceScores)),
	)

	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
