package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/metrics"
	"github.com/virtual-therapist/backend/pkg/circuitbreaker"
	"github.com/virtual-therapist/backend/pkg/logger"
	"github.com/virtual-therapist/backend/pkg/retry"
)

const DefaultBaseURL = "https://api.groq.com/openai/v1"

// Every completion is requested with the same model and sampling parameters.
const (
	Model       = "llama-3.3-70b-versatile"
	Temperature = float32(0.4)
	MaxTokens   = 500
)

var (
	ErrMissingAPIKey = errors.New("generative API key is not configured")
	ErrEmptyResponse = errors.New("completion returned no content")
)

type Config struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// Client issues chat completions against an OpenAI-compatible endpoint (Groq by default).
type Client struct {
	client      *openai.Client
	timeout     time.Duration
	enabled     bool
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	cb := circuitbreaker.NewCircuitBreaker("groq", circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		IsFailure:        isTransient,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    cfg.MaxAttempts,
		InitialDelay:   cfg.RetryDelay,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		ShouldRetry:    isTransient,
		Logger:         logger.GetLogger(),
	}

	enabled := strings.TrimSpace(cfg.APIKey) != ""
	if !enabled {
		logger.Warn("GROQ_API_KEY not set, generative fallback disabled")
	}

	logger.Info("LLM client initialized",
		zap.String("model", Model),
		zap.String("base_url", clientConfig.BaseURL),
		zap.Bool("enabled", enabled),
	)

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		timeout:     cfg.Timeout,
		enabled:     enabled,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if !c.enabled {
		return nil, ErrMissingAPIKey
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       Model,
					Messages:    messages,
					Temperature: Temperature,
					MaxTokens:   MaxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
				return ErrEmptyResponse
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)
			metrics.LLMTokensUsed.WithLabelValues(Model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(Model, "completion").Add(float64(resp.Usage.CompletionTokens))

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Generate returns the completion text, or ok=false when no text could be
// produced. Failures are logged and never surface as errors.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, bool) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		if errors.Is(err, ErrMissingAPIKey) {
			logger.Warn("Skipping generative call", zap.Error(err))
			metrics.GenerativeCalls.WithLabelValues("disabled").Inc()
		} else {
			logger.Error("Error calling generative API", zap.Error(err))
			metrics.GenerativeCalls.WithLabelValues("failure").Inc()
		}
		return "", false
	}

	metrics.GenerativeCalls.WithLabelValues("success").Inc()
	return resp.Content, true
}

// isTransient reports whether err is worth retrying: network failures, rate
// limiting and 5xx responses. Client errors such as a bad API key are not.
func isTransient(err error) bool {
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrMissingAPIKey) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
