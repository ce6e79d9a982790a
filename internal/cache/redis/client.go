package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/metrics"
	"github.com/virtual-therapist/backend/internal/storage/models"
	"github.com/virtual-therapist/backend/pkg/logger"
	"github.com/virtual-therapist/backend/pkg/utils"
)

const cacheType = "analysis"

// Client caches classifier results so that resubmitting identical text does
// not hit the analysis service again.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("ttl", ttl),
	)

	return NewClientFromRedis(client, ttl), nil
}

func NewClientFromRedis(client *redis.Client, ttl time.Duration) *Client {
	return &Client{client: client, ttl: ttl}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func Key(text string) string {
	return fmt.Sprintf("analysis:%s", utils.HashString(text))
}

func (c *Client) SetAnalysis(ctx context.Context, text string, result *models.AnalysisResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis result: %w", err)
	}

	key := Key(text)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set analysis cache: %w", err)
	}

	logger.Debug("Analysis result cached", zap.String("key", key), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) GetAnalysis(ctx context.Context, text string) (*models.AnalysisResult, bool, error) {
	key := Key(text)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues(cacheType).Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get analysis cache: %w", err)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal analysis result: %w", err)
	}
	if result.ConfidenceScores == nil {
		result.ConfidenceScores = []models.ScoreEntry{}
	}

	metrics.CacheHits.WithLabelValues(cacheType).Inc()
	logger.Debug("Analysis cache hit", zap.String("key", key))
	return &result, true, nil
}
