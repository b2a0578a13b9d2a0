package ai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultEmbeddingModel     = "text-embedding-3-small"
	DefaultEmbeddingDimension = 1536
	DefaultFallbackValue      = float32(0.01)
	defaultEmbeddingTimeout   = 30 * time.Second
)

// EmbeddingConfig holds API settings for text-embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Dimension     int
	Timeout       time.Duration
	FallbackValue float32

	// RequestsPerSecond limits calls to the remote API; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Embedding is the outcome of one Embed call. Vector always has the configured
// dimension. Fallback is set when the remote call failed and Vector is the
// constant placeholder; Cause holds the failure in that case.
type Embedding struct {
	Vector   Vector
	Fallback bool
	Cause    error
}

// EmbeddingCache stores real embeddings by key. Implementations may be lossy.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// EmbeddingClient turns text into vectors through an OpenAI-compatible
// /embeddings endpoint and never fails: any remote failure yields the
// fallback vector and one log line.
type EmbeddingClient struct {
	cfg        EmbeddingConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      EmbeddingCache
	logger     *log.Logger
}

type EmbeddingOption func(*EmbeddingClient)

func WithEmbeddingHTTPClient(client *http.Client) EmbeddingOption {
	return func(c *EmbeddingClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithEmbeddingCache(cache EmbeddingCache) EmbeddingOption {
	return func(c *EmbeddingClient) { c.cache = cache }
}

func WithEmbeddingLogger(logger *log.Logger) EmbeddingOption {
	return func(c *EmbeddingClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewEmbeddingClient(cfg EmbeddingConfig, opts ...EmbeddingOption) *EmbeddingClient {
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultEmbeddingDimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultEmbeddingTimeout
	}
	if cfg.FallbackValue == 0 {
		cfg.FallbackValue = DefaultFallbackValue
	}

	c := &EmbeddingClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.Default(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *EmbeddingClient) Dimension() int { return c.cfg.Dimension }

func (c *EmbeddingClient) Model() string { return c.cfg.Model }

// Embed returns the embedding vector for the given text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) Embedding {
	key := EmbeddingCacheKey(c.cfg.Model, text)
	if vec, ok := c.cached(ctx, key); ok {
		return Embedding{Vector: vec}
	}

	raw, err := c.request(ctx, text)
	if err == nil {
		var vec Vector
		if vec, err = NewVector(raw, c.cfg.Dimension); err == nil {
			if c.cache != nil {
				_ = c.cache.Set(ctx, key, vec)
			}
			return Embedding{Vector: vec}
		}
	}

	c.logger.Printf("embedding fallback: model=%s dim=%d cause=%v", c.cfg.Model, c.cfg.Dimension, err)
	return Embedding{
		Vector:   FallbackVector(c.cfg.Dimension, c.cfg.FallbackValue),
		Fallback: true,
		Cause:    err,
	}
}

func (c *EmbeddingClient) cached(ctx context.Context, key string) (Vector, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, hit, err := c.cache.Get(ctx, key)
	if err != nil || !hit {
		return nil, false
	}
	vec, err := NewVector(raw, c.cfg.Dimension)
	if err != nil {
		return nil, false
	}
	return vec, true
}

func (c *EmbeddingClient) request(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("embedding input is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limit wait failed: %w", err)
		}
	}

	reqBody := map[string]interface{}{
		"model": c.cfg.Model,
		"input": text,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build embedding request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding response status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedding api error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return parsed.Data[0].Embedding, nil
}

// EmbeddingCacheKey derives the cache key for text embedded by model.
func EmbeddingCacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return "embedding:" + model + ":" + hex.EncodeToString(sum[:])
}
