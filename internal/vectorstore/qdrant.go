package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const defaultTimeout = 20 * time.Second

// StatusError is a non-2xx answer from Qdrant.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// QdrantStore talks to Qdrant's REST API. Every call is bounded by the
// configured timeout.
type QdrantStore struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *log.Logger
}

func NewQdrantStore(cfg Config, logger *log.Logger) *QdrantStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &QdrantStore{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// EnsureCollection creates name with cosine distance and the given dimension
// unless it already exists. Concurrent creators racing on the same name both
// succeed.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid collection dimension %d", dimension)
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	_, err = s.doRequest(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), req)
	if isAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create collection %q failed: %w", name, err)
	}
	return nil
}

func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := s.doRequest(ctx, http.MethodGet, "/collections/"+url.PathEscape(name), nil)
	if err == nil {
		return true, nil
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("get collection %q failed: %w", name, err)
}

// Upsert inserts or replaces point by its id.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, point Point) error {
	if point.ID == "" {
		return errors.New("point id is empty")
	}
	if len(point.Vector) == 0 {
		return errors.New("point vector is empty")
	}
	req := map[string]any{
		"points": []map[string]any{{
			"id":      point.ID,
			"vector":  point.Vector,
			"payload": point.Payload,
		}},
	}
	if _, err := s.doRequest(ctx, http.MethodPut, "/collections/"+url.PathEscape(collection)+"/points?wait=true", req); err != nil {
		return fmt.Errorf("upsert point %s failed: %w", point.ID, err)
	}
	return nil
}

// Search returns up to limit points ordered by descending score. Failures are
// logged and produce an empty result.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) []SearchResult {
	results, err := s.search(ctx, collection, vector, limit, filter)
	if err != nil {
		s.logger.Printf("vector search degraded to empty result: collection=%s cause=%v", collection, err)
		return nil
	}
	return results
}

func (s *QdrantStore) search(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		req["filter"] = mustMatch(*filter)
	}
	data, err := s.doRequest(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/search", req)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse search response failed: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Result))
	for _, item := range parsed.Result {
		results = append(results, SearchResult{
			ID:      fmt.Sprintf("%v", item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	sortByScore(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteByFilter removes every point matching filter.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	req := map[string]any{"filter": mustMatch(filter)}
	if _, err := s.doRequest(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/delete?wait=true", req); err != nil {
		return fmt.Errorf("delete points by %s failed: %w", filter.Key, err)
	}
	return nil
}

// Ping checks that Qdrant answers.
func (s *QdrantStore) Ping(ctx context.Context) error {
	_, err := s.doRequest(ctx, http.MethodGet, "/collections", nil)
	return err
}

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func isAlreadyExists(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.Code == http.StatusConflict || strings.Contains(strings.ToLower(statusErr.Body), "already exists")
}

func mustMatch(f Filter) map[string]any {
	return map[string]any{
		"must": []map[string]any{{
			"key": f.Key,
			"match": map[string]any{
				"value": f.Value,
			},
		}},
	}
}

// sortByScore orders results by descending score, keeping server order on ties.
func sortByScore(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}
