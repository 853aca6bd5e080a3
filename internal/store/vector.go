package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/memoryvault/memoryvault/internal/domain"
)

// VectorIndexConfig configures the ANN half of the Row Store Adapter
// (§4.1's "graph-based ANN index on the vector column", realized as an
// external HTTP vector-index service addressed by collection, with an
// HNSW graph index configured by M/EfConstruct).
type VectorIndexConfig struct {
	BaseURL        string
	CollectionName string
	Dimension      int
	M              int
	EfConstruct    int
	Timeout        time.Duration
}

func DefaultVectorIndexConfig(baseURL string, dimension int) VectorIndexConfig {
	return VectorIndexConfig{
		BaseURL:        baseURL,
		CollectionName: "memoryvault-memories",
		Dimension:      dimension,
		M:              16,
		EfConstruct:    100,
		Timeout:        30 * time.Second,
	}
}

// VectorIndex is an HTTP client for an external approximate-nearest-
// neighbor index service (collection/points API shape), wrapped with a
// circuit breaker so a down index service is skipped for a cool-down
// window instead of retried on every call.
type VectorIndex struct {
	cfg        VectorIndexConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[any]
}

func NewVectorIndex(cfg VectorIndexConfig) *VectorIndex {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "vector-index:" + cfg.CollectionName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &VectorIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    cb,
	}
}

func (v *VectorIndex) do(ctx context.Context, method, path string, body any, out any) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := v.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			reader = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, v.cfg.BaseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := v.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("vector index %s %s: status %d: %s", method, path, resp.StatusCode, string(b))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// EnsureCollection creates the collection with an HNSW cosine-distance
// index if it does not already exist.
func (v *VectorIndex) EnsureCollection(ctx context.Context) error {
	var exists struct {
		Status string `json:"status"`
	}
	err := v.do(ctx, http.MethodGet, "/collections/"+v.cfg.CollectionName, nil, &exists)
	if err == nil {
		return nil
	}

	create := map[string]any{
		"vectors": map[string]any{
			"size":     v.cfg.Dimension,
			"distance": "Cosine",
		},
		"hnsw_config": map[string]any{
			"m":            v.cfg.M,
			"ef_construct": v.cfg.EfConstruct,
		},
	}
	return v.do(ctx, http.MethodPut, "/collections/"+v.cfg.CollectionName, create, nil)
}

// Upsert writes or overwrites a single point keyed by memory id.
func (v *VectorIndex) Upsert(ctx context.Context, id string, vec []float32, filterFields map[string]any) error {
	if len(vec) != v.cfg.Dimension {
		return domain.InvalidInput("vector.Upsert", fmt.Errorf("vector dimension mismatch: expected %d, got %d", v.cfg.Dimension, len(vec)))
	}
	body := map[string]any{
		"points": []map[string]any{
			{"id": id, "vector": toFloat64(vec), "payload": filterFields},
		},
	}
	return v.do(ctx, http.MethodPut, "/collections/"+v.cfg.CollectionName+"/points", body, nil)
}

// Delete removes points by id, used on Delete/Compact.
func (v *VectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	return v.do(ctx, http.MethodPost, "/collections/"+v.cfg.CollectionName+"/points/delete", body, nil)
}

// ANNHit is one result from a nearest-neighbor search.
type ANNHit struct {
	ID         string
	Similarity float64
}

// Search performs ANN cosine search, restricted by filter (built from
// §4.4 step 2's tier/date/metadata/importance predicate, translated to
// the vector service's filter DSL by the caller).
func (v *VectorIndex) Search(ctx context.Context, vec []float32, k int, filter map[string]any) ([]ANNHit, error) {
	if len(vec) != v.cfg.Dimension {
		return nil, domain.InvalidInput("vector.Search", fmt.Errorf("vector dimension mismatch: expected %d, got %d", v.cfg.Dimension, len(vec)))
	}
	body := map[string]any{
		"vector":       toFloat64(vec),
		"limit":        k,
		"with_payload": false,
	}
	if filter != nil {
		body["filter"] = filter
	}

	var resp struct {
		Result []struct {
			ID    any     `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	if err := v.do(ctx, http.MethodPost, "/collections/"+v.cfg.CollectionName+"/points/search", body, &resp); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.Cancelled("vector.Search", err)
		}
		return nil, domain.StorageUnavailable("vector.Search", err)
	}

	hits := make([]ANNHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		id := fmt.Sprintf("%v", r.ID)
		hits = append(hits, ANNHit{ID: id, Similarity: r.Score})
	}
	return hits, nil
}

// IsAvailable is a best-effort liveness probe (a GET on /collections
// bounded to 3 seconds), exposed through Store.VectorAvailable. The
// search engine does not consult it; it attempts the semantic branch
// and handles the error.
func (v *VectorIndex) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return v.do(ctx, http.MethodGet, "/collections", nil, nil) == nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
