package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/memoryvault/memoryvault/internal/domain"
	"github.com/memoryvault/memoryvault/internal/repository"
	"github.com/memoryvault/memoryvault/internal/store"
	"github.com/memoryvault/memoryvault/pkg/config"
)

type fakeStore struct {
	mu   sync.Mutex
	byID map[string]*domain.Memory
}

func newFakeStore() *fakeStore { return &fakeStore{byID: map[string]*domain.Memory{}} }

func (f *fakeStore) Insert(ctx context.Context, m *domain.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[m.ID] = m.Clone()
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*domain.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, domain.NotFound("fakeStore.Get", id)
	}
	return m.Clone(), nil
}

func (f *fakeStore) UpdatePartial(ctx context.Context, id string, d store.Deltas) (*domain.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, domain.NotFound("fakeStore.UpdatePartial", id)
	}
	if d.MetadataSet {
		m.Metadata = d.Metadata
	}
	if d.ImportanceScore != nil {
		m.ImportanceScore = *d.ImportanceScore
	}
	m.UpdatedAt = time.Now()
	return m.Clone(), nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return domain.NotFound("fakeStore.Delete", id)
	}
	m.Status = domain.StatusDeleted
	m.Tier = domain.TierFrozen
	return nil
}

func (f *fakeStore) Compact(ctx context.Context, olderThan time.Time) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) Stats(ctx context.Context) (store.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active int64
	for _, m := range f.byID {
		if m.Status == domain.StatusActive {
			active++
		}
	}
	return store.Stats{ActiveRows: active}, nil
}

type fakeEmbedder struct{ healthy bool }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (f *fakeEmbedder) Dimension() int                        { return 3 }
func (f *fakeEmbedder) HealthCheck(ctx context.Context) bool { return f.healthy }

type fakeSearchEngine struct{ store *fakeStore }

func (f *fakeSearchEngine) Search(ctx context.Context, q domain.Query) (*domain.Page, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var records []*domain.Memory
	for _, m := range f.store.byID {
		if m.Status == domain.StatusActive {
			records = append(records, m.Clone())
		}
	}
	return &domain.Page{Records: records}, nil
}

type fakeTierPromoter struct{}

func (f *fakeTierPromoter) PromoteOnAccess(ctx context.Context, rec *domain.Memory) error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	emb := &fakeEmbedder{healthy: true}
	se := &fakeSearchEngine{store: fs}
	repo := repository.New(fs, emb, se, nil, &fakeTierPromoter{}, repository.DefaultConfig())

	cfg := config.DefaultConfig()
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 0
	cfg.RateLimit.Enabled = false

	return NewServer(repo, emb, cfg), fs
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestStoreAndGetMemory(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/memories", storeMemoryRequest{
		Content:    "remember the deploy window is Tuesdays",
		Importance: 0.8,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created Response
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	data, ok := created.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected data shape: %#v", created.Data)
	}
	id, _ := data["id"].(string)
	if id == "" {
		t.Fatal("expected a generated id")
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/memories/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetMemoryNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/memories/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStoreMemoryRejectsEmptyContent(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/v1/memories", storeMemoryRequest{Content: ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteMemory(t *testing.T) {
	s, fs := newTestServer(t)
	now := time.Now()
	fs.byID["mem-del"] = &domain.Memory{
		ID: "mem-del", Content: "x", Status: domain.StatusActive, Tier: domain.TierWorking,
		CreatedAt: now, UpdatedAt: now, LastAccessedAt: now, TierEnteredAt: now,
	}

	rec := doRequest(s, http.MethodDelete, "/api/v1/memories/mem-del", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetStatistics(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
