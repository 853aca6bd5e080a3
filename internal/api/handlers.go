package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memoryvault/memoryvault/internal/domain"
)

// =============================================================================
// store_memory
// =============================================================================

type storeMemoryRequest struct {
	Content    string         `json:"content" binding:"required"`
	Metadata   map[string]any `json:"metadata"`
	Importance float64        `json:"importance"`
	Tier       string         `json:"tier"`
}

func (s *Server) storeMemory(c *gin.Context) {
	var req storeMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	if err := validateContent(req.Content); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	if err := validateImportance(req.Importance); err != nil {
		BadRequestError(c, err.Error())
		return
	}

	tier := domain.Tier(req.Tier)
	if tier == "" {
		tier = domain.TierWorking
	}

	id, err := s.repo.Store(c.Request.Context(), req.Content, req.Metadata, req.Importance, tier)
	if err != nil {
		s.handleDomainError(c, "store_memory", err)
		return
	}
	CreatedResponse(c, "memory stored", gin.H{"id": id})
}

// =============================================================================
// get_memory
// =============================================================================

func (s *Server) getMemory(c *gin.Context) {
	id := c.Param("id")
	m, err := s.repo.Get(c.Request.Context(), id)
	if err != nil {
		s.handleDomainError(c, "get_memory", err)
		return
	}
	SuccessResponse(c, "memory retrieved", memoryToJSON(m))
}

// =============================================================================
// update_memory
// =============================================================================

type updateMemoryRequest struct {
	Metadata   map[string]any `json:"metadata"`
	Importance *float64       `json:"importance"`
}

func (s *Server) updateMemory(c *gin.Context) {
	id := c.Param("id")
	var req updateMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	if req.Importance != nil {
		if err := validateImportance(*req.Importance); err != nil {
			BadRequestError(c, err.Error())
			return
		}
	}

	patch := domain.MemoryUpdate{Metadata: req.Metadata, Importance: req.Importance}
	m, err := s.repo.Update(c.Request.Context(), id, patch)
	if err != nil {
		s.handleDomainError(c, "update_memory", err)
		return
	}
	SuccessResponse(c, "memory updated", memoryToJSON(m))
}

// =============================================================================
// delete_memory
// =============================================================================

func (s *Server) deleteMemory(c *gin.Context) {
	id := c.Param("id")
	if err := s.repo.Delete(c.Request.Context(), id); err != nil {
		s.handleDomainError(c, "delete_memory", err)
		return
	}
	SuccessResponse(c, "memory deleted", gin.H{"id": id})
}

// =============================================================================
// search_memory
// =============================================================================

type searchMemoryRequest struct {
	Query               string         `json:"query"`
	Mode                string         `json:"mode"`
	SimilarityThreshold float64        `json:"similarity_threshold"`
	Tiers               []string       `json:"tiers"`
	ImportanceMin       float64        `json:"importance_min"`
	MetadataFilters     map[string]any `json:"metadata_filters"`
	Limit               int            `json:"limit"`
	Cursor              string         `json:"cursor"`
}

func (s *Server) searchMemory(c *gin.Context) {
	var req searchMemoryRequest
	if c.Request.Method == http.MethodGet {
		req.Query = c.Query("query")
		req.Mode = c.Query("mode")
		req.Cursor = c.Query("cursor")
	} else if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestError(c, err.Error())
		return
	}
	if err := validateQuery(req.Query); err != nil {
		BadRequestError(c, err.Error())
		return
	}

	mode := domain.ModeHybrid
	if req.Mode != "" {
		mode = domain.SearchMode(req.Mode)
	}
	tiers := make([]domain.Tier, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		tiers = append(tiers, domain.Tier(t))
	}
	threshold := req.SimilarityThreshold
	if threshold == 0 {
		threshold = domain.DefaultSimilarityThresh
	}

	q := domain.Query{
		QueryText:           req.Query,
		Mode:                mode,
		SimilarityThreshold: threshold,
		Tiers:               tiers,
		MetadataFilters:     req.MetadataFilters,
		ImportanceMin:       req.ImportanceMin,
		Limit:               clampLimit(req.Limit, domain.DefaultLimit, domain.MaxLimit),
		Cursor:              req.Cursor,
	}

	page, err := s.repo.Search(c.Request.Context(), q)
	if err != nil {
		s.handleDomainError(c, "search_memory", err)
		return
	}

	records := make([]gin.H, 0, len(page.Records))
	for _, m := range page.Records {
		records = append(records, memoryToJSON(m))
	}
	SuccessResponse(c, "search complete", gin.H{
		"records":     records,
		"next_cursor": page.NextCursor,
		"degraded":    page.Degraded,
	})
}

// =============================================================================
// get_statistics
// =============================================================================

func (s *Server) getStatistics(c *gin.Context) {
	stats, err := s.repo.Statistics(c.Request.Context())
	if err != nil {
		s.handleDomainError(c, "get_statistics", err)
		return
	}
	SuccessResponse(c, "statistics retrieved", gin.H{
		"by_tier":                  stats.ByTier,
		"active_count":             stats.ActiveCount,
		"deleted_count":            stats.DeletedCount,
		"dedup_index_size":         stats.DedupIndexSize,
		"avg_query_latency_ms":     stats.AvgQueryLatencyMS,
		"avg_embedding_latency_ms": stats.AvgEmbeddingLatencyMS,
		"pending_score_flushes":    stats.PendingScoreFlushes,
	})
}

// =============================================================================
// health
// =============================================================================

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	embeddingHealthy := true
	if s.embedder != nil {
		embeddingHealthy = s.embedder.HealthCheck(ctx)
	}

	status := "ok"
	code := http.StatusOK
	if !embeddingHealthy {
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":            status,
		"embedding_healthy": embeddingHealthy,
	})
}

// =============================================================================
// shared helpers
// =============================================================================

func memoryToJSON(m *domain.Memory) gin.H {
	return gin.H{
		"id":               m.ID,
		"content":          m.Content,
		"tier":             m.Tier,
		"status":           m.Status,
		"importance_score": m.ImportanceScore,
		"recency_score":    m.RecencyScore,
		"relevance_score":  m.RelevanceScore,
		"combined_score":   m.CombinedScore,
		"access_count":     m.AccessCount,
		"metadata":         m.Metadata,
		"created_at":       m.CreatedAt,
		"last_accessed_at": m.LastAccessedAt,
		"updated_at":       m.UpdatedAt,
	}
}

// handleDomainError maps a domain.Error's Kind to an HTTP status; any
// other error is reported as 500 without leaking internals to the client.
func (s *Server) handleDomainError(c *gin.Context, op string, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		s.log.Error("unhandled error", "operation", op, "error", err)
		InternalError(c, "internal error")
		return
	}

	s.log.Error("operation failed", "operation", op, "kind", derr.Kind, "error", err)
	switch derr.Kind {
	case domain.KindNotFound:
		NotFoundError(c, derr.Error())
	case domain.KindInvalidInput, domain.KindInvalidQuery:
		BadRequestError(c, derr.Error())
	case domain.KindDuplicateContent, domain.KindConflict:
		ConflictError(c, derr.Error())
	case domain.KindEmbeddingQueueFull, domain.KindBackendOverloaded:
		TooManyRequestsError(c, derr.Error())
	case domain.KindEmbeddingUnavailable, domain.KindStorageUnavailable:
		ServiceUnavailableError(c, derr.Error())
	case domain.KindCancelled:
		ErrorResponse(c, 499, derr.Error())
	default:
		InternalError(c, derr.Error())
	}
}
