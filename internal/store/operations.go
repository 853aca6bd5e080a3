package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/memoryvault/memoryvault/internal/domain"
)

const memoryColumns = `id, content, content_hash, embedding, importance_score, recency_score,
	relevance_score, combined_score, access_count, tier, status, created_at,
	last_accessed_at, updated_at, metadata, tier_entered_at`

// Insert persists a new Active record. On a content_hash collision with
// an existing Active record it returns a *domain.Error of kind
// DuplicateContent whose ID field carries the existing record's id, per
// §4.1's insert contract; the repository is responsible for reconciling
// (§4.6's merge-on-duplicate behavior), the adapter itself never merges.
func (s *Store) Insert(ctx context.Context, m *domain.Memory) error {
	op := "store.Insert"
	err := s.withRetry(ctx, op, func(ctx context.Context) error {
		metaJSON, err := encodeMetadata(m.Metadata)
		if err != nil {
			return domain.InvalidInput(op, err)
		}

		tierEnteredAt := m.TierEnteredAt
		if tierEnteredAt.IsZero() {
			tierEnteredAt = m.CreatedAt
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO memories (`+memoryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			m.ID, m.Content, m.ContentHash, encodeVector(m.Embedding),
			m.ImportanceScore, m.RecencyScore, m.RelevanceScore, m.CombinedScore,
			m.AccessCount, string(m.Tier), string(m.Status),
			m.CreatedAt.UTC(), m.LastAccessedAt.UTC(), m.UpdatedAt.UTC(), metaJSON,
			tierEnteredAt.UTC(),
		)
		if err == nil {
			return nil
		}

		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			existingID, lookupErr := s.idByContentHash(ctx, m.ContentHash)
			if lookupErr != nil {
				return domain.Internal(op, lookupErr)
			}
			return domain.DuplicateContent(op, existingID)
		}
		return domain.StorageUnavailable(op, err)
	})
	if err == nil {
		s.upsertVectorBestEffort(ctx, m)
	}
	return err
}

// upsertVectorBestEffort keeps the ANN half of the adapter consistent
// with a row write, per §4.1's topology note: a failure here is logged
// and swallowed rather than failing the row write, since the relational
// half remains the source of truth.
func (s *Store) upsertVectorBestEffort(ctx context.Context, m *domain.Memory) {
	if s.vector == nil || len(m.Embedding) == 0 {
		return
	}
	filter := map[string]any{"tier": string(m.Tier), "status": string(m.Status)}
	if err := s.vector.Upsert(ctx, m.ID, m.Embedding, filter); err != nil {
		s.log.Warn("vector upsert failed", "id", m.ID, "error", err)
	}
}

func (s *Store) idByContentHash(ctx context.Context, hash string) (string, error) {
	var id string
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM memories WHERE content_hash = ? AND status = ? LIMIT 1`,
		hash, string(domain.StatusActive))
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns NotFound if the id is absent or the record is Deleted,
// since Deleted records are excluded from all non-admin queries (§3).
func (s *Store) Get(ctx context.Context, id string) (*domain.Memory, error) {
	op := "store.Get"
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ? AND status = ?`,
		id, string(domain.StatusActive))
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, id)
	}
	if err != nil {
		return nil, domain.StorageUnavailable(op, err)
	}
	return m, nil
}

// GetIncludingDeleted is used only by admin/compaction paths that need
// to see Deleted rows (e.g. verifying a soft-deleted record before
// permanently compacting it).
func (s *Store) GetIncludingDeleted(ctx context.Context, id string) (*domain.Memory, error) {
	op := "store.GetIncludingDeleted"
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, id)
	}
	if err != nil {
		return nil, domain.StorageUnavailable(op, err)
	}
	return m, nil
}

// Deltas is the set of columns update_partial may change. A nil
// pointer means "leave unchanged." ExpectedUpdatedAt implements the
// compare-and-update described in §4.1 / §5: when non-zero, the UPDATE
// is conditioned on updated_at still matching it, and a zero rows-
// affected result is reported as Conflict rather than silently no-op'd.
type Deltas struct {
	Content         *string
	ContentHash     *string
	Embedding       []float32
	EmbeddingSet    bool
	ImportanceScore *float64
	RecencyScore    *float64
	RelevanceScore  *float64
	CombinedScore   *float64
	AccessCount     *int64
	Tier            *domain.Tier
	Status          *domain.Status
	Metadata        map[string]any
	MetadataSet     bool
	LastAccessedAt  *time.Time

	ExpectedUpdatedAt time.Time
}

// UpdatePartial applies an atomic compare-and-update on updated_at.
func (s *Store) UpdatePartial(ctx context.Context, id string, d Deltas) (*domain.Memory, error) {
	op := "store.UpdatePartial"
	var result *domain.Memory

	err := s.withRetry(ctx, op, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return domain.StorageUnavailable(op, err)
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
		current, err := scanMemory(row)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, id)
		}
		if err != nil {
			return domain.StorageUnavailable(op, err)
		}

		if !d.ExpectedUpdatedAt.IsZero() && !current.UpdatedAt.Equal(d.ExpectedUpdatedAt) {
			return domain.Conflict(op, id)
		}

		next := current.Clone()
		now := time.Now().UTC()
		if d.Content != nil {
			next.Content = *d.Content
		}
		if d.ContentHash != nil {
			next.ContentHash = *d.ContentHash
		}
		if d.EmbeddingSet {
			next.Embedding = d.Embedding
		}
		if d.ImportanceScore != nil {
			next.ImportanceScore = domain.Clamp01(*d.ImportanceScore)
		}
		if d.RecencyScore != nil {
			next.RecencyScore = domain.Clamp01(*d.RecencyScore)
		}
		if d.RelevanceScore != nil {
			next.RelevanceScore = domain.Clamp01(*d.RelevanceScore)
		}
		if d.CombinedScore != nil {
			next.CombinedScore = domain.Clamp01(*d.CombinedScore)
		}
		if d.AccessCount != nil {
			next.AccessCount = *d.AccessCount
		}
		if d.Tier != nil {
			next.Tier = *d.Tier
			if next.Tier != current.Tier {
				next.TierEnteredAt = now
			}
		}
		if d.Status != nil {
			next.Status = *d.Status
		}
		if d.MetadataSet {
			next.Metadata = d.Metadata
		}
		if d.LastAccessedAt != nil {
			next.LastAccessedAt = *d.LastAccessedAt
		}
		next.UpdatedAt = now

		metaJSON, err := encodeMetadata(next.Metadata)
		if err != nil {
			return domain.InvalidInput(op, err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE memories SET
				content = ?, content_hash = ?, embedding = ?, importance_score = ?,
				recency_score = ?, relevance_score = ?, combined_score = ?,
				access_count = ?, tier = ?, status = ?, last_accessed_at = ?,
				updated_at = ?, metadata = ?, tier_entered_at = ?
			WHERE id = ? AND updated_at = ?
		`,
			next.Content, next.ContentHash, encodeVector(next.Embedding), next.ImportanceScore,
			next.RecencyScore, next.RelevanceScore, next.CombinedScore,
			next.AccessCount, string(next.Tier), string(next.Status), next.LastAccessedAt.UTC(),
			next.UpdatedAt, metaJSON, next.TierEnteredAt.UTC(),
			id, current.UpdatedAt,
		)
		if err != nil {
			return domain.StorageUnavailable(op, err)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return domain.Conflict(op, id)
		}

		if err := tx.Commit(); err != nil {
			return domain.StorageUnavailable(op, err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete performs the soft delete described in §3/§4.1: status=Deleted,
// tier=Frozen. A hard DELETE only ever happens via Compact.
func (s *Store) Delete(ctx context.Context, id string) error {
	op := "store.Delete"
	frozen := domain.TierFrozen
	deleted := domain.StatusDeleted
	now := time.Now().UTC()
	_, err := s.UpdatePartial(ctx, id, Deltas{
		Tier:           &frozen,
		Status:         &deleted,
		LastAccessedAt: &now,
	})
	if domain.IsKind(err, domain.KindConflict) {
		// A delete racing a score update should still win; retry once
		// with a fresh read rather than surfacing Conflict for a delete.
		cur, getErr := s.GetIncludingDeleted(ctx, id)
		if getErr != nil {
			return getErr
		}
		_, err = s.UpdatePartial(ctx, id, Deltas{
			Tier:              &frozen,
			Status:            &deleted,
			LastAccessedAt:    &now,
			ExpectedUpdatedAt: cur.UpdatedAt,
		})
	}
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return domain.NotFound(op, id)
		}
		return err
	}
	if s.vector != nil {
		if verr := s.vector.Delete(ctx, []string{id}); verr != nil {
			s.log.Warn("vector delete failed", "id", id, "error", verr)
		}
	}
	return nil
}

// Compact permanently removes Deleted rows older than olderThan,
// implementing the grace-period compaction named in §3's lifecycle and
// §9's compaction note. It deletes from the row store (and, when one
// is wired, the vector index) for real: this is the one place a hard
// DELETE is correct.
func (s *Store) Compact(ctx context.Context, olderThan time.Time) ([]string, error) {
	op := "store.Compact"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE status = ? AND updated_at < ?`,
		string(domain.StatusDeleted), olderThan.UTC())
	if err != nil {
		return nil, domain.StorageUnavailable(op, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, domain.Internal(op, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.StorageUnavailable(op, err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return nil, domain.StorageUnavailable(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.StorageUnavailable(op, err)
	}
	if s.vector != nil {
		if verr := s.vector.Delete(ctx, ids); verr != nil {
			s.log.Warn("vector delete failed during compaction", "count", len(ids), "error", verr)
		}
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*domain.Memory, error) {
	var (
		m              domain.Memory
		embedding      []byte
		tier, status   string
		createdAt      time.Time
		lastAccessedAt time.Time
		updatedAt      time.Time
		tierEnteredAt  time.Time
		metaJSON       string
	)
	err := row.Scan(
		&m.ID, &m.Content, &m.ContentHash, &embedding, &m.ImportanceScore,
		&m.RecencyScore, &m.RelevanceScore, &m.CombinedScore, &m.AccessCount,
		&tier, &status, &createdAt, &lastAccessedAt, &updatedAt, &metaJSON, &tierEnteredAt,
	)
	if err != nil {
		return nil, err
	}
	m.Embedding = decodeVector(embedding)
	m.Tier = domain.Tier(tier)
	m.Status = domain.Status(status)
	m.CreatedAt = createdAt.UTC()
	m.LastAccessedAt = lastAccessedAt.UTC()
	m.UpdatedAt = updatedAt.UTC()
	m.TierEnteredAt = tierEnteredAt.UTC()
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", m.ID, err)
	}
	m.Metadata = meta
	return &m, nil
}
