package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/memoryvault/memoryvault/internal/domain"
)

// OrderBy selects the keyset-pagination axis (§4.1: "keyset pagination
// on (combined_score DESC, id DESC) or on created_at depending on the
// order").
type OrderBy string

const (
	OrderByScore     OrderBy = "combined_score"
	OrderByCreatedAt OrderBy = "created_at"
)

// Predicate is the query() filter described in §4.1 / §4.4 step 2: tier
// membership, date range, metadata equality, and a minimum importance,
// always implicitly restricted to status=Active.
type Predicate struct {
	Tiers           []domain.Tier
	DateRange       domain.DateRange
	MetadataFilters map[string]any
	ImportanceMin   float64
}

// cursor is encoded as base64("<orderValue>|<id>") so it round-trips
// through an opaque string without leaking internal representation
// beyond what the order axis already reveals.
type cursor struct {
	orderValue string
	id         string
}

func encodeCursor(orderValue, id string) string {
	raw := orderValue + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// EncodeScoreCursor renders the opaque next-cursor token the Search
// Engine emits from a final_score/id pair (§4.4 step 7), using the same
// encoding as the row store's own keyset cursors so both travel through
// an API response identically.
func EncodeScoreCursor(finalScore float64, id string) string {
	return encodeCursor(strconv.FormatFloat(finalScore, 'g', -1, 64), id)
}

func decodeCursor(s string) (*cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed cursor")
	}
	return &cursor{orderValue: parts[0], id: parts[1]}, nil
}

// Query serves point/range queries per §4.1's query() operation. It
// returns one more row than requested internally is unnecessary here
// because keyset pagination with a strict inequality already gives an
// exact page; NextCursor is populated whenever a full page was
// returned (a heuristic: fewer than limit rows proves no more remain).
func (s *Store) Query(ctx context.Context, pred Predicate, order OrderBy, limit int, cursorTok string) ([]*domain.Memory, string, error) {
	op := "store.Query"
	if ctx.Err() != nil {
		return nil, "", domain.Cancelled(op, ctx.Err())
	}
	if limit <= 0 {
		limit = domain.DefaultLimit
	}

	cur, err := decodeCursor(cursorTok)
	if err != nil {
		return nil, "", domain.InvalidQuery(op, err)
	}

	var where []string
	var args []any

	where = append(where, "status = ?")
	args = append(args, string(domain.StatusActive))

	if len(pred.Tiers) > 0 {
		placeholders := make([]string, len(pred.Tiers))
		for i, t := range pred.Tiers {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, fmt.Sprintf("tier IN (%s)", strings.Join(placeholders, ",")))
	}

	if !pred.DateRange.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, pred.DateRange.From.UTC())
	}
	if !pred.DateRange.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, pred.DateRange.To.UTC())
	}
	if pred.ImportanceMin > 0 {
		where = append(where, "importance_score >= ?")
		args = append(args, pred.ImportanceMin)
	}
	for k, v := range pred.MetadataFilters {
		where = append(where, "json_extract(metadata, ?) = ?")
		args = append(args, "$."+k, fmt.Sprintf("%v", v))
	}

	orderCol := string(order)
	if order == OrderByScore {
		orderCol = "combined_score"
	} else {
		orderCol = "created_at"
	}

	if cur != nil {
		where = append(where, fmt.Sprintf("(%s, id) < (?, ?)", orderCol))
		args = append(args, cur.orderValue, cur.id)
	}

	q := fmt.Sprintf(`SELECT %s FROM memories WHERE %s ORDER BY %s DESC, id DESC LIMIT ?`,
		memoryColumns, strings.Join(where, " AND "), orderCol)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", domain.StorageUnavailable(op, err)
	}
	defer rows.Close()

	var out []*domain.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, "", domain.Internal(op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", domain.StorageUnavailable(op, err)
	}

	var next string
	if len(out) == limit {
		last := out[len(out)-1]
		var ov string
		if order == OrderByScore {
			ov = strconv.FormatFloat(last.CombinedScore, 'f', -1, 64)
		} else {
			ov = last.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		next = encodeCursor(ov, last.ID)
	}
	return out, next, nil
}

// SearchFTS runs the lexical branch of §4.4 step 4 over the FTS5 shadow
// table, returning ids with a rank normalized to [0,1] by dividing by
// the page's maximum raw bm25 rank (bm25() is negative-is-better in
// SQLite's FTS5, so the sign is flipped before normalizing).
func (s *Store) SearchFTS(ctx context.Context, query string, limit int) (map[string]float64, error) {
	op := "store.SearchFTS"
	if ctx.Err() != nil {
		return nil, domain.Cancelled(op, ctx.Err())
	}
	if limit <= 0 {
		limit = domain.DefaultLimit
	}

	escaped := escapeFTS5Query(query)
	if escaped == "" {
		return map[string]float64{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories m ON m.id = memories_fts.id
		WHERE memories_fts MATCH ? AND m.status = ?
		ORDER BY rank LIMIT ?
	`, escaped, string(domain.StatusActive), limit)
	if err != nil {
		return nil, domain.StorageUnavailable(op, err)
	}
	defer rows.Close()

	type hit struct {
		id  string
		raw float64
	}
	var hits []hit
	maxRaw := 0.0
	for rows.Next() {
		var id string
		var raw float64
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, domain.Internal(op, err)
		}
		raw = -raw // bm25 is lower-is-better; flip so higher is better
		if raw > maxRaw {
			maxRaw = raw
		}
		hits = append(hits, hit{id: id, raw: raw})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageUnavailable(op, err)
	}

	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		if maxRaw <= 0 {
			out[h.id] = 0
			continue
		}
		out[h.id] = domain.Clamp01(h.raw / maxRaw)
	}
	return out, nil
}

// escapeFTS5Query quotes each token so punctuation in user input (which
// FTS5's query syntax would otherwise interpret as operators) is
// matched literally.
func escapeFTS5Query(q string) string {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return ""
	}
	for i, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		fields[i] = `"` + f + `"`
	}
	return strings.Join(fields, " ")
}

// GetMany resolves a set of ids back to full records in a single query,
// used by the search engine to hydrate ANN/FTS hits (§4.1: "a vector-
// search result is always resolved back through the relational half").
func (s *Store) GetMany(ctx context.Context, ids []string) (map[string]*domain.Memory, error) {
	op := "store.GetMany"
	if ctx.Err() != nil {
		return nil, domain.Cancelled(op, ctx.Err())
	}
	if len(ids) == 0 {
		return map[string]*domain.Memory{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, string(domain.StatusActive))

	q := fmt.Sprintf(`SELECT %s FROM memories WHERE id IN (%s) AND status = ?`, memoryColumns, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.StorageUnavailable(op, err)
	}
	defer rows.Close()

	out := make(map[string]*domain.Memory, len(ids))
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, domain.Internal(op, err)
		}
		out[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageUnavailable(op, err)
	}
	return out, nil
}

// BumpAccess increments access_count and sets last_accessed_at = now for
// every id, best-effort and fire-and-forget from the caller's
// perspective (§4.4 step 8: "these updates never block the response").
func (s *Store) BumpAccess(ctx context.Context, ids []string) error {
	op := "store.BumpAccess"
	if ctx.Err() != nil {
		return domain.Cancelled(op, ctx.Err())
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageUnavailable(op, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ? AND status = ?`)
	if err != nil {
		return domain.StorageUnavailable(op, err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, now, id, string(domain.StatusActive)); err != nil {
			return domain.StorageUnavailable(op, err)
		}
	}
	return tx.Commit()
}
