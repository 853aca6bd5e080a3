// Package store implements the Row Store Adapter (spec §4.1): a SQLite
// relational store with an FTS5 shadow table for lexical search, paired
// with an external HTTP vector-index client for approximate nearest
// neighbor search over embeddings (vector.go). Every exported method
// returns errors classified into the domain.ErrorKind taxonomy; callers
// never need to inspect driver-specific error types.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/memoryvault/memoryvault/internal/domain"
	"github.com/memoryvault/memoryvault/internal/logging"
)

// Config controls pool sizing and the retry/backoff budget described in
// §4.1's discipline paragraph and §7's retryable-error budget.
type Config struct {
	Path string

	PoolWaitTimeout   time.Duration
	StatementTimeout  time.Duration
	IdleTxTimeout     time.Duration

	RetryAttempts   int
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
}

func DefaultConfig(path string) Config {
	return Config{
		Path:             path,
		PoolWaitTimeout:  2 * time.Second,
		StatementTimeout: 5 * time.Second,
		IdleTxTimeout:    30 * time.Second,
		RetryAttempts:    3,
		RetryBackoffMin:  100 * time.Millisecond,
		RetryBackoffMax:  2 * time.Second,
	}
}

// Store is the Row Store Adapter. It owns a single-writer SQLite
// connection pool (WAL journal mode, one open connection, matching the
// reference codebase's own choice to serialize writes at the driver
// level rather than fight SQLite's file-level locking) and an optional
// vector-index client; Store works with a nil vector client, in which
// case vector_search degrades to an error the search engine already
// knows how to treat as EmbeddingUnavailable-adjacent.
type Store struct {
	db     *sql.DB
	cfg    Config
	vector *VectorIndex
	log    *logging.Logger

	mu sync.RWMutex // guards nothing on db itself (sql.DB is safe); serializes concurrent InitSchema calls (Close does not take it)
}

// Open creates the database file's parent directory if needed and opens
// a pooled connection with foreign keys and WAL mode enabled.
func Open(cfg Config) (*Store, error) {
	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.StorageUnavailable("store.Open", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, domain.StorageUnavailable("store.Open", err)
	}

	// A single writer connection avoids SQLITE_BUSY storms under
	// concurrent writers; WAL mode still lets readers proceed
	// concurrently with the one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, domain.StorageUnavailable("store.Open", err)
	}

	s := &Store{
		db:  db,
		cfg: cfg,
		log: logging.GetLogger("store"),
	}
	return s, nil
}

// SetVectorIndex wires in the ANN vector index client (nil disables
// vector_search without disabling the rest of the adapter).
func (s *Store) SetVectorIndex(v *VectorIndex) {
	s.vector = v
}

// VectorSearch is the vector_search(query_vec, k, filter) operation of
// §4.1: approximate nearest neighbors by cosine similarity restricted
// by filter. When no vector index is wired it returns a
// StorageUnavailable error, which the Search Engine in hybrid mode
// treats as a degraded semantic branch and falls back to the lexical
// branch.
func (s *Store) VectorSearch(ctx context.Context, vec []float32, k int, filter map[string]any) ([]ANNHit, error) {
	if s.vector == nil {
		return nil, domain.StorageUnavailable("store.VectorSearch", fmt.Errorf("no vector index configured"))
	}
	return s.vector.Search(ctx, vec, k, filter)
}

// VectorAvailable reports whether the ANN half of the adapter is
// currently reachable.
func (s *Store) VectorAvailable(ctx context.Context) bool {
	return s.vector != nil && s.vector.IsAvailable(ctx)
}

// InitSchema applies Schema and FTSSchema idempotently inside a single
// transaction, recording SchemaVersion on first application.
func (s *Store) InitSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageUnavailable("store.InitSchema", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, Schema); err != nil {
		return domain.Internal("store.InitSchema", fmt.Errorf("core schema: %w", err))
	}

	// FTS5 may be unavailable in exotic sqlite3 builds; degrade instead
	// of failing startup, matching the reference codebase's tolerance
	// for a missing full-text index.
	if _, err := tx.ExecContext(ctx, FTSSchema); err != nil {
		s.log.Warn("fts5 schema failed, lexical search will be unavailable", "error", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version(version) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM schema_version)`,
		SchemaVersion); err != nil {
		return domain.Internal("store.InitSchema", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.StorageUnavailable("store.InitSchema", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// boundedContext applies §4.1's pool-acquisition discipline: a context
// that already carries a deadline is respected as-is, whatever its
// length; otherwise PoolWaitTimeout bounds the wait. It returns no
// error of its own; expiry surfaces as the context's error.
func (s *Store) boundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.PoolWaitTimeout)
}

// withRetry runs fn up to cfg.RetryAttempts times with exponential
// backoff, for operations classified as retryable (StorageUnavailable /
// BackendOverloaded per §7). fn must itself classify its own errors.
func (s *Store) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := s.cfg.RetryBackoffMin
	var lastErr error
	for attempt := 0; attempt < max(1, s.cfg.RetryAttempts); attempt++ {
		if ctx.Err() != nil {
			return domain.Cancelled(op, ctx.Err())
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		kind := domain.KindOf(err)
		if kind != domain.KindStorageUnavailable && kind != domain.KindBackendOverloaded {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return domain.Cancelled(op, ctx.Err())
		}
		backoff *= 2
		if backoff > s.cfg.RetryBackoffMax {
			backoff = s.cfg.RetryBackoffMax
		}
	}
	return lastErr
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Stats reports raw counts used by the Health & Statistics component.
type Stats struct {
	TotalRows   int64
	ActiveRows  int64
	DeletedRows int64
	ByTier      map[domain.Tier]int64
	DBSizeBytes int64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	out := Stats{ByTier: map[domain.Tier]int64{}}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`)
	if err := row.Scan(&out.TotalRows); err != nil {
		return out, domain.StorageUnavailable("store.Stats", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE status = ?`, string(domain.StatusActive))
	if err := row.Scan(&out.ActiveRows); err != nil {
		return out, domain.StorageUnavailable("store.Stats", err)
	}
	out.DeletedRows = out.TotalRows - out.ActiveRows

	rows, err := s.db.QueryContext(ctx, `SELECT tier, COUNT(*) FROM memories WHERE status = ? GROUP BY tier`, string(domain.StatusActive))
	if err != nil {
		return out, domain.StorageUnavailable("store.Stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var count int64
		if err := rows.Scan(&tier, &count); err != nil {
			return out, domain.Internal("store.Stats", err)
		}
		out.ByTier[domain.Tier(tier)] = count
	}

	if s.cfg.Path != ":memory:" {
		if fi, err := os.Stat(s.cfg.Path); err == nil {
			out.DBSizeBytes = fi.Size()
		}
	}
	return out, nil
}

// Vacuum reclaims space after compaction.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return domain.StorageUnavailable("store.Vacuum", err)
	}
	return nil
}
