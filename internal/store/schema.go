package store

// Schema is the relational half of the Row Store Adapter (§4.1, §6):
// the memories table, its indexes, and the FTS5 shadow table with sync
// triggers that keep the text-search index current without the
// application ever writing to memories_fts directly.
//
// Layout follows the column list from §6 exactly; embedding is stored as
// a BLOB of little-endian float32s (see encodeVector in codec.go) rather
// than JSON, since the column is written and read far more often than it
// is inspected by a human.
const Schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS memories (
	id                TEXT PRIMARY KEY,
	content           TEXT NOT NULL,
	content_hash      TEXT NOT NULL,
	embedding         BLOB,
	importance_score  REAL NOT NULL DEFAULT 0.5,
	recency_score     REAL NOT NULL DEFAULT 1.0,
	relevance_score   REAL NOT NULL DEFAULT 0.0,
	combined_score    REAL NOT NULL DEFAULT 0.5,
	access_count      INTEGER NOT NULL DEFAULT 0,
	tier              TEXT NOT NULL DEFAULT 'working',
	status            TEXT NOT NULL DEFAULT 'active',
	created_at        DATETIME NOT NULL,
	last_accessed_at  DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	metadata          TEXT NOT NULL DEFAULT '{}',
	tier_entered_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_content_hash_active
	ON memories(content_hash) WHERE status = 'active';

CREATE INDEX IF NOT EXISTS idx_memories_status_tier_importance
	ON memories(status, tier, importance_score) WHERE embedding IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at, status, tier);
CREATE INDEX IF NOT EXISTS idx_memories_combined_score ON memories(combined_score DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier, status);
`

// FTSSchema is a standalone (not external-content) FTS5 table, matched
// to the memories table by sync triggers: a standalone table survives a
// row's content being overwritten without needing the rowid bookkeeping
// that external-content FTS5 tables require.
const FTSSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	id UNINDEXED,
	content
);

CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(id, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
	DELETE FROM memories_fts WHERE id = old.id;
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE ON memories BEGIN
	UPDATE memories_fts SET content = new.content WHERE id = old.id;
END;
`

// SchemaVersion is bumped whenever Schema or FTSSchema changes shape.
const SchemaVersion = 1
