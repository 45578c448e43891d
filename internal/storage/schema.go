package storage

// Schema is the SQL schema for the knowledge base. Every statement is
// idempotent so Initialize can run against an existing database.
const Schema = `
CREATE TABLE IF NOT EXISTS insights (
    id              TEXT PRIMARY KEY,
    title           TEXT NOT NULL CHECK(length(trim(title)) > 0),
    description     TEXT NOT NULL CHECK(length(trim(description)) > 0),
    category        TEXT NOT NULL CHECK(length(trim(category)) > 0),
    source_video_id TEXT NULL,
    confidence      REAL NOT NULL DEFAULT 1.0
                    CHECK(confidence >= 0.0 AND confidence <= 1.0),
    tags            TEXT NOT NULL DEFAULT '[]',
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
    id          TEXT PRIMARY KEY,
    video_id    TEXT NOT NULL UNIQUE,
    title       TEXT NOT NULL,
    channel     TEXT NOT NULL DEFAULT '',
    upload_date TEXT NOT NULL DEFAULT '',
    views       INTEGER NOT NULL DEFAULT 0,
    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_entries (
    id         TEXT PRIMARY KEY,
    insight_id TEXT NULL,
    date       TEXT NOT NULL,
    status     TEXT NOT NULL,
    time_spent INTEGER NOT NULL DEFAULT 0,
    notes      TEXT NOT NULL DEFAULT '',
    success    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS relationships (
    id                TEXT PRIMARY KEY,
    source_id         TEXT NOT NULL REFERENCES insights(id),
    target_id         TEXT NOT NULL REFERENCES insights(id),
    relationship_type TEXT NOT NULL
                      CHECK(relationship_type IN ('similar', 'prerequisite', 'alternative',
                            'complement', 'supersedes', 'duplicate', 'related')),
    strength          REAL NOT NULL DEFAULT 0.5
                      CHECK(strength >= 0.0 AND strength <= 1.0),
    created_at        TEXT NOT NULL,
    UNIQUE(source_id, target_id, relationship_type)
);

CREATE VIRTUAL TABLE IF NOT EXISTS insights_fts USING fts5(
    title,
    description,
    tags,
    content='insights',
    content_rowid='rowid'
);

CREATE INDEX IF NOT EXISTS idx_insights_category ON insights(category);
CREATE INDEX IF NOT EXISTS idx_insights_created ON insights(created_at);
CREATE INDEX IF NOT EXISTS idx_insights_video ON insights(source_video_id) WHERE source_video_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_insights_confidence ON insights(confidence);
CREATE INDEX IF NOT EXISTS idx_journal_insight ON journal_entries(insight_id, date);
CREATE INDEX IF NOT EXISTS idx_journal_date ON journal_entries(date);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(relationship_type);
`

// Triggers keep insights_fts in step with insights inside the writing
// transaction, so a committed write is always searchable.
const Triggers = `
CREATE TRIGGER IF NOT EXISTS insights_ai AFTER INSERT ON insights BEGIN
    INSERT INTO insights_fts(rowid, title, description, tags)
    VALUES (new.rowid, new.title, new.description, new.tags);
END;
CREATE TRIGGER IF NOT EXISTS insights_ad AFTER DELETE ON insights BEGIN
    INSERT INTO insights_fts(insights_fts, rowid, title, description, tags)
    VALUES ('delete', old.rowid, old.title, old.description, old.tags);
END;
CREATE TRIGGER IF NOT EXISTS insights_au AFTER UPDATE ON insights BEGIN
    INSERT INTO insights_fts(insights_fts, rowid, title, description, tags)
    VALUES ('delete', old.rowid, old.title, old.description, old.tags);
    INSERT INTO insights_fts(rowid, title, description, tags)
    VALUES (new.rowid, new.title, new.description, new.tags);
END;
`

// dsnPragmas configures SQLite for a single writer with concurrent readers.
const dsnPragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)"

// insightColumns is the canonical select list consumed by scanInsight.
const insightColumns = `i.id, i.title, i.description, i.category, i.source_video_id,
	i.confidence, i.tags, i.metadata, i.created_at, i.updated_at`

// InsightColumns exposes insightColumns to read-only collaborators; rows must
// alias insights as "i".
const InsightColumns = insightColumns
