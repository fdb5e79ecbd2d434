package catalog

// SQL schema of the SQLite catalog. The tables table holds one pointer per
// table; commit_history records every successful swap for auditing and
// for listing previous metadata versions without reading metadata files.

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS tables (
    namespace TEXT NOT NULL,
    name TEXT NOT NULL,
    metadata_location TEXT NOT NULL,
    previous_metadata_location TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (namespace, name)
)`

const createCommitHistorySQL = `
CREATE TABLE IF NOT EXISTS commit_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    namespace TEXT NOT NULL,
    name TEXT NOT NULL,
    metadata_location TEXT NOT NULL,
    committed_at INTEGER NOT NULL
)`

const createCommitHistoryIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_commit_history_table ON commit_history(namespace, name, id)`

func allSchemaSQL() []string {
	return []string{createTablesSQL, createCommitHistorySQL, createCommitHistoryIndexSQL}
}
