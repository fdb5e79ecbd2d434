package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	strataerrors "github.com/arkilian/strata/internal/errors"
)

// SQLiteCatalog keeps table pointers in a SQLite database. A commit is a
// conditional UPDATE on the current metadata location.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	dbPath string
	mu     sync.Mutex
	now    func() time.Time
}

// HistoryEntry is one successful pointer swap.
type HistoryEntry struct {
	MetadataLocation string
	CommittedAt      time.Time
}

// NewSQLiteCatalog opens or creates the catalog database at dbPath.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &SQLiteCatalog{db: db, dbPath: dbPath, now: time.Now}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	c.readDB = readDB
	return c, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range allSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (c *SQLiteCatalog) CreateTable(ctx context.Context, id Identifier, metadataLocation string) error {
	if err := id.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixMilli()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return strataerrors.NewInternalError("begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tables (namespace, name, metadata_location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, name) DO NOTHING`,
		id.Namespace, id.Name, metadataLocation, now, now)
	if err != nil {
		return strataerrors.NewInternalError("insert table", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return alreadyExists(id)
	}
	if err := recordCommit(ctx, tx, id, metadataLocation, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return strataerrors.NewInternalError("commit transaction", err)
	}
	return nil
}

func (c *SQLiteCatalog) LoadTable(ctx context.Context, id Identifier) (string, error) {
	var loc string
	err := c.readDB.QueryRowContext(ctx,
		`SELECT metadata_location FROM tables WHERE namespace = ? AND name = ?`,
		id.Namespace, id.Name).Scan(&loc)
	if err == sql.ErrNoRows {
		return "", notFound(id)
	}
	if err != nil {
		return "", strataerrors.NewInternalError("load table", err)
	}
	return loc, nil
}

func (c *SQLiteCatalog) Commit(ctx context.Context, id Identifier, expected, next string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixMilli()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return strataerrors.NewInternalError("begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tables
		SET metadata_location = ?, previous_metadata_location = ?, updated_at = ?
		WHERE namespace = ? AND name = ? AND metadata_location = ?`,
		next, expected, now, id.Namespace, id.Name, expected)
	if err != nil {
		return strataerrors.NewInternalError("update table pointer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var actual string
		err := tx.QueryRowContext(ctx,
			`SELECT metadata_location FROM tables WHERE namespace = ? AND name = ?`,
			id.Namespace, id.Name).Scan(&actual)
		if err == sql.ErrNoRows {
			return notFound(id)
		}
		if err != nil {
			return strataerrors.NewInternalError("load table", err)
		}
		return conflict(id, expected, actual)
	}
	if err := recordCommit(ctx, tx, id, next, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return strataerrors.NewInternalError("commit transaction", err)
	}
	return nil
}

func recordCommit(ctx context.Context, tx *sql.Tx, id Identifier, location string, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO commit_history (namespace, name, metadata_location, committed_at)
		VALUES (?, ?, ?, ?)`, id.Namespace, id.Name, location, now)
	if err != nil {
		return strataerrors.NewInternalError("record commit", err)
	}
	return nil
}

// DropTable removes the pointer and its commit history.
func (c *SQLiteCatalog) DropTable(ctx context.Context, id Identifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return strataerrors.NewInternalError("begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tables WHERE namespace = ? AND name = ?`, id.Namespace, id.Name)
	if err != nil {
		return strataerrors.NewInternalError("drop table", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM commit_history WHERE namespace = ? AND name = ?`, id.Namespace, id.Name); err != nil {
		return strataerrors.NewInternalError("drop commit history", err)
	}
	if err := tx.Commit(); err != nil {
		return strataerrors.NewInternalError("commit transaction", err)
	}
	return nil
}

func (c *SQLiteCatalog) ListTables(ctx context.Context, namespace string) ([]Identifier, error) {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT name FROM tables WHERE namespace = ? ORDER BY name`, namespace)
	if err != nil {
		return nil, strataerrors.NewInternalError("list tables", err)
	}
	defer rows.Close()

	var out []Identifier
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, strataerrors.NewInternalError("scan table", err)
		}
		out = append(out, Identifier{Namespace: namespace, Name: name})
	}
	return out, rows.Err()
}

func (c *SQLiteCatalog) TableExists(ctx context.Context, id Identifier) (bool, error) {
	_, err := c.LoadTable(ctx, id)
	if strataerrors.GetCode(err) == strataerrors.CodeTableNotFound {
		return false, nil
	}
	return err == nil, err
}

// History returns the table's pointer swaps, oldest first.
func (c *SQLiteCatalog) History(ctx context.Context, id Identifier) ([]HistoryEntry, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT metadata_location, committed_at FROM commit_history
		WHERE namespace = ? AND name = ? ORDER BY id`, id.Namespace, id.Name)
	if err != nil {
		return nil, strataerrors.NewInternalError("read commit history", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			loc string
			ms  int64
		)
		if err := rows.Scan(&loc, &ms); err != nil {
			return nil, strataerrors.NewInternalError("scan commit history", err)
		}
		out = append(out, HistoryEntry{MetadataLocation: loc, CommittedAt: time.UnixMilli(ms)})
	}
	return out, rows.Err()
}

// Close closes both database connections.
func (c *SQLiteCatalog) Close() error {
	var firstErr error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
