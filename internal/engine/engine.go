package engine

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

// Options configures an Open call.
type Options struct {
	// ReadOnly opens the store without write capability. The store file
	// must already exist.
	ReadOnly bool

	// SchemaVersion is recorded in the store file (PRAGMA user_version)
	// on write-capable opens. An existing higher version is kept.
	SchemaVersion uint64

	// Logger receives structured diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Engine is one open store instance.
//
// The connection pool is pinned to a single connection (SQLite supports one
// writer at a time), and Begin hands out at most one Tx at a time. While a
// Tx is active, reads route through it so uncommitted writes are visible to
// the owning session.
type Engine struct {
	db       *sql.DB
	path     string
	readOnly bool
	log      *slog.Logger
	tables   []TableSpec
	links    []LinkSpec

	writeMu sync.Mutex // single-writer invariant

	mu       sync.Mutex // guards activeTx, callbacks, closed
	activeTx *sql.Tx
	onCommit []func(*Changes)
	closed   bool

	version atomic.Uint64
}

// Open creates or opens a store at the given path, ensures the requested
// tables and link tables exist (additive evolution), and creates the
// sidecar lock and management artifacts.
//
// The database is configured with WAL journaling, NORMAL synchronous mode,
// a 5-second busy timeout, and foreign key enforcement.
func Open(path string, tables []TableSpec, links []LinkSpec, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dsn := path
	if opts.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open read-only store: %w", err)
		}
		dsn = "file:" + path + "?mode=ro"
	} else if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	// One writer at a time; a single pinned connection avoids
	// SQLITE_BUSY between our own reads and writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, opts.ReadOnly); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := ensureSchema(db, tables, links, opts); err != nil {
		db.Close()
		return nil, err
	}

	if !opts.ReadOnly {
		if err := createSidecars(path); err != nil {
			db.Close()
			return nil, fmt.Errorf("create sidecar artifacts: %w", err)
		}
	}

	e := &Engine{
		db:       db,
		path:     path,
		readOnly: opts.ReadOnly,
		log:      opts.Logger,
		tables:   tables,
		links:    links,
	}
	e.version.Store(1)
	registerOpen(path)
	e.log.Debug("store opened", "path", path, "read_only", opts.ReadOnly)
	return e, nil
}

// Close closes the store. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.onCommit = nil
	e.mu.Unlock()

	unregisterOpen(e.path)
	e.log.Debug("store closed", "path", e.path)
	return e.db.Close()
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Version returns the current snapshot version. It starts at 1 on open and
// advances by one per committed transaction.
func (e *Engine) Version() uint64 {
	return e.version.Load()
}

// OnCommit registers a callback invoked once per committed transaction with
// the raw per-table diff. Callbacks run synchronously on the committing
// goroutine, while the writer lock is still held, so the store state they
// observe is exactly the committed version.
func (e *Engine) OnCommit(fn func(*Changes)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCommit = append(e.onCommit, fn)
}

// querier returns the active transaction when one exists, else the pool.
func (e *Engine) querier() querier {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeTx != nil {
		return e.activeTx
	}
	return e.db
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// QueryRIDs executes a filter+sort query and returns ordered row ids.
// where may be empty (all rows); order may be empty (defaults to insertion
// order). Every query carries "_rid ASC" as a deterministic tiebreaker.
func (e *Engine) QueryRIDs(ctx context.Context, table, where string, args []any, order string) ([]int64, error) {
	q := `SELECT _rid FROM ` + quoteIdent(table)
	if where != "" {
		q += " WHERE " + where
	}
	if order != "" {
		q += " ORDER BY " + order + ", _rid ASC"
	} else {
		q += " ORDER BY _rid ASC"
	}

	rows, err := e.querier().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query rids: %w", err)
	}
	defer rows.Close()

	rids := []int64{}
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return nil, fmt.Errorf("scan rid: %w", err)
		}
		rids = append(rids, rid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rids: %w", err)
	}
	return rids, nil
}

// CountRIDs returns the number of rows matching a filter.
func (e *Engine) CountRIDs(ctx context.Context, table, where string, args []any) (int, error) {
	q := `SELECT COUNT(*) FROM ` + quoteIdent(table)
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := e.querier().QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rids: %w", err)
	}
	return n, nil
}

// RowExists reports whether a row id resolves in the current snapshot.
// Row ids are never reused, so false means the row was deleted (or never
// existed).
func (e *Engine) RowExists(ctx context.Context, table string, rid int64) (bool, error) {
	var one int
	err := e.querier().QueryRowContext(ctx,
		`SELECT 1 FROM `+quoteIdent(table)+` WHERE _rid = ?`, rid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve row: %w", err)
	}
	return true, nil
}

// GetRow resolves a row to its current column values, in the order of cols.
// Returns (nil, false, nil) if the row has been deleted.
func (e *Engine) GetRow(ctx context.Context, table string, rid int64, cols []string) ([]any, bool, error) {
	q := `SELECT ` + quoteIdents(cols) + ` FROM ` + quoteIdent(table) + ` WHERE _rid = ?`

	vals := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range vals {
		dest[i] = &vals[i]
	}
	err := e.querier().QueryRowContext(ctx, q, rid).Scan(dest...)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resolve row values: %w", err)
	}
	return vals, true, nil
}

// ListTargets returns the ordered target row ids of a link table for one
// owner. Duplicates are preserved.
func (e *Engine) ListTargets(ctx context.Context, link string, owner int64) ([]int64, error) {
	rows, err := e.querier().QueryContext(ctx,
		`SELECT target FROM `+quoteIdent(link)+` WHERE owner = ? ORDER BY pos ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("query list targets: %w", err)
	}
	defer rows.Close()

	targets := []int64{}
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan list target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate list targets: %w", err)
	}
	return targets, nil
}

// ListLen returns the number of entries in a link table for one owner.
func (e *Engine) ListLen(ctx context.Context, link string, owner int64) (int, error) {
	var n int
	err := e.querier().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+quoteIdent(link)+` WHERE owner = ?`, owner).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count list entries: %w", err)
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, readOnly bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if !readOnly {
		// Journal and sync modes rewrite the file header and cannot be
		// applied on a read-only connection.
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// createSidecars creates the lock file and management directory that
// accompany the store file.
func createSidecars(path string) error {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	f.Close()
	return os.MkdirAll(path+".management", 0o755)
}
