package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Tx is one write transaction. At most one Tx is active per engine; Begin
// fails fast when a writer already holds the store.
//
// All writes go through Tx methods so the per-table diff handed to OnCommit
// callbacks is exact.
type Tx struct {
	e       *Engine
	tx      *sql.Tx
	changes *Changes
	done    bool
}

// Begin starts a write transaction. Returns ErrWriteInProgress when another
// transaction is active, ErrReadOnly on read-only engines, and ErrClosed
// after Close.
func (e *Engine) Begin(ctx context.Context) (*Tx, error) {
	if e.readOnly {
		return nil, ErrReadOnly
	}
	if !e.writeMu.TryLock() {
		return nil, ErrWriteInProgress
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.writeMu.Unlock()
		return nil, ErrClosed
	}
	e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		e.writeMu.Unlock()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	e.mu.Lock()
	e.activeTx = tx
	e.mu.Unlock()

	return &Tx{e: e, tx: tx, changes: newChanges()}, nil
}

// Commit commits the transaction, advances the snapshot version, and
// invokes OnCommit callbacks synchronously with the normalized diff before
// releasing the writer lock. Returns the new version.
func (t *Tx) Commit(ctx context.Context) (uint64, error) {
	if t.done {
		return 0, errors.New("transaction already finished")
	}
	t.done = true

	err := t.tx.Commit()
	t.e.mu.Lock()
	t.e.activeTx = nil
	callbacks := append([]func(*Changes){}, t.e.onCommit...)
	t.e.mu.Unlock()

	if err != nil {
		t.e.writeMu.Unlock()
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	ver := t.e.version.Add(1)
	t.changes.Version = ver
	t.changes.normalize()

	// Callbacks run while the writer lock is still held, so queries they
	// issue observe exactly this version.
	for _, fn := range callbacks {
		fn(t.changes)
	}
	t.e.log.Debug("transaction committed", "version", ver)

	t.e.writeMu.Unlock()
	return ver, nil
}

// Rollback discards the transaction. Safe to call after a failed Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true

	err := t.tx.Rollback()
	t.e.mu.Lock()
	t.e.activeTx = nil
	t.e.mu.Unlock()
	t.e.writeMu.Unlock()

	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// Insert adds a row and returns its new row id. cols and vals are parallel.
// A unique-constraint violation surfaces as *DuplicateKeyError.
func (t *Tx) Insert(ctx context.Context, table string, cols []string, vals []any) (int64, error) {
	q := `INSERT INTO ` + quoteIdent(table)
	if len(cols) > 0 {
		q += ` (` + quoteIdents(cols) + `) VALUES (` + placeholders(len(cols)) + `)`
	} else {
		q += ` DEFAULT VALUES`
	}

	res, err := t.tx.ExecContext(ctx, q, vals...)
	if err != nil {
		return 0, mapConstraintError(table, err)
	}
	rid, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert row id: %w", err)
	}
	t.changes.recordInsert(table, rid)
	return rid, nil
}

// Update overwrites columns of one row. props are the logical property
// names recorded in the diff (they may differ from column names for link
// columns).
func (t *Tx) Update(ctx context.Context, table string, rid int64, cols []string, vals []any, props []string) error {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quoteIdent(c) + " = ?"
	}
	q := `UPDATE ` + quoteIdent(table) + ` SET ` + strings.Join(sets, ", ") + ` WHERE _rid = ?`
	args := append(append([]any{}, vals...), rid)

	if _, err := t.tx.ExecContext(ctx, q, args...); err != nil {
		return mapConstraintError(table, err)
	}
	t.changes.recordModify(table, rid, props...)
	return nil
}

// MarkModified records a property change without touching the row itself.
// Used for list mutations, which live in link tables but are observed as
// changes to the owning object.
func (t *Tx) MarkModified(table string, rid int64, prop string) {
	t.changes.recordModify(table, rid, prop)
}

// DeleteRow removes a row and cascades link cleanup: entries owned by the
// row disappear with it, and entries in other lists that point at the row
// are removed, marking each affected owner as modified.
func (t *Tx) DeleteRow(ctx context.Context, table string, rid int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM `+quoteIdent(table)+` WHERE _rid = ?`, rid); err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	t.changes.recordDelete(table, rid)

	for _, l := range t.e.links {
		if l.OwnerTable == table {
			if _, err := t.tx.ExecContext(ctx,
				`DELETE FROM `+quoteIdent(l.Table)+` WHERE owner = ?`, rid); err != nil {
				return fmt.Errorf("delete owned links: %w", err)
			}
		}
		if l.TargetTable == table {
			if err := t.removeTargetLinks(ctx, l, rid); err != nil {
				return err
			}
		}
	}

	// Single-link columns pointing at the deleted row are cleared so no
	// dangling references survive. The affected rows count as modified.
	for _, spec := range t.e.tables {
		for _, col := range spec.Columns {
			if col.RefTable != table {
				continue
			}
			if err := t.clearLinkColumn(ctx, spec.Name, col.Name, rid); err != nil {
				return err
			}
		}
	}
	return nil
}

// clearLinkColumn nulls a single-link column wherever it references rid and
// records the affected rows as modified.
func (t *Tx) clearLinkColumn(ctx context.Context, table, column string, rid int64) error {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT _rid FROM `+quoteIdent(table)+` WHERE `+quoteIdent(column)+` = ?`, rid)
	if err != nil {
		return fmt.Errorf("query link column refs: %w", err)
	}
	refs := []int64{}
	for rows.Next() {
		var r int64
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return fmt.Errorf("scan link column ref: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate link column refs: %w", err)
	}
	rows.Close()

	if len(refs) == 0 {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE `+quoteIdent(table)+` SET `+quoteIdent(column)+` = NULL WHERE `+quoteIdent(column)+` = ?`,
		rid); err != nil {
		return fmt.Errorf("clear link column: %w", err)
	}
	for _, r := range refs {
		t.changes.recordModify(table, r, column)
	}
	return nil
}

// removeTargetLinks deletes every link entry pointing at target and
// compacts positions per affected owner.
func (t *Tx) removeTargetLinks(ctx context.Context, l LinkSpec, target int64) error {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT DISTINCT owner FROM `+quoteIdent(l.Table)+` WHERE target = ?`, target)
	if err != nil {
		return fmt.Errorf("query link owners: %w", err)
	}
	owners := []int64{}
	for rows.Next() {
		var o int64
		if err := rows.Scan(&o); err != nil {
			rows.Close()
			return fmt.Errorf("scan link owner: %w", err)
		}
		owners = append(owners, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate link owners: %w", err)
	}
	rows.Close()

	if len(owners) == 0 {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM `+quoteIdent(l.Table)+` WHERE target = ?`, target); err != nil {
		return fmt.Errorf("delete target links: %w", err)
	}
	for _, owner := range owners {
		if err := t.compactLinkPositions(ctx, l.Table, owner); err != nil {
			return err
		}
		t.changes.recordModify(l.OwnerTable, owner, l.OwnerProp)
	}
	return nil
}

// LinkAppend adds a target at the end of an owner's list.
func (t *Tx) LinkAppend(ctx context.Context, link string, owner, target int64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO `+quoteIdent(link)+` (owner, pos, target)
		 SELECT ?, COUNT(*), ? FROM `+quoteIdent(link)+` WHERE owner = ?`,
		owner, target, owner)
	if err != nil {
		return fmt.Errorf("append link: %w", err)
	}
	return nil
}

// LinkInsert adds a target at pos, shifting later entries up.
func (t *Tx) LinkInsert(ctx context.Context, link string, owner int64, pos int, target int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE `+quoteIdent(link)+` SET pos = pos + 1 WHERE owner = ? AND pos >= ?`,
		owner, pos); err != nil {
		return fmt.Errorf("shift link positions: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO `+quoteIdent(link)+` (owner, pos, target) VALUES (?, ?, ?)`,
		owner, pos, target); err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// LinkRemoveAt removes the entry at pos, shifting later entries down.
func (t *Tx) LinkRemoveAt(ctx context.Context, link string, owner int64, pos int) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM `+quoteIdent(link)+` WHERE owner = ? AND pos = ?`,
		owner, pos); err != nil {
		return fmt.Errorf("remove link: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE `+quoteIdent(link)+` SET pos = pos - 1 WHERE owner = ? AND pos > ?`,
		owner, pos); err != nil {
		return fmt.Errorf("compact link positions: %w", err)
	}
	return nil
}

// LinkMove relocates the entry at from to position to.
func (t *Tx) LinkMove(ctx context.Context, link string, owner int64, from, to int) error {
	if from == to {
		return nil
	}
	var target int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT target FROM `+quoteIdent(link)+` WHERE owner = ? AND pos = ?`,
		owner, from).Scan(&target)
	if err != nil {
		return fmt.Errorf("resolve moved link: %w", err)
	}
	if err := t.LinkRemoveAt(ctx, link, owner, from); err != nil {
		return err
	}
	return t.LinkInsert(ctx, link, owner, to, target)
}

// LinkClear removes all entries for one owner. Targets are untouched.
func (t *Tx) LinkClear(ctx context.Context, link string, owner int64) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM `+quoteIdent(link)+` WHERE owner = ?`, owner); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	return nil
}

// compactLinkPositions renumbers an owner's entries to 0..n-1 preserving
// order. Needed after bulk deletions by target.
func (t *Tx) compactLinkPositions(ctx context.Context, link string, owner int64) error {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT rowid FROM `+quoteIdent(link)+` WHERE owner = ? ORDER BY pos ASC`, owner)
	if err != nil {
		return fmt.Errorf("query link rows: %w", err)
	}
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan link row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate link rows: %w", err)
	}
	rows.Close()

	for pos, id := range ids {
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE `+quoteIdent(link)+` SET pos = ? WHERE rowid = ?`, pos, id); err != nil {
			return fmt.Errorf("renumber link row: %w", err)
		}
	}
	return nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// mapConstraintError converts SQLite unique-constraint violations into
// *DuplicateKeyError; other errors pass through wrapped.
func mapConstraintError(table string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return &DuplicateKeyError{Table: table, Column: constraintColumn(se.Error())}
		}
	}
	return fmt.Errorf("write row: %w", err)
}

// constraintColumn extracts the column from messages like
// "UNIQUE constraint failed: obj_Car.make".
func constraintColumn(msg string) string {
	i := strings.LastIndex(msg, ": ")
	if i < 0 {
		return ""
	}
	qualified := msg[i+2:]
	if j := strings.LastIndex(qualified, "."); j >= 0 {
		return qualified[j+1:]
	}
	return qualified
}
