package meridian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/meridiandb/meridian/internal/engine"
)

// Session is one open view of a store. It owns every Object handle,
// collection view, and subscription created under it; Close invalidates
// them all.
//
// A Session is safe for concurrent read-only access. Mutation follows the
// storage engine's single-writer model: one Write at a time, concurrent
// writers fail fast.
type Session struct {
	cfg Config
	log *slog.Logger
	reg *registry
	eng *engine.Engine
	n   *notifier

	closeMu sync.Mutex
	closed  atomic.Bool

	inWrite atomic.Bool
	txMu    sync.Mutex
	tx      *engine.Tx
}

// Open validates the configuration's schema set and opens (or creates) the
// store at the configured path.
//
// Schema evolution is additive: new properties are added to the on-disk
// schema, and on-disk types or properties absent from the requested schema
// stay in the file but are not exposed. A read-only open requires the store
// file to exist.
func Open(cfg Config) (*Session, error) {
	cfg = cfg.normalized()

	reg, err := newRegistry(cfg.Schema)
	if err != nil {
		return nil, err
	}

	tables, links := reg.engineTables()
	eng, err := engine.Open(cfg.Path, tables, links, engine.Options{
		ReadOnly:      cfg.ReadOnly,
		SchemaVersion: cfg.SchemaVersion,
		Logger:        cfg.Logger,
	})
	if err != nil {
		if engine.IsSchemaMismatch(err) {
			return nil, newError(ErrCodeSchema, "incompatible on-disk schema: %v", err)
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, newError(ErrCodeFileAccess, "store file not found at %s", cfg.Path)
		}
		return nil, newError(ErrCodeFileAccess, "cannot open store at %s: %v", cfg.Path, err)
	}

	s := &Session{cfg: cfg, log: cfg.Logger, reg: reg, eng: eng}
	s.n = newNotifier(s)
	eng.OnCommit(s.n.onCommit)
	return s, nil
}

// Close closes the session and invalidates every handle, view, and
// subscription created under it. Idempotent: closing an already-closed
// session is a no-op, never an error.
func (s *Session) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed.Load() {
		return nil
	}
	s.closed.Store(true)
	s.n.cancelAll()
	return s.eng.Close()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Path returns the store file path the session was opened against.
func (s *Session) Path() string {
	return s.cfg.Path
}

// Version returns the current snapshot version. It advances by one per
// committed write transaction.
func (s *Session) Version() uint64 {
	return s.eng.Version()
}

// Write brackets a mutating operation. The body runs inside the session's
// single write transaction: on a nil return the transaction commits,
// advancing the snapshot version and scheduling change notifications; on an
// error return every write is rolled back and the body's error is
// propagated unchanged.
//
// Write fails fast with a transaction-state error when called reentrantly
// or while another writer is active, and with a permission error on
// read-only sessions.
func (s *Session) Write(fn func() error) error {
	if s.closed.Load() {
		return errClosedSession()
	}
	if s.cfg.ReadOnly {
		return newError(ErrCodePermission, "cannot write in a read-only session")
	}
	if !s.inWrite.CompareAndSwap(false, true) {
		return newError(ErrCodeTransactionState, "write transaction already in progress")
	}
	defer s.inWrite.Store(false)

	ctx := context.Background()
	tx, err := s.eng.Begin(ctx)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrWriteInProgress):
			return newError(ErrCodeTransactionState, "write transaction already in progress")
		case errors.Is(err, engine.ErrClosed):
			return errClosedSession()
		default:
			return newError(ErrCodeFileAccess, "begin write: %v", err)
		}
	}
	s.setTx(tx)
	defer s.setTx(nil)

	if err := fn(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback failed", "error", rbErr)
		}
		return err
	}

	if _, err := tx.Commit(ctx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback after failed commit failed", "error", rbErr)
		}
		return s.mapWriteError(err)
	}
	return nil
}

func (s *Session) setTx(tx *engine.Tx) {
	s.txMu.Lock()
	s.tx = tx
	s.txMu.Unlock()
}

// currentTx returns the active write transaction, or a transaction-state
// error when no Write is in progress.
func (s *Session) currentTx() (*engine.Tx, error) {
	if s.closed.Load() {
		return nil, errClosedSession()
	}
	s.txMu.Lock()
	tx := s.tx
	s.txMu.Unlock()
	if tx == nil {
		return nil, newError(ErrCodeTransactionState, "mutation outside a write transaction")
	}
	return tx, nil
}

// mapWriteError converts engine write failures to typed errors.
func (s *Session) mapWriteError(err error) error {
	var de *engine.DuplicateKeyError
	if errors.As(err, &de) {
		e := newError(ErrCodeDuplicateKey, "primary key value already exists")
		e.Type = typeNameFromTable(de.Table)
		e.Property = de.Column
		return e
	}
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	return fmt.Errorf("write failed: %w", err)
}

// Create builds and persists a new object in one step. Must run inside
// Write. Equivalent to Add(NewObject(typeName, values)).
func (s *Session) Create(typeName string, values map[string]any) (*Object, error) {
	return s.Add(NewObject(typeName, values))
}

// Add persists an unmanaged object handle, returning the now-managed
// handle. Adding a handle this session already manages is idempotent and
// returns it unchanged. Must run inside Write.
//
// A primary-key collision with a live row fails the enclosing Write with a
// duplicate-key error.
func (s *Session) Add(o *Object) (*Object, error) {
	if o == nil {
		return nil, newError(ErrCodeInvalidObject, "cannot add nil object")
	}
	if o.s == s && o.rid != 0 {
		return o, nil
	}
	if o.s != nil {
		e := newError(ErrCodeInvalidObject, "object is managed by a different session")
		e.Type = o.typeName
		return nil, e
	}

	tx, err := s.currentTx()
	if err != nil {
		return nil, err
	}
	info, err := s.reg.lookup(o.typeName)
	if err != nil {
		return nil, err
	}

	var cols []string
	var vals []any
	var lists []pendingList
	for name, v := range o.pending {
		pi, ok := info.props[name]
		if !ok {
			e := newError(ErrCodeSchema, "unknown property")
			e.Type, e.Property = info.name, name
			return nil, e
		}
		switch pi.Type {
		case ListType:
			targets, err := s.pendingListTargets(info, pi, v)
			if err != nil {
				return nil, err
			}
			lists = append(lists, pendingList{pi: pi, targets: targets})
		case ObjectType:
			stored, err := s.linkValue(info, pi, v)
			if err != nil {
				return nil, err
			}
			cols = append(cols, pi.column)
			vals = append(vals, stored)
		default:
			stored, err := toStored(info.name, pi, v)
			if err != nil {
				return nil, err
			}
			cols = append(cols, pi.column)
			vals = append(vals, stored)
		}
	}

	ctx := context.Background()
	rid, err := tx.Insert(ctx, info.table, cols, vals)
	if err != nil {
		return nil, s.mapWriteError(err)
	}

	o.s = s
	o.info = info
	o.rid = rid
	o.pending = nil

	for _, pl := range lists {
		for _, target := range pl.targets {
			if err := tx.LinkAppend(ctx, pl.pi.linkTable, rid, target); err != nil {
				return nil, fmt.Errorf("append initial list entry: %w", err)
			}
		}
		tx.MarkModified(info.table, rid, pl.pi.Name)
	}
	return o, nil
}

type pendingList struct {
	pi      *propInfo
	targets []int64
}

// pendingListTargets resolves an initial list value ([]*Object) supplied to
// NewObject, adding unmanaged targets along the way.
func (s *Session) pendingListTargets(info *typeInfo, pi *propInfo, v any) ([]int64, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]*Object)
	if !ok {
		e := newError(ErrCodeTypeMismatch, "value %T does not match list property", v)
		e.Type, e.Property = info.name, pi.Name
		return nil, e
	}
	rids := make([]int64, 0, len(items))
	for _, item := range items {
		stored, err := s.linkValue(info, pi, item)
		if err != nil {
			return nil, err
		}
		rids = append(rids, stored.(int64))
	}
	return rids, nil
}

// linkValue resolves a link-typed value to its target row id, adding
// unmanaged targets to the session first. nil clears the link.
func (s *Session) linkValue(info *typeInfo, pi *propInfo, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	target, ok := v.(*Object)
	if !ok {
		e := newError(ErrCodeTypeMismatch, "value %T does not match link property", v)
		e.Type, e.Property = info.name, pi.Name
		return nil, e
	}
	if target == nil {
		return nil, nil
	}
	if target.typeName != pi.LinkTarget {
		e := newError(ErrCodeTypeMismatch, "cannot link object of type %s where %s is expected", target.typeName, pi.LinkTarget)
		e.Type, e.Property = info.name, pi.Name
		return nil, e
	}
	if target.s == nil {
		added, err := s.Add(target)
		if err != nil {
			return nil, err
		}
		return added.rid, nil
	}
	if target.s != s {
		e := newError(ErrCodeInvalidObject, "link target is managed by a different session")
		e.Type, e.Property = info.name, pi.Name
		return nil, e
	}
	valid, err := target.isRowLive()
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, errInvalidObject(target.typeName)
	}
	return target.rid, nil
}

// Delete removes an object's row from the store. Every handle to the row
// becomes invalid, and the row disappears from every list referencing it.
// Must run inside Write.
func (s *Session) Delete(o *Object) error {
	tx, err := s.currentTx()
	if err != nil {
		return err
	}
	if o == nil || o.s == nil {
		return newError(ErrCodeInvalidObject, "cannot delete an unmanaged object")
	}
	if o.s != s {
		e := newError(ErrCodeInvalidObject, "object is managed by a different session")
		e.Type = o.typeName
		return e
	}
	live, err := o.isRowLive()
	if err != nil {
		return err
	}
	if !live {
		return errInvalidObject(o.typeName)
	}
	return tx.DeleteRow(context.Background(), o.info.table, o.rid)
}

// Iterable is a source of object handles accepted by DeleteMany: a
// *Results, a *List, or an ObjectSlice.
type Iterable interface {
	snapshotObjects() ([]*Object, error)
}

// ObjectSlice adapts a plain handle slice to DeleteMany.
type ObjectSlice []*Object

func (os ObjectSlice) snapshotObjects() ([]*Object, error) {
	return os, nil
}

// DeleteMany deletes the underlying rows of every object produced by the
// iterable — not just links. Deleting a row referenced by multiple lists
// removes it from all of them. Must run inside Write.
//
// Calling DeleteMany on a collection view whose defining object has been
// deleted fails with an invalid-collection error.
func (s *Session) DeleteMany(src Iterable) error {
	if _, err := s.currentTx(); err != nil {
		return err
	}
	objs, err := src.snapshotObjects()
	if err != nil {
		return err
	}
	// Row ids are per-table, so dedup must key on the table as well.
	type rowKey struct {
		table string
		rid   int64
	}
	seen := map[rowKey]bool{}
	for _, o := range objs {
		if o.s != nil && seen[rowKey{o.info.table, o.rid}] {
			continue
		}
		if err := s.Delete(o); err != nil {
			return err
		}
		seen[rowKey{o.info.table, o.rid}] = true
	}
	return nil
}

// DeleteStore removes a store file and its sidecar artifacts (<path>,
// <path>.lock, <path>.management/). Fails while any open session in this
// process holds the path.
func DeleteStore(path string) error {
	err := engine.Remove(path)
	if errors.Is(err, engine.ErrStoreInUse) {
		return newError(ErrCodeFileAccess, "store at %s has open sessions", path)
	}
	return err
}
