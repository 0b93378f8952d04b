package meridian

import (
	"context"
	"fmt"

	"github.com/meridiandb/meridian/internal/engine"
)

// List is the live ordered collection behind one list property of one
// object. It preserves insertion order, allows duplicates, and reflects
// every committed change immediately.
//
// A List stores links, not rows: removing an entry never deletes the target
// object, and deleting a target object removes it from every list that
// references it.
type List struct {
	s          *Session
	owner      *Object
	pi         *propInfo
	targetInfo *typeInfo
}

// Owner returns the object the list belongs to.
func (l *List) Owner() *Object {
	return l.owner
}

// checkValid fails once the owning object's row is gone or the session is
// closed.
func (l *List) checkValid() error {
	live, err := l.owner.isRowLive()
	if err != nil {
		return err
	}
	if !live {
		return errInvalidCollection(l.owner.typeName, fmt.Sprintf("owner of list %q was deleted", l.pi.Name))
	}
	return nil
}

// Len returns the current number of entries.
func (l *List) Len() (int, error) {
	if err := l.checkValid(); err != nil {
		return 0, err
	}
	return l.s.eng.ListLen(context.Background(), l.pi.linkTable, l.owner.rid)
}

// At returns the entry at a position.
func (l *List) At(i int) (*Object, error) {
	targets, err := l.targets()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(targets) {
		return nil, errIndexOutOfRange(i, len(targets))
	}
	return l.handle(targets[i]), nil
}

// Append adds an object at the end of the list. An unmanaged object is
// added to the session first; appending the same object twice yields two
// entries. Must run inside Write.
func (l *List) Append(o *Object) error {
	tx, target, err := l.prepareMutation(o)
	if err != nil {
		return err
	}
	if err := tx.LinkAppend(context.Background(), l.pi.linkTable, l.owner.rid, target); err != nil {
		return fmt.Errorf("append to %s.%s: %w", l.owner.typeName, l.pi.Name, err)
	}
	tx.MarkModified(l.owner.info.table, l.owner.rid, l.pi.Name)
	return nil
}

// Insert adds an object at a position, shifting later entries up. A
// position equal to Len appends. Must run inside Write.
func (l *List) Insert(i int, o *Object) error {
	tx, target, err := l.prepareMutation(o)
	if err != nil {
		return err
	}
	ctx := context.Background()
	n, err := l.s.eng.ListLen(ctx, l.pi.linkTable, l.owner.rid)
	if err != nil {
		return err
	}
	if i < 0 || i > n {
		return errIndexOutOfRange(i, n)
	}
	if err := tx.LinkInsert(ctx, l.pi.linkTable, l.owner.rid, i, target); err != nil {
		return fmt.Errorf("insert into %s.%s: %w", l.owner.typeName, l.pi.Name, err)
	}
	tx.MarkModified(l.owner.info.table, l.owner.rid, l.pi.Name)
	return nil
}

// RemoveAt removes the entry at a position, shifting later entries down.
// The target object itself is untouched. Must run inside Write.
func (l *List) RemoveAt(i int) error {
	tx, err := l.mutationTx()
	if err != nil {
		return err
	}
	ctx := context.Background()
	n, err := l.s.eng.ListLen(ctx, l.pi.linkTable, l.owner.rid)
	if err != nil {
		return err
	}
	if i < 0 || i >= n {
		return errIndexOutOfRange(i, n)
	}
	if err := tx.LinkRemoveAt(ctx, l.pi.linkTable, l.owner.rid, i); err != nil {
		return fmt.Errorf("remove from %s.%s: %w", l.owner.typeName, l.pi.Name, err)
	}
	tx.MarkModified(l.owner.info.table, l.owner.rid, l.pi.Name)
	return nil
}

// Move relocates the entry at from to position to, preserving the relative
// order of everything else. Must run inside Write.
func (l *List) Move(from, to int) error {
	tx, err := l.mutationTx()
	if err != nil {
		return err
	}
	ctx := context.Background()
	n, err := l.s.eng.ListLen(ctx, l.pi.linkTable, l.owner.rid)
	if err != nil {
		return err
	}
	if from < 0 || from >= n {
		return errIndexOutOfRange(from, n)
	}
	if to < 0 || to >= n {
		return errIndexOutOfRange(to, n)
	}
	if err := tx.LinkMove(ctx, l.pi.linkTable, l.owner.rid, from, to); err != nil {
		return fmt.Errorf("move within %s.%s: %w", l.owner.typeName, l.pi.Name, err)
	}
	tx.MarkModified(l.owner.info.table, l.owner.rid, l.pi.Name)
	return nil
}

// Clear removes every entry. The target objects stay in the store. Must run
// inside Write.
func (l *List) Clear() error {
	tx, err := l.mutationTx()
	if err != nil {
		return err
	}
	if err := tx.LinkClear(context.Background(), l.pi.linkTable, l.owner.rid); err != nil {
		return fmt.Errorf("clear %s.%s: %w", l.owner.typeName, l.pi.Name, err)
	}
	tx.MarkModified(l.owner.info.table, l.owner.rid, l.pi.Name)
	return nil
}

// Query returns a live filtered view over the list's members. The view
// loses the list's manual order (it resolves in insertion order unless
// sorted) and collapses duplicate entries, but stays bound to the owning
// object: reads fail once the owner is deleted.
func (l *List) Query(pred string, args ...any) (*Results, error) {
	if err := l.checkValid(); err != nil {
		return nil, err
	}
	base := &Results{
		s:        l.s,
		info:     l.targetInfo,
		where:    "_rid IN (SELECT target FROM " + sqlQuote(l.pi.linkTable) + " WHERE owner = ?)",
		params:   []any{l.owner.rid},
		fromList: l,
	}
	if pred == "" {
		return base, nil
	}
	return base.Query(pred, args...)
}

// Snapshot materializes the list's current entries, in list order, as a
// frozen handle slice.
func (l *List) Snapshot() ([]*Object, error) {
	targets, err := l.targets()
	if err != nil {
		return nil, err
	}
	objs := make([]*Object, len(targets))
	for i, rid := range targets {
		objs[i] = l.handle(rid)
	}
	return objs, nil
}

func (l *List) snapshotObjects() ([]*Object, error) {
	return l.Snapshot()
}

// Observe subscribes to the list. Deliveries follow the same contract as
// Results.Observe, with Moved populated for reorderings.
func (l *List) Observe(fn func(ChangeSet), keyPaths ...string) (*Subscription, error) {
	if err := l.checkValid(); err != nil {
		return nil, err
	}
	return l.s.n.observeCollection(l, fn, keyPaths)
}

// memberTable, watchTables, and currentRIDs let the change notifier resolve
// the list after each commit. A deleted owner resolves to the empty
// sequence. Membership changes surface as modifications of the owning
// object, so the owner's table is watched alongside the target's.
func (l *List) memberTable() string { return l.targetInfo.table }

func (l *List) watchTables() []string {
	if l.owner.info.table == l.targetInfo.table {
		return []string{l.targetInfo.table}
	}
	return []string{l.owner.info.table, l.targetInfo.table}
}

func (l *List) currentRIDs() ([]int64, error) {
	live, err := l.owner.isRowLive()
	if err != nil || !live {
		return nil, err
	}
	return l.s.eng.ListTargets(context.Background(), l.pi.linkTable, l.owner.rid)
}

func (l *List) targets() ([]int64, error) {
	if err := l.checkValid(); err != nil {
		return nil, err
	}
	return l.s.eng.ListTargets(context.Background(), l.pi.linkTable, l.owner.rid)
}

func (l *List) handle(rid int64) *Object {
	return &Object{s: l.s, info: l.targetInfo, typeName: l.targetInfo.name, rid: rid}
}

// mutationTx validates the list and returns the active write transaction.
func (l *List) mutationTx() (*engine.Tx, error) {
	tx, err := l.s.currentTx()
	if err != nil {
		return nil, err
	}
	if err := l.checkValid(); err != nil {
		return nil, err
	}
	return tx, nil
}

// prepareMutation additionally resolves the object being linked in.
func (l *List) prepareMutation(o *Object) (*engine.Tx, int64, error) {
	tx, err := l.mutationTx()
	if err != nil {
		return nil, 0, err
	}
	stored, err := l.s.linkValue(l.owner.info, l.pi, o)
	if err != nil {
		return nil, 0, err
	}
	if stored == nil {
		e := newError(ErrCodeInvalidObject, "cannot add nil to a list")
		e.Type, e.Property = l.owner.typeName, l.pi.Name
		return nil, 0, e
	}
	return tx, stored.(int64), nil
}
