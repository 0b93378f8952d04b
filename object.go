package meridian

import (
	"context"
	"fmt"
)

// Object is a live handle to one stored row, or an unmanaged in-memory
// object that has not been added to a session yet.
//
// A managed handle never caches property values: every Get reads the
// current committed state (or the in-progress write transaction's state
// when called inside Write). Deleting the underlying row invalidates every
// handle to it.
type Object struct {
	s        *Session
	info     *typeInfo
	typeName string
	rid      int64

	// pending holds the property values of an unmanaged object until Add
	// persists them.
	pending map[string]any
}

// NewObject builds an unmanaged object. Property names and value types are
// validated when the object is added to a session, not here.
func NewObject(typeName string, values map[string]any) *Object {
	pending := make(map[string]any, len(values))
	for k, v := range values {
		pending[k] = v
	}
	return &Object{typeName: typeName, pending: pending}
}

// Type returns the object's schema type name.
func (o *Object) Type() string {
	return o.typeName
}

// Managed reports whether the handle is bound to a session.
func (o *Object) Managed() bool {
	return o.s != nil
}

// isRowLive reports whether the underlying row still exists. Unmanaged
// handles are never live rows.
func (o *Object) isRowLive() (bool, error) {
	if o.s == nil {
		return false, nil
	}
	if o.s.closed.Load() {
		return false, errClosedSession()
	}
	return o.s.eng.RowExists(context.Background(), o.info.table, o.rid)
}

// IsValid reports whether the handle can still be read through. Unmanaged
// objects are always valid; managed ones stay valid until their row is
// deleted or the session closes.
func (o *Object) IsValid() bool {
	if o.s == nil {
		return true
	}
	if o.s.closed.Load() {
		return false
	}
	live, err := o.isRowLive()
	return err == nil && live
}

// Equals reports whether two handles denote the same stored row. Unmanaged
// handles are equal only to themselves.
func (o *Object) Equals(other *Object) bool {
	if other == nil {
		return false
	}
	if o.s == nil || other.s == nil {
		return o == other
	}
	return o.s == other.s && o.info.table == other.info.table && o.rid == other.rid
}

// check validates that the handle can be read or written through, returning
// a typed error when the session is closed or the row is gone.
func (o *Object) check() error {
	live, err := o.isRowLive()
	if err != nil {
		return err
	}
	if !live {
		return errInvalidObject(o.typeName)
	}
	return nil
}

// Get reads one property. On an unmanaged object it returns the value
// passed to NewObject (or nil). On a managed object it reads the current
// row state; link properties return a handle to the target or nil.
//
// List properties are not readable through Get; use List.
func (o *Object) Get(name string) (any, error) {
	if o.s == nil {
		return o.pending[name], nil
	}
	if err := o.check(); err != nil {
		return nil, err
	}
	pi, err := o.propInfo(name)
	if err != nil {
		return nil, err
	}
	if pi.Type == ListType {
		e := newError(ErrCodeTypeMismatch, "property is a list; use List instead of Get")
		e.Type, e.Property = o.typeName, name
		return nil, e
	}

	row, ok, err := o.s.eng.GetRow(context.Background(), o.info.table, o.rid, []string{pi.column})
	if err != nil {
		return nil, fmt.Errorf("read %s.%s: %w", o.typeName, name, err)
	}
	if !ok {
		return nil, errInvalidObject(o.typeName)
	}
	raw := row[0]

	if pi.Type == ObjectType {
		if raw == nil {
			return nil, nil
		}
		target, err := o.s.reg.lookup(pi.LinkTarget)
		if err != nil {
			return nil, err
		}
		return &Object{s: o.s, info: target, typeName: target.name, rid: raw.(int64)}, nil
	}
	return fromStored(pi, raw), nil
}

// Set writes one property. On an unmanaged object the value is staged for
// Add. On a managed object Set must run inside Write; the primary key is
// immutable once persisted.
//
// Setting a link property to an unmanaged object adds that object first.
// nil clears links and stores NULL for scalars.
func (o *Object) Set(name string, v any) error {
	if o.s == nil {
		if o.pending == nil {
			o.pending = map[string]any{}
		}
		o.pending[name] = v
		return nil
	}

	tx, err := o.s.currentTx()
	if err != nil {
		return err
	}
	if err := o.check(); err != nil {
		return err
	}
	pi, err := o.propInfo(name)
	if err != nil {
		return err
	}
	if pi.PrimaryKey {
		e := newError(ErrCodeReadOnlyProperty, "primary key cannot be modified after the object is persisted")
		e.Type, e.Property = o.typeName, name
		return e
	}
	if pi.Type == ListType {
		e := newError(ErrCodeTypeMismatch, "property is a list; use List instead of Set")
		e.Type, e.Property = o.typeName, name
		return e
	}

	var stored any
	if pi.Type == ObjectType {
		stored, err = o.s.linkValue(o.info, pi, v)
	} else {
		stored, err = toStored(o.typeName, pi, v)
	}
	if err != nil {
		return err
	}

	err = tx.Update(context.Background(), o.info.table, o.rid, []string{pi.column}, []any{stored}, []string{pi.Name})
	if err != nil {
		return o.s.mapWriteError(err)
	}
	return nil
}

// List returns the live ordered collection behind a list property. Only
// available on managed objects.
func (o *Object) List(name string) (*List, error) {
	if o.s == nil {
		return nil, newError(ErrCodeInvalidCollection, "lists are only available on objects managed by a session")
	}
	if err := o.check(); err != nil {
		return nil, err
	}
	pi, err := o.propInfo(name)
	if err != nil {
		return nil, err
	}
	if pi.Type != ListType {
		e := newError(ErrCodeTypeMismatch, "property is not a list")
		e.Type, e.Property = o.typeName, name
		return nil, e
	}
	target, err := o.s.reg.lookup(pi.LinkTarget)
	if err != nil {
		return nil, err
	}
	return &List{s: o.s, owner: o, pi: pi, targetInfo: target}, nil
}

// Observe subscribes to changes of this object's row. The callback receives
// the modified property names after each commit that touches the row, or a
// final deletion notice after which the subscription cancels itself.
func (o *Object) Observe(fn func(ObjectChange)) (*Subscription, error) {
	if o.s == nil {
		return nil, newError(ErrCodeInvalidObject, "cannot observe an unmanaged object")
	}
	if err := o.check(); err != nil {
		return nil, err
	}
	return o.s.n.observeObject(o, fn)
}

func (o *Object) propInfo(name string) (*propInfo, error) {
	pi, ok := o.info.props[name]
	if !ok {
		e := newError(ErrCodeSchema, "unknown property")
		e.Type, e.Property = o.typeName, name
		return nil, e
	}
	return pi, nil
}
