package meridian

import (
	"context"
	"fmt"
	"sync"

	"github.com/meridiandb/meridian/internal/rql"
)

// Results is a live, lazily evaluated view over the objects of one type,
// optionally filtered and sorted. Views are immutable: Query and Sort
// return new derived views and never mutate the receiver, so a view can be
// shared and refined concurrently.
//
// Every read re-resolves against the current snapshot version, so a view
// held across commits always reflects the latest committed state.
type Results struct {
	s    *Session
	info *typeInfo

	where  string
	params []any
	order  string

	// fromList pins the view to a list property; reads fail once the
	// owning object is deleted.
	fromList *List

	mu       sync.Mutex
	resolved bool
	ver      uint64
	rids     []int64
}

// All returns a live view of every object of the given type, ordered by
// insertion.
func (s *Session) All(typeName string) (*Results, error) {
	if s.closed.Load() {
		return nil, errClosedSession()
	}
	info, err := s.reg.lookup(typeName)
	if err != nil {
		return nil, err
	}
	return &Results{s: s, info: info}, nil
}

// Find looks up one object by primary key. Returns (nil, nil) when no live
// object carries the key.
func (s *Session) Find(typeName string, pk any) (*Object, error) {
	if s.closed.Load() {
		return nil, errClosedSession()
	}
	info, err := s.reg.lookup(typeName)
	if err != nil {
		return nil, err
	}
	if info.pk == nil {
		e := newError(ErrCodeSchema, "type has no primary key")
		e.Type = typeName
		return nil, e
	}
	stored, err := toStored(typeName, info.pk, pk)
	if err != nil {
		return nil, err
	}
	rids, err := s.eng.QueryRIDs(context.Background(), info.table, sqlQuote(info.pk.column)+" = ?", []any{stored}, "")
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", typeName, err)
	}
	if len(rids) == 0 {
		return nil, nil
	}
	return &Object{s: s, info: info, typeName: info.name, rid: rids[0]}, nil
}

// derive clones the view's definition without its cached resolution.
func (r *Results) derive() *Results {
	return &Results{
		s:        r.s,
		info:     r.info,
		where:    r.where,
		params:   append([]any(nil), r.params...),
		order:    r.order,
		fromList: r.fromList,
	}
}

// Query returns a new view narrowed by a string predicate with $N
// positional placeholders, for example:
//
//	cars.Query("make == $0 AND year >= $1", "Opel", 2018)
//
// The predicate is validated in full before anything executes; unknown
// properties, missing placeholder arguments, and comparisons between
// incompatible types fail here, never at iteration time.
func (r *Results) Query(pred string, args ...any) (*Results, error) {
	if r.s.closed.Load() {
		return nil, errClosedSession()
	}
	qargs := make([]rql.Arg, len(args))
	for i, a := range args {
		qa, err := r.queryArg(a)
		if err != nil {
			return nil, err
		}
		qargs[i] = qa
	}

	where, params, err := rql.Compile(pred, rqlSchema{ti: r.info}, qargs)
	if err != nil {
		return nil, r.mapCompileError(err)
	}

	next := r.derive()
	if next.where == "" {
		next.where = where
	} else {
		next.where = "(" + next.where + ") AND (" + where + ")"
	}
	next.params = append(next.params, params...)
	return next, nil
}

func (r *Results) queryArg(a any) (rql.Arg, error) {
	switch v := a.(type) {
	case nil:
		return rql.Arg{}, nil
	case string:
		return rql.Arg{Kind: rql.KindString, Value: v}, nil
	case int:
		return rql.Arg{Kind: rql.KindInt, Value: int64(v)}, nil
	case int64:
		return rql.Arg{Kind: rql.KindInt, Value: v}, nil
	case float64:
		return rql.Arg{Kind: rql.KindFloat, Value: v}, nil
	case bool:
		return rql.Arg{Kind: rql.KindBool, Value: v}, nil
	case *Object:
		if v == nil || v.s == nil {
			return rql.Arg{}, nil
		}
		if v.s != r.s {
			e := newError(ErrCodeQueryArgument, "query argument object belongs to a different session")
			e.Type = r.info.name
			return rql.Arg{}, e
		}
		return rql.Arg{Kind: rql.KindLink, Value: v.rid}, nil
	default:
		e := newError(ErrCodeQueryArgument, "unsupported query argument type %T", a)
		e.Type = r.info.name
		return rql.Arg{}, e
	}
}

func (r *Results) mapCompileError(err error) error {
	if rql.IsTypeMismatch(err) {
		e := newError(ErrCodeTypeMismatch, "%v", err)
		e.Type = r.info.name
		return e
	}
	e := newError(ErrCodeQueryArgument, "%v", err)
	e.Type = r.info.name
	return e
}

// Sort returns a new view ordered by one scalar property. Equal keys keep
// insertion order, so the ordering is deterministic across processes.
func (r *Results) Sort(prop string, ascending bool) (*Results, error) {
	if r.s.closed.Load() {
		return nil, errClosedSession()
	}
	pi, ok := r.info.props[prop]
	if !ok {
		e := newError(ErrCodeQueryArgument, "unknown sort property")
		e.Type, e.Property = r.info.name, prop
		return nil, e
	}
	if pi.Type == ObjectType || pi.Type == ListType {
		e := newError(ErrCodeQueryArgument, "cannot sort by a %s property", pi.Type)
		e.Type, e.Property = r.info.name, prop
		return nil, e
	}
	dir := "ASC"
	if !ascending {
		dir = "DESC"
	}
	next := r.derive()
	next.order = sqlQuote(pi.column) + " " + dir
	return next, nil
}

// refresh re-resolves the view when the snapshot version moved since the
// last resolution, and returns the current row id sequence.
func (r *Results) refresh() ([]int64, error) {
	if r.s.closed.Load() {
		return nil, errClosedSession()
	}
	if r.fromList != nil {
		if err := r.fromList.checkValid(); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Reads inside an open write transaction see its uncommitted state, so
	// the version-stamped cache only applies between transactions.
	inTx := r.s.inWrite.Load()
	ver := r.s.eng.Version()
	if !inTx && r.resolved && ver == r.ver {
		return r.rids, nil
	}
	rids, err := r.s.eng.QueryRIDs(context.Background(), r.info.table, r.where, r.params, r.order)
	if err != nil {
		return nil, fmt.Errorf("resolve %s view: %w", r.info.name, err)
	}
	if !inTx {
		r.resolved, r.ver, r.rids = true, ver, rids
	}
	return rids, nil
}

// Len returns the current number of objects in the view.
func (r *Results) Len() (int, error) {
	rids, err := r.refresh()
	if err != nil {
		return 0, err
	}
	return len(rids), nil
}

// At returns the object at a position in the view's current order.
func (r *Results) At(i int) (*Object, error) {
	rids, err := r.refresh()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(rids) {
		return nil, errIndexOutOfRange(i, len(rids))
	}
	return &Object{s: r.s, info: r.info, typeName: r.info.name, rid: rids[i]}, nil
}

// Snapshot materializes the view's current contents as a frozen handle
// slice. The slice does not track later commits; the handles stay live.
func (r *Results) Snapshot() ([]*Object, error) {
	rids, err := r.refresh()
	if err != nil {
		return nil, err
	}
	objs := make([]*Object, len(rids))
	for i, rid := range rids {
		objs[i] = &Object{s: r.s, info: r.info, typeName: r.info.name, rid: rid}
	}
	return objs, nil
}

func (r *Results) snapshotObjects() ([]*Object, error) {
	return r.Snapshot()
}

// Observe subscribes to the view. The first delivery is an empty baseline
// establishing the reference membership; each later commit that changes the
// view delivers a ChangeSet diff, in commit order. Optional key paths
// restrict NewModified to changes of the named properties.
func (r *Results) Observe(fn func(ChangeSet), keyPaths ...string) (*Subscription, error) {
	if r.s.closed.Load() {
		return nil, errClosedSession()
	}
	if r.fromList != nil {
		if err := r.fromList.checkValid(); err != nil {
			return nil, err
		}
	}
	return r.s.n.observeCollection(r, fn, keyPaths)
}

// memberTable, watchTables, and currentRIDs let the change notifier resolve
// the view after each commit.
func (r *Results) memberTable() string { return r.info.table }

func (r *Results) watchTables() []string {
	// Views derived from a list also change when the owning object's list
	// membership does.
	if r.fromList != nil {
		return r.fromList.watchTables()
	}
	return []string{r.info.table}
}

func (r *Results) currentRIDs() ([]int64, error) {
	return r.s.eng.QueryRIDs(context.Background(), r.info.table, r.where, r.params, r.order)
}
