package engine

import "sort"

// TableChanges is the raw diff for one table within one committed
// transaction. Row ids appear in ascending order; Modified maps a row id to
// the logical property names that changed.
type TableChanges struct {
	Inserted []int64
	Deleted  []int64
	Modified map[int64][]string
}

// Changes is the raw per-commit diff handed to OnCommit callbacks.
type Changes struct {
	Version uint64
	Tables  map[string]*TableChanges
}

// Touched reports whether the commit changed the given table at all.
func (c *Changes) Touched(table string) bool {
	tc, ok := c.Tables[table]
	if !ok {
		return false
	}
	return len(tc.Inserted) > 0 || len(tc.Deleted) > 0 || len(tc.Modified) > 0
}

func newChanges() *Changes {
	return &Changes{Tables: map[string]*TableChanges{}}
}

func (c *Changes) table(name string) *TableChanges {
	tc, ok := c.Tables[name]
	if !ok {
		tc = &TableChanges{Modified: map[int64][]string{}}
		c.Tables[name] = tc
	}
	return tc
}

func (c *Changes) recordInsert(table string, rid int64) {
	tc := c.table(table)
	tc.Inserted = append(tc.Inserted, rid)
}

func (c *Changes) recordDelete(table string, rid int64) {
	tc := c.table(table)
	tc.Deleted = append(tc.Deleted, rid)
}

func (c *Changes) recordModify(table string, rid int64, props ...string) {
	tc := c.table(table)
	for _, p := range props {
		if !contains(tc.Modified[rid], p) {
			tc.Modified[rid] = append(tc.Modified[rid], p)
		}
	}
}

// normalize collapses intra-transaction churn so the diff describes the net
// effect of the commit:
//   - rows inserted and deleted in the same transaction vanish entirely
//   - modifications to rows inserted in the same transaction fold into the
//     insert
//   - modifications to rows deleted in the same transaction fold into the
//     delete
func (c *Changes) normalize() {
	for _, tc := range c.Tables {
		deleted := make(map[int64]bool, len(tc.Deleted))
		for _, rid := range tc.Deleted {
			deleted[rid] = true
		}

		inserted := make(map[int64]bool, len(tc.Inserted))
		keptIns := tc.Inserted[:0]
		for _, rid := range tc.Inserted {
			if deleted[rid] {
				// Inserted and deleted within the same transaction:
				// the row was never visible, drop both records.
				delete(deleted, rid)
				continue
			}
			inserted[rid] = true
			keptIns = append(keptIns, rid)
		}
		tc.Inserted = keptIns
		sort.Slice(tc.Inserted, func(i, j int) bool { return tc.Inserted[i] < tc.Inserted[j] })

		keptDel := tc.Deleted[:0]
		for rid := range deleted {
			keptDel = append(keptDel, rid)
		}
		sort.Slice(keptDel, func(i, j int) bool { return keptDel[i] < keptDel[j] })
		tc.Deleted = keptDel

		for rid := range tc.Modified {
			if inserted[rid] || deleted[rid] {
				delete(tc.Modified, rid)
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
