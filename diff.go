package meridian

import "sort"

// Move describes one surviving entry that changed position between two
// deliveries of an observed collection.
type Move struct {
	From int
	To   int
}

// ChangeSet describes how an observed collection changed between two
// consecutive deliveries. Indices in Deleted, Modified, and Moved.From
// refer to the previous delivery's order; indices in Inserted, NewModified,
// and Moved.To refer to the current one.
//
// Modified lists every surviving entry whose content changed. NewModified
// is the subset covered by the property interest declared at Observe time;
// with no declared interest the two carry the same entries in the two
// coordinate systems.
//
// Applying Deleted (descending), then Inserted (ascending), then Moved to
// the previous snapshot reproduces the current one.
type ChangeSet struct {
	Inserted    []int
	Deleted     []int
	Modified    []int
	NewModified []int
	Moved       []Move
}

// Empty reports whether the change set carries no changes.
func (c ChangeSet) Empty() bool {
	return len(c.Inserted) == 0 && len(c.Deleted) == 0 &&
		len(c.Modified) == 0 && len(c.Moved) == 0
}

// ObjectChange describes one delivery of an object subscription: either the
// names of the properties that changed, or the final deletion notice.
type ObjectChange struct {
	// Deleted is true for the final delivery after the object's row is
	// removed. Properties is empty in that case.
	Deleted bool

	// Properties lists the modified property names, including list
	// properties whose membership or order changed.
	Properties []string
}

// diffRIDs computes the ChangeSet between two row id sequences. modified
// maps each changed row id to the names of its changed properties; interest
// restricts NewModified to rows with a change in one of the named
// properties, empty interest meaning every change counts.
//
// Duplicate row ids (lists allow them) are matched by occurrence: the k-th
// occurrence in the old sequence pairs with the k-th occurrence in the new
// one. Surviving pairs outside a longest increasing subsequence of new
// positions are reported as moves, so the move list is minimal.
func diffRIDs(old, new []int64, modified map[int64][]string, interest []string) ChangeSet {
	var cs ChangeSet

	// Pair occurrences of each rid in order.
	newIdxByRID := make(map[int64][]int, len(new))
	for i, rid := range new {
		newIdxByRID[rid] = append(newIdxByRID[rid], i)
	}

	type pair struct{ oldIdx, newIdx int }
	pairs := make([]pair, 0, len(old))
	for i, rid := range old {
		q := newIdxByRID[rid]
		if len(q) == 0 {
			cs.Deleted = append(cs.Deleted, i)
			continue
		}
		pairs = append(pairs, pair{oldIdx: i, newIdx: q[0]})
		newIdxByRID[rid] = q[1:]
	}

	matchedNew := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		matchedNew[p.newIdx] = true
	}
	for i := range new {
		if !matchedNew[i] {
			cs.Inserted = append(cs.Inserted, i)
		}
	}

	// pairs is ordered by oldIdx; survivors whose new positions form an
	// increasing subsequence did not move relative to each other.
	seq := make([]int, len(pairs))
	for i, p := range pairs {
		seq[i] = p.newIdx
	}
	stable := longestIncreasingSubsequence(seq)
	for i, p := range pairs {
		if !stable[i] {
			cs.Moved = append(cs.Moved, Move{From: p.oldIdx, To: p.newIdx})
		}
		if props := modified[old[p.oldIdx]]; len(props) > 0 {
			cs.Modified = append(cs.Modified, p.oldIdx)
			if coversInterest(props, interest) {
				cs.NewModified = append(cs.NewModified, p.newIdx)
			}
		}
	}
	sort.Ints(cs.NewModified)
	return cs
}

// coversInterest reports whether any changed property falls under the
// declared interest. An empty interest covers everything.
func coversInterest(props, interest []string) bool {
	if len(interest) == 0 {
		return true
	}
	for _, p := range props {
		for _, k := range interest {
			if p == k {
				return true
			}
		}
	}
	return false
}

// longestIncreasingSubsequence marks the members of one longest strictly
// increasing subsequence of seq. O(n log n) patience sorting with parent
// links.
func longestIncreasingSubsequence(seq []int) []bool {
	n := len(seq)
	member := make([]bool, n)
	if n == 0 {
		return member
	}

	tails := []int{}        // index into seq of the smallest tail per length
	parent := make([]int, n)
	for i, v := range seq {
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if seq[tails[mid]] < v {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			parent[i] = tails[lo-1]
		} else {
			parent[i] = -1
		}
		if lo == len(tails) {
			tails = append(tails, i)
		} else {
			tails[lo] = i
		}
	}

	for i := tails[len(tails)-1]; i >= 0; i = parent[i] {
		member[i] = true
	}
	return member
}
