package meridian

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffRIDs(t *testing.T) {
	tests := []struct {
		name     string
		old, new []int64
		modified map[int64][]string
		interest []string
		want     ChangeSet
	}{
		{
			name: "no change",
			old:  []int64{1, 2, 3},
			new:  []int64{1, 2, 3},
			want: ChangeSet{},
		},
		{
			name: "insert at end",
			old:  []int64{1, 2},
			new:  []int64{1, 2, 3},
			want: ChangeSet{Inserted: []int{2}},
		},
		{
			name: "insert into empty",
			old:  nil,
			new:  []int64{7, 8},
			want: ChangeSet{Inserted: []int{0, 1}},
		},
		{
			name: "delete in middle",
			old:  []int64{1, 2, 3},
			new:  []int64{1, 3},
			want: ChangeSet{Deleted: []int{1}},
		},
		{
			name: "single move reported minimally",
			old:  []int64{1, 2, 3},
			new:  []int64{2, 3, 1},
			want: ChangeSet{Moved: []Move{{From: 0, To: 2}}},
		},
		{
			name: "swap of two",
			old:  []int64{1, 2},
			new:  []int64{2, 1},
			want: ChangeSet{Moved: []Move{{From: 0, To: 1}}},
		},
		{
			name:     "duplicates matched by occurrence",
			old:      []int64{5, 6, 5},
			new:      []int64{6, 5},
			modified: nil,
			// First occurrence of 5 pairs with the surviving one; the
			// second occurrence is the deletion.
			want: ChangeSet{Deleted: []int{2}, Moved: []Move{{From: 0, To: 1}}},
		},
		{
			name:     "modified survivor",
			old:      []int64{1, 2, 3},
			new:      []int64{1, 2, 3},
			modified: map[int64][]string{2: {"year"}},
			want:     ChangeSet{Modified: []int{1}, NewModified: []int{1}},
		},
		{
			name:     "modified row that was deleted is not reported",
			old:      []int64{1, 2},
			new:      []int64{1},
			modified: map[int64][]string{2: {"year"}},
			want:     ChangeSet{Deleted: []int{1}},
		},
		{
			name:     "interest filters newModified only",
			old:      []int64{1, 2},
			new:      []int64{1, 2},
			modified: map[int64][]string{1: {"model"}, 2: {"year"}},
			interest: []string{"year"},
			want:     ChangeSet{Modified: []int{0, 1}, NewModified: []int{1}},
		},
		{
			name:     "insert delete and modify together",
			old:      []int64{1, 2, 3},
			new:      []int64{2, 3, 4},
			modified: map[int64][]string{3: {"price"}},
			want: ChangeSet{
				Inserted:    []int{2},
				Deleted:     []int{0},
				Modified:    []int{2},
				NewModified: []int{1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diffRIDs(tt.old, tt.new, tt.modified, tt.interest)
			assert.Equal(t, tt.want.Inserted, got.Inserted, "inserted")
			assert.Equal(t, tt.want.Deleted, got.Deleted, "deleted")
			assert.Equal(t, tt.want.Modified, got.Modified, "modified")
			assert.Equal(t, tt.want.NewModified, got.NewModified, "newModified")
			assert.Equal(t, tt.want.Moved, got.Moved, "moved")
		})
	}
}

func TestLongestIncreasingSubsequence(t *testing.T) {
	tests := []struct {
		name string
		seq  []int
		want []bool
	}{
		{"empty", nil, []bool{}},
		{"sorted", []int{1, 2, 3}, []bool{true, true, true}},
		{"reversed keeps one", []int{3, 2, 1}, []bool{false, false, true}},
		{"interleaved", []int{2, 0, 1}, []bool{false, true, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := longestIncreasingSubsequence(tt.seq)
			assert.Equal(t, tt.want, got)
		})
	}
}
