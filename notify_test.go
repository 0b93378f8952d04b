package meridian

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func changeCollector() (chan ChangeSet, func(ChangeSet)) {
	ch := make(chan ChangeSet, 32)
	return ch, func(cs ChangeSet) { ch <- cs }
}

func nextChange(t *testing.T, ch chan ChangeSet) ChangeSet {
	t.Helper()
	select {
	case cs := <-ch:
		return cs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a change delivery")
		return ChangeSet{}
	}
}

func expectNoChange(t *testing.T, ch chan ChangeSet) {
	t.Helper()
	select {
	case cs := <-ch:
		t.Fatalf("unexpected delivery: %+v", cs)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestObserve_BaselineDeliveryIsEmpty(t *testing.T) {
	s := openTestSession(t)
	mustCreate(t, s, "Car", map[string]any{"make": "a"})
	mustCreate(t, s, "Car", map[string]any{"make": "b"})

	view, err := s.All("Car")
	require.NoError(t, err)

	ch, fn := changeCollector()
	sub, err := view.Observe(fn)
	require.NoError(t, err)
	defer sub.Cancel()

	// The baseline establishes the reference membership; the existing rows
	// are not reported as insertions.
	first := nextChange(t, ch)
	assert.Empty(t, first.Inserted)
	assert.Empty(t, first.Deleted)
	assert.Empty(t, first.Modified)
	assert.Empty(t, first.Moved)

	// The next commit diffs against that baseline.
	mustCreate(t, s, "Car", map[string]any{"make": "c"})
	cs := nextChange(t, ch)
	assert.Equal(t, []int{2}, cs.Inserted)
}

func TestObserve_EmptyViewBaselineStillDelivered(t *testing.T) {
	s := openTestSession(t)
	view, err := s.All("Car")
	require.NoError(t, err)

	ch, fn := changeCollector()
	sub, err := view.Observe(fn)
	require.NoError(t, err)
	defer sub.Cancel()

	first := nextChange(t, ch)
	assert.True(t, first.Empty())
}

func TestObserve_InsertDeleteModify(t *testing.T) {
	s := openTestSession(t)
	a := mustCreate(t, s, "Car", map[string]any{"make": "a", "year": 2010})
	mustCreate(t, s, "Car", map[string]any{"make": "b", "year": 2015})

	view, err := s.All("Car")
	require.NoError(t, err)

	ch, fn := changeCollector()
	sub, err := view.Observe(fn)
	require.NoError(t, err)
	defer sub.Cancel()
	nextChange(t, ch) // baseline

	mustCreate(t, s, "Car", map[string]any{"make": "c"})
	cs := nextChange(t, ch)
	assert.Equal(t, []int{2}, cs.Inserted)

	require.NoError(t, s.Write(func() error { return a.Set("year", 2011) }))
	cs = nextChange(t, ch)
	assert.Empty(t, cs.Inserted)
	assert.Equal(t, []int{0}, cs.Modified)
	assert.Equal(t, []int{0}, cs.NewModified)

	require.NoError(t, s.Write(func() error { return s.Delete(a) }))
	cs = nextChange(t, ch)
	assert.Equal(t, []int{0}, cs.Deleted)
	assert.Empty(t, cs.Inserted)
}

func TestObserve_KeyPathsFilterNewModified(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{"make": "a", "model": "m1", "year": 2010})

	view, err := s.All("Car")
	require.NoError(t, err)

	ch, fn := changeCollector()
	sub, err := view.Observe(fn, "year")
	require.NoError(t, err)
	defer sub.Cancel()
	nextChange(t, ch) // baseline

	// A change outside the declared interest still counts as modified but
	// not as newModified.
	require.NoError(t, s.Write(func() error { return car.Set("model", "m2") }))
	cs := nextChange(t, ch)
	assert.Equal(t, []int{0}, cs.Modified)
	assert.Empty(t, cs.NewModified)

	require.NoError(t, s.Write(func() error { return car.Set("year", 2011) }))
	cs = nextChange(t, ch)
	assert.Equal(t, []int{0}, cs.Modified)
	assert.Equal(t, []int{0}, cs.NewModified)
}

func TestObserve_FilteredViewMembership(t *testing.T) {
	s := openTestSession(t)
	old := mustCreate(t, s, "Car", map[string]any{"make": "a", "year": 2000})
	mustCreate(t, s, "Car", map[string]any{"make": "b", "year": 2020})

	view, err := s.All("Car")
	require.NoError(t, err)
	recent, err := view.Query("year >= $0", 2010)
	require.NoError(t, err)

	ch, fn := changeCollector()
	sub, err := recent.Observe(fn)
	require.NoError(t, err)
	defer sub.Cancel()

	nextChange(t, ch) // baseline

	// An update that moves a row into the filter shows up as an insertion.
	require.NoError(t, s.Write(func() error { return old.Set("year", 2012) }))
	cs := nextChange(t, ch)
	assert.Equal(t, []int{0}, cs.Inserted)
	assert.Empty(t, cs.Deleted)

	// And out of it as a deletion.
	require.NoError(t, s.Write(func() error { return old.Set("year", 1999) }))
	cs = nextChange(t, ch)
	assert.Equal(t, []int{0}, cs.Deleted)
	assert.Empty(t, cs.Inserted)
}

func TestObserve_UnrelatedCommitsSkipped(t *testing.T) {
	s := openTestSession(t)
	view, err := s.All("Car")
	require.NoError(t, err)

	ch, fn := changeCollector()
	sub, err := view.Observe(fn)
	require.NoError(t, err)
	defer sub.Cancel()
	nextChange(t, ch) // baseline

	mustCreate(t, s, "Person", map[string]any{"name": "ada"})
	expectNoChange(t, ch)
}

func TestObserve_ListMove(t *testing.T) {
	s := openTestSession(t)
	_, cars, list := fleetFixture(t, s)

	require.NoError(t, s.Write(func() error {
		for _, c := range cars {
			if err := list.Append(c); err != nil {
				return err
			}
		}
		return nil
	}))

	ch, fn := changeCollector()
	sub, err := list.Observe(fn)
	require.NoError(t, err)
	defer sub.Cancel()

	nextChange(t, ch) // baseline

	require.NoError(t, s.Write(func() error { return list.Move(0, 2) }))
	cs := nextChange(t, ch)
	assert.Empty(t, cs.Inserted)
	assert.Empty(t, cs.Deleted)
	assert.Equal(t, []Move{{From: 0, To: 2}}, cs.Moved)
}

func TestObserve_CommitOrder(t *testing.T) {
	s := openTestSession(t)
	view, err := s.All("Car")
	require.NoError(t, err)

	ch, fn := changeCollector()
	sub, err := view.Observe(fn)
	require.NoError(t, err)
	defer sub.Cancel()
	nextChange(t, ch) // baseline

	for i := 0; i < 4; i++ {
		mustCreate(t, s, "Car", map[string]any{"make": string(rune('a' + i))})
	}
	for i := 0; i < 4; i++ {
		cs := nextChange(t, ch)
		assert.Equal(t, []int{i}, cs.Inserted, "delivery %d out of commit order", i)
	}
}

func TestObserve_PauseCoalescesOnResume(t *testing.T) {
	s := openTestSession(t)
	view, err := s.All("Car")
	require.NoError(t, err)

	ch, fn := changeCollector()
	sub, err := view.Observe(fn)
	require.NoError(t, err)
	defer sub.Cancel()
	nextChange(t, ch) // baseline

	sub.Pause()
	assert.Equal(t, SubscriptionPaused, sub.State())

	mustCreate(t, s, "Car", map[string]any{"make": "a"})
	mustCreate(t, s, "Car", map[string]any{"make": "b"})
	expectNoChange(t, ch)

	sub.Resume()
	cs := nextChange(t, ch)
	assert.Equal(t, []int{0, 1}, cs.Inserted)
	expectNoChange(t, ch)
}

func TestObserve_CancelStopsDeliveries(t *testing.T) {
	s := openTestSession(t)
	view, err := s.All("Car")
	require.NoError(t, err)

	ch, fn := changeCollector()
	sub, err := view.Observe(fn)
	require.NoError(t, err)
	nextChange(t, ch) // baseline

	sub.Cancel()
	sub.Cancel() // idempotent
	assert.Equal(t, SubscriptionCancelled, sub.State())

	mustCreate(t, s, "Car", map[string]any{"make": "a"})
	expectNoChange(t, ch)
}

func TestObserve_NoDeliveryBeginsAfterCancel(t *testing.T) {
	s := openTestSession(t)
	view, err := s.All("Car")
	require.NoError(t, err)

	entered := make(chan struct{}, 8)
	gate := make(chan struct{})
	sub, err := view.Observe(func(ChangeSet) {
		entered <- struct{}{}
		<-gate
	})
	require.NoError(t, err)

	waitEntered := func() {
		t.Helper()
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for the callback to start")
		}
	}

	waitEntered() // baseline
	gate <- struct{}{}

	// Put one delivery in flight and queue another commit behind it.
	mustCreate(t, s, "Car", map[string]any{"make": "a"})
	waitEntered()
	mustCreate(t, s, "Car", map[string]any{"make": "b"})

	// Cancel returns while the first delivery is still executing.
	done := make(chan struct{})
	go func() { sub.Cancel(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel blocked on an executing callback")
	}
	gate <- struct{}{}

	// The queued commit must never be delivered.
	select {
	case <-entered:
		t.Fatal("delivery began after Cancel returned")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestObserve_CancelInsideCallback(t *testing.T) {
	s := openTestSession(t)
	view, err := s.All("Car")
	require.NoError(t, err)

	var (
		subMu sync.Mutex
		sub   *Subscription
	)
	created, err := view.Observe(func(ChangeSet) {
		subMu.Lock()
		self := sub
		subMu.Unlock()
		if self != nil {
			self.Cancel()
		}
	})
	require.NoError(t, err)
	subMu.Lock()
	sub = created
	subMu.Unlock()

	// The next delivery cancels its own subscription; this must not
	// deadlock.
	mustCreate(t, s, "Car", map[string]any{"make": "a"})
	require.Eventually(t, func() bool {
		return created.State() == SubscriptionCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestObserve_SessionCloseCancels(t *testing.T) {
	s := openTestSession(t)
	view, err := s.All("Car")
	require.NoError(t, err)

	ch, fn := changeCollector()
	sub, err := view.Observe(fn)
	require.NoError(t, err)
	nextChange(t, ch) // baseline

	require.NoError(t, s.Close())
	assert.Equal(t, SubscriptionCancelled, sub.State())
}

func TestObserveObject_ModifiedProperties(t *testing.T) {
	s := openTestSession(t)
	person := mustCreate(t, s, "Person", map[string]any{"name": "ada"})
	car := mustCreate(t, s, "Car", map[string]any{"make": "a", "year": 2010})

	ch := make(chan ObjectChange, 8)
	sub, err := car.Observe(func(oc ObjectChange) { ch <- oc })
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, s.Write(func() error {
		if err := car.Set("year", 2011); err != nil {
			return err
		}
		return car.Set("owner", person)
	}))

	select {
	case oc := <-ch:
		assert.False(t, oc.Deleted)
		assert.ElementsMatch(t, []string{"year", "owner"}, oc.Properties)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for object change")
	}
}

func TestObserveObject_ListMembershipCountsAsOwnerChange(t *testing.T) {
	s := openTestSession(t)
	person, cars, list := fleetFixture(t, s)

	ch := make(chan ObjectChange, 8)
	sub, err := person.Observe(func(oc ObjectChange) { ch <- oc })
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, s.Write(func() error { return list.Append(cars[0]) }))

	select {
	case oc := <-ch:
		assert.Equal(t, []string{"cars"}, oc.Properties)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for object change")
	}
}

func TestObserveObject_DeletionIsFinal(t *testing.T) {
	s := openTestSession(t)
	car := mustCreate(t, s, "Car", map[string]any{"make": "a"})

	ch := make(chan ObjectChange, 8)
	sub, err := car.Observe(func(oc ObjectChange) { ch <- oc })
	require.NoError(t, err)

	require.NoError(t, s.Write(func() error { return s.Delete(car) }))

	select {
	case oc := <-ch:
		assert.True(t, oc.Deleted)
		assert.Empty(t, oc.Properties)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deletion notice")
	}

	require.Eventually(t, func() bool {
		return sub.State() == SubscriptionCancelled
	}, 2*time.Second, 10*time.Millisecond)

	// No further deliveries after the final notice.
	mustCreate(t, s, "Car", map[string]any{"make": "b"})
	select {
	case oc := <-ch:
		t.Fatalf("unexpected delivery after deletion notice: %+v", oc)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestObserveObject_UnmanagedRejected(t *testing.T) {
	obj := NewObject("Car", nil)
	_, err := obj.Observe(func(ObjectChange) {})
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidObject, CodeOf(err))
}
