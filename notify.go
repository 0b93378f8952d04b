package meridian

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/meridiandb/meridian/internal/engine"
)

// observable is a collection view the notifier can re-resolve after a
// commit.
type observable interface {
	// memberTable is the table the view's rows live in; property
	// modifications of members are read from its diff.
	memberTable() string

	// watchTables lists every table whose changes can affect the view's
	// membership or order.
	watchTables() []string

	// currentRIDs resolves the view against the current committed state.
	currentRIDs() ([]int64, error)
}

// SubscriptionState is the lifecycle state of a Subscription.
type SubscriptionState int

const (
	// SubscriptionActive delivers changes as commits happen.
	SubscriptionActive SubscriptionState = iota + 1

	// SubscriptionPaused accumulates changes without delivering them.
	// Resume delivers everything missed as one coalesced change set.
	SubscriptionPaused

	// SubscriptionCancelled is terminal; no further deliveries happen.
	SubscriptionCancelled
)

// Subscription is one registered observer of a collection view or object.
// Deliveries run on a dedicated goroutine, one at a time, in commit order.
type Subscription struct {
	id uuid.UUID
	n  *notifier

	mu    sync.Mutex
	state SubscriptionState
	queue []subEvent

	// deliverMu spans the pre-delivery cancellation check and the callback
	// itself; Cancel acquires it to wait out a delivery that already passed
	// the check. inCallback is true while the callback runs.
	deliverMu  sync.Mutex
	inCallback atomic.Bool

	signal chan struct{}
	done   chan struct{}
}

// subEvent is one queued post-commit payload. Collection subscriptions
// carry the resolved membership plus the changed properties per row;
// object subscriptions carry the row diff.
type subEvent struct {
	rids     []int64
	modified map[int64][]string

	objDeleted bool
	objProps   []string

	whilePaused bool
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id.String()
}

// State returns the current lifecycle state.
func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pause suspends deliveries. Changes committed while paused accumulate and
// arrive as a single coalesced delivery on Resume. No-op unless active.
func (s *Subscription) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SubscriptionActive {
		s.state = SubscriptionPaused
	}
}

// Resume reactivates a paused subscription and delivers everything missed.
func (s *Subscription) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SubscriptionPaused {
		s.state = SubscriptionActive
		s.wake()
	}
}

// Cancel stops the subscription. Idempotent and terminal: no delivery
// begins after Cancel returns, though a callback already executing may run
// to completion. Calling Cancel from inside the callback is safe and
// returns without waiting for it.
func (s *Subscription) Cancel() {
	if !s.markCancelled() {
		return
	}
	s.n.remove(s.id)
	if s.inCallback.Load() {
		// The caller is either the callback itself or racing one that is
		// mid-flight; both count as already in progress.
		return
	}
	// A delivery may have passed its cancellation check before the state
	// flipped; taking the delivery lock waits it out.
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
}

// deliver runs fn unless the subscription has been cancelled. The check and
// the callback share one critical section with Cancel, so a delivery either
// completes before Cancel returns or never starts.
func (s *Subscription) deliver(fn func()) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.State() == SubscriptionCancelled {
		return false
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	fn()
	return true
}

func (s *Subscription) markCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SubscriptionCancelled {
		return false
	}
	s.state = SubscriptionCancelled
	close(s.done)
	return true
}

// wake nudges the delivery goroutine. Callers hold s.mu.
func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// enqueue appends a post-commit event. Called on the committing goroutine.
func (s *Subscription) enqueue(ev subEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SubscriptionCancelled {
		return
	}
	ev.whilePaused = s.state == SubscriptionPaused
	s.queue = append(s.queue, ev)
	s.wake()
}

// pop removes the next deliverable event, coalescing a run of events that
// accumulated while paused into one. Returns false when the queue is empty
// or the subscription is not active.
func (s *Subscription) pop() (subEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SubscriptionActive || len(s.queue) == 0 {
		return subEvent{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	for ev.whilePaused && len(s.queue) > 0 && s.queue[0].whilePaused {
		next := s.queue[0]
		s.queue = s.queue[1:]
		// Membership comes from the latest resolution; modifications and
		// deletion accumulate across the paused interval.
		ev.rids = next.rids
		for rid, props := range next.modified {
			if ev.modified == nil {
				ev.modified = map[int64][]string{}
			}
			ev.modified[rid] = unionStrings(ev.modified[rid], props)
		}
		ev.objDeleted = ev.objDeleted || next.objDeleted
		ev.objProps = unionStrings(ev.objProps, next.objProps)
	}
	return ev, true
}

// runCollection is the delivery loop for collection subscriptions. The
// first delivery is the empty baseline: it establishes the reference
// membership without reporting the initial contents as insertions. Later
// empty diffs are suppressed.
func (s *Subscription) runCollection(fn func(ChangeSet), interest []string) {
	var prev []int64
	first := true
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			ev, ok := s.pop()
			if !ok {
				break
			}
			var cs ChangeSet
			if first {
				first = false
			} else {
				cs = diffRIDs(prev, ev.rids, ev.modified, interest)
				if cs.Empty() {
					prev = ev.rids
					continue
				}
			}
			prev = ev.rids
			if !s.deliver(func() { fn(cs) }) {
				return
			}
		}
	}
}

// runObject is the delivery loop for object subscriptions. A deletion
// notice is final: the subscription cancels itself after delivering it.
func (s *Subscription) runObject(fn func(ObjectChange)) {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			ev, ok := s.pop()
			if !ok {
				break
			}
			if ev.objDeleted {
				s.deliver(func() { fn(ObjectChange{Deleted: true}) })
				s.Cancel()
				return
			}
			if !s.deliver(func() { fn(ObjectChange{Properties: ev.objProps}) }) {
				return
			}
		}
	}
}

// subscriber binds a Subscription to what it observes.
type subscriber struct {
	sub *Subscription

	// collection subscriptions
	src observable

	// object subscriptions
	objTable string
	objRID   int64
}

// notifier fans one commit diff out to every registered subscription. It
// runs on the committing goroutine while the writer lock is still held, so
// the membership it resolves corresponds exactly to the committed version.
type notifier struct {
	s    *Session
	mu   sync.Mutex
	subs map[uuid.UUID]*subscriber
}

func newNotifier(s *Session) *notifier {
	return &notifier{s: s, subs: map[uuid.UUID]*subscriber{}}
}

func (n *notifier) newSubscription() *Subscription {
	return &Subscription{
		id:     uuid.New(),
		n:      n,
		state:  SubscriptionActive,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// observeCollection registers a collection subscription and queues the
// baseline delivery.
func (n *notifier) observeCollection(src observable, fn func(ChangeSet), interest []string) (*Subscription, error) {
	sub := n.newSubscription()

	// Resolve, register, and queue the baseline atomically with respect to
	// onCommit, so no commit can slip between the initial resolution and
	// the first queued diff.
	n.mu.Lock()
	rids, err := src.currentRIDs()
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	n.subs[sub.id] = &subscriber{sub: sub, src: src}
	sub.enqueue(subEvent{rids: rids})
	n.mu.Unlock()

	go sub.runCollection(fn, interest)
	return sub, nil
}

// observeObject registers an object subscription.
func (n *notifier) observeObject(o *Object, fn func(ObjectChange)) (*Subscription, error) {
	sub := n.newSubscription()

	n.mu.Lock()
	n.subs[sub.id] = &subscriber{sub: sub, objTable: o.info.table, objRID: o.rid}
	n.mu.Unlock()

	go sub.runObject(fn)
	return sub, nil
}

func (n *notifier) remove(id uuid.UUID) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

// cancelAll tears down every subscription. Called on session close.
func (n *notifier) cancelAll() {
	n.mu.Lock()
	subs := make([]*Subscription, 0, len(n.subs))
	for _, e := range n.subs {
		subs = append(subs, e.sub)
	}
	n.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

// onCommit receives the raw diff of one committed transaction and enqueues
// events on every subscription the commit affects.
func (n *notifier) onCommit(ch *engine.Changes) {
	n.mu.Lock()
	subs := make([]*subscriber, 0, len(n.subs))
	for _, e := range n.subs {
		subs = append(subs, e)
	}
	n.mu.Unlock()

	for _, e := range subs {
		if e.src != nil {
			n.notifyCollection(e, ch)
		} else {
			n.notifyObject(e, ch)
		}
	}
}

func (n *notifier) notifyCollection(e *subscriber, ch *engine.Changes) {
	touched := false
	for _, table := range e.src.watchTables() {
		if ch.Touched(table) {
			touched = true
			break
		}
	}
	if !touched {
		return
	}

	rids, err := e.src.currentRIDs()
	if err != nil {
		n.s.log.Warn("resolve observed collection", "error", err)
		return
	}

	var modified map[int64][]string
	if tc, ok := ch.Tables[e.src.memberTable()]; ok && len(tc.Modified) > 0 {
		modified = make(map[int64][]string, len(tc.Modified))
		for rid, props := range tc.Modified {
			modified[rid] = append([]string(nil), props...)
		}
	}
	e.sub.enqueue(subEvent{rids: rids, modified: modified})
}

func (n *notifier) notifyObject(e *subscriber, ch *engine.Changes) {
	tc, ok := ch.Tables[e.objTable]
	if !ok {
		return
	}
	for _, rid := range tc.Deleted {
		if rid == e.objRID {
			e.sub.enqueue(subEvent{objDeleted: true})
			return
		}
	}
	if props := tc.Modified[e.objRID]; len(props) > 0 {
		e.sub.enqueue(subEvent{objProps: append([]string(nil), props...)})
	}
}

func unionStrings(a, b []string) []string {
	for _, s := range b {
		found := false
		for _, t := range a {
			if t == s {
				found = true
				break
			}
		}
		if !found {
			a = append(a, s)
		}
	}
	return a
}
