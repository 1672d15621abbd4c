// Package queue holds the per-run suite queue. The queue is owned
// exclusively by the master's dispatch loop; it is not safe for concurrent
// use and does not need to be.
package queue

import (
	"sort"

	"github.com/yagince/test-queue/internal/protocol"
)

// TimedSuite pairs a suite identity with its recorded duration from a
// previous run. Used only for initial ordering.
type TimedSuite struct {
	Pair     protocol.SuitePair
	Duration float64
}

// Queue is an ordered sequence of suite identities with per-run dedup.
// Once a pair has entered the queue it can never enter again, dispatched
// or not.
type Queue struct {
	items []protocol.SuitePair

	// seen records every pair ever enqueued this run.
	seen map[protocol.SuitePair]bool

	// whitelist, when non-empty, restricts membership to the listed names
	// and dictates dispatch order by list index.
	whitelist []string
	wlIndex   map[string]int
}

// New creates a queue. A non-empty whitelist activates whitelist mode.
func New(whitelist []string) *Queue {
	q := &Queue{
		seen: make(map[protocol.SuitePair]bool),
	}
	if len(whitelist) > 0 {
		q.whitelist = whitelist
		q.wlIndex = make(map[string]int, len(whitelist))
		for i, name := range whitelist {
			if _, dup := q.wlIndex[name]; !dup {
				q.wlIndex[name] = i
			}
		}
	}
	return q
}

// Whitelisted reports whether whitelist mode is active.
func (q *Queue) Whitelisted() bool {
	return len(q.whitelist) > 0
}

// Seed populates the queue from recorded durations, longest first. Pairs
// outside an active whitelist are dropped. Order is enforced immediately
// when a whitelist is active.
func (q *Queue) Seed(times []TimedSuite) {
	sorted := make([]TimedSuite, len(times))
	copy(sorted, times)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Duration > sorted[j].Duration
	})

	for _, ts := range sorted {
		if q.seen[ts.Pair] {
			continue
		}
		if q.Whitelisted() {
			if _, ok := q.wlIndex[ts.Pair.Name]; !ok {
				continue
			}
		}
		q.seen[ts.Pair] = true
		q.items = append(q.items, ts.Pair)
	}

	if q.Whitelisted() {
		q.EnforceOrder()
	}
}

// Add enqueues a freshly discovered pair. Pairs with no recorded duration
// go to the FRONT: running a fast unknown early beats stalling the tail on
// a slow unknown. A duplicate, or a name outside an active whitelist, is a
// no-op. Reports whether the pair was enqueued.
func (q *Queue) Add(pair protocol.SuitePair) bool {
	if q.seen[pair] {
		return false
	}
	if q.Whitelisted() {
		if _, ok := q.wlIndex[pair.Name]; !ok {
			return false
		}
	}

	q.seen[pair] = true
	q.items = append([]protocol.SuitePair{pair}, q.items...)

	if q.Whitelisted() {
		q.EnforceOrder()
	}
	return true
}

// Pop removes and returns the next suite.
func (q *Queue) Pop() (protocol.SuitePair, bool) {
	if len(q.items) == 0 {
		return protocol.SuitePair{}, false
	}
	pair := q.items[0]
	q.items = q.items[1:]
	return pair, true
}

// Len returns the number of suites waiting for dispatch.
func (q *Queue) Len() int {
	return len(q.items)
}

// ContainsName reports whether any queued (not yet dispatched) suite has
// the given name.
func (q *Queue) ContainsName(name string) bool {
	for _, p := range q.items {
		if p.Name == name {
			return true
		}
	}
	return false
}

// SeenName reports whether a suite with the given name has ever entered
// the queue this run.
func (q *Queue) SeenName(name string) bool {
	for p := range q.seen {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Pairs returns a copy of the pending items in dispatch order.
func (q *Queue) Pairs() []protocol.SuitePair {
	out := make([]protocol.SuitePair, len(q.items))
	copy(out, q.items)
	return out
}

// EnforceOrder re-sorts pending items into whitelist index order. Called
// at construction and whenever the whitelist becomes fully satisfied.
func (q *Queue) EnforceOrder() {
	if !q.Whitelisted() {
		return
	}
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.wlIndex[q.items[i].Name] < q.wlIndex[q.items[j].Name]
	})
}
