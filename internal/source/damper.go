// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package source

import (
	"sync"
	"time"
)

// damperEntry is one node in the damper's recency list.
type damperEntry struct {
	key       string
	prev      *damperEntry
	next      *damperEntry
	expiresAt time.Time
}

// Damper suppresses re-emission of events the poll adapter already
// published. The trailing poll window re-reads the same timeline entries
// every tick; without damping, every poll would flood the bus with
// duplicates the durable store would have to reject one by one.
//
// Bounded LRU with TTL: entries expire after the trailing window (by then
// the timeline no longer returns them) and the oldest entries are evicted
// at capacity. Dropping an entry early is harmless, the durable dedup store
// is the correctness backstop.
type Damper struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*damperEntry

	// head.next is most recently seen, tail.prev least recently seen.
	head *damperEntry
	tail *damperEntry
}

// NewDamper creates a damper. Capacity defaults to 4096 and ttl to an hour
// when out of range.
func NewDamper(capacity int, ttl time.Duration) *Damper {
	if capacity <= 0 {
		capacity = 4096
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	d := &Damper{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*damperEntry, capacity),
		head:     &damperEntry{},
		tail:     &damperEntry{},
	}
	d.head.next = d.tail
	d.tail.prev = d.head
	return d
}

// Seen reports whether key was recorded within the TTL, recording it if
// not. One call does both so concurrent pollers cannot race between check
// and record.
func (d *Damper) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if e, ok := d.items[key]; ok {
		if now.Before(e.expiresAt) {
			d.moveToFront(e)
			return true
		}
		d.remove(e)
	}

	e := &damperEntry{key: key, expiresAt: now.Add(d.ttl)}
	d.addToFront(e)
	d.items[key] = e

	for len(d.items) > d.capacity {
		d.evictOldest()
	}
	return false
}

// Forget drops key so the next Seen reports it unseen. Used when an emit
// fails after the key was recorded, so the event is retried on a later tick.
func (d *Damper) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.items[key]; ok {
		d.remove(e)
	}
}

// Len returns the number of live entries, counting expired ones not yet
// lazily removed.
func (d *Damper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *Damper) addToFront(e *damperEntry) {
	e.prev = d.head
	e.next = d.head.next
	d.head.next.prev = e
	d.head.next = e
}

func (d *Damper) moveToFront(e *damperEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	d.addToFront(e)
}

func (d *Damper) remove(e *damperEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(d.items, e.key)
}

func (d *Damper) evictOldest() {
	oldest := d.tail.prev
	if oldest == d.head {
		return
	}
	d.remove(oldest)
}
