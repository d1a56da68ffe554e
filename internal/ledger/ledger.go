// Package ledger tracks what has already been handled: resolved task ids
// and attachment URLs that went through text extraction. Both sets are
// bounded by TTL and capacity so they cover a task's active lifetime
// without growing forever.
package ledger

import (
	"strconv"
	"sync"
	"time"
)

// Ledger holds the two idempotency sets.
type Ledger struct {
	mu        sync.Mutex
	resolved  *boundedSet
	processed *boundedSet
}

// New creates a ledger whose entries expire after ttl and which keeps at
// most maxEntries per set, evicting the oldest first.
func New(ttl time.Duration, maxEntries int) *Ledger {
	return &Ledger{
		resolved:  newBoundedSet(ttl, maxEntries),
		processed: newBoundedSet(ttl, maxEntries),
	}
}

// MarkResolved records a task id as resolved.
func (l *Ledger) MarkResolved(taskID int64) {
	l.mu.Lock()
	l.resolved.add(strconv.FormatInt(taskID, 10), time.Now())
	l.mu.Unlock()
}

// IsResolved reports whether a task id has been resolved.
func (l *Ledger) IsResolved(taskID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolved.has(strconv.FormatInt(taskID, 10), time.Now())
}

// MarkProcessed records an attachment URL as extracted.
func (l *Ledger) MarkProcessed(url string) {
	l.mu.Lock()
	l.processed.add(url, time.Now())
	l.mu.Unlock()
}

// IsProcessed reports whether an attachment URL has been extracted.
func (l *Ledger) IsProcessed(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed.has(url, time.Now())
}

// boundedSet is an insertion-ordered set with TTL and capacity eviction.
// Entries never need re-ordering: membership checks don't refresh age, so
// the order slice stays sorted by insertion time.
type boundedSet struct {
	ttl     time.Duration
	max     int
	entries map[string]time.Time
	order   []string
}

func newBoundedSet(ttl time.Duration, max int) *boundedSet {
	return &boundedSet{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]time.Time),
	}
}

func (s *boundedSet) add(key string, now time.Time) {
	if _, ok := s.entries[key]; ok {
		return
	}
	s.evict(now)
	s.entries[key] = now
	s.order = append(s.order, key)
}

func (s *boundedSet) has(key string, now time.Time) bool {
	at, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.ttl > 0 && now.Sub(at) > s.ttl {
		return false
	}
	return true
}

func (s *boundedSet) evict(now time.Time) {
	for len(s.order) > 0 {
		oldest := s.order[0]
		at, ok := s.entries[oldest]
		expired := ok && s.ttl > 0 && now.Sub(at) > s.ttl
		if !ok || expired || len(s.entries) >= s.max {
			delete(s.entries, oldest)
			s.order = s.order[1:]
			continue
		}
		break
	}
}
