package state

import (
	"sort"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Address state: alerted set, last-alert times, watch entries, in-flight set.
// One Store per pipeline; every mutation happens under a single mutex.
// ---------------------------------------------------------------------------

// WatchEntry tracks a rejected address scheduled for re-evaluation.
type WatchEntry struct {
	Address   string    `json:"address"`
	FirstSeen time.Time `json:"first_seen"`
	LastCheck time.Time `json:"last_check,omitempty"` // zero until first recheck
	Attempts  int       `json:"attempts"`
}

// due reports whether delay has elapsed since the last check (or since the
// entry was added, before any check).
func (w *WatchEntry) due(now time.Time, delay time.Duration) bool {
	ref := w.LastCheck
	if ref.IsZero() {
		ref = w.FirstSeen
	}
	return now.Sub(ref) >= delay
}

// Store holds all per-address pipeline state.
type Store struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	lastAlert map[string]time.Time
	watch     map[string]*WatchEntry
	inFlight  map[string]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		seen:      make(map[string]struct{}),
		lastAlert: make(map[string]time.Time),
		watch:     make(map[string]*WatchEntry),
		inFlight:  make(map[string]struct{}),
	}
}

// Seen reports whether an alert has ever been emitted for address.
func (s *Store) Seen(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[address]
	return ok
}

// MarkAlerted records an alert at the given time: the address joins the
// seen set, its last-alert time is set and any watch entry is removed.
func (s *Store) MarkAlerted(address string, at time.Time) {
	s.mu.Lock()
	s.seen[address] = struct{}{}
	s.lastAlert[address] = at
	delete(s.watch, address)
	s.mu.Unlock()
}

// LastAlert returns when address was last alerted.
func (s *Store) LastAlert(address string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastAlert[address]
	return t, ok
}

// Watch adds address to the watch map. An existing entry keeps its
// FirstSeen. Returns true when a new entry was created.
func (s *Store) Watch(address string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watch[address]; ok {
		return false
	}
	s.watch[address] = &WatchEntry{Address: address, FirstSeen: now}
	return true
}

// Watching reports whether address has a watch entry.
func (s *Store) Watching(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watch[address]
	return ok
}

// Unwatch removes the watch entry for address, if any.
func (s *Store) Unwatch(address string) {
	s.mu.Lock()
	delete(s.watch, address)
	s.mu.Unlock()
}

// DueForRecheck returns the watched addresses whose delay has elapsed, oldest
// first. Each returned entry is stamped with LastCheck = now and its attempt
// counter is incremented.
func (s *Store) DueForRecheck(now time.Time, delay time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*WatchEntry
	for _, w := range s.watch {
		if w.due(now, delay) {
			due = append(due, w)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].FirstSeen.Equal(due[j].FirstSeen) {
			return due[i].Address < due[j].Address
		}
		return due[i].FirstSeen.Before(due[j].FirstSeen)
	})

	addrs := make([]string, len(due))
	for i, w := range due {
		w.LastCheck = now
		w.Attempts++
		addrs[i] = w.Address
	}
	return addrs
}

// PruneWatch drops watch entries first seen more than maxAge before now.
// A non-positive maxAge disables pruning. Returns the number removed.
func (s *Store) PruneWatch(now time.Time, maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for addr, w := range s.watch {
		if now.Sub(w.FirstSeen) > maxAge {
			delete(s.watch, addr)
			removed++
		}
	}
	return removed
}

// WatchLen returns the number of watch entries.
func (s *Store) WatchLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watch)
}

// Claim marks address as being processed. It returns false when another
// goroutine already holds it; callers must Release after a true Claim.
func (s *Store) Claim(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[address]; busy {
		return false
	}
	s.inFlight[address] = struct{}{}
	return true
}

// Release ends a Claim.
func (s *Store) Release(address string) {
	s.mu.Lock()
	delete(s.inFlight, address)
	s.mu.Unlock()
}

// Snapshot is a point-in-time summary of the store.
type Snapshot struct {
	Seen     int          `json:"seen"`
	Alerted  int          `json:"alerted"`
	Watching int          `json:"watching"`
	InFlight int          `json:"in_flight"`
	Watch    []WatchEntry `json:"watch,omitempty"`
}

// Snapshot copies the current state. Watch entries are sorted by FirstSeen.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	watch := make([]WatchEntry, 0, len(s.watch))
	for _, w := range s.watch {
		watch = append(watch, *w)
	}
	sort.Slice(watch, func(i, j int) bool {
		return watch[i].FirstSeen.Before(watch[j].FirstSeen)
	})

	return Snapshot{
		Seen:     len(s.seen),
		Alerted:  len(s.lastAlert),
		Watching: len(s.watch),
		InFlight: len(s.inFlight),
		Watch:    watch,
	}
}
