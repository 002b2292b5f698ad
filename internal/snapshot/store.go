package snapshot

import (
	"sort"
	"sync"
	"time"

	"rank-alerts/internal/serp"
)

// Store keeps recent ranking observations per (project, keyword) in memory.
//
// Writes for a given key only ever come from the one goroutine owning that
// project's monitoring loop; the RWMutex exists so concurrent readers (the
// query API, exporters) observe a consistent prefix while a loop appends.
type Store struct {
	mu        sync.RWMutex
	retention time.Duration
	series    map[key][]serp.RankingSnapshot
}

type key struct {
	projectID string
	keyword   string
}

// NewStore builds a store evicting entries older than retention. The most
// recent snapshot for a key is never evicted so there is always a previous
// reference point for diffing after a long gap.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Store{
		retention: retention,
		series:    make(map[key][]serp.RankingSnapshot),
	}
}

// Append records a snapshot and lazily evicts expired entries for its key.
func (s *Store) Append(snap serp.RankingSnapshot) {
	k := key{projectID: snap.ProjectID, keyword: snap.Keyword}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.series[k], snap)
	cutoff := time.Now().Add(-s.retention)

	// Evict everything beyond the horizon except the newest entry.
	firstLive := 0
	for firstLive < len(entries)-1 && entries[firstLive].ObservedAt.Before(cutoff) {
		firstLive++
	}
	if firstLive > 0 {
		entries = append([]serp.RankingSnapshot(nil), entries[firstLive:]...)
	}

	s.series[k] = entries
}

// Latest returns the most recent snapshot for the key, if any.
func (s *Store) Latest(projectID, keyword string) (serp.RankingSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.series[key{projectID: projectID, keyword: keyword}]
	if len(entries) == 0 {
		return serp.RankingSnapshot{}, false
	}
	return entries[len(entries)-1], true
}

// Window returns the snapshots observed at or after since, ordered by
// observation time ascending. The result is a copy safe to hold across
// subsequent appends.
func (s *Store) Window(projectID, keyword string, since time.Time) []serp.RankingSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.series[key{projectID: projectID, keyword: keyword}]
	idx := sort.Search(len(entries), func(i int) bool {
		return !entries[i].ObservedAt.Before(since)
	})
	if idx >= len(entries) {
		return nil
	}

	window := make([]serp.RankingSnapshot, len(entries)-idx)
	copy(window, entries[idx:])
	return window
}

// Drop removes all series for a project. Used when a project stops being
// monitored and its history is no longer needed in memory.
func (s *Store) Drop(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.series {
		if k.projectID == projectID {
			delete(s.series, k)
		}
	}
}

// Len reports the number of retained snapshots for a key.
func (s *Store) Len(projectID, keyword string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[key{projectID: projectID, keyword: keyword}])
}
