// Package seekindex records the byte positions of keyframes so a container
// can seek by time without scanning, and persists complete indexes keyed by
// source identity.
package seekindex

import (
	"sort"
	"sync"
	"time"
)

// Entry locates one keyframe of the reference stream.
type Entry struct {
	StreamIndex int
	PTS         time.Duration
	// Offset is the byte position of the first transport unit of the
	// keyframe in the source.
	Offset int64
	Seq    int64
}

// Index is an append-only list of entries in strictly increasing PTS order.
// One writer (the read loop) appends while any number of readers search.
type Index struct {
	mu          sync.RWMutex
	streamIndex int
	entries     []Entry
	complete    bool
}

// New returns an empty index for the given reference stream.
func New(streamIndex int) *Index {
	return &Index{streamIndex: streamIndex}
}

// FromEntries builds a complete index from persisted entries. Entries that
// would break the ordering are dropped.
func FromEntries(streamIndex int, entries []Entry) *Index {
	idx := New(streamIndex)
	for _, e := range entries {
		idx.Add(e)
	}
	idx.complete = true
	return idx
}

// StreamIndex returns the reference stream the index covers.
func (x *Index) StreamIndex() int { return x.streamIndex }

// Add appends e. It returns false, leaving the index unchanged, when e's
// PTS does not advance past the last entry.
func (x *Index) Add(e Entry) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if n := len(x.entries); n > 0 && e.PTS <= x.entries[n-1].PTS {
		return false
	}
	e.StreamIndex = x.streamIndex
	x.entries = append(x.entries, e)
	return true
}

// FindNearest returns the entry with the greatest PTS not after t. It
// reports false when the index is empty or t precedes the first entry.
func (x *Index) FindNearest(t time.Duration) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	i := sort.Search(len(x.entries), func(i int) bool { return x.entries[i].PTS > t })
	if i == 0 {
		return Entry{}, false
	}
	return x.entries[i-1], true
}

// Len returns the number of entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Last returns the newest entry.
func (x *Index) Last() (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.entries) == 0 {
		return Entry{}, false
	}
	return x.entries[len(x.entries)-1], true
}

// Entries returns a copy of the entries.
func (x *Index) Entries() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Entry, len(x.entries))
	copy(out, x.entries)
	return out
}

// MarkComplete records that every keyframe of the source has been added.
func (x *Index) MarkComplete() {
	x.mu.Lock()
	x.complete = true
	x.mu.Unlock()
}

// Complete reports whether the index covers the whole source.
func (x *Index) Complete() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.complete
}
