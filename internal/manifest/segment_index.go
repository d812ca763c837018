package manifest

import (
	"sort"
	"sync"
)

// SegmentIndex is a time-indexed catalog of segment references. VOD indexes
// are fixed after construction; live indexes are appended to and evicted
// from when the manifest is re-parsed. Implementations are safe for
// concurrent readers; every read sees a consistent snapshot.
type SegmentIndex interface {
	// Count returns the number of references currently in the index.
	Count() int
	// Get returns the i-th reference, or nil when i is out of range.
	Get(i int) *SegmentReference
	// Find returns the position of the reference containing t, or false
	// when t falls outside the index.
	Find(t float64) (int, bool)
	// EvictBefore drops references that end at or before t.
	EvictBefore(t float64)
	// Each calls fn for every reference in order until fn returns false.
	Each(fn func(*SegmentReference) bool)
}

// References is the slice-backed SegmentIndex used for a single period.
type References struct {
	mu   sync.RWMutex
	refs []*SegmentReference
}

// NewReferences wraps refs, which must be ordered and non-overlapping.
func NewReferences(refs []*SegmentReference) *References {
	return &References{refs: refs}
}

// Count implements SegmentIndex.
func (x *References) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.refs)
}

// Get implements SegmentIndex.
func (x *References) Get(i int) *SegmentReference {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if i < 0 || i >= len(x.refs) {
		return nil
	}
	return x.refs[i]
}

// Find implements SegmentIndex.
func (x *References) Find(t float64) (int, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.refs) == 0 {
		return 0, false
	}
	i := sort.Search(len(x.refs), func(i int) bool { return x.refs[i].EndTime > t })
	if i == len(x.refs) || x.refs[i].StartTime > t {
		return 0, false
	}
	return i, true
}

// EvictBefore implements SegmentIndex.
func (x *References) EvictBefore(t float64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for n < len(x.refs) && x.refs[n].EndTime <= t {
		n++
	}
	if n > 0 {
		x.refs = x.refs[n:]
	}
}

// Each implements SegmentIndex.
func (x *References) Each(fn func(*SegmentReference) bool) {
	x.mu.RLock()
	snapshot := x.refs
	x.mu.RUnlock()
	for _, r := range snapshot {
		if !fn(r) {
			return
		}
	}
}

// Merge replaces the tail of the index with newRefs: existing references
// that start at or after the first new reference are discarded, then
// newRefs are appended. Used by live re-parses, where the manifest
// republishes a window that overlaps what we already hold.
func (x *References) Merge(newRefs []*SegmentReference) {
	if len(newRefs) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	cut := len(x.refs)
	first := newRefs[0].StartTime
	for cut > 0 && x.refs[cut-1].StartTime >= first-timeTolerance {
		cut--
	}
	merged := make([]*SegmentReference, 0, cut+len(newRefs))
	merged = append(merged, x.refs[:cut]...)
	merged = append(merged, newRefs...)
	x.refs = merged
}

// timeTolerance absorbs floating-point jitter when correlating segment
// start times between two parses of the same manifest.
const timeTolerance = 1.0 / 15
