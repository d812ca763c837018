package manifest

import (
	"sort"
	"sync"
)

// MetaSegmentIndex stitches per-period segment indexes into a single
// queryable catalog. Each sub-index carries a continuity-timeline id:
// adjacent sub-indexes that continue the same underlying encoder clock
// share an id, so the playback layer knows no timestamp re-anchor is
// needed at that period boundary.
type MetaSegmentIndex struct {
	mu             sync.RWMutex
	subs           []metaSub
	nextContinuity int
}

type metaSub struct {
	index      SegmentIndex
	start      float64
	end        float64
	continuity int
}

// NewMetaSegmentIndex returns an empty meta-index.
func NewMetaSegmentIndex() *MetaSegmentIndex {
	return &MetaSegmentIndex{}
}

// Append mounts a period's index spanning [start, end). When contiguous is
// true the sub-index joins the previous one's continuity timeline;
// otherwise it starts a new one.
func (m *MetaSegmentIndex) Append(idx SegmentIndex, start, end float64, contiguous bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextContinuity
	if contiguous && len(m.subs) > 0 {
		id = m.subs[len(m.subs)-1].continuity
	} else {
		m.nextContinuity++
	}
	m.subs = append(m.subs, metaSub{index: idx, start: start, end: end, continuity: id})
}

// SubCount returns the number of mounted sub-indexes.
func (m *MetaSegmentIndex) SubCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Continuity returns the continuity-timeline id of the i-th sub-index.
func (m *MetaSegmentIndex) Continuity(i int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.subs) {
		return -1
	}
	return m.subs[i].continuity
}

// FindSub returns the position of the sub-index whose span contains t.
func (m *MetaSegmentIndex) FindSub(t float64) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findSubLocked(t)
}

func (m *MetaSegmentIndex) findSubLocked(t float64) (int, bool) {
	if len(m.subs) == 0 {
		return 0, false
	}
	i := sort.Search(len(m.subs), func(i int) bool { return m.subs[i].end > t })
	if i == len(m.subs) || m.subs[i].start > t {
		return 0, false
	}
	return i, true
}

// Count implements SegmentIndex.
func (m *MetaSegmentIndex) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.subs {
		n += s.index.Count()
	}
	return n
}

// Get implements SegmentIndex. The position is global across sub-indexes.
func (m *MetaSegmentIndex) Get(i int) *SegmentReference {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 {
		return nil
	}
	for _, s := range m.subs {
		n := s.index.Count()
		if i < n {
			return s.index.Get(i)
		}
		i -= n
	}
	return nil
}

// Find implements SegmentIndex: a binary search over period boundaries,
// then a delegated search inside the matching sub-index.
func (m *MetaSegmentIndex) Find(t float64) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.findSubLocked(t)
	if !ok {
		return 0, false
	}
	local, ok := m.subs[sub].index.Find(t)
	if !ok {
		return 0, false
	}
	global := local
	for i := 0; i < sub; i++ {
		global += m.subs[i].index.Count()
	}
	return global, true
}

// EvictBefore implements SegmentIndex. Fully evicted sub-indexes stay
// mounted (empty) so continuity ids and period positions remain stable.
func (m *MetaSegmentIndex) EvictBefore(t float64) {
	m.mu.RLock()
	subs := make([]metaSub, len(m.subs))
	copy(subs, m.subs)
	m.mu.RUnlock()
	for _, s := range subs {
		if s.start < t {
			s.index.EvictBefore(t)
		}
	}
}

// Each implements SegmentIndex.
func (m *MetaSegmentIndex) Each(fn func(*SegmentReference) bool) {
	m.mu.RLock()
	subs := make([]metaSub, len(m.subs))
	copy(subs, m.subs)
	m.mu.RUnlock()
	for _, s := range subs {
		stop := false
		s.index.Each(func(r *SegmentReference) bool {
			if !fn(r) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return
		}
	}
}
