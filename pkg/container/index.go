package container

import "sort"

type IndexEntryFlags uint32

const (
	IndexEntryFlagKeyframe IndexEntryFlags = 1 << iota
)

type IndexEntry struct {
	Flags     IndexEntryFlags
	Pos       int64
	Timestamp int64
}

func (e IndexEntry) Keyframe() bool {
	return e.Flags&IndexEntryFlagKeyframe > 0
}

// Index maps timestamps to byte positions for one stream. Entries are kept sorted by
// timestamp.
type Index struct {
	es []IndexEntry
}

func NewIndex(es ...IndexEntry) *Index {
	i := &Index{}
	for _, e := range es {
		i.Add(e)
	}
	return i
}

// Add inserts e, replacing any entry with the same timestamp
func (i *Index) Add(e IndexEntry) {
	idx := sort.Search(len(i.es), func(n int) bool { return i.es[n].Timestamp >= e.Timestamp })
	if idx < len(i.es) && i.es[idx].Timestamp == e.Timestamp {
		i.es[idx] = e
		return
	}
	i.es = append(i.es, IndexEntry{})
	copy(i.es[idx+1:], i.es[idx:])
	i.es[idx] = e
}

func (i *Index) Entries() []IndexEntry {
	return i.es
}

func (i *Index) Entry(idx int) (IndexEntry, bool) {
	if idx < 0 || idx >= len(i.es) {
		return IndexEntry{}, false
	}
	return i.es[idx], true
}

func (i *Index) Len() int {
	return len(i.es)
}

func (i *Index) Reset() {
	i.es = nil
}

// Search returns the index of the entry matching timestamp or -1. Without SeekFlagBackward,
// the first entry at or after timestamp is picked, otherwise the last one at or before it.
// Unless SeekFlagAny is set, only keyframes are matched.
func (i *Index) Search(timestamp int64, f SeekFlags) int {
	n := len(i.es)
	a, b := -1, n
	if n > 0 && i.es[n-1].Timestamp < timestamp {
		a = n - 1
	}
	for b-a > 1 {
		m := (a + b) >> 1
		if i.es[m].Timestamp >= timestamp {
			b = m
		}
		if i.es[m].Timestamp <= timestamp {
			a = m
		}
	}

	m := b
	if f.Has(SeekFlagBackward) {
		m = a
	}

	if !f.Has(SeekFlagAny) {
		for m >= 0 && m < n && !i.es[m].Keyframe() {
			if f.Has(SeekFlagBackward) {
				m--
			} else {
				m++
			}
		}
	}

	if m == n {
		return -1
	}
	return m
}
