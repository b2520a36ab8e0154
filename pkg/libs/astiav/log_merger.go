package astiavsplitter

import (
	"sort"
	"sync"
	"time"

	"github.com/asticode/go-astikit"
)

type logPatternKey struct {
	ll      astikit.LoggerLevel
	pattern string
}

type logPattern struct {
	count       uint
	firstSeenAt time.Time
	key         logPatternKey
	// Target of the first occurrence
	t       classerTarget
	written uint
}

// logMerger counts log patterns over a buffer window
type logMerger struct {
	m  sync.Mutex // Locks ps
	o  LogInterceptorMergeOptions
	ps map[logPatternKey]*logPattern
}

func newLogMerger(o LogInterceptorMergeOptions) *logMerger {
	return &logMerger{
		o:  o,
		ps: make(map[logPatternKey]*logPattern),
	}
}

// add returns whether the occurrence must be written
func (m *logMerger) add(t classerTarget, ll astikit.LoggerLevel, pattern string) bool {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// New pattern
	k := logPatternKey{
		ll:      ll,
		pattern: pattern,
	}
	p, ok := m.ps[k]
	if !ok {
		m.ps[k] = &logPattern{
			count:       1,
			firstSeenAt: astikit.Now(),
			key:         k,
			t:           t,
			written:     1,
		}
		return true
	}

	// Known pattern
	p.count++
	if p.count > m.o.AllowedCount {
		return false
	}
	p.written++
	return true
}

// expired removes patterns whose window has elapsed at now
func (m *logMerger) expired(now time.Time) []*logPattern {
	return m.remove(func(p *logPattern) bool { return now.Sub(p.firstSeenAt) >= m.o.Buffer })
}

func (m *logMerger) drain() []*logPattern {
	return m.remove(func(*logPattern) bool { return true })
}

func (m *logMerger) remove(fn func(p *logPattern) bool) (ps []*logPattern) {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Remove
	for k, p := range m.ps {
		if fn(p) {
			ps = append(ps, p)
			delete(m.ps, k)
		}
	}

	// Sort
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].firstSeenAt.Equal(ps[j].firstSeenAt) {
			return ps[i].firstSeenAt.Before(ps[j].firstSeenAt)
		}
		return ps[i].key.pattern < ps[j].key.pattern
	})
	return
}
