package monitorer

import (
	"context"
	"sync"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astisplitter/pkg/astisplitter"
)

type Delta struct {
	At              astikit.Timestamp      `json:"at"`
	DoneSessions    []string               `json:"done_sessions,omitempty"`
	NewStats        []DeltaStat            `json:"new_stats,omitempty"`
	Seeks           []DeltaSeek            `json:"seeks,omitempty"`
	StartedSessions []DeltaSession         `json:"started_sessions,omitempty"`
	StatValues      map[uint64]interface{} `json:"stat_values,omitempty"`
}

func newDelta() *Delta {
	return &Delta{StatValues: make(map[uint64]interface{})}
}

func (d Delta) empty() bool {
	return len(d.DoneSessions) == 0 && len(d.NewStats) == 0 &&
		len(d.Seeks) == 0 && len(d.StartedSessions) == 0 &&
		len(d.StatValues) == 0
}

func (d Delta) copy() *Delta {
	dst := newDelta()
	dst.At = d.At
	if len(d.DoneSessions) > 0 {
		dst.DoneSessions = make([]string, len(d.DoneSessions))
		copy(dst.DoneSessions, d.DoneSessions)
	}
	if len(d.NewStats) > 0 {
		dst.NewStats = make([]DeltaStat, len(d.NewStats))
		copy(dst.NewStats, d.NewStats)
	}
	if len(d.Seeks) > 0 {
		dst.Seeks = make([]DeltaSeek, len(d.Seeks))
		copy(dst.Seeks, d.Seeks)
	}
	if len(d.StartedSessions) > 0 {
		dst.StartedSessions = make([]DeltaSession, len(d.StartedSessions))
		copy(dst.StartedSessions, d.StartedSessions)
	}
	if len(d.StatValues) > 0 {
		dst.StatValues = make(map[uint64]interface{}, len(d.StatValues))
		for k, v := range d.StatValues {
			dst.StatValues[k] = v
		}
	}
	return dst
}

type DeltaSeek struct {
	ByByte    bool   `json:"by_byte,omitempty"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"session_id"`
	// Normalized time or byte offset
	Target int64 `json:"target"`
}

type DeltaSession struct {
	// Normalized time, -1 when unknown
	Duration int64                 `json:"duration"`
	Format   astisplitter.Format   `json:"format"`
	ID       string                `json:"id"`
	Metadata astisplitter.Metadata `json:"metadata"`
}

type DeltaStat struct {
	ID        uint64            `json:"id"`
	Metadata  DeltaStatMetadata `json:"metadata"`
	SessionID *string           `json:"session_id,omitempty"`
}

type DeltaStatMetadata struct {
	Description string `json:"description,omitempty"`
	Label       string `json:"label,omitempty"`
	Name        string `json:"name,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

func newDeltaStatMetadata(i astikit.DeltaStatMetadata) DeltaStatMetadata {
	return DeltaStatMetadata{
		Description: i.Description,
		Label:       i.Label,
		Name:        i.Name,
		Unit:        i.Unit,
	}
}

// Monitorer periodically gathers sessions' delta stats and what happened to sessions
// since the previous period
type Monitorer struct {
	cd *Delta // Catchup Delta
	d  *Delta
	ds *astikit.DeltaStater
	mc *sync.Mutex // Locks cd
	md *sync.Mutex // Locks d
	o  MonitorerOptions
}

type OnDelta func(d Delta)

type MonitorerOptions struct {
	// Stats that are not related to a session, such as host usage
	DeltaStats []astikit.DeltaStat
	OnDelta    OnDelta
	Period     time.Duration
}

func New(o MonitorerOptions) *Monitorer {
	// Create monitorer
	m := &Monitorer{
		cd: newDelta(),
		d:  newDelta(),
		mc: &sync.Mutex{},
		md: &sync.Mutex{},
		o:  o,
	}

	// Create delta stater
	m.ds = astikit.NewDeltaStater(astikit.DeltaStaterOptions{
		OnStats: m.onStats,
		Period:  o.Period,
	})

	// Add global stats
	m.addStats(o.DeltaStats, nil)
	return m
}

func (m *Monitorer) addStats(dss []astikit.DeltaStat, sessionID *string) (statIDs []uint64) {
	// Loop through delta stats
	for _, ds := range dss {
		// Add to stater
		id := m.ds.Add(ds.Valuer)
		statIDs = append(statIDs, id)

		// Create delta stat
		s := DeltaStat{
			ID:        id,
			Metadata:  newDeltaStatMetadata(ds.Metadata),
			SessionID: sessionID,
		}

		// Store stat
		m.mc.Lock()
		m.cd.NewStats = append(m.cd.NewStats, s)
		m.mc.Unlock()
		m.md.Lock()
		m.d.NewStats = append(m.d.NewStats, s)
		m.md.Unlock()
	}
	return
}

// Monitor must be called before the session is opened
func (m *Monitorer) Monitor(s *astisplitter.Session) {
	var opened bool
	var statIDs []uint64
	s.On(astisplitter.EventNameSessionOpened, func(payload interface{}) (delete bool) {
		// Update opened
		opened = true

		// Create delta session
		ds := DeltaSession{
			Duration: s.Duration(),
			Format:   s.Format(),
			ID:       s.ID(),
			Metadata: s.Metadata(),
		}

		// Store session
		m.mc.Lock()
		m.cd.StartedSessions = append(m.cd.StartedSessions, ds)
		m.mc.Unlock()
		m.md.Lock()
		m.d.StartedSessions = append(m.d.StartedSessions, ds)
		m.md.Unlock()

		// Add stats
		statIDs = m.addStats(s.DeltaStats(), astikit.StrPtr(s.ID()))
		return
	})
	s.On(astisplitter.EventNameSessionSeeked, func(payload interface{}) (delete bool) {
		// Assert payload
		e, ok := payload.(astisplitter.SeekEvent)
		if !ok {
			return
		}

		// Create delta seek
		dk := DeltaSeek{
			ByByte:    e.ByByte,
			SessionID: s.ID(),
			Target:    e.Target,
		}
		if e.Err != nil {
			dk.Error = e.Err.Error()
		}

		// Store seek
		m.md.Lock()
		m.d.Seeks = append(m.d.Seeks, dk)
		m.md.Unlock()
		return
	})
	s.On(astisplitter.EventNameSessionClosed, func(payload interface{}) (delete bool) {
		// Remove stats
		m.mc.Lock()
		for _, statID := range statIDs {
			for idx := 0; idx < len(m.cd.NewStats); idx++ {
				if m.cd.NewStats[idx].ID == statID {
					m.cd.NewStats = append(m.cd.NewStats[:idx], m.cd.NewStats[idx+1:]...)
					idx--
				}
			}
		}
		m.mc.Unlock()
		m.ds.Remove(statIDs...)

		// Session was never opened
		if !opened {
			return
		}

		// Store session
		m.mc.Lock()
		for idx := 0; idx < len(m.cd.StartedSessions); idx++ {
			if m.cd.StartedSessions[idx].ID == s.ID() {
				m.cd.StartedSessions = append(m.cd.StartedSessions[:idx], m.cd.StartedSessions[idx+1:]...)
				idx--
			}
		}
		m.mc.Unlock()
		m.md.Lock()
		m.d.DoneSessions = append(m.d.DoneSessions, s.ID())
		m.md.Unlock()
		return
	})
}

func (m *Monitorer) Start(ctx context.Context) {
	// Start stater
	m.ds.Start(ctx)
}

func (m *Monitorer) Close() {
	// Stop stater
	m.ds.Stop()
}

func (m *Monitorer) onStats(stats []astikit.DeltaStatValue) {
	// Swap delta
	m.md.Lock()
	d := *m.d
	m.d = newDelta()
	m.md.Unlock()

	// Update at
	d.At = *astikit.NewTimestamp(astikit.Now())

	// Loop through stats
	m.mc.Lock()
	m.cd.StatValues = map[uint64]interface{}{}
	for _, s := range stats {
		d.StatValues[s.ID] = s.Value
		m.cd.StatValues[s.ID] = s.Value
	}
	m.mc.Unlock()

	// Callback
	if !d.empty() && m.o.OnDelta != nil {
		m.o.OnDelta(d)
	}
}

// CatchUp returns the sessions currently open and their stats
func (m *Monitorer) CatchUp() Delta {
	// Lock
	m.mc.Lock()
	defer m.mc.Unlock()

	// Copy delta
	d := m.cd.copy()

	// Update at
	d.At = *astikit.NewTimestamp(astikit.Now())
	return *d
}
