package astisplitter

import (
	"sync/atomic"

	"github.com/asticode/go-astikit"
)

const (
	DeltaStatNameDiscardedRate    = "astisplitter.discarded.rate"
	DeltaStatNameHostUsage        = "astisplitter.host.usage"
	DeltaStatNameIncomingByteRate = "astisplitter.incoming.byte_rate"
	DeltaStatNameIncomingRate     = "astisplitter.incoming.rate"
	DeltaStatNameOutgoingByteRate = "astisplitter.outgoing.byte_rate"
	DeltaStatNameOutgoingRate     = "astisplitter.outgoing.rate"
	DeltaStatNameSeeks            = "astisplitter.seeks"
)

type DeltaStatHostUsageValue struct {
	CPU    DeltaStatHostCPUUsageValue    `json:"cpu"`
	Memory DeltaStatHostMemoryUsageValue `json:"memory"`
}

type DeltaStatHostCPUUsageValue struct {
	Individual []float64 `json:"individual"`
	Process    *float64  `json:"process,omitempty"`
	Total      float64   `json:"total"`
}

type DeltaStatHostMemoryUsageValue struct {
	Resident uint64 `json:"resident"`
	Total    uint64 `json:"total"`
	Used     uint64 `json:"used"`
	Virtual  uint64 `json:"virtual"`
}

type sessionStats struct {
	discardedPackets uint64
	incomingBytes    uint64
	incomingPackets  uint64
	outgoingBytes    uint64
	outgoingPackets  uint64
	seeks            uint64
}

func newSessionStats() *sessionStats {
	return &sessionStats{}
}

type SessionCumulativeStats struct {
	DiscardedPackets uint64 `json:"discarded_packets"`
	IncomingBytes    uint64 `json:"incoming_bytes"`
	IncomingPackets  uint64 `json:"incoming_packets"`
	OutgoingBytes    uint64 `json:"outgoing_bytes"`
	OutgoingPackets  uint64 `json:"outgoing_packets"`
	Seeks            uint64 `json:"seeks"`
}

func (s *Session) CumulativeStats() SessionCumulativeStats {
	return SessionCumulativeStats{
		DiscardedPackets: atomic.LoadUint64(&s.st.discardedPackets),
		IncomingBytes:    atomic.LoadUint64(&s.st.incomingBytes),
		IncomingPackets:  atomic.LoadUint64(&s.st.incomingPackets),
		OutgoingBytes:    atomic.LoadUint64(&s.st.outgoingBytes),
		OutgoingPackets:  atomic.LoadUint64(&s.st.outgoingPackets),
		Seeks:            atomic.LoadUint64(&s.st.seeks),
	}
}

type deltaStater interface {
	DeltaStats() []astikit.DeltaStat
}

// DeltaStats includes the container's stats once open. It must not be called from
// handlers of events emitted under the session lock.
func (s *Session) DeltaStats() []astikit.DeltaStat {
	// Get demuxer
	s.m.Lock()
	d := s.d
	s.m.Unlock()

	ss := []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of packets of inactive tracks or malformed discarded per second",
				Label:       "Discarded rate",
				Name:        DeltaStatNameDiscardedRate,
				Unit:        "pps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.st.discardedPackets),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of bytes read from the container per second",
				Label:       "Incoming byte rate",
				Name:        DeltaStatNameIncomingByteRate,
				Unit:        "Bps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.st.incomingBytes),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of packets read from the container per second",
				Label:       "Incoming rate",
				Name:        DeltaStatNameIncomingRate,
				Unit:        "pps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.st.incomingPackets),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of bytes emitted per second",
				Label:       "Outgoing byte rate",
				Name:        DeltaStatNameOutgoingByteRate,
				Unit:        "Bps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.st.outgoingBytes),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of packets emitted per second",
				Label:       "Outgoing rate",
				Name:        DeltaStatNameOutgoingRate,
				Unit:        "pps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&s.st.outgoingPackets),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of seeks since the previous value",
				Label:       "Seeks",
				Name:        DeltaStatNameSeeks,
			},
			Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&s.st.seeks),
		},
	}
	if v, ok := d.(deltaStater); ok {
		ss = append(ss, v.DeltaStats()...)
	}
	return ss
}
