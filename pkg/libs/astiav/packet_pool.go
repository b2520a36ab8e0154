package astiavsplitter

import (
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

const defaultMaxIdlePackets = 4

// packetPool recycles libav packets between reads. At most maxIdle packets are kept idle,
// released packets above that are freed right away.
type packetPool struct {
	allocated uint64
	idle      []*astiav.Packet
	m         sync.Mutex // Locks idle
	maxIdle   int
	reused    uint64
}

func newPacketPool(maxIdle int, c *astikit.Closer) *packetPool {
	pp := &packetPool{maxIdle: maxIdle}
	c.Add(pp.free)
	return pp
}

func (pp *packetPool) acquire() *astiav.Packet {
	// Lock
	pp.m.Lock()
	defer pp.m.Unlock()

	// Reuse the most recently released packet
	if n := len(pp.idle); n > 0 {
		pkt := pp.idle[n-1]
		pp.idle = pp.idle[:n-1]
		atomic.AddUint64(&pp.reused, 1)
		return pkt
	}

	// Allocate
	atomic.AddUint64(&pp.allocated, 1)
	return astiav.AllocPacket()
}

func (pp *packetPool) release(pkt *astiav.Packet) {
	// Unref
	pkt.Unref()

	// Lock
	pp.m.Lock()
	defer pp.m.Unlock()

	// Pool is full
	if len(pp.idle) >= pp.maxIdle {
		pkt.Free()
		return
	}
	pp.idle = append(pp.idle, pkt)
}

func (pp *packetPool) free() {
	// Lock
	pp.m.Lock()
	defer pp.m.Unlock()

	// Free idle packets
	for _, pkt := range pp.idle {
		pkt.Free()
	}
	pp.idle = nil
}

func (pp *packetPool) deltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of libav packets allocated by the demuxer",
				Label:       "Allocated packets",
				Name:        DeltaStatNameAllocatedPackets,
				Unit:        "p",
			},
			Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&pp.allocated),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of libav packets taken back from the pool",
				Label:       "Reused packets",
				Name:        DeltaStatNameReusedPackets,
				Unit:        "p",
			},
			Valuer: astikit.NewAtomicUint64CumulativeDeltaStat(&pp.reused),
		},
	}
}
