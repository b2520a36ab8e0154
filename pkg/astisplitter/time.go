package astisplitter

import (
	"sync/atomic"

	"github.com/asticode/go-astisplitter/pkg/container"
)

// Normalizer converts container timestamps to normalized time and back. Unless a start
// override is provided, the container start time is subtracted first.
type Normalizer struct {
	// In container.TimeBase units
	startTime atomic.Int64
}

func NewNormalizer(startTime int64) *Normalizer {
	n := &Normalizer{}
	n.SetStartTime(startTime)
	return n
}

func (n *Normalizer) SetStartTime(t int64) {
	if t == container.NoPTSValue {
		t = 0
	}
	n.startTime.Store(t)
}

// StartTime is in container.TimeBase units
func (n *Normalizer) StartTime() int64 {
	return n.startTime.Load()
}

func (n *Normalizer) start(num, den int, override int64) int64 {
	if override != container.NoPTSValue {
		return override
	}
	return container.Rescale(n.StartTime(), int64(den), container.TimeBase*int64(num))
}

// ToNormalized converts raw, expressed in num/den units. Use container.NoPTSValue as
// startOverride to subtract the container start time.
func (n *Normalizer) ToNormalized(raw int64, num, den int, startOverride int64) int64 {
	if raw == container.NoPTSValue || num <= 0 || den <= 0 {
		return InvalidTime
	}
	if s := n.start(num, den, startOverride); s != 0 {
		raw -= s
	}
	return container.Rescale(raw, int64(num)*TimeUnit, int64(den))
}

func (n *Normalizer) FromNormalized(t int64, num, den int, startOverride int64) int64 {
	if t == InvalidTime || num <= 0 || den <= 0 {
		return container.NoPTSValue
	}
	v := container.Rescale(t, int64(den), int64(num)*TimeUnit)
	if s := n.start(num, den, startOverride); s != 0 {
		v += s
	}
	return v
}

func (n *Normalizer) toNormalizedQ(raw int64, tb container.Rational) int64 {
	return n.ToNormalized(raw, tb.Num, tb.Den, container.NoPTSValue)
}

func (n *Normalizer) fromNormalizedQ(t int64, tb container.Rational) int64 {
	return n.FromNormalized(t, tb.Num, tb.Den, container.NoPTSValue)
}

// Durations don't carry an offset
func (n *Normalizer) durationToNormalized(d int64, tb container.Rational) int64 {
	return n.ToNormalized(d, tb.Num, tb.Den, 0)
}
