// Package astisplitter demultiplexes containers into per-track packets with normalized
// timestamps and seeks over a partially buffered byte source.
package astisplitter

import (
	"math"
	"time"
)

// Normalized time ticks per second (100ns units)
const TimeUnit = 10000000

// InvalidTime is the "no time" sentinel of normalized timestamps
const InvalidTime int64 = math.MinInt64

const DefaultOpenTimeout = 20 * time.Second

// Track ids that don't point to a container stream
const (
	NoTrackID        = -1
	NoSubtitleID     = -2
	ForcedSubtitleID = -3
)

// Above this number of consecutive non keyframes on the reference track, a seek scan
// gives up
const maxNonKeyframes = 1000
