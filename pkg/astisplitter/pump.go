package astisplitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/asticode/go-astisplitter/pkg/container"
)

type PacketFlags uint32

const (
	// H.264 payload must be converted to Annex-B
	PacketFlagH264AnnexB PacketFlags = 1 << iota
	// Downstream forced subtitle parsing must be skipped
	PacketFlagParsed
	PacketFlagMovText
	PacketFlagForcedSubtitle
)

func (f PacketFlags) Has(i PacketFlags) bool {
	return f&i > 0
}

// Packet is handed over to the caller and not retained
type Packet struct {
	Data          []byte
	Discontinuity bool
	Flags         PacketFlags
	Position      int64
	// Normalized, InvalidTime when unknown
	Start     int64
	Stop      int64
	SyncPoint bool
	TrackID   int
}

// Next reads one container packet. ErrTryAgain is returned when there is nothing to emit
// yet (not enough data or a packet of an inactive track), io.EOF at the end of the
// stream. Any other error is terminal.
func (s *Session) Next(ctx context.Context) (*Packet, error) {
	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Check status
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	// Make abortable
	ctx, stop := s.withAbort(ctx)
	defer stop()
	return s.next(ctx)
}

func (s *Session) next(ctx context.Context) (*Packet, error) {
	// Read packet
	pkt := &s.pkt
	pkt.Reset()
	if err := s.d.ReadPacket(ctx, pkt); err != nil {
		switch {
		case container.IsTransient(err):
			if s.aborted.Load() {
				return nil, ErrAborted
			}
			return nil, ErrTryAgain
		case errors.Is(err, io.EOF):
			s.l.DebugC(s.ctx, "astisplitter: end of file reached")
			return nil, io.EOF
		default:
			return nil, fmt.Errorf("astisplitter: reading packet failed: %w", err)
		}
	}

	// Increment stats
	atomic.AddUint64(&s.st.incomingPackets, 1)
	atomic.AddUint64(&s.st.incomingBytes, uint64(len(pkt.Data)))

	// Malformed packet
	if pkt.Size < 0 || pkt.StreamIndex < 0 || pkt.StreamIndex >= len(s.streams) {
		atomic.AddUint64(&s.st.discardedPackets, 1)
		// Reading goes on until the demuxer reports the end of the stream itself
		if s.d.EOF() {
			s.l.DebugC(s.ctx, fmt.Sprintf("astisplitter: malformed packet (size %d, stream #%d) at end of file discarded", pkt.Size, pkt.StreamIndex))
		}
		return nil, ErrTryAgain
	}

	// Inactive track
	forced, active := s.isActive(pkt.StreamIndex)
	if !active {
		atomic.AddUint64(&s.st.discardedPackets, 1)
		return nil, ErrTryAgain
	}

	// Normalize
	p := s.normalizePacket(pkt, s.streams[pkt.StreamIndex], forced)

	// Update current time
	if p.Start != InvalidTime {
		s.rtCurrent.Store(p.Start)
	}

	// Increment stats
	atomic.AddUint64(&s.st.outgoingBytes, uint64(len(p.Data)))
	atomic.AddUint64(&s.st.outgoingPackets, 1)
	return p, nil
}

// isActive checks whether a stream is active. forced is true when the stream only feeds
// the forced subtitle placeholder.
func (s *Session) isActive(idx int) (forced, active bool) {
	for _, k := range trackKinds {
		if id := s.active[k]; id >= 0 && id == idx {
			return false, true
		}
	}

	if s.active[TrackKindSubtitle] == ForcedSubtitleID && s.forcedSubtitle >= 0 && idx == s.forcedSubtitle {
		return true, true
	}

	// TrueHD and its AC-3 core are read together
	if s.family.mpegts {
		if p := subStreamPartner(s.streams, idx); p >= 0 && s.active[TrackKindAudio] == p {
			return false, true
		}
	}
	return false, false
}

func (s *Session) normalizePacket(pkt *container.Packet, st *container.Stream, forced bool) *Packet {
	// Create packet
	p := &Packet{
		Position: pkt.Pos,
		TrackID:  pkt.StreamIndex,
	}
	if len(pkt.Data) > 0 {
		p.Data = make([]byte, len(pkt.Data))
		copy(p.Data, pkt.Data)
	}

	// Apply corrections
	pts, dts := pkt.PTS, pkt.DTS
	policy := CorrectionFor(s.family.correctionFamily(), st.CodecID, st.MediaType, s.vc1Correction)
	if policy.Has(CorrectionAnnexBProbe) {
		if isAnnexB(st.ExtraData) {
			p.Flags |= PacketFlagH264AnnexB
		} else {
			dts = container.NoPTSValue
		}
	}
	if policy.Has(CorrectionSuppressPTS) {
		pts = container.NoPTSValue
	}
	if policy.Has(CorrectionSuppressDTS) {
		dts = container.NoPTSValue
	}

	// Handle wrapping
	if s.family.mpegts && !s.bluRay {
		pts, dts = unwrapTimestamps(pts, dts, s.n.StartTime(), st)
	}

	// Normalize timestamps
	ptsN := s.n.toNormalizedQ(pts, st.TimeBase)
	dtsN := s.n.toNormalizedQ(dts, st.TimeBase)
	duration := pkt.Duration
	if s.family.matroska && st.MediaType == container.MediaTypeSubtitle && pkt.ConvergenceDuration > 0 {
		duration = pkt.ConvergenceDuration
	}
	durationN := s.n.durationToNormalized(duration, st.TimeBase)
	if durationN == InvalidTime {
		durationN = 0
	}

	// Presented time
	rt := ptsN
	if rt == InvalidTime {
		rt = dtsN
	}
	switch {
	case policy.Has(CorrectionUsePTSOnly):
		rt = ptsN
		if !s.vc1SeenTimestamp {
			if rt == InvalidTime && dtsN != InvalidTime {
				rt = dtsN
			}
			s.vc1SeenTimestamp = ptsN != InvalidTime
		}
	case policy.Has(CorrectionUseDTSOnly):
		rt = dtsN
	}

	// Annotate
	if policy.Has(CorrectionPreParsed) {
		p.Flags |= PacketFlagParsed
	}
	switch st.CodecID {
	case container.CodecIDMovText:
		p.Flags |= PacketFlagMovText
	case container.CodecIDPGS:
		if s.pgsNoParsing {
			p.Flags |= PacketFlagParsed
		}
	}

	// Times
	p.Start, p.Stop = rt, rt
	if rt != InvalidTime {
		if durationN > 0 || st.CodecID == container.CodecIDTrueHD {
			p.Stop += durationN
		} else {
			p.Stop++
		}
	}

	// Subtitles
	if st.MediaType == container.MediaTypeSubtitle {
		p.Discontinuity = true
		if forced {
			p.Flags |= PacketFlagForcedSubtitle
			p.Flags &^= PacketFlagParsed
		}
	}

	// Flags
	p.SyncPoint = pkt.Flags.Has(container.PacketFlagKey)
	if pkt.Flags.Has(container.PacketFlagCorrupt) {
		s.l.DebugC(s.ctx, fmt.Sprintf("astisplitter: signaling discontinuity because of corrupt packet on stream #%d", pkt.StreamIndex))
		p.Discontinuity = true
	}
	return p
}

// unwrapTimestamps adds a wrap period to PTS and DTS when both are more than a second
// behind the container start time. startTime is in container.TimeBase units.
func unwrapTimestamps(pts, dts, startTime int64, st *container.Stream) (int64, int64) {
	if st.PTSWrapBits <= 0 || st.PTSWrapBits >= 63 || !st.TimeBase.Valid() {
		return pts, dts
	}
	start := container.RescaleQ(startTime, containerTimeBase, st.TimeBase)
	den := int64(st.TimeBase.Den)
	if (pts == container.NoPTSValue || pts-start < -den) && (dts == container.NoPTSValue || dts-start < -den) {
		wrap := int64(1) << st.PTSWrapBits
		if pts != container.NoPTSValue {
			pts += wrap
		}
		if dts != container.NoPTSValue {
			dts += wrap
		}
	}
	return pts, dts
}
