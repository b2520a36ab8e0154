package astisplitter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/asticode/go-astisplitter/pkg/container"
)

type seekFunc func(ctx context.Context, t int64, f container.SeekFlags) error

// Seek repositions the container on normalized time t. Failing to seek is logged and
// reported through EventNameSessionSeeked only: reading goes on from wherever the cursor
// landed.
func (s *Session) Seek(ctx context.Context, t int64) error {
	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Check status
	if err := s.checkOpen(); err != nil {
		return err
	}

	// Make abortable
	ctx, stop := s.withAbort(ctx)
	defer stop()

	// Log
	s.l.InfoC(s.ctx, fmt.Sprintf("astisplitter: seeking to time %d", t))

	// Seek
	err := s.seek(ctx, t)
	if err != nil {
		s.l.WarnC(s.ctx, fmt.Errorf("astisplitter: didn't seek by position or time: %w", err))
	}

	// Parsers' internal state is now invalid
	s.resetParsers()
	s.vc1SeenTimestamp = false

	// Increment stats
	atomic.AddUint64(&s.st.seeks, 1)

	// Emit
	s.e.Emit(EventNameSessionSeeked, SeekEvent{Err: err, Target: t})
	return nil
}

func (s *Session) seek(ctx context.Context, t int64) (err error) {
	// Position based seeking is preferred, the host buffer is position based as well
	caps := s.seekingCapabilities()
	if caps.Has(SeekingCapabilityPosition) {
		if err = s.seekWithRetry(ctx, "seek by position", s.seekByPosition, t, 0); err == nil {
			return
		}
	}

	if caps.Has(SeekingCapabilityTime) {
		if err = s.seekWithRetry(ctx, "seek by time", s.seekByTime, t, 0); err == nil {
			return
		}
	}

	// Seeking backward only moves back in the buffer, seeking forward waits for the right
	// timestamp while reading
	if caps == SeekingCapabilityNone {
		if err = s.seekWithRetry(ctx, "seek by position (no seeking capability)", s.seekByPosition, t, container.SeekFlagBackward); err == nil {
			return
		}
	}

	if err == nil {
		err = errors.New("astisplitter: no seek method available")
	}
	return
}

func (s *Session) seekWithRetry(ctx context.Context, name string, fn seekFunc, t int64, f container.SeekFlags) error {
	err := fn(ctx, t, f)
	if err == nil {
		return nil
	}
	s.l.WarnC(s.ctx, fmt.Errorf("astisplitter: first %s failed: %w", name, err))

	// Allow non keyframes
	if err = fn(ctx, t, f|container.SeekFlagAny); err != nil {
		s.l.WarnC(s.ctx, fmt.Errorf("astisplitter: second %s failed: %w", name, err))
		return err
	}
	return nil
}

func (s *Session) seekingCapabilities() SeekingCapabilities {
	if s.o.Host == nil {
		return SeekingCapabilityNone
	}
	return s.o.Host.SeekingCapabilities()
}

// SeekByByte seeks on a byte offset, bypassing time
func (s *Session) SeekByByte(ctx context.Context, offset int64) error {
	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Check status
	if err := s.checkOpen(); err != nil {
		return err
	}

	// Make abortable
	ctx, stop := s.withAbort(ctx)
	defer stop()

	// Seek
	err := s.d.Seek(ctx, -1, offset, container.SeekFlagByte)
	if err != nil {
		s.l.WarnC(s.ctx, fmt.Errorf("astisplitter: seeking to byte %d failed: %w", offset, err))
	}

	// Reset parsers
	s.resetParsers()
	s.vc1SeenTimestamp = false

	// Increment stats
	atomic.AddUint64(&s.st.seeks, 1)

	// Emit
	s.e.Emit(EventNameSessionSeeked, SeekEvent{ByByte: true, Err: err, Target: offset})
	return nil
}

// seekReference returns the stream seeks are computed on: the active video, else the
// default stream
func (s *Session) seekReference() (int, error) {
	if id := s.active[TrackKindVideo]; id >= 0 && id < len(s.streams) {
		return id, nil
	}
	if idx := defaultStreamIndex(s.streams); idx >= 0 {
		return idx, nil
	}
	return -1, ErrNoSeekableStream
}

// defaultStreamIndex returns the first video stream, else the first audio stream, else the
// first stream
func defaultStreamIndex(streams []*container.Stream) int {
	if len(streams) == 0 {
		return -1
	}
	audio := -1
	for idx, st := range streams {
		switch st.MediaType {
		case container.MediaTypeVideo:
			return idx
		case container.MediaTypeAudio:
			if audio < 0 {
				audio = idx
			}
		}
	}
	if audio >= 0 {
		return audio
	}
	return 0
}

func (s *Session) index(ref int) *container.Index {
	if i := s.d.Index(ref); i != nil {
		return i
	}
	return container.NewIndex()
}

func (s *Session) seekTarget(t int64) (ref int, ts int64, err error) {
	if ref, err = s.seekReference(); err != nil {
		return
	}
	ts = s.n.fromNormalizedQ(t, s.streams[ref].TimeBase)
	if ts == container.NoPTSValue {
		err = fmt.Errorf("astisplitter: converting time %d on stream #%d failed: %w", t, ref, ErrSeekTimeInvalid)
	}
	return
}

func (s *Session) seekByTime(ctx context.Context, t int64, f container.SeekFlags) error {
	// Get target
	ref, seekTS, err := s.seekTarget(t)
	if err != nil {
		return err
	}
	s.l.DebugC(s.ctx, fmt.Sprintf("astisplitter: seeking by time to %d on stream #%d (target %d)", t, ref, seekTS))

	// Target is in the buffered part of the index
	s.d.Flush()
	idx := s.index(ref)
	i := idx.Search(seekTS, f)
	found := i >= 0 && i < idx.Len()-1

	if !found {
		// Let the host seek
		idx.Reset()
		if s.o.Host == nil {
			return fmt.Errorf("astisplitter: no host: %w", ErrSeekTimeInvalid)
		}
		seeked, err := s.o.Host.SeekToTime(ctx, seekTS)
		if err != nil {
			return fmt.Errorf("astisplitter: host seeking to %d failed: %w: %w", seekTS, ErrSeekTimeInvalid, err)
		}
		if seeked < 0 || seeked > seekTS {
			return fmt.Errorf("astisplitter: host seeked to %d instead of %d: %w", seeked, seekTS, ErrSeekTimeInvalid)
		}
		s.l.DebugC(s.ctx, fmt.Sprintf("astisplitter: host seeked to time %d", seeked))

		// Search again
		if found, i, err = s.searchAfterHostSeek(idx, seekTS, f, true); err != nil {
			return err
		}

		if !found {
			// The index can't tell where to go
			if i < 0 || i == idx.Len()-1 {
				if err = s.seekToEntryOrOffset(ctx, ref, idx, i, 0); err != nil {
					return err
				}
				if err = s.scanForKeyframe(ctx, ref, seekTS, nil); err != nil {
					return err
				}
			}
		}
	}
	return s.seekToIndexEntry(ctx, ref, seekTS, f)
}

func (s *Session) seekByPosition(ctx context.Context, t int64, f container.SeekFlags) error {
	// Get target
	ref, seekTS, err := s.seekTarget(t)
	if err != nil {
		return err
	}
	s.l.DebugC(s.ctx, fmt.Sprintf("astisplitter: seeking by position to %d on stream #%d (target %d)", t, ref, seekTS))

	// Try the format's own seeking method first, the stream is positioned when it succeeds
	if !s.family.flv {
		s.d.Flush()
		if err = s.d.ReadSeek(ctx, ref, seekTS, f); err == nil {
			return nil
		} else if !errors.Is(err, container.ErrNotSupported) {
			s.l.DebugC(s.ctx, fmt.Errorf("astisplitter: format seeking failed: %w", err))
		}
	}

	// Search index
	idx := s.index(ref)
	found, i, err := s.searchAfterHostSeek(idx, seekTS, f, !s.family.flv)
	if err != nil {
		return err
	}

	// The index can't tell where to go, and FLV indexes can't be trusted
	if !found && (i < 0 || i == idx.Len()-1 || s.family.flv) {
		if err = s.seekToEntryOrOffset(ctx, ref, idx, i, s.d.DataOffset()); err != nil {
			return err
		}
		var g *flvPositionGuesser
		if s.family.flv {
			g = s.newFLVPositionGuesser(ref, seekTS, f)
		}
		if err = s.scanForKeyframe(ctx, ref, seekTS, g); err != nil {
			return err
		}
	}
	return s.seekToIndexEntry(ctx, ref, seekTS, f)
}

// searchAfterHostSeek searches the index once the host has been asked to seek. found is true
// when the entry is at or after the target and entryFound is true.
func (s *Session) searchAfterHostSeek(idx *container.Index, seekTS int64, f container.SeekFlags, entryFound bool) (found bool, i int, err error) {
	s.d.Flush()
	i = idx.Search(seekTS, f)

	// Target is before the first entry
	if i < 0 && idx.Len() > 0 && seekTS < idx.Entries()[0].Timestamp {
		err = fmt.Errorf("astisplitter: target %d is before first index entry: %w", seekTS, ErrIndexMiss)
		return
	}

	if e, ok := idx.Entry(i); ok && e.Timestamp >= seekTS {
		found = entryFound
	}

	// Entry is in the buffered part of the index
	if !found && i >= 0 && i != idx.Len()-1 && !s.family.flv {
		found = true
	}
	return
}

func (s *Session) seekToEntryOrOffset(ctx context.Context, ref int, idx *container.Index, i int, offset int64) error {
	e, ok := idx.Entry(i)
	if !ok {
		s.l.DebugC(s.ctx, fmt.Sprintf("astisplitter: seeking to position %d", offset))
		if err := s.d.SeekBytes(ctx, offset); err != nil {
			return fmt.Errorf("astisplitter: seeking to position %d failed: %w", offset, err)
		}
		return nil
	}

	s.l.DebugC(s.ctx, fmt.Sprintf("astisplitter: seeking to position %d (timestamp %d)", e.Pos, e.Timestamp))
	if err := s.d.SeekBytes(ctx, e.Pos); err != nil {
		return fmt.Errorf("astisplitter: seeking to position %d failed: %w", e.Pos, err)
	}
	s.d.UpdateCurrentDTS(ref, e.Timestamp)
	return nil
}

// scanForKeyframe reads packets until a keyframe of the reference stream is after the
// target. Read packets feed the index.
func (s *Session) scanForKeyframe(ctx context.Context, ref int, seekTS int64, g *flvPositionGuesser) error {
	st := s.streams[ref]
	pkt := &container.Packet{}
	nonKeyframes := 0
	for {
		// Read packet
		pkt.Reset()
		if err := s.readPacketRetrying(ctx, pkt); err != nil {
			return fmt.Errorf("astisplitter: scanning for keyframe failed: %w: %w", ErrNoKeyframeFound, err)
		}

		// Not the reference stream
		if pkt.StreamIndex != ref {
			continue
		}

		if pkt.DTS > seekTS {
			if pkt.Flags.Has(container.PacketFlagKey) {
				s.l.DebugC(s.ctx, fmt.Sprintf("astisplitter: found keyframe with timestamp %d at position %d", pkt.DTS, pkt.Pos))
				return nil
			}

			// CD+Graphics has no keyframes at all
			n := nonKeyframes
			nonKeyframes++
			if n > maxNonKeyframes && st.CodecID != container.CodecIDCDGraphics {
				return fmt.Errorf("astisplitter: %d non keyframes found after target: %w", nonKeyframes, ErrNoKeyframeFound)
			}
		}

		// Still far from the target
		if g != nil && pkt.DTS != container.NoPTSValue && pkt.DTS+flvGuessDistance < seekTS {
			if err := g.guess(ctx, pkt); err != nil {
				return err
			}
		}
	}
}

// readPacketRetrying retries reads while data is missing
func (s *Session) readPacketRetrying(ctx context.Context, pkt *container.Packet) error {
	for {
		err := s.d.ReadPacket(ctx, pkt)
		if !errors.Is(err, container.ErrAgain) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Session) seekToIndexEntry(ctx context.Context, ref int, seekTS int64, f container.SeekFlags) error {
	// Search
	s.d.Flush()
	idx := s.index(ref)
	i := idx.Search(seekTS, f)
	e, ok := idx.Entry(i)
	if !ok {
		return fmt.Errorf("astisplitter: searching keyframe with timestamp %d on stream #%d failed: %w", seekTS, ref, ErrIndexMiss)
	}

	// Seek
	s.l.DebugC(s.ctx, fmt.Sprintf("astisplitter: seeking to position %d (timestamp %d)", e.Pos, e.Timestamp))
	if err := s.d.SeekBytes(ctx, e.Pos); err != nil {
		return fmt.Errorf("astisplitter: seeking to position %d failed: %w", e.Pos, err)
	}
	s.d.UpdateCurrentDTS(ref, e.Timestamp)
	return nil
}
