package astisplitter

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astisplitter/pkg/container"
)

const (
	// Guessing only happens when the reference packet is further from the target, in ms
	flvGuessDistance   = 10000
	flvMaxGuesses      = 8
	flvMaxScannedBytes = 4 << 20
	flvScanChunkSize   = 32 * 1024
	// Tag header is 11 bytes, previous tag size is 4 bytes
	flvTagOverhead = 15
)

// flvPositionGuesser jumps close to a target when FLV indexes are missing, guessing the byte
// position from the bitrate and resynchronizing on the next tag boundary
type flvPositionGuesser struct {
	f       container.SeekFlags
	guesses int
	ref     int
	s       *Session
	seekTS  int64
}

func (s *Session) newFLVPositionGuesser(ref int, seekTS int64, f container.SeekFlags) *flvPositionGuesser {
	return &flvPositionGuesser{
		f:      f,
		ref:    ref,
		s:      s,
		seekTS: seekTS,
	}
}

func (g *flvPositionGuesser) guess(ctx context.Context, pkt *container.Packet) error {
	// Too many guesses already
	if g.guesses >= flvMaxGuesses {
		return nil
	}

	// Duration and total length are both needed
	if g.s.o.Host == nil || g.s.duration == container.NoPTSValue {
		return nil
	}
	duration := container.Rescale(g.s.duration, 1000, container.TimeBase)
	if duration <= 0 {
		return nil
	}
	totalLength, err := g.s.o.Host.TotalLength(ctx)
	if err != nil {
		g.s.l.DebugC(g.s.ctx, fmt.Errorf("astisplitter: getting total length failed: %w", err))
		return nil
	}
	g.guesses++

	// Guess
	position := guessFLVPosition(g.seekTS, pkt.Pos, pkt.DTS, totalLength, duration)
	g.s.l.DebugC(g.s.ctx, fmt.Sprintf("astisplitter: guessed FLV position %d for timestamp %d", position, g.seekTS))
	if err = g.s.d.SeekBytes(ctx, position); err != nil {
		g.s.l.DebugC(g.s.ctx, fmt.Errorf("astisplitter: seeking to guessed position %d failed: %w", position, err))
		return nil
	}

	// Resynchronize
	offset, ok, err := g.resync(ctx)
	if err != nil {
		return err
	}
	if ok {
		if err = g.s.d.SeekBytes(ctx, position+offset); err != nil {
			return fmt.Errorf("astisplitter: seeking to FLV tag at %d failed: %w", position+offset, err)
		}
		return nil
	}

	// Fall back to the last usable index entry
	g.s.l.WarnC(g.s.ctx, "astisplitter: no FLV tag found, seeking to last usable index position")
	g.s.d.Flush()
	idx := g.s.index(g.ref)
	return g.s.seekToEntryOrOffset(ctx, g.ref, idx, idx.Search(g.seekTS, g.f), g.s.d.DataOffset())
}

// resync returns the offset of the first verified tag after the current position
func (g *flvPositionGuesser) resync(ctx context.Context) (int64, bool, error) {
	b := make([]byte, flvScanChunkSize)
	var processed int64
	for processed < flvMaxScannedBytes {
		n, err := g.s.d.ReadBytes(ctx, b)
		if n > 0 {
			if first, ok := findFLVTagBoundary(b[:n]); ok {
				return processed + int64(first), true, nil
			}
			processed += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || container.IsTransient(err) {
				return 0, false, nil
			}
			if ctx.Err() != nil {
				return 0, false, ctx.Err()
			}
			g.s.l.WarnC(g.s.ctx, fmt.Errorf("astisplitter: reading FLV bytes failed: %w", err))
			return 0, false, nil
		}
		if n == 0 {
			break
		}
	}
	return 0, false, nil
}

// guessFLVPosition averages the position extrapolated from the current packet with the one
// derived from the average bitrate. duration is in ms.
func guessFLVPosition(seekTS, pos, dts, totalLength, duration int64) int64 {
	var g1 int64
	if dts > 0 {
		g1 = seekTS * pos / dts
	}
	var g2 int64
	if duration > 0 {
		g2 = seekTS * totalLength / duration
	}
	return (g1 + g2) / 2
}

// findFLVTagBoundary looks for the first tag whose size is confirmed by at least one
// following previous tag size field
func findFLVTagBoundary(b []byte) (int, bool) {
	n := len(b)
	for first := 0; first < n; first++ {
		if !isFLVTagType(b[first]) || first+3 >= n {
			continue
		}
		length := uint24(b[first+1:])
		if length > n-first {
			continue
		}

		checked := 0
		valid := true
		for i := first + length + flvTagOverhead; i < n; {
			if !isFLVTagType(b[i]) || i+3 >= n || uint24(b[i-3:]) != length+11 {
				valid = false
				break
			}
			checked++
			length = uint24(b[i+1:])
			i += length + flvTagOverhead
		}
		if valid && checked > 0 {
			return first, true
		}
	}
	return -1, false
}

func isFLVTagType(b byte) bool {
	switch b {
	case 0x08, 0x09, 0x12:
		return true
	}
	return false
}

func uint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}
