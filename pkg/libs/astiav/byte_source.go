package astiavsplitter

import (
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astisplitter/pkg/container"
)

// Seek whence values libavformat adds on top of io's
const (
	avseekSize  = 0x10000
	avseekForce = 0x20000
)

// byteSource feeds libavformat's custom IO with a container.ByteSource
type byteSource struct {
	src container.ByteSource
}

func newByteSource(src container.ByteSource) *byteSource {
	return &byteSource{src: src}
}

func (s *byteSource) read(b []byte) (int, error) {
	n, err := s.src.Read(b)
	if err == nil || n > 0 {
		return n, nil
	}
	switch {
	case errors.Is(err, io.EOF):
		return 0, astiav.ErrEof
	case container.IsTransient(err):
		return 0, astiav.ErrEagain
	default:
		return 0, err
	}
}

func (s *byteSource) seek(offset int64, whence int) (int64, error) {
	// Size is requested
	if whence&avseekSize > 0 {
		l, _, err := s.src.TotalLength()
		if err != nil {
			return 0, fmt.Errorf("astiavsplitter: getting total length failed: %w", err)
		}
		return l, nil
	}
	return s.src.Seek(offset, whence&^avseekForce)
}

// readAt reads without moving the position libavformat relies on
func (s *byteSource) readAt(b []byte, offset int64) (n int, err error) {
	// Get current position
	var current int64
	if current, err = s.src.Seek(0, io.SeekCurrent); err != nil {
		err = fmt.Errorf("astiavsplitter: getting current position failed: %w", err)
		return
	}

	// Make sure to restore position
	defer func() {
		if _, errS := s.src.Seek(current, io.SeekStart); errS != nil && err == nil {
			err = fmt.Errorf("astiavsplitter: restoring position failed: %w", errS)
		}
	}()

	// Read
	if _, err = s.src.Seek(offset, io.SeekStart); err != nil {
		err = fmt.Errorf("astiavsplitter: seeking to %d failed: %w", offset, err)
		return
	}
	n, err = s.src.Read(b)
	return
}
