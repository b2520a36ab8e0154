package mocks

import (
	"bytes"
	"context"

	"github.com/asticode/go-astisplitter/pkg/container"
)

type MockedOpener struct {
	Demuxer *MockedDemuxer
	// Overrides the returned demuxer when not nil
	OnOpen  func(ctx context.Context, src container.ByteSource, o container.OpenOptions) (container.Demuxer, error)
	Options []container.OpenOptions
}

var _ container.Opener = (*MockedOpener)(nil)

func NewMockedOpener(d *MockedDemuxer) *MockedOpener {
	return &MockedOpener{Demuxer: d}
}

func (o *MockedOpener) Open(ctx context.Context, src container.ByteSource, opts container.OpenOptions) (container.Demuxer, error) {
	o.Options = append(o.Options, opts)
	if o.OnOpen != nil {
		return o.OnOpen(ctx, src, opts)
	}
	return o.Demuxer, nil
}

type MockedByteSource struct {
	*bytes.Reader
	length int64
}

var _ container.ByteSource = (*MockedByteSource)(nil)

func NewMockedByteSource(b []byte) *MockedByteSource {
	return &MockedByteSource{
		Reader: bytes.NewReader(b),
		length: int64(len(b)),
	}
}

func (s *MockedByteSource) TotalLength() (int64, bool, error) {
	return s.length, false, nil
}
