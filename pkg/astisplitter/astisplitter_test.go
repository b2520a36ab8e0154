package astisplitter

import (
	"context"
	"testing"

	"github.com/asticode/go-astisplitter/pkg/container"
	"github.com/asticode/go-astisplitter/pkg/container/mocks"
	"github.com/stretchr/testify/require"
)

type mockedHost struct {
	caps        SeekingCapabilities
	onSeek      func(timestamp int64) (int64, error)
	seeks       []int64
	totalLength int64
}

var _ Host = (*mockedHost)(nil)

func newMockedHost(caps SeekingCapabilities) *mockedHost {
	return &mockedHost{caps: caps}
}

func (h *mockedHost) SeekingCapabilities() SeekingCapabilities {
	return h.caps
}

func (h *mockedHost) SeekToTime(ctx context.Context, timestamp int64) (int64, error) {
	h.seeks = append(h.seeks, timestamp)
	if h.onSeek != nil {
		return h.onSeek(timestamp)
	}
	return timestamp, nil
}

func (h *mockedHost) TotalLength(ctx context.Context) (int64, error) {
	return h.totalLength, nil
}

func newSession(t *testing.T, d *mocks.MockedDemuxer, o Options) *Session {
	Init(InitOptions{})
	if o.Opener == nil {
		o.Opener = mocks.NewMockedOpener(d)
	}
	s, err := New(o)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newOpenedSession(t *testing.T, d *mocks.MockedDemuxer, o Options, oo OpenOptions) *Session {
	s := newSession(t, d, o)
	require.NoError(t, s.Open(context.Background(), mocks.NewMockedByteSource(nil), oo))
	return s
}

func indexStreams(ss ...*container.Stream) []*container.Stream {
	for idx, s := range ss {
		s.Index = idx
	}
	return ss
}

func newVideoStream(codecID container.CodecID, tb container.Rational) *container.Stream {
	return &container.Stream{
		CodecID:   codecID,
		Duration:  container.NoPTSValue,
		Height:    1080,
		MediaType: container.MediaTypeVideo,
		StartTime: container.NoPTSValue,
		TimeBase:  tb,
		Width:     1920,
	}
}

func newAudioStream(codecID container.CodecID, channels int, language string) *container.Stream {
	s := &container.Stream{
		Channels:  channels,
		CodecID:   codecID,
		Duration:  container.NoPTSValue,
		MediaType: container.MediaTypeAudio,
		StartTime: container.NoPTSValue,
		TimeBase:  container.NewRational(1, 1000),
	}
	if language != "" {
		s.Metadata = map[string]string{"language": language}
	}
	return s
}

func newSubtitleStream(codecID container.CodecID, language string) *container.Stream {
	s := &container.Stream{
		CodecID:   codecID,
		Duration:  container.NoPTSValue,
		MediaType: container.MediaTypeSubtitle,
		StartTime: container.NoPTSValue,
		TimeBase:  container.NewRational(1, 1000),
	}
	if language != "" {
		s.Metadata = map[string]string{"language": language}
	}
	return s
}
