package astiavsplitter

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astisplitter/pkg/container"
	"github.com/asticode/go-astisplitter/pkg/container/mocks"
	"github.com/stretchr/testify/require"
)

var _ astiav.IOInterrupter = (*mockedIOInterrupter)(nil)

type mockedIOInterrupter struct {
	cancel      context.CancelFunc
	ctx         context.Context
	interrupted bool
}

func newMockedIOInterrupter() *mockedIOInterrupter {
	ii := &mockedIOInterrupter{}
	ii.Resume()
	return ii
}

func (ii *mockedIOInterrupter) close() {
	ii.cancel()
}

func (ii *mockedIOInterrupter) Interrupt() {
	ii.interrupted = true
	ii.cancel()
}

func (ii *mockedIOInterrupter) Resume() {
	if ii.cancel != nil {
		ii.cancel()
	}
	ii.interrupted = false
	ii.ctx, ii.cancel = context.WithTimeout(context.Background(), time.Second)
}

var _ demuxerReader = (*mockedDemuxerReader)(nil)

type mockedDemuxerReader struct {
	duration                 int64
	findStreamInfoFunc       func() error
	flushed                  bool
	freed                    bool
	ii                       *mockedIOInterrupter
	inputClosed              bool
	inputFormat              *astiav.InputFormat
	openInputDictionaryValue string
	openInputFmt             *astiav.InputFormat
	openInputFunc            func() error
	openInputUrl             string
	pb                       *astiav.IOContext
	previous                 func() demuxerReader
	readFrameFunc            func(p *astiav.Packet) error
	seekFrameFlags           astiav.SeekFlags
	seekFrameStreamIndex     int
	seekFrameTimestamp       int64
	startTime                int64
	streamInfoFound          bool
	streams                  []*astiav.Stream
}

func newMockedDemuxerReader() *mockedDemuxerReader {
	r := &mockedDemuxerReader{previous: newDemuxerReader}
	newDemuxerReader = func() demuxerReader { return r }
	return r
}

func (r *mockedDemuxerReader) close() {
	if r.ii != nil {
		r.ii.close()
	}
	newDemuxerReader = r.previous
}

func (r *mockedDemuxerReader) Class() *astiav.Class {
	return nil
}

func (r *mockedDemuxerReader) CloseInput() {
	r.inputClosed = true
}

func (r *mockedDemuxerReader) Duration() int64 {
	return r.duration
}

func (r *mockedDemuxerReader) FindStreamInfo(d *astiav.Dictionary) error {
	if r.findStreamInfoFunc != nil {
		if err := r.findStreamInfoFunc(); err != nil {
			return err
		}
	}
	r.streamInfoFound = true
	return nil
}

func (r *mockedDemuxerReader) Flush() error {
	r.flushed = true
	return nil
}

func (r *mockedDemuxerReader) Free() {
	r.freed = true
}

func (r *mockedDemuxerReader) InputFormat() *astiav.InputFormat {
	return r.inputFormat
}

func (r *mockedDemuxerReader) OpenInput(url string, fmt *astiav.InputFormat, d *astiav.Dictionary) error {
	if r.openInputFunc != nil {
		if err := r.openInputFunc(); err != nil {
			return err
		}
	}
	if d != nil {
		r.openInputDictionaryValue = d.Get("k", nil, astiav.NewDictionaryFlags()).Value()
	}
	r.openInputFmt = fmt
	r.openInputUrl = url
	return nil
}

func (r *mockedDemuxerReader) ReadFrame(p *astiav.Packet) error {
	return r.readFrameFunc(p)
}

func (r *mockedDemuxerReader) SeekFrame(streamIndex int, timestamp int64, f astiav.SeekFlags) error {
	r.seekFrameFlags = f
	r.seekFrameStreamIndex = streamIndex
	r.seekFrameTimestamp = timestamp
	return nil
}

func (r *mockedDemuxerReader) SetInterruptCallback() astiav.IOInterrupter {
	r.ii = newMockedIOInterrupter()
	return r.ii
}

func (r *mockedDemuxerReader) SetPb(i *astiav.IOContext) {
	r.pb = i
}

func (r *mockedDemuxerReader) StartTime() int64 {
	return r.startTime
}

func (r *mockedDemuxerReader) Streams() []*astiav.Stream {
	return r.streams
}

func openMockedDemuxer(t *testing.T, r *mockedDemuxerReader, src container.ByteSource) *Demuxer {
	d, err := NewOpener(OpenerOptions{}).Open(context.Background(), src, container.OpenOptions{URL: "url"})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, d.Close()) })
	return d.(*Demuxer)
}

func TestNewOpener(t *testing.T) {
	require.Equal(t, defaultIOBufferSize, NewOpener(OpenerOptions{}).o.IOBufferSize)
	require.Equal(t, 10, NewOpener(OpenerOptions{IOBufferSize: 10}).o.IOBufferSize)
}

func TestDemuxerOpen(t *testing.T) {
	// Streams, dictionary, format name and close
	func() {
		r := newMockedDemuxerReader()
		defer r.close()
		fc := astiav.AllocFormatContext()
		defer fc.Free()
		s1 := fc.NewStream(nil)
		s1.SetID(256)
		s1.SetIndex(0)
		s1.SetTimeBase(astiav.NewRational(1, 90000))
		s1.CodecParameters().SetCodecID(astiav.CodecIDH264)
		s1.CodecParameters().SetMediaType(astiav.MediaTypeVideo)
		s2 := fc.NewStream(nil)
		s2.SetID(257)
		s2.SetIndex(1)
		s2.SetTimeBase(astiav.NewRational(1, 90000))
		s2.CodecParameters().SetMediaType(astiav.MediaTypeAudio)
		s2.CodecParameters().SetSampleRate(48000)
		r.streams = []*astiav.Stream{s1, s2}
		r.inputFormat = astiav.FindInputFormat("mpegts")
		r.duration = 5 * container.TimeBase
		r.startTime = container.TimeBase

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		l := astikit.NewMockedLogger()
		dm, err := NewOpener(OpenerOptions{
			Dictionary: NewCommaDictionaryOptions("k=%s", "v"),
			Logger:     l,
		}).Open(ctx, mocks.NewMockedByteSource(nil), container.OpenOptions{URL: "url"})
		require.NoError(t, err)
		d := dm.(*Demuxer)

		require.Equal(t, "v", r.openInputDictionaryValue)
		require.Nil(t, r.openInputFmt)
		require.Equal(t, "url", r.openInputUrl)
		require.NotNil(t, r.pb)
		require.True(t, r.streamInfoFound)
		require.Equal(t, "mpegts", d.FormatName())
		require.Equal(t, int64(5*container.TimeBase), d.Duration())
		require.Equal(t, int64(container.TimeBase), d.StartTime())
		require.Eventually(t, func() bool { return !r.ii.interrupted }, time.Second, 10*time.Millisecond)

		ss := d.Streams()
		require.Len(t, ss, 2)
		require.Equal(t, container.CodecIDH264, ss[0].CodecID)
		require.Equal(t, 256, ss[0].ID)
		require.Equal(t, 0, ss[0].Index)
		require.Equal(t, container.MediaTypeVideo, ss[0].MediaType)
		require.Equal(t, container.ParseModeFull, ss[0].ParseMode)
		require.Equal(t, 33, ss[0].PTSWrapBits)
		require.Equal(t, container.NewRational(1, 90000), ss[0].TimeBase)
		require.Equal(t, container.MediaTypeAudio, ss[1].MediaType)
		require.Equal(t, 48000, ss[1].SampleRate)
		require.Equal(t, container.ParseModeFull, d.ParseMode(1))

		target, ok := classers.get(r)
		require.True(t, ok)
		require.Equal(t, ctx, target.ctx)
		require.NotNil(t, target.l)
		pb := r.pb
		_, ok = classers.get(pb)
		require.True(t, ok)

		require.NoError(t, d.Close())
		require.True(t, r.inputClosed)
		require.True(t, r.freed)
		_, ok = classers.get(r)
		require.False(t, ok)
		_, ok = classers.get(pb)
		require.False(t, ok)
	}()

	// Forced format
	func() {
		r := newMockedDemuxerReader()
		defer r.close()
		dm, err := NewOpener(OpenerOptions{}).Open(context.Background(), mocks.NewMockedByteSource(nil), container.OpenOptions{Format: "matroska"})
		require.NoError(t, err)
		defer dm.Close() //nolint: errcheck
		require.NotNil(t, r.openInputFmt)
		require.Equal(t, astiav.FindInputFormat("matroska").Name(), r.openInputFmt.Name())
		require.Equal(t, r.openInputFmt.Name(), dm.FormatName())
		require.Empty(t, dm.Streams())

		// No logger was provided
		target, ok := classers.get(r)
		require.True(t, ok)
		require.Nil(t, target.l)
	}()

	// Unknown format
	func() {
		r := newMockedDemuxerReader()
		defer r.close()
		_, err := NewOpener(OpenerOptions{}).Open(context.Background(), mocks.NewMockedByteSource(nil), container.OpenOptions{Format: "invalid"})
		require.Error(t, err)
		require.Empty(t, r.openInputUrl)
		require.False(t, r.inputClosed)
		require.True(t, r.freed)
	}()

	// Invalid dictionary
	func() {
		r := newMockedDemuxerReader()
		defer r.close()
		_, err := NewOpener(OpenerOptions{Dictionary: DictionaryOptions{
			KeyValueSeparator: "=",
			PairsSeparator:    ",",
			String:            "invalid",
		}}).Open(context.Background(), mocks.NewMockedByteSource(nil), container.OpenOptions{})
		require.Error(t, err)
		require.True(t, r.freed)
	}()

	// Context errors
	func() {
		r := newMockedDemuxerReader()
		defer r.close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		r.openInputFunc = func() error {
			<-r.ii.ctx.Done()
			return r.ii.ctx.Err()
		}
		_, err := NewOpener(OpenerOptions{}).Open(ctx, mocks.NewMockedByteSource(nil), container.OpenOptions{URL: "url"})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.True(t, r.ii.interrupted)
		require.Empty(t, r.openInputUrl)
		require.False(t, r.inputClosed)
	}()
	func() {
		r := newMockedDemuxerReader()
		defer r.close()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		r.findStreamInfoFunc = func() error {
			cancel()
			<-r.ii.ctx.Done()
			return r.ii.ctx.Err()
		}
		_, err := NewOpener(OpenerOptions{}).Open(ctx, mocks.NewMockedByteSource(nil), container.OpenOptions{URL: "url"})
		require.ErrorIs(t, err, context.Canceled)
		require.Eventually(t, func() bool { return r.ii.interrupted }, time.Second, 10*time.Millisecond)
		require.Equal(t, "url", r.openInputUrl)
		require.False(t, r.streamInfoFound)
		require.True(t, r.inputClosed)
	}()
}

func TestDemuxerReadPacket(t *testing.T) {
	r := newMockedDemuxerReader()
	defer r.close()
	fc := astiav.AllocFormatContext()
	defer fc.Free()
	s := fc.NewStream(nil)
	s.SetIndex(0)
	s.SetTimeBase(astiav.NewRational(1, 1000))
	s.CodecParameters().SetMediaType(astiav.MediaTypeVideo)
	r.streams = []*astiav.Stream{s}
	count := 0
	r.readFrameFunc = func(p *astiav.Packet) error {
		count++
		switch count {
		case 1:
			require.NoError(t, p.FromData([]byte("abc")))
			p.SetDts(10)
			p.SetFlags(astiav.NewPacketFlags(astiav.PacketFlagKey))
			p.SetPos(100)
			p.SetPts(20)
			p.SetStreamIndex(0)
		case 2:
			p.SetDts(container.NoPTSValue)
			p.SetPos(200)
			p.SetPts(container.NoPTSValue)
			p.SetStreamIndex(0)
		case 3:
			p.SetDts(30)
			p.SetStreamIndex(5)
		case 4:
			return astiav.ErrEagain
		default:
			return astiav.ErrEof
		}
		return nil
	}
	d := openMockedDemuxer(t, r, mocks.NewMockedByteSource(nil))
	require.Equal(t, int64(0), d.DataOffset())

	// Key packet
	var p container.Packet
	require.NoError(t, d.ReadPacket(context.Background(), &p))
	require.Equal(t, container.Packet{
		Data:        []byte("abc"),
		DTS:         10,
		Flags:       container.PacketFlagKey,
		Pos:         100,
		PTS:         20,
		Size:        3,
		StreamIndex: 0,
	}, p)
	require.Equal(t, int64(100), d.DataOffset())
	require.Equal(t, []container.IndexEntry{{Flags: container.IndexEntryFlagKeyframe, Pos: 100, Timestamp: 10}}, d.Index(0).Entries())
	require.Nil(t, d.Index(1))

	// Current dts is used once
	d.UpdateCurrentDTS(0, 42)
	require.NoError(t, d.ReadPacket(context.Background(), &p))
	require.Equal(t, int64(42), p.DTS)
	require.Equal(t, container.NoPTSValue, p.PTS)
	require.Equal(t, int64(200), p.Pos)
	require.Empty(t, p.Data)
	require.Equal(t, 1, d.Index(0).Len())
	require.Empty(t, d.currentDTS)

	// Unknown stream
	require.NoError(t, d.ReadPacket(context.Background(), &p))
	require.Equal(t, 5, p.StreamIndex)
	require.Equal(t, int64(30), p.DTS)

	// Errors
	require.ErrorIs(t, d.ReadPacket(context.Background(), &p), container.ErrAgain)
	require.False(t, d.EOF())
	require.ErrorIs(t, d.ReadPacket(context.Background(), &p), io.EOF)
	require.True(t, d.EOF())

	// Packets are recycled
	requireDeltaStats(t, map[string]interface{}{
		DeltaStatNameAllocatedPackets: uint64(1),
		DeltaStatNameReusedPackets:    uint64(4),
	}, d.DeltaStats())
}

func TestDemuxerSeek(t *testing.T) {
	r := newMockedDemuxerReader()
	defer r.close()
	fc := astiav.AllocFormatContext()
	defer fc.Free()
	s := fc.NewStream(nil)
	s.SetIndex(0)
	r.streams = []*astiav.Stream{s}
	r.readFrameFunc = func(p *astiav.Packet) error { return astiav.ErrEof }
	b := bytes.Repeat([]byte{0}, 1010)
	copy(b[1000:], []byte("data"))
	src := mocks.NewMockedByteSource(b)
	d := openMockedDemuxer(t, r, src)

	var p container.Packet
	require.ErrorIs(t, d.ReadPacket(context.Background(), &p), io.EOF)
	require.True(t, d.EOF())

	require.NoError(t, d.Seek(context.Background(), 0, 5, container.SeekFlagBackward))
	require.Equal(t, 0, r.seekFrameStreamIndex)
	require.Equal(t, int64(5), r.seekFrameTimestamp)
	require.Equal(t, astiav.NewSeekFlags(astiav.SeekFlagBackward), r.seekFrameFlags)
	require.False(t, d.EOF())

	require.NoError(t, d.ReadSeek(context.Background(), 0, 6, container.SeekFlagAny))
	require.Equal(t, int64(6), r.seekFrameTimestamp)
	require.Equal(t, astiav.NewSeekFlags(astiav.SeekFlagAny), r.seekFrameFlags)
	require.ErrorIs(t, d.ReadSeek(context.Background(), 0, 6, container.SeekFlagByte), container.ErrNotSupported)

	// Bytes are read from the seeked position without moving the source
	_, err := src.Seek(3, io.SeekStart)
	require.NoError(t, err)
	require.NoError(t, d.SeekBytes(context.Background(), 1000))
	require.Equal(t, -1, r.seekFrameStreamIndex)
	require.Equal(t, int64(1000), r.seekFrameTimestamp)
	require.Equal(t, astiav.NewSeekFlags(astiav.SeekFlagByte), r.seekFrameFlags)
	buf := make([]byte, 4)
	n, err := d.ReadBytes(context.Background(), buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("data"), buf)
	c, err := src.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	require.Equal(t, int64(3), c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.ReadBytes(ctx, buf)
	require.ErrorIs(t, err, context.Canceled)

	d.Flush()
	require.True(t, r.flushed)
}

func TestDemuxerParser(t *testing.T) {
	r := newMockedDemuxerReader()
	defer r.close()
	fc := astiav.AllocFormatContext()
	defer fc.Free()
	s := fc.NewStream(nil)
	s.SetIndex(0)
	r.streams = []*astiav.Stream{s}
	d := openMockedDemuxer(t, r, mocks.NewMockedByteSource(nil))

	d.SetParseMode(0, container.ParseModeNone)
	require.Equal(t, container.ParseModeNone, d.ParseMode(0))
	require.Equal(t, container.ParseModeNone, d.Streams()[0].ParseMode)
	d.SetParseMode(1, container.ParseModeHeaders)
	require.Equal(t, container.ParseModeNone, d.ParseMode(1))

	d.UpdateParserFlags(0, container.ParserFlagCompleteFrames|container.ParserFlagOnce, 0)
	d.UpdateParserFlags(0, container.ParserFlagNoTimestampMangling, container.ParserFlagOnce)
	require.Equal(t, container.ParserFlagCompleteFrames|container.ParserFlagNoTimestampMangling, d.ParserFlags(0))
	require.NoError(t, d.InitParser(0))
	require.Equal(t, container.ParserFlags(0), d.ParserFlags(0))
	require.Error(t, d.InitParser(1))

	require.Nil(t, d.Chapters())
	require.Nil(t, d.Programs())
}
