package astisplitter

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/asticode/go-astisplitter/pkg/container"
	"github.com/asticode/go-astisplitter/pkg/container/mocks"
	"github.com/stretchr/testify/require"
)

func TestNextMatroskaH264(t *testing.T) {
	ms := container.NewRational(1, 1000)
	v := newVideoStream(container.CodecIDH264, ms)
	v.ExtraData = []byte{1, 0x64, 0, 0x1f}
	d := mocks.NewMockedDemuxer("matroska,webm", v, newAudioStream(container.CodecIDAAC, 2, "eng"))
	d.Packets = []container.Packet{
		{Data: []byte{1, 2}, DTS: 0, Duration: 40, Flags: container.PacketFlagKey, Pos: 100, PTS: 40, StreamIndex: 0},
		{Data: []byte{3}, DTS: 20, Pos: 200, PTS: 20, StreamIndex: 1},
		{Data: []byte{4}, DTS: 40, Flags: container.PacketFlagCorrupt, Pos: 300, PTS: container.NoPTSValue, StreamIndex: 0},
	}
	s := newOpenedSession(t, d, Options{}, OpenOptions{})

	// Nothing is active yet
	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, ErrTryAgain)
	require.Equal(t, SessionCumulativeStats{DiscardedPackets: 1, IncomingBytes: 2, IncomingPackets: 1}, s.CumulativeStats())

	// Length prefixed H.264 loses its DTS
	require.NoError(t, s.SetActiveTrack(TrackKindVideo, 0))
	require.NoError(t, s.SeekByByte(context.Background(), 0))
	p, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, &Packet{
		Data:      []byte{1, 2},
		Position:  100,
		Start:     400000,
		Stop:      800000,
		SyncPoint: true,
		TrackID:   0,
	}, p)
	require.Equal(t, int64(400000), s.CurrentTime())

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrTryAgain)

	p, err = s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, InvalidTime, p.Start)
	require.Equal(t, InvalidTime, p.Stop)
	require.True(t, p.Discontinuity)
	require.False(t, p.SyncPoint)
	require.Equal(t, int64(400000), s.CurrentTime())

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)

	// Annex-B H.264 keeps its DTS and is flagged
	v.ExtraData = []byte{0, 0, 0, 1}
	require.NoError(t, s.SeekByByte(context.Background(), 0))
	p, err = s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, PacketFlagH264AnnexB, p.Flags)

	p, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrTryAgain)
	require.Nil(t, p)
	p, err = s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(400000), p.Start)
}

func TestNextMPEGTSWrap(t *testing.T) {
	tb := container.NewRational(1, 90000)
	v := newVideoStream(container.CodecIDMPEG2Video, tb)
	v.PTSWrapBits = 33
	v.StartTime = 1<<33 - 90000
	d := mocks.NewMockedDemuxer("mpegts", v)
	d.Packets = []container.Packet{{DTS: 80000, Flags: container.PacketFlagKey, PTS: 90000, StreamIndex: 0}}

	// Timestamps after the rollover are moved after the start time
	s := newOpenedSession(t, d, Options{}, OpenOptions{})
	require.NoError(t, s.SetActiveTrack(TrackKindVideo, 0))
	p, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2*TimeUnit), p.Start)
	require.Equal(t, int64(2*TimeUnit+1), p.Stop)
	require.Equal(t, FamilyMPEGTS, s.Family())

	// Blu-ray sources don't wrap
	s = newOpenedSession(t, d, Options{}, OpenOptions{BluRay: true})
	require.NoError(t, d.Seek(context.Background(), -1, 0, container.SeekFlagByte))
	require.NoError(t, s.SetActiveTrack(TrackKindVideo, 0))
	p, err = s.Next(context.Background())
	require.NoError(t, err)
	require.Less(t, p.Start, int64(0))
}

func TestNextUnwrapTimestamps(t *testing.T) {
	st := &container.Stream{PTSWrapBits: 33, TimeBase: container.NewRational(1, 90000)}
	start := container.RescaleQ(1<<33-90000, st.TimeBase, containerTimeBase)

	pts, dts := unwrapTimestamps(90000, container.NoPTSValue, start, st)
	require.Equal(t, int64(90000+1<<33), pts)
	require.Equal(t, container.NoPTSValue, dts)

	// Only one of them is behind
	pts, dts = unwrapTimestamps(90000, 1<<33-1, start, st)
	require.Equal(t, int64(90000), pts)
	require.Equal(t, int64(1<<33-1), dts)

	// Less than a second behind
	pts, _ = unwrapTimestamps(1<<33-100000, container.NoPTSValue, start, st)
	require.Equal(t, int64(1<<33-100000), pts)

	// No wrap bits
	pts, _ = unwrapTimestamps(90000, container.NoPTSValue, start, &container.Stream{TimeBase: st.TimeBase})
	require.Equal(t, int64(90000), pts)
}

func TestNextSubStreams(t *testing.T) {
	truehd := newAudioStream(container.CodecIDTrueHD, 8, "eng")
	truehd.ID = 0x1100
	truehd.TimeBase = container.NewRational(1, 90000)
	ac3 := newAudioStream(container.CodecIDAC3, 6, "")
	ac3.ID = 0x1100
	ac3.TimeBase = truehd.TimeBase
	d := mocks.NewMockedDemuxer("mpegts", truehd, ac3)
	d.Packets = []container.Packet{
		{Flags: container.PacketFlagKey, PTS: 90000, StreamIndex: 0},
		{Duration: 2880, Flags: container.PacketFlagKey, PTS: 90000, StreamIndex: 1},
	}
	s := newOpenedSession(t, d, Options{}, OpenOptions{})
	require.Len(t, s.Tracks(TrackKindAudio), 2)
	require.NoError(t, s.SetActiveTrack(TrackKindAudio, 0))

	// TrueHD packets have no duration
	p, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(TimeUnit), p.Start)
	require.Equal(t, int64(TimeUnit), p.Stop)

	// The AC-3 core is read along
	p, err = s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, p.TrackID)
	require.Equal(t, int64(TimeUnit+320000), p.Stop)
}

func TestNextForcedSubtitles(t *testing.T) {
	sub := newSubtitleStream(container.CodecIDPGS, "eng")
	d := mocks.NewMockedDemuxer("matroska,webm", newVideoStream(container.CodecIDH264, container.NewRational(1, 1000)), newAudioStream(container.CodecIDAC3, 6, "eng"), sub)
	d.Packets = []container.Packet{
		{ConvergenceDuration: 2000, Duration: 500, PTS: 1000, StreamIndex: 2},
		{Duration: 500, PTS: 4000, StreamIndex: 2},
	}
	s := newOpenedSession(t, d, Options{Settings: Settings{PGSForcedStream: true}}, OpenOptions{})

	// Forced subtitles follow the audio language
	require.Equal(t, -1, s.ForcedSubtitleTrack())
	require.NoError(t, s.SetActiveTrack(TrackKindAudio, 1))
	require.Equal(t, 2, s.ForcedSubtitleTrack())
	tr, ok := s.catalog.Track(TrackKindSubtitle, ForcedSubtitleID)
	require.True(t, ok)
	require.Equal(t, "eng", tr.Language)

	require.NoError(t, s.SetActiveTrack(TrackKindSubtitle, ForcedSubtitleID))
	p, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, &Packet{
		Discontinuity: true,
		Flags:         PacketFlagForcedSubtitle,
		Position:      0,
		Start:         TimeUnit,
		Stop:          3 * TimeUnit,
		TrackID:       2,
	}, p)

	// Selected directly, PGS packets are flagged as parsed unless only forced ones are wanted
	require.NoError(t, s.SetActiveTrack(TrackKindSubtitle, 2))
	p, err = s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, PacketFlagParsed, p.Flags)
	require.Equal(t, int64(4*TimeUnit+TimeUnit/2), p.Stop)

	s.SettingsChanged(Settings{PGSForcedStream: true, PGSOnlyForced: true})
	require.NoError(t, s.SeekByByte(context.Background(), 0))
	_, err = s.Next(context.Background())
	require.NoError(t, err)
	p, err = s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, PacketFlags(0), p.Flags)
}

func TestNextForcedSubtitlesAudioSwitch(t *testing.T) {
	d := mocks.NewMockedDemuxer("matroska,webm",
		newVideoStream(container.CodecIDH264, container.NewRational(1, 1000)),
		newAudioStream(container.CodecIDAC3, 6, "eng"),
		newAudioStream(container.CodecIDAC3, 6, "fre"),
		newSubtitleStream(container.CodecIDPGS, "eng"),
	)
	d.Packets = []container.Packet{
		{Duration: 500, PTS: 1000, StreamIndex: 3},
		{Duration: 500, PTS: 2000, StreamIndex: 3},
	}
	s := newOpenedSession(t, d, Options{Settings: Settings{PGSForcedStream: true}}, OpenOptions{})
	require.NoError(t, s.SetActiveTrack(TrackKindAudio, 1))
	require.Equal(t, 3, s.ForcedSubtitleTrack())
	require.NoError(t, s.SetActiveTrack(TrackKindSubtitle, ForcedSubtitleID))
	p, err := s.Next(context.Background())
	require.NoError(t, err)
	require.True(t, p.Flags.Has(PacketFlagForcedSubtitle))

	// No PGS stream matches the new audio language
	require.NoError(t, s.SetActiveTrack(TrackKindAudio, 2))
	require.Equal(t, -1, s.ForcedSubtitleTrack())
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrTryAgain)
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestNextVC1(t *testing.T) {
	v := newVideoStream(container.CodecIDVC1, container.NewRational(1, 1000))
	d := mocks.NewMockedDemuxer("matroska,webm", v)
	d.Packets = []container.Packet{
		{DTS: 10, PTS: container.NoPTSValue, StreamIndex: 0},
		{DTS: container.NoPTSValue, PTS: 20, StreamIndex: 0},
		{DTS: 30, PTS: container.NoPTSValue, StreamIndex: 0},
	}
	s := newOpenedSession(t, d, Options{Settings: Settings{VC1TimestampMode: VC1TimestampModeOn}}, OpenOptions{})
	require.NoError(t, s.SetActiveTrack(TrackKindVideo, 0))

	// DTS is only used until a PTS shows up
	for _, expected := range []int64{100000, 200000, InvalidTime} {
		p, err := s.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, expected, p.Start)
	}

	// Seeking resets the latch
	require.NoError(t, s.SeekByByte(context.Background(), 0))
	p, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(100000), p.Start)

	// Parser keeps timestamps untouched only when correction is off
	require.Equal(t, container.ParserFlags(0), d.ParserFlags[0])
	s.SettingsChanged(Settings{VC1TimestampMode: VC1TimestampModeOff})
	require.Equal(t, container.ParserFlagNoTimestampMangling, d.ParserFlags[0])
}

func TestNextErrors(t *testing.T) {
	d := mocks.NewMockedDemuxer("avi", newVideoStream(container.CodecIDH264, container.NewRational(1, 25)))
	d.Packets = []container.Packet{{Size: -1, StreamIndex: 0}, {StreamIndex: 3}}
	s := newOpenedSession(t, d, Options{}, OpenOptions{})
	require.NoError(t, s.SetActiveTrack(TrackKindVideo, 0))

	// Malformed packets
	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, ErrTryAgain)
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrTryAgain)
	require.Equal(t, uint64(2), s.CumulativeStats().DiscardedPackets)

	// Not enough data
	d.ReadPacketErr = container.ErrAgain
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrTryAgain)

	// Terminal error
	errTest := errors.New("test")
	d.ReadPacketErr = errTest
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, errTest)

	// Aborted
	s.Abort()
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrAborted)
}

func TestNextMalformedPacketAtEOF(t *testing.T) {
	d := mocks.NewMockedDemuxer("avi", newVideoStream(container.CodecIDH264, container.NewRational(1, 25)))
	s := newOpenedSession(t, d, Options{}, OpenOptions{})
	require.NoError(t, s.SetActiveTrack(TrackKindVideo, 0))

	// Reach the end of the stream
	_, err := s.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.True(t, d.EOF())

	// Packets buffered by the demuxer are still delivered after a malformed one
	d.Packets = append(d.Packets,
		container.Packet{Size: -1, StreamIndex: 0},
		container.Packet{Data: []byte("a"), DTS: 0, Flags: container.PacketFlagKey, PTS: 0, Size: 1, StreamIndex: 0},
	)
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrTryAgain)
	require.Equal(t, uint64(1), s.CumulativeStats().DiscardedPackets)
	p, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("a"), p.Data)
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}
