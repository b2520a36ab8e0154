package mocks

import (
	"context"
	"io"
	"sort"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astisplitter/pkg/container"
)

// MockedDemuxer reads Packets in order. Seeking to a byte offset moves the cursor to the
// first packet positioned at or after it.
type MockedDemuxer struct {
	Bytes        []byte
	Closed       bool
	Flushes      int
	Indexes      map[int]*container.Index
	OnChapters   []container.Chapter
	OnDataOffset int64
	OnDeltaStats []astikit.DeltaStat
	OnDuration   int64
	OnFormatName string
	OnPrograms   []container.Program
	// Overrides ReadPacket when not nil
	OnReadPacket func(ctx context.Context, p *container.Packet) error
	// Default is returning container.ErrNotSupported
	OnReadSeek    func(ctx context.Context, streamIndex int, timestamp int64, f container.SeekFlags) error
	OnStartTime   int64
	OnStreams     []*container.Stream
	Packets       []container.Packet
	ParseModes    map[int]container.ParseMode
	ParserFlags   map[int]container.ParserFlags
	ParserInits   map[int]int
	ReadBytesErr  error
	ReadPacketErr error
	Seeks         []MockedSeek
	SeekedBytes   []int64
	UpdatedDTSes  []MockedUpdatedDTS

	cursor   int
	eof      bool
	position int64
}

type MockedSeek struct {
	Flags       container.SeekFlags
	StreamIndex int
	Timestamp   int64
}

type MockedUpdatedDTS struct {
	StreamIndex int
	Timestamp   int64
}

var _ container.Demuxer = (*MockedDemuxer)(nil)

func NewMockedDemuxer(formatName string, ss ...*container.Stream) *MockedDemuxer {
	for idx, s := range ss {
		s.Index = idx
	}
	return &MockedDemuxer{
		Indexes:      make(map[int]*container.Index),
		OnDuration:   container.NoPTSValue,
		OnFormatName: formatName,
		OnStartTime:  container.NoPTSValue,
		OnStreams:    ss,
		ParseModes:   make(map[int]container.ParseMode),
		ParserFlags:  make(map[int]container.ParserFlags),
		ParserInits:  make(map[int]int),
	}
}

func (d *MockedDemuxer) Chapters() []container.Chapter { return d.OnChapters }

func (d *MockedDemuxer) Close() error {
	d.Closed = true
	return nil
}

func (d *MockedDemuxer) Cursor() int { return d.cursor }

func (d *MockedDemuxer) DataOffset() int64 { return d.OnDataOffset }

func (d *MockedDemuxer) DeltaStats() []astikit.DeltaStat { return d.OnDeltaStats }

func (d *MockedDemuxer) Duration() int64 { return d.OnDuration }

func (d *MockedDemuxer) EOF() bool { return d.eof }

func (d *MockedDemuxer) Flush() { d.Flushes++ }

func (d *MockedDemuxer) FormatName() string { return d.OnFormatName }

func (d *MockedDemuxer) Index(streamIndex int) *container.Index {
	i, ok := d.Indexes[streamIndex]
	if !ok {
		i = container.NewIndex()
		d.Indexes[streamIndex] = i
	}
	return i
}

func (d *MockedDemuxer) InitParser(streamIndex int) error {
	d.ParserInits[streamIndex]++
	return nil
}

func (d *MockedDemuxer) Programs() []container.Program { return d.OnPrograms }

func (d *MockedDemuxer) ReadBytes(ctx context.Context, b []byte) (int, error) {
	if d.ReadBytesErr != nil {
		return 0, d.ReadBytesErr
	}
	if d.position >= int64(len(d.Bytes)) {
		return 0, io.EOF
	}
	n := copy(b, d.Bytes[d.position:])
	d.position += int64(n)
	return n, nil
}

func (d *MockedDemuxer) ReadPacket(ctx context.Context, p *container.Packet) error {
	if d.OnReadPacket != nil {
		return d.OnReadPacket(ctx, p)
	}
	if d.ReadPacketErr != nil {
		return d.ReadPacketErr
	}
	if d.cursor >= len(d.Packets) {
		d.eof = true
		return io.EOF
	}
	*p = d.Packets[d.cursor]
	d.cursor++
	if p.Flags.Has(container.PacketFlagKey) && p.DTS != container.NoPTSValue {
		d.Index(p.StreamIndex).Add(container.IndexEntry{
			Flags:     container.IndexEntryFlagKeyframe,
			Pos:       p.Pos,
			Timestamp: p.DTS,
		})
	}
	return nil
}

func (d *MockedDemuxer) ReadSeek(ctx context.Context, streamIndex int, timestamp int64, f container.SeekFlags) error {
	if d.OnReadSeek != nil {
		return d.OnReadSeek(ctx, streamIndex, timestamp, f)
	}
	return container.ErrNotSupported
}

func (d *MockedDemuxer) Seek(ctx context.Context, streamIndex int, timestamp int64, f container.SeekFlags) error {
	d.Seeks = append(d.Seeks, MockedSeek{
		Flags:       f,
		StreamIndex: streamIndex,
		Timestamp:   timestamp,
	})
	if f.Has(container.SeekFlagByte) {
		d.moveTo(timestamp)
	}
	return nil
}

func (d *MockedDemuxer) SeekBytes(ctx context.Context, offset int64) error {
	d.SeekedBytes = append(d.SeekedBytes, offset)
	d.moveTo(offset)
	return nil
}

func (d *MockedDemuxer) moveTo(offset int64) {
	d.eof = false
	d.position = offset
	d.cursor = sort.Search(len(d.Packets), func(i int) bool { return d.Packets[i].Pos >= offset })
}

func (d *MockedDemuxer) SetParseMode(streamIndex int, m container.ParseMode) {
	d.ParseModes[streamIndex] = m
}

func (d *MockedDemuxer) StartTime() int64 { return d.OnStartTime }

func (d *MockedDemuxer) Streams() []*container.Stream { return d.OnStreams }

func (d *MockedDemuxer) UpdateCurrentDTS(streamIndex int, timestamp int64) {
	d.UpdatedDTSes = append(d.UpdatedDTSes, MockedUpdatedDTS{
		StreamIndex: streamIndex,
		Timestamp:   timestamp,
	})
}

func (d *MockedDemuxer) UpdateParserFlags(streamIndex int, set, unset container.ParserFlags) {
	d.ParserFlags[streamIndex] = (d.ParserFlags[streamIndex] | set) &^ unset
}
