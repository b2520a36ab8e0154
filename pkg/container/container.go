// Package container describes what the splitter expects from an underlying container
// parsing library: streams, packets, programs, chapters, a time to byte position index
// and seek primitives. It holds no parser itself.
package container

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
)

// Container-wide time base, in ticks per second
const TimeBase = 1000000

// NoPTSValue is the "no timestamp" sentinel
const NoPTSValue int64 = math.MinInt64

var (
	ErrAgain        = errors.New("container: resource temporarily unavailable")
	ErrInterrupted  = errors.New("container: interrupted")
	ErrNotSupported = errors.New("container: not supported")
)

// IsTransient returns true when err only means "not enough data yet"
func IsTransient(err error) bool {
	return errors.Is(err, ErrAgain) || errors.Is(err, ErrInterrupted)
}

type Rational struct {
	Den int
	Num int
}

func NewRational(num, den int) Rational {
	return Rational{Den: den, Num: num}
}

func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeVideo
	MediaTypeAudio
	MediaTypeSubtitle
	MediaTypeData
	MediaTypeAttachment
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeSubtitle:
		return "subtitle"
	case MediaTypeData:
		return "data"
	case MediaTypeAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// CodecID uses libavcodec codec names
type CodecID string

const (
	CodecIDAAC         CodecID = "aac"
	CodecIDAACLATM     CodecID = "aac_latm"
	CodecIDAC3         CodecID = "ac3"
	CodecIDCDGraphics  CodecID = "cdgraphics"
	CodecIDDTS         CodecID = "dts"
	CodecIDDVBSubtitle CodecID = "dvb_subtitle"
	CodecIDEAC3        CodecID = "eac3"
	CodecIDFLAC        CodecID = "flac"
	CodecIDFLV1        CodecID = "flv1"
	CodecIDH264        CodecID = "h264"
	CodecIDMLP         CodecID = "mlp"
	CodecIDMovText     CodecID = "mov_text"
	CodecIDMP4ALS      CodecID = "mp4als"
	CodecIDMPEG1Video  CodecID = "mpeg1video"
	CodecIDMPEG2Video  CodecID = "mpeg2video"
	CodecIDNone        CodecID = "none"
	CodecIDPGS         CodecID = "hdmv_pgs_subtitle"
	CodecIDRV10        CodecID = "rv10"
	CodecIDRV20        CodecID = "rv20"
	CodecIDRV30        CodecID = "rv30"
	CodecIDRV40        CodecID = "rv40"
	CodecIDTrueHD      CodecID = "truehd"
	CodecIDTTA         CodecID = "tta"
	CodecIDVC1         CodecID = "vc1"
	CodecIDWavPack     CodecID = "wavpack"
)

func (c CodecID) IsPCM() bool {
	return strings.HasPrefix(string(c), "pcm_")
}

func (c CodecID) IsRealVideo() bool {
	switch c {
	case CodecIDRV10, CodecIDRV20, CodecIDRV30, CodecIDRV40:
		return true
	}
	return false
}

func (c CodecID) String() string {
	if c == "" {
		return string(CodecIDNone)
	}
	return string(c)
}

// DTS profiles as reported by libavcodec
const (
	ProfileDTS      = 20
	ProfileDTSES    = 30
	ProfileDTS9624  = 40
	ProfileDTSHDHRA = 50
	ProfileDTSHDMA  = 60
)

// Multi channel PCM tag
const CodecTagWaveFormatExtensible uint32 = 0xfffe

type Disposition uint32

const (
	DispositionDefault Disposition = 1 << iota
	DispositionForced
	DispositionSubStream
	DispositionSecondaryAudio
)

func (d Disposition) Has(f Disposition) bool {
	return d&f > 0
}

// ParseMode mirrors libavformat's per stream parsing need
type ParseMode int

const (
	ParseModeNone ParseMode = iota
	ParseModeFull
	ParseModeHeaders
	ParseModeTimestamps
	ParseModeFullOnce
	ParseModeFullRaw
)

type ParserFlags uint32

const (
	ParserFlagCompleteFrames ParserFlags = 1 << iota
	ParserFlagOnce
	ParserFlagNoTimestampMangling
)

func (f ParserFlags) Has(i ParserFlags) bool {
	return f&i > 0
}

type Stream struct {
	BitRate            int64
	BitsPerCodedSample int
	Channels           int
	CodecID            CodecID
	// Number of frames decoded while probing
	CodecInfoFrames int
	CodecTag        uint32
	CodedHeight     int
	CodedWidth      int
	Disposition     Disposition
	Duration        int64
	ExtraData       []byte
	Height          int
	// Container-native id (e.g. MPEG-TS PID)
	ID          int
	Index       int
	MediaType   MediaType
	Metadata    map[string]string
	ParseMode   ParseMode
	Profile     int
	PTSWrapBits int
	SampleRate  int
	StartTime   int64
	TimeBase    Rational
	Width       int
}

func (s *Stream) MetadataValue(k string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[k]
}

type PacketFlags uint32

const (
	PacketFlagKey PacketFlags = 1 << iota
	PacketFlagCorrupt
)

func (f PacketFlags) Has(i PacketFlags) bool {
	return f&i > 0
}

type Packet struct {
	// Matroska subtitles carry their display duration here
	ConvergenceDuration int64
	Data                []byte
	DTS                 int64
	Duration            int64
	Flags               PacketFlags
	Pos                 int64
	PTS                 int64
	Size                int
	StreamIndex         int
}

func (p *Packet) Reset() {
	*p = Packet{DTS: NoPTSValue, Pos: -1, PTS: NoPTSValue}
}

type Program struct {
	ID            int
	StreamIndexes []int
}

type Chapter struct {
	End      int64
	Start    int64
	TimeBase Rational
	Title    string
}

type SeekFlags int

const (
	SeekFlagBackward SeekFlags = 1
	SeekFlagByte     SeekFlags = 2
	SeekFlagAny      SeekFlags = 4
	SeekFlagFrame    SeekFlags = 8
)

func (f SeekFlags) Has(i SeekFlags) bool {
	return f&i > 0
}

// ByteSource is the buffered byte stream the container reads from. Read may return
// ErrAgain when the requested range has not arrived yet.
type ByteSource interface {
	io.ReadSeeker
	TotalLength() (length int64, estimate bool, err error)
}

type OpenOptions struct {
	// Short name of a format to force
	Format string
	// Used as filename hint while probing
	URL string
}

type Opener interface {
	Open(ctx context.Context, src ByteSource, o OpenOptions) (Demuxer, error)
}

// Demuxer is an opened container. It is not reentrant.
type Demuxer interface {
	Chapters() []Chapter
	Close() error
	// Position of the first packet
	DataOffset() int64
	// Duration in TimeBase units, NoPTSValue when unknown
	Duration() int64
	// EOF returns true when the last read hit the end of the byte source
	EOF() bool
	// Flush discards buffered packets and parser state
	Flush()
	FormatName() string
	Index(streamIndex int) *Index
	InitParser(streamIndex int) error
	Programs() []Program
	ReadBytes(ctx context.Context, b []byte) (int, error)
	// ReadPacket returns io.EOF at end of stream. Keyframes it reads are added to the index.
	ReadPacket(ctx context.Context, p *Packet) error
	// ReadSeek runs the format's native seek, ErrNotSupported when there is none
	ReadSeek(ctx context.Context, streamIndex int, timestamp int64, f SeekFlags) error
	Seek(ctx context.Context, streamIndex int, timestamp int64, f SeekFlags) error
	SeekBytes(ctx context.Context, offset int64) error
	SetParseMode(streamIndex int, m ParseMode)
	// Start time in TimeBase units, NoPTSValue when unknown
	StartTime() int64
	Streams() []*Stream
	UpdateCurrentDTS(streamIndex int, timestamp int64)
	// Flags in unset are cleared after flags in set are added
	UpdateParserFlags(streamIndex int, set, unset ParserFlags)
}
