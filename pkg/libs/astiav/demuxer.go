package astiavsplitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astisplitter/pkg/container"
)

const defaultIOBufferSize = 32 * 1024

var _ container.Opener = (*Opener)(nil)

type Opener struct {
	o OpenerOptions
}

type OpenerOptions struct {
	Dictionary DictionaryOptions
	// Defaults to 32KiB
	IOBufferSize int
	Logger       astikit.StdLogger
}

func NewOpener(o OpenerOptions) *Opener {
	if o.IOBufferSize <= 0 {
		o.IOBufferSize = defaultIOBufferSize
	}
	return &Opener{o: o}
}

func (o *Opener) Open(ctx context.Context, src container.ByteSource, oo container.OpenOptions) (container.Demuxer, error) {
	// Create demuxer
	d := newDemuxer(ctx, src, o.o)

	// Open
	if err := d.open(ctx, oo); err != nil {
		d.c.Close()
		return nil, err
	}
	return d, nil
}

var _ container.Demuxer = (*Demuxer)(nil)

// Demuxer reads packets with libavformat. Index, parse modes and parser flags are kept on
// the Go side since libavformat doesn't expose them.
type Demuxer struct {
	bs          *byteSource
	c           *astikit.Closer
	ctx         context.Context
	currentDTS  map[int]int64 // Indexed by stream index
	dataOffset  int64
	eof         bool
	formatName  string
	ii          astiav.IOInterrupter
	indexes     map[int]*container.Index // Indexed by stream index
	l           astikit.CompleteLogger
	o           OpenerOptions
	parseModes  map[int]container.ParseMode   // Indexed by stream index
	parserFlags map[int]container.ParserFlags // Indexed by stream index
	position    int64
	pp          *packetPool
	r           demuxerReader
	ss          []*container.Stream
}

func newDemuxer(ctx context.Context, src container.ByteSource, o OpenerOptions) *Demuxer {
	// Create demuxer
	d := &Demuxer{
		bs:          newByteSource(src),
		c:           astikit.NewCloser(),
		ctx:         ctx,
		currentDTS:  make(map[int]int64),
		dataOffset:  -1,
		indexes:     make(map[int]*container.Index),
		l:           astikit.AdaptStdLogger(o.Logger),
		o:           o,
		parseModes:  make(map[int]container.ParseMode),
		parserFlags: make(map[int]container.ParserFlags),
	}
	d.pp = newPacketPool(defaultMaxIdlePackets, d.c)

	// Create reader
	d.r = newDemuxerReader()
	d.c.Add(d.r.Free)

	// Store reader
	classers.set(d.r, ctx, d.classerLogger())
	d.c.Add(func() { classers.del(d.r) })

	// Set interrupt callback
	d.ii = d.r.SetInterruptCallback()
	return d
}

// libav logs fall back to the interceptor's logger when none was provided
func (d *Demuxer) classerLogger() astikit.CompleteLogger {
	if d.o.Logger == nil {
		return nil
	}
	return d.l
}

func (d *Demuxer) open(ctx context.Context, o container.OpenOptions) (err error) {
	// Dictionary
	var dict *astiav.Dictionary
	if dict, err = d.o.Dictionary.newDictionary(); err != nil {
		err = fmt.Errorf("astiavsplitter: creating dictionary failed: %w", err)
		return
	}
	if dict != nil {
		defer dict.Free()
	}

	// Forced format
	var f *astiav.InputFormat
	if o.Format != "" {
		if f = astiav.FindInputFormat(o.Format); f == nil {
			err = fmt.Errorf("astiavsplitter: input format %s not found", o.Format)
			return
		}
		d.formatName = f.Name()
	}

	// Create io context
	var ioc *astiav.IOContext
	if ioc, err = astiav.AllocIOContext(d.o.IOBufferSize, false, d.bs.read, d.bs.seek, nil); err != nil {
		err = fmt.Errorf("astiavsplitter: allocating io context failed: %w", err)
		return
	}
	d.c.Add(ioc.Free)
	classers.set(ioc, d.ctx, d.classerLogger())
	d.c.Add(func() { classers.del(ioc) })

	// io context must be set before opening the input, url is only a probing hint then
	d.r.SetPb(ioc)

	// Open input
	if err = d.withContext(ctx, func() error { return d.r.OpenInput(o.URL, f, dict) }); err != nil {
		err = fmt.Errorf("astiavsplitter: opening input failed: %w", err)
		return
	}
	d.c.Add(d.r.CloseInput)

	// Find stream information
	if err = d.withContext(ctx, func() error { return d.r.FindStreamInfo(nil) }); err != nil {
		err = fmt.Errorf("astiavsplitter: finding stream info failed: %w", err)
		return
	}

	// Get format name
	if d.formatName == "" {
		if f := d.r.InputFormat(); f != nil {
			d.formatName = f.Name()
		}
	}

	// Loop through streams
	mpegts := strings.HasPrefix(d.formatName, "mpegts")
	for _, s := range d.r.Streams() {
		st := newStream(s, mpegts)
		d.parseModes[st.Index] = st.ParseMode
		d.ss = append(d.ss, st)
	}
	return
}

// withContext makes fn interruptible through ctx
func (d *Demuxer) withContext(ctx context.Context, fn func() error) error {
	// Make sure to resume interrupt callback
	d.ii.Resume()

	// Interrupt when context is done
	stop := context.AfterFunc(ctx, d.ii.Interrupt)
	defer stop()

	// Execute
	err := fn()
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("astiavsplitter: context error: %w: %w", ctx.Err(), err)
	}
	return err
}

func (d *Demuxer) Close() error {
	return d.c.Close()
}

// Chapters are not exposed by go-astiav
func (d *Demuxer) Chapters() []container.Chapter {
	return nil
}

// DataOffset is the position of the first packet read, 0 until then
func (d *Demuxer) DataOffset() int64 {
	if d.dataOffset < 0 {
		return 0
	}
	return d.dataOffset
}

func (d *Demuxer) Duration() int64 {
	return d.r.Duration()
}

func (d *Demuxer) EOF() bool {
	return d.eof
}

func (d *Demuxer) Flush() {
	if err := d.r.Flush(); err != nil {
		d.l.DebugC(d.ctx, fmt.Errorf("astiavsplitter: flushing failed: %w", err))
	}
}

func (d *Demuxer) FormatName() string {
	return d.formatName
}

func (d *Demuxer) Index(streamIndex int) *container.Index {
	if streamIndex < 0 || streamIndex >= len(d.ss) {
		return nil
	}
	i, ok := d.indexes[streamIndex]
	if !ok {
		i = container.NewIndex()
		d.indexes[streamIndex] = i
	}
	return i
}

func (d *Demuxer) checkStreamIndex(i int) error {
	if i < 0 || i >= len(d.ss) {
		return fmt.Errorf("astiavsplitter: invalid stream index %d", i)
	}
	return nil
}

// InitParser clears the parser flags of the stream
func (d *Demuxer) InitParser(streamIndex int) error {
	if err := d.checkStreamIndex(streamIndex); err != nil {
		return err
	}
	d.parserFlags[streamIndex] = 0
	return nil
}

// Programs are not exposed by go-astiav
func (d *Demuxer) Programs() []container.Program {
	return nil
}

func (d *Demuxer) ParseMode(streamIndex int) container.ParseMode {
	return d.parseModes[streamIndex]
}

func (d *Demuxer) ParserFlags(streamIndex int) container.ParserFlags {
	return d.parserFlags[streamIndex]
}

func (d *Demuxer) ReadBytes(ctx context.Context, b []byte) (int, error) {
	// Check context
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	// Read
	n, err := d.bs.readAt(b, d.position)
	d.position += int64(n)
	return n, err
}

func (d *Demuxer) ReadPacket(ctx context.Context, p *container.Packet) error {
	// Get packet from pool
	pkt := d.pp.acquire()
	defer d.pp.release(pkt)

	// Read frame
	if err := d.withContext(ctx, func() error { return d.r.ReadFrame(pkt) }); err != nil {
		switch {
		case errors.Is(err, astiav.ErrEof):
			d.eof = true
			return io.EOF
		case errors.Is(err, astiav.ErrEagain):
			return container.ErrAgain
		case ctx.Err() != nil:
			return fmt.Errorf("astiavsplitter: reading frame failed: %w: %w", container.ErrInterrupted, err)
		default:
			return fmt.Errorf("astiavsplitter: reading frame failed: %w", err)
		}
	}
	d.eof = false

	// Copy packet
	p.Data = append(p.Data[:0], pkt.Data()...)
	p.DTS = pkt.Dts()
	p.Duration = pkt.Duration()
	p.Flags = newPacketFlags(pkt.Flags())
	p.Pos = pkt.Pos()
	p.PTS = pkt.Pts()
	p.Size = pkt.Size()
	p.StreamIndex = pkt.StreamIndex()

	// Invalid stream
	if d.checkStreamIndex(p.StreamIndex) != nil {
		return nil
	}

	// Store data offset
	if d.dataOffset < 0 && p.Pos >= 0 {
		d.dataOffset = p.Pos
	}

	// Current dts was updated after a seek
	if dts, ok := d.currentDTS[p.StreamIndex]; ok {
		if p.DTS == container.NoPTSValue {
			p.DTS = dts
		}
		delete(d.currentDTS, p.StreamIndex)
	}

	// Update index
	if p.Flags.Has(container.PacketFlagKey) && p.DTS != container.NoPTSValue && p.Pos >= 0 {
		d.Index(p.StreamIndex).Add(container.IndexEntry{
			Flags:     container.IndexEntryFlagKeyframe,
			Pos:       p.Pos,
			Timestamp: p.DTS,
		})
	}
	return nil
}

func (d *Demuxer) seekFrame(ctx context.Context, streamIndex int, timestamp int64, f container.SeekFlags) error {
	if err := d.withContext(ctx, func() error { return d.r.SeekFrame(streamIndex, timestamp, newSeekFlags(f)) }); err != nil {
		return fmt.Errorf("astiavsplitter: seeking frame failed: %w", err)
	}
	d.eof = false
	if f.Has(container.SeekFlagByte) {
		d.position = timestamp
	}
	return nil
}

// ReadSeek lets libavformat pick its seeking method
func (d *Demuxer) ReadSeek(ctx context.Context, streamIndex int, timestamp int64, f container.SeekFlags) error {
	if f.Has(container.SeekFlagByte) {
		return container.ErrNotSupported
	}
	return d.seekFrame(ctx, streamIndex, timestamp, f)
}

func (d *Demuxer) Seek(ctx context.Context, streamIndex int, timestamp int64, f container.SeekFlags) error {
	return d.seekFrame(ctx, streamIndex, timestamp, f)
}

func (d *Demuxer) SeekBytes(ctx context.Context, offset int64) error {
	return d.seekFrame(ctx, -1, offset, container.SeekFlagByte)
}

func (d *Demuxer) SetParseMode(streamIndex int, m container.ParseMode) {
	if d.checkStreamIndex(streamIndex) != nil {
		return
	}
	d.parseModes[streamIndex] = m
	d.ss[streamIndex].ParseMode = m
}

func (d *Demuxer) StartTime() int64 {
	return d.r.StartTime()
}

func (d *Demuxer) Streams() []*container.Stream {
	return d.ss
}

// UpdateCurrentDTS is used by the next packet of the stream having no DTS
func (d *Demuxer) UpdateCurrentDTS(streamIndex int, timestamp int64) {
	if d.checkStreamIndex(streamIndex) != nil {
		return
	}
	d.currentDTS[streamIndex] = timestamp
}

func (d *Demuxer) UpdateParserFlags(streamIndex int, set, unset container.ParserFlags) {
	if d.checkStreamIndex(streamIndex) != nil {
		return
	}
	d.parserFlags[streamIndex] = (d.parserFlags[streamIndex] | set) &^ unset
}

func (d *Demuxer) DeltaStats() []astikit.DeltaStat {
	return d.pp.deltaStats()
}

type demuxerReader interface {
	Class() *astiav.Class
	CloseInput()
	Duration() int64
	FindStreamInfo(d *astiav.Dictionary) error
	Flush() error
	Free()
	InputFormat() *astiav.InputFormat
	OpenInput(url string, fmt *astiav.InputFormat, d *astiav.Dictionary) error
	ReadFrame(p *astiav.Packet) error
	SeekFrame(streamIndex int, timestamp int64, f astiav.SeekFlags) error
	SetInterruptCallback() astiav.IOInterrupter
	SetPb(i *astiav.IOContext)
	StartTime() int64
	Streams() []*astiav.Stream
}

var newDemuxerReader = func() demuxerReader {
	return astiav.AllocFormatContext()
}
