package astisplitter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astisplitter/pkg/container"
	"github.com/google/uuid"
)

// Secondary audio codec tags
const (
	codecTagDTSSecondary  uint32 = 0xa2
	codecTagEAC3Secondary uint32 = 0xa1
)

type SeekingCapabilities uint32

const (
	SeekingCapabilityNone     SeekingCapabilities = 0
	SeekingCapabilityPosition SeekingCapabilities = 1 << 0
	SeekingCapabilityTime     SeekingCapabilities = 1 << 1
)

func (c SeekingCapabilities) Has(i SeekingCapabilities) bool {
	return c&i > 0
}

// Host is the component feeding the byte source
type Host interface {
	SeekingCapabilities() SeekingCapabilities
	// SeekToTime returns the timestamp the host actually seeked to, expressed like timestamp
	SeekToTime(ctx context.Context, timestamp int64) (int64, error)
	TotalLength(ctx context.Context) (int64, error)
}

// Narrow views on a Session
type (
	PacketSource interface {
		Next(ctx context.Context) (*Packet, error)
	}

	SeekableSource interface {
		Duration() int64
		Seek(ctx context.Context, t int64) error
		SeekByByte(ctx context.Context, offset int64) error
		StartTime() int64
	}

	TrackCatalog interface {
		ActiveTrack(k TrackKind) int
		SelectAudio(preferredLanguages []string) (Track, bool)
		SelectSubtitle(ss []SubtitleSelector, audioLanguage string) (Track, bool)
		SelectVideo() (Track, bool)
		SetActiveTrack(k TrackKind, id int) error
		Tracks(k TrackKind) []Track
	}
)

var (
	_ PacketSource   = (*Session)(nil)
	_ SeekableSource = (*Session)(nil)
	_ TrackCatalog   = (*Session)(nil)
)

type Metadata struct {
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags,omitempty"`
	URL  string   `json:"url,omitempty"`
}

func (m *Metadata) Merge(i Metadata) Metadata {
	if i.Name != "" {
		m.Name = i.Name
	}
	if i.URL != "" {
		m.URL = i.URL
	}
	for _, t := range i.Tags {
		if !slices.Contains(m.Tags, t) {
			m.Tags = append(m.Tags, t)
		}
	}
	return *m
}

type Options struct {
	ContextAdapter func(ctx context.Context, s *Session) context.Context
	Host           Host
	Logger         astikit.StdLogger
	Metadata       Metadata
	// Default is DefaultOpenTimeout
	OpenTimeout time.Duration
	Opener      container.Opener
	Settings    Settings
}

type OpenOptions struct {
	// Disables MPEG-TS wrap correction
	BluRay bool
	// Forces the container format
	Format string
	URL    string
}

// Session is an open container. Apart from Abort, methods must not be called concurrently,
// they are serialized anyway.
type Session struct {
	abortCancel      context.CancelFunc
	abortCtx         context.Context
	aborted          atomic.Bool
	active           map[TrackKind]int
	bluRay           bool
	c                *astikit.Closer
	catalog          *Catalog
	chapters         []container.Chapter
	ctx              context.Context
	d                container.Demuxer
	duration         int64
	e                *astikit.EventManager
	family           formatFamily
	forcedSubtitle   int
	format           Format
	id               string
	l                astikit.CompleteLogger
	m                sync.Mutex // Locks container mutating operations
	md               Metadata
	n                *Normalizer
	o                Options
	oc               *astikit.Closer
	parseModes       []container.ParseMode
	pgsNoParsing     bool
	pkt              container.Packet
	rtCurrent        atomic.Int64
	settings         Settings
	st               *sessionStats
	status           atomic.Uint32
	streams          []*container.Stream
	vc1Correction    bool
	vc1SeenTimestamp bool
}

func New(o Options) (*Session, error) {
	// Process-wide state must be ready
	if !initialized.Load() {
		return nil, ErrNotInitialized
	}

	// No opener
	if o.Opener == nil {
		return nil, errors.New("astisplitter: no opener provided")
	}

	// Default options
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}

	// Create session
	s := &Session{
		active:         make(map[TrackKind]int),
		c:              astikit.NewCloser(),
		ctx:            context.Background(),
		duration:       container.NoPTSValue,
		e:              astikit.NewEventManager(),
		forcedSubtitle: -1,
		id:             uuid.NewString(),
		l:              astikit.AdaptStdLogger(o.Logger),
		md:             o.Metadata,
		n:              NewNormalizer(0),
		o:              o,
		settings:       o.Settings,
		st:             newSessionStats(),
	}
	s.abortCtx, s.abortCancel = context.WithCancel(context.Background())
	s.resetActiveTracks()

	// Adapt context
	if s.o.ContextAdapter != nil {
		s.ctx = s.o.ContextAdapter(s.ctx, s)
	}
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) String() string {
	if s.md.Name != "" {
		return fmt.Sprintf("%s (session_%s)", s.md.Name, s.id)
	}
	return fmt.Sprintf("session_%s", s.id)
}

func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Logger() astikit.CompleteLogger {
	return s.l
}

func (s *Session) Metadata() Metadata {
	return s.md
}

func (s *Session) Status() Status {
	return Status(s.status.Load())
}

func (s *Session) setStatus(i Status) {
	s.status.Store(uint32(i))
}

func (s *Session) On(n astikit.EventName, h astikit.EventHandler) astikit.EventRemover {
	return s.e.On(n, h)
}

func (s *Session) resetActiveTracks() {
	for _, k := range trackKinds {
		s.active[k] = NoTrackID
	}
}

// withAbort returns a context canceled as well when the session is aborted
func (s *Session) withAbort(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.abortCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Abort makes the operation in progress, and all following ones, fail promptly. It is
// safe to call concurrently with any other method.
func (s *Session) Abort() {
	if s.aborted.CompareAndSwap(false, true) {
		s.l.InfoC(s.ctx, "astisplitter: aborting session")
		s.abortCancel()
	}
}

// Open probes the container. The opened event is emitted once the session is unlocked.
func (s *Session) Open(ctx context.Context, src container.ByteSource, o OpenOptions) error {
	// Open
	if err := s.open(ctx, src, o); err != nil {
		return err
	}

	// Emit
	s.e.Emit(EventNameSessionOpened, s)
	return nil
}

func (s *Session) open(ctx context.Context, src container.ByteSource, o OpenOptions) (err error) {
	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Check status
	if s.Status() != StatusCreated {
		return fmt.Errorf("astisplitter: session can't be opened when %s", s.Status())
	}

	// Check abort
	if s.aborted.Load() {
		return fmt.Errorf("astisplitter: opening container failed: %w", ErrAborted)
	}

	// Update status
	s.setStatus(StatusOpening)
	defer func() {
		if err != nil {
			s.setStatus(StatusCreated)
		}
	}()

	// Update metadata
	if o.URL != "" && s.md.URL == "" {
		s.md.URL = o.URL
	}

	// Protocols that libav only knows under a different name
	url := o.URL
	if len(url) >= 4 && strings.EqualFold(url[:4], "mms:") {
		url = "mmsh" + url[3:]
	}

	// Bound the open in time and make it abortable
	ctx, cancel := context.WithTimeout(ctx, s.o.OpenTimeout)
	defer cancel()
	ctx, stop := s.withAbort(ctx)
	defer stop()

	// Open container
	s.l.DebugC(s.ctx, "astisplitter: opening container")
	startedAt := time.Now()
	d, err := s.o.Opener.Open(ctx, src, container.OpenOptions{
		Format: o.Format,
		URL:    url,
	})
	if err != nil {
		err = s.openError(ctx, err)
		return
	}

	// Make sure the container is closed properly
	oc := s.c.NewChild()
	oc.AddWithError(d.Close)

	// Initialize container
	if err = s.initContainer(d, url, o); err != nil {
		if errC := oc.Close(); errC != nil {
			s.l.WarnC(s.ctx, fmt.Errorf("astisplitter: closing container failed: %w", errC))
		}
		s.resetContainer()
		return
	}
	s.oc = oc

	// Update status
	s.setStatus(StatusOpen)

	// Log
	s.l.InfoC(s.ctx, fmt.Sprintf("astisplitter: opened %s container with %d streams in %s", s.format.ShortName, len(s.streams), time.Since(startedAt)))
	return
}

func (s *Session) openError(ctx context.Context, err error) error {
	switch {
	case s.aborted.Load():
		return fmt.Errorf("astisplitter: opening container failed: %w: %w", ErrAborted, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("astisplitter: opening container failed: %w: %w", ErrOpenTimeout, err)
	default:
		return fmt.Errorf("astisplitter: opening container failed: %w: %w", ErrProbeFailed, err)
	}
}

func (s *Session) initContainer(d container.Demuxer, url string, o OpenOptions) error {
	// Check format policy
	format := lookupFormat(d.FormatName())
	if !s.settings.formatEnabled(format.ShortName) {
		return fmt.Errorf("astisplitter: checking format %s failed: %w", format.ShortName, ErrFormatDisabled)
	}

	// Store container
	s.bluRay = o.BluRay
	s.chapters = d.Chapters()
	s.d = d
	s.family = newFormatFamily(format.ShortName, url)
	s.format = format
	s.streams = d.Streams()
	s.vc1Correction = s.settings.vc1Correction(s.family.matroska)
	s.vc1SeenTimestamp = false

	// Loop through streams
	s.parseModes = make([]container.ParseMode, len(s.streams))
	for idx, st := range s.streams {
		// Disable full parsing for DVB subtitles
		if st.ParseMode == container.ParseModeFull && st.CodecID == container.CodecIDDVBSubtitle {
			st.ParseMode = container.ParseModeNone
			d.SetParseMode(idx, st.ParseMode)
		}

		// Create parser
		s.initParser(idx)

		// Store original parse mode
		s.parseModes[idx] = st.ParseMode

		// Secondary audio
		if (st.CodecID == container.CodecIDDTS && st.CodecTag == codecTagDTSSecondary) ||
			(st.CodecID == container.CodecIDEAC3 && st.CodecTag == codecTagEAC3Secondary) {
			st.Disposition |= container.DispositionSecondaryAudio
		}
	}

	// Link TrueHD sub streams
	if s.family.mpegts {
		linkSubStreams(s.streams)
	}

	// Build catalog
	s.catalog = BuildCatalog(s.streams, d.Programs(), CatalogOptions{
		MPEGTS:          s.family.mpegts,
		PGSForcedStream: s.settings.PGSForcedStream,
		RealMedia:       s.family.rm,
		SubStreams:      !s.settings.DisableSubstreams,
	})

	// Update times
	startTime := s.catalog.StartTime()
	if startTime == container.NoPTSValue {
		startTime = d.StartTime()
	}
	s.n.SetStartTime(startTime)
	s.duration = s.catalog.Duration()
	if s.duration == container.NoPTSValue {
		s.duration = d.Duration()
	}
	s.rtCurrent.Store(0)

	// Apply settings
	s.applySettings()
	return nil
}

func (s *Session) resetContainer() {
	s.catalog = nil
	s.chapters = nil
	s.d = nil
	s.duration = container.NoPTSValue
	s.forcedSubtitle = -1
	s.oc = nil
	s.parseModes = nil
	s.streams = nil
	s.resetActiveTracks()
}

// Close is idempotent
func (s *Session) Close() error {
	// Close
	closed, err := s.close()
	if !closed {
		return nil
	}

	// Emit
	s.e.Emit(EventNameSessionClosed, s)
	return err
}

func (s *Session) close() (closed bool, err error) {
	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Already closed
	if s.Status() == StatusClosed {
		return
	}

	// Close
	closed = true
	if err = s.c.Close(); err != nil {
		err = fmt.Errorf("astisplitter: closing failed: %w", err)
	}
	s.resetContainer()
	s.abortCancel()

	// Update status
	s.setStatus(StatusClosed)

	// Log
	s.l.InfoC(s.ctx, "astisplitter: session is closed")
	return
}

// checkOpen must be called with the lock held
func (s *Session) checkOpen() error {
	if s.aborted.Load() {
		return ErrAborted
	}
	if s.d == nil || s.Status() != StatusOpen {
		return ErrNotOpen
	}
	return nil
}

// SettingsChanged updates the VC-1 correction, video parsing and PGS parsing policies
func (s *Session) SettingsChanged(st Settings) {
	s.m.Lock()
	defer s.m.Unlock()
	s.settings = st
	if s.d != nil {
		s.applySettings()
	}
}

func (s *Session) applySettings() {
	s.vc1Correction = s.settings.vc1Correction(s.family.matroska)
	for idx, st := range s.streams {
		if st.CodecID == container.CodecIDVC1 {
			s.updateParserFlags(idx)
		} else if st.MediaType == container.MediaTypeVideo {
			m := s.parseModes[idx]
			if s.settings.DisableVideoParsing {
				m = container.ParseModeNone
			}
			st.ParseMode = m
			s.d.SetParseMode(idx, m)
		}
	}
	s.pgsNoParsing = !s.settings.PGSOnlyForced
}

func (s *Session) initParser(idx int) {
	if err := s.d.InitParser(idx); err != nil {
		s.l.DebugC(s.ctx, fmt.Errorf("astisplitter: initializing parser of stream #%d failed: %w", idx, err))
	}
	s.updateParserFlags(idx)
}

func (s *Session) updateParserFlags(idx int) {
	switch s.streams[idx].CodecID {
	case container.CodecIDMPEG1Video, container.CodecIDMPEG2Video:
		s.d.UpdateParserFlags(idx, container.ParserFlagNoTimestampMangling, 0)
	case container.CodecIDVC1:
		if s.vc1Correction {
			s.d.UpdateParserFlags(idx, 0, container.ParserFlagNoTimestampMangling)
		} else {
			s.d.UpdateParserFlags(idx, container.ParserFlagNoTimestampMangling, 0)
		}
	}
}

func (s *Session) resetParsers() {
	for idx := range s.streams {
		s.initParser(idx)
	}
}

// Format returns the detected container format
func (s *Session) Format() Format {
	s.m.Lock()
	defer s.m.Unlock()
	return s.format
}

func (s *Session) Family() Family {
	s.m.Lock()
	defer s.m.Unlock()
	return s.family.correctionFamily()
}

// Duration is in normalized time, -1 when unknown
func (s *Session) Duration() int64 {
	s.m.Lock()
	defer s.m.Unlock()
	if s.duration == container.NoPTSValue || s.duration < 0 {
		return -1
	}
	return container.Rescale(s.duration, TimeUnit, container.TimeBase)
}

// StartTime is in normalized time
func (s *Session) StartTime() int64 {
	return container.Rescale(s.n.StartTime(), TimeUnit, container.TimeBase)
}

// CurrentTime is the presented time of the last emitted packet having one
func (s *Session) CurrentTime() int64 {
	return s.rtCurrent.Load()
}

func (s *Session) Normalizer() *Normalizer {
	return s.n
}

func (s *Session) Tracks(k TrackKind) []Track {
	s.m.Lock()
	defer s.m.Unlock()
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Tracks(k)
}

func (s *Session) Programs() []ProgramInfo {
	s.m.Lock()
	defer s.m.Unlock()
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Programs()
}

func (s *Session) SelectVideo() (Track, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.catalog == nil {
		return Track{}, false
	}
	return s.catalog.SelectVideo()
}

func (s *Session) SelectAudio(preferredLanguages []string) (Track, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.catalog == nil {
		return Track{}, false
	}
	return s.catalog.SelectAudio(preferredLanguages)
}

func (s *Session) SelectSubtitle(ss []SubtitleSelector, audioLanguage string) (Track, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.catalog == nil {
		return Track{}, false
	}
	return s.catalog.SelectSubtitle(ss, audioLanguage)
}

func (s *Session) ActiveTrack(k TrackKind) int {
	s.m.Lock()
	defer s.m.Unlock()
	if id, ok := s.active[k]; ok {
		return id
	}
	return NoTrackID
}

// SetActiveTrack activates track id for kind k. NoTrackID deactivates the kind.
func (s *Session) SetActiveTrack(k TrackKind, id int) error {
	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Check status
	if err := s.checkOpen(); err != nil {
		return err
	}

	// Check track
	if id != NoTrackID {
		if _, ok := s.catalog.Track(k, id); !ok {
			return fmt.Errorf("astisplitter: %s track %d: %w", k, id, ErrTrackNotFound)
		}
	}

	// Forced subtitles follow the audio language
	if k == TrackKindAudio && id >= 0 {
		s.updateForcedSubtitleTrack(id)
	}

	// Update
	s.active[k] = id

	// Log
	s.l.DebugC(s.ctx, fmt.Sprintf("astisplitter: %s track %d is active", k, id))

	// Emit
	s.e.Emit(EventNameTrackActivated, TrackActivatedEvent{ID: id, Kind: k})
	return nil
}

func (s *Session) updateForcedSubtitleTrack(audioID int) {
	a, ok := s.catalog.Track(TrackKindAudio, audioID)
	if !ok {
		return
	}

	t, ok := s.catalog.SelectSubtitle([]SubtitleSelector{{
		AudioLanguage:    "*",
		Flags:            SubtitleSelectorFlagPGS,
		SubtitleLanguage: a.Language,
	}}, a.Language)
	if !ok || t.Synthetic() {
		s.forcedSubtitle = -1
		return
	}

	s.forcedSubtitle = t.ID
	s.catalog.setLanguage(TrackKindSubtitle, ForcedSubtitleID, a.Language)
}

// ForcedSubtitleTrack returns the track feeding the forced subtitle placeholder, -1 when
// none
func (s *Session) ForcedSubtitleTrack() int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.forcedSubtitle
}
