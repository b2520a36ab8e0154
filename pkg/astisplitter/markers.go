package astisplitter

import (
	"fmt"

	"github.com/asticode/go-astisplitter/pkg/container"
)

// Markers are chapters, numbered from 1

func (s *Session) CanSeekMarkers() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.chapters) > 0
}

func (s *Session) MarkerCount() int {
	s.m.Lock()
	defer s.m.Unlock()
	return len(s.chapters)
}

// CurrentMarker returns the marker containing the current time
func (s *Session) CurrentMarker() (int, error) {
	s.m.Lock()
	defer s.m.Unlock()
	rt := s.rtCurrent.Load()
	for i, c := range s.chapters {
		pts := s.n.FromNormalized(rt, c.TimeBase.Num, c.TimeBase.Den, container.NoPTSValue)
		if pts != container.NoPTSValue && pts >= c.Start && pts <= c.End {
			return i + 1, nil
		}
	}
	return 0, ErrMarkerNotFound
}

func (s *Session) marker(n int) (container.Chapter, error) {
	if n < 1 || n > len(s.chapters) {
		return container.Chapter{}, fmt.Errorf("astisplitter: marker %d: %w", n, ErrMarkerNotFound)
	}
	return s.chapters[n-1], nil
}

// MarkerTime returns the normalized start time of marker n
func (s *Session) MarkerTime(n int) (int64, error) {
	s.m.Lock()
	defer s.m.Unlock()
	c, err := s.marker(n)
	if err != nil {
		return 0, err
	}
	return s.n.ToNormalized(c.Start, c.TimeBase.Num, c.TimeBase.Den, container.NoPTSValue), nil
}

func (s *Session) MarkerName(n int) (string, error) {
	s.m.Lock()
	defer s.m.Unlock()
	c, err := s.marker(n)
	if err != nil {
		return "", err
	}
	if c.Title != "" {
		return c.Title, nil
	}
	return fmt.Sprintf("Chapter %d", n), nil
}

func (s *Session) keyframeIndex() (*container.Index, *container.Stream, error) {
	if err := s.checkOpen(); err != nil {
		return nil, nil, err
	}
	id := s.active[TrackKindVideo]
	if id < 0 || id >= len(s.streams) {
		return nil, nil, ErrNoActiveVideo
	}
	if !s.family.matroska && !s.family.avi {
		return nil, nil, fmt.Errorf("astisplitter: %s: %w", s.format.ShortName, ErrKeyframesUnsupported)
	}
	return s.index(id), s.streams[id], nil
}

// KeyframeCount counts index entries of the active video track
func (s *Session) KeyframeCount() (int, error) {
	s.m.Lock()
	defer s.m.Unlock()
	idx, _, err := s.keyframeIndex()
	if err != nil {
		return 0, err
	}
	return idx.Len(), nil
}

// Keyframes returns normalized times of index entries of the active video track
func (s *Session) Keyframes() ([]int64, error) {
	s.m.Lock()
	defer s.m.Unlock()
	idx, st, err := s.keyframeIndex()
	if err != nil {
		return nil, err
	}
	ts := make([]int64, 0, idx.Len())
	for _, e := range idx.Entries() {
		ts = append(ts, s.n.toNormalizedQ(e.Timestamp, st.TimeBase))
	}
	return ts, nil
}

type StreamFlags uint32

const (
	// H.264 timestamps are DTS
	StreamFlagH264DTS StreamFlags = 1 << iota
	StreamFlagRV34Matroska
)

func (f StreamFlags) Has(i StreamFlags) bool {
	return f&i > 0
}

// StreamFlags returns hints for the decoder of container stream idx
func (s *Session) StreamFlags(idx int) (f StreamFlags) {
	s.m.Lock()
	defer s.m.Unlock()
	if idx < 0 || idx >= len(s.streams) {
		return
	}
	st := s.streams[idx]
	if st.CodecID == container.CodecIDH264 && (s.family.avi || (s.family.matroska && isAnnexB(st.ExtraData))) {
		f |= StreamFlagH264DTS
	}
	if s.family.matroska && (st.CodecID == container.CodecIDRV30 || st.CodecID == container.CodecIDRV40) {
		f |= StreamFlagRV34Matroska
	}
	return
}

// TrackElement describes a track of the flattened list: video first, then audio, then
// subtitles
type TrackElement struct {
	Default  bool      `json:"default"`
	Forced   bool      `json:"forced"`
	Kind     TrackKind `json:"kind"`
	Language string    `json:"language"`
}

type TrackExtendedInfo struct {
	Audio *TrackExtendedInfoAudio `json:"audio,omitempty"`
	Video *TrackExtendedInfoVideo `json:"video,omitempty"`
}

type TrackExtendedInfoAudio struct {
	BitDepth   int `json:"bit_depth"`
	Channels   int `json:"channels"`
	SampleRate int `json:"sample_rate"`
}

type TrackExtendedInfoVideo struct {
	DisplayHeight int `json:"display_height"`
	DisplayWidth  int `json:"display_width"`
	PixelHeight   int `json:"pixel_height"`
	PixelWidth    int `json:"pixel_width"`
}

func (s *Session) TrackCount() int {
	s.m.Lock()
	defer s.m.Unlock()
	if s.catalog == nil {
		return 0
	}
	return s.catalog.TrackCount()
}

func (s *Session) trackAt(i int) (Track, error) {
	if s.catalog == nil {
		return Track{}, ErrNotOpen
	}
	t, ok := s.catalog.TrackAt(i)
	if !ok {
		return Track{}, fmt.Errorf("astisplitter: track at %d: %w", i, ErrTrackNotFound)
	}
	return t, nil
}

// streamAt returns the container stream behind the track at i. Synthetic tracks have none.
func (s *Session) streamAt(i int) (*container.Stream, error) {
	t, err := s.trackAt(i)
	if err != nil {
		return nil, err
	}
	if t.ID < 0 || t.ID >= len(s.streams) {
		return nil, fmt.Errorf("astisplitter: track at %d has no stream: %w", i, ErrTrackNotFound)
	}
	return s.streams[t.ID], nil
}

func (s *Session) TrackElement(i int) (TrackElement, error) {
	s.m.Lock()
	defer s.m.Unlock()
	t, err := s.trackAt(i)
	if err != nil {
		return TrackElement{}, err
	}

	switch {
	case t.ID == ForcedSubtitleID:
		return TrackElement{
			Forced:   true,
			Kind:     TrackKindSubtitle,
			Language: undeterminedLanguage,
		}, nil
	case t.ID < 0 || t.ID >= len(s.streams):
		return TrackElement{}, fmt.Errorf("astisplitter: track at %d has no stream: %w", i, ErrTrackNotFound)
	}

	st := s.streams[t.ID]
	return TrackElement{
		Default:  st.Disposition.Has(container.DispositionDefault),
		Forced:   st.Disposition.Has(container.DispositionForced),
		Kind:     t.Kind,
		Language: t.Language,
	}, nil
}

func (s *Session) TrackExtendedInfo(i int) (TrackExtendedInfo, error) {
	s.m.Lock()
	defer s.m.Unlock()
	st, err := s.streamAt(i)
	if err != nil {
		return TrackExtendedInfo{}, err
	}

	var e TrackExtendedInfo
	switch st.MediaType {
	case container.MediaTypeVideo:
		e.Video = &TrackExtendedInfoVideo{
			DisplayHeight: st.Height,
			DisplayWidth:  st.Width,
			PixelHeight:   st.Height,
			PixelWidth:    st.Width,
		}
		if st.CodedHeight > 0 {
			e.Video.PixelHeight = st.CodedHeight
		}
		if st.CodedWidth > 0 {
			e.Video.PixelWidth = st.CodedWidth
		}
	case container.MediaTypeAudio:
		e.Audio = &TrackExtendedInfoAudio{
			BitDepth:   st.BitsPerCodedSample,
			Channels:   st.Channels,
			SampleRate: st.SampleRate,
		}
	}
	return e, nil
}

// TrackName is empty when the stream has no title
func (s *Session) TrackName(i int) (string, error) {
	s.m.Lock()
	defer s.m.Unlock()
	st, err := s.streamAt(i)
	if err != nil {
		return "", err
	}
	return st.MetadataValue("title"), nil
}

func (s *Session) TrackCodecName(i int) (string, error) {
	s.m.Lock()
	defer s.m.Unlock()
	st, err := s.streamAt(i)
	if err != nil {
		return "", err
	}
	return st.CodecID.String(), nil
}
