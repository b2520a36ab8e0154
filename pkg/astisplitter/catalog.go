package astisplitter

import (
	"math"

	"github.com/asticode/go-astisplitter/pkg/container"
)

var containerTimeBase = container.NewRational(1, container.TimeBase)

// Program scores
const (
	programScoreInvalid = 1
	programScoreValid   = 4
	programScorePerfect = 2 * programScoreValid
)

type CatalogOptions struct {
	MPEGTS bool
	// Adds the forced subtitle placeholder when PGS subtitles exist
	PGSForcedStream bool
	RealMedia       bool
	SubStreams      bool
}

// Catalog holds the tracks kept out of the container streams. Tracks are immutable once
// built except for the forced subtitle placeholder's language.
type Catalog struct {
	duration  int64
	o         CatalogOptions
	program   int
	programs  []ProgramInfo
	startTime int64
	tracks    map[TrackKind][]Track
}

type ProgramInfo struct {
	Discarded bool `json:"discarded"`
	ID        int  `json:"id"`
	Score     int  `json:"score"`
}

// BuildCatalog walks container streams once, restricted to the best program when the
// container has some
func BuildCatalog(streams []*container.Stream, programs []container.Program, o CatalogOptions) *Catalog {
	c := &Catalog{
		duration:  container.NoPTSValue,
		o:         o,
		program:   -1,
		startTime: container.NoPTSValue,
		tracks:    make(map[TrackKind][]Track),
	}

	stream := func(idx int) *container.Stream {
		if idx < 0 || idx >= len(streams) {
			return nil
		}
		return streams[idx]
	}

	// Select program
	best := 0
	for i, p := range programs {
		c.programs = append(c.programs, ProgramInfo{ID: p.ID})
		if len(p.StreamIndexes) == 0 {
			continue
		}
		score := scoreProgram(p, stream)
		c.programs[i].Score = score.audio + score.video
		if score.video != programScoreInvalid && score.audio+score.video > best {
			best = score.audio + score.video
			c.program = i
			if best == programScorePerfect {
				break
			}
		}
	}
	for i := len(c.programs); i < len(programs); i++ {
		c.programs = append(c.programs, ProgramInfo{ID: programs[i].ID})
	}
	if c.program >= 0 {
		for i := range c.programs {
			c.programs[i].Discarded = i != c.program
		}
	}

	// Get stream indexes
	var idxs []int
	if c.program >= 0 {
		idxs = programs[c.program].StreamIndexes
	} else {
		for i := range streams {
			idxs = append(idxs, i)
		}
	}

	// Add streams
	duration := int64(math.MinInt64)
	startTime := int64(math.MaxInt64)
	hasPGS := false
	for _, idx := range idxs {
		st := stream(idx)
		if st == nil || !c.addStream(st) {
			continue
		}

		if st.MediaType == container.MediaTypeVideo || st.MediaType == container.MediaTypeAudio {
			if st.Duration != container.NoPTSValue && st.TimeBase.Valid() {
				if d := container.RescaleQ(st.Duration, st.TimeBase, containerTimeBase); d > duration {
					duration = d
				}
			}

			if st.StartTime != container.NoPTSValue && st.TimeBase.Valid() {
				stStartTime := container.RescaleQ(st.StartTime, st.TimeBase, containerTimeBase)
				if startTime != math.MaxInt64 && o.MPEGTS && st.PTSWrapBits > 3 && st.PTSWrapBits < 60 {
					startTime, stStartTime = unwrapStartTimes(startTime, stStartTime, st)
				}
				if stStartTime < startTime {
					startTime = stStartTime
				}
			}
		}

		if st.CodecID == container.CodecIDPGS {
			hasPGS = true
		}
	}

	if duration != math.MinInt64 {
		c.duration = duration
	}
	if startTime != math.MaxInt64 {
		c.startTime = startTime
	}

	// Add synthetic tracks
	if hasPGS && o.PGSForcedStream {
		c.tracks[TrackKindSubtitle] = append(c.tracks[TrackKindSubtitle], Track{
			Disposition: container.DispositionForced,
			ID:          ForcedSubtitleID,
			Info:        TrackInfo{CodecID: container.CodecIDPGS, Title: "Forced Subtitles (auto)"},
			Kind:        TrackKindSubtitle,
			Language:    undeterminedLanguage,
		})
	}
	if len(c.tracks[TrackKindSubtitle]) > 0 {
		c.tracks[TrackKindSubtitle] = append(c.tracks[TrackKindSubtitle], Track{
			ID:       NoSubtitleID,
			Info:     TrackInfo{Title: "No subtitles"},
			Kind:     TrackKindSubtitle,
			Language: undeterminedLanguage,
		})
	}
	return c
}

type programScore struct {
	audio int
	video int
}

func scoreProgram(p container.Program, stream func(idx int) *container.Stream) (s programScore) {
	for _, idx := range p.StreamIndexes {
		st := stream(idx)
		if st == nil {
			continue
		}
		switch st.MediaType {
		case container.MediaTypeVideo:
			if s.video < programScoreValid {
				if st.Width != 0 && st.Height != 0 {
					s.video = programScoreValid
				} else {
					s.video = programScoreInvalid
				}
			}
		case container.MediaTypeAudio:
			if s.audio < programScoreValid {
				if st.Channels != 0 {
					s.audio = programScoreValid
				} else {
					s.audio = programScoreInvalid
				}
			}
		}
	}
	return
}

// unwrapStartTimes handles a PTS rollover between the start time computed so far and the
// stream's own start time. Both are in container.TimeBase units.
func unwrapStartTimes(startTime, stStartTime int64, st *container.Stream) (int64, int64) {
	wrap := int64(1) << st.PTSWrapBits
	low := int64(3) << (st.PTSWrapBits - 3)
	high := int64(3) << (st.PTSWrapBits - 2)
	start := container.RescaleQ(startTime, containerTimeBase, st.TimeBase)
	if start < low && st.StartTime > high {
		startTime = container.RescaleQ(start+wrap, st.TimeBase, containerTimeBase)
	} else if st.StartTime < low && start > high {
		stStartTime = container.RescaleQ(st.StartTime+wrap, st.TimeBase, containerTimeBase)
	}
	return startTime, stStartTime
}

func (c *Catalog) addStream(st *container.Stream) bool {
	if (st.CodecID == "" || st.CodecID == container.CodecIDNone) && st.CodecTag == 0 {
		return false
	}
	if !c.o.SubStreams && st.Disposition.Has(container.DispositionSubStream) {
		return false
	}
	k, ok := trackKindFromMediaType(st.MediaType)
	if !ok {
		return false
	}
	if k == TrackKindVideo && (st.Width == 0 || st.Height == 0) {
		return false
	}
	c.tracks[k] = append(c.tracks[k], Track{
		Disposition: st.Disposition,
		ID:          st.Index,
		Info:        newTrackInfo(st),
		Kind:        k,
		Language:    normalizeLanguage(st.MetadataValue("language")),
	})
	return true
}

// Duration is in container.TimeBase units, container.NoPTSValue when no audio or video
// track carries one
func (c *Catalog) Duration() int64 {
	return c.duration
}

// StartTime is in container.TimeBase units
func (c *Catalog) StartTime() int64 {
	return c.startTime
}

// Program returns the position of the selected program, -1 when none
func (c *Catalog) Program() int {
	return c.program
}

func (c *Catalog) Programs() []ProgramInfo {
	ps := make([]ProgramInfo, len(c.programs))
	copy(ps, c.programs)
	return ps
}

func (c *Catalog) Tracks(k TrackKind) []Track {
	ts := make([]Track, len(c.tracks[k]))
	copy(ts, c.tracks[k])
	return ts
}

func (c *Catalog) Track(k TrackKind, id int) (Track, bool) {
	for _, t := range c.tracks[k] {
		if t.ID == id {
			return t, true
		}
	}
	return Track{}, false
}

// TrackCount counts video, audio and subtitle tracks, synthetic ones included
func (c *Catalog) TrackCount() (n int) {
	for _, k := range trackKinds {
		n += len(c.tracks[k])
	}
	return
}

// TrackAt looks up the flattened track list: video first, then audio, then subtitles
func (c *Catalog) TrackAt(i int) (Track, bool) {
	if i < 0 {
		return Track{}, false
	}
	for _, k := range trackKinds {
		if i < len(c.tracks[k]) {
			return c.tracks[k][i], true
		}
		i -= len(c.tracks[k])
	}
	return Track{}, false
}

func (c *Catalog) setLanguage(k TrackKind, id int, lang string) {
	for i, t := range c.tracks[k] {
		if t.ID == id {
			c.tracks[k][i].Language = lang
			return
		}
	}
}

// linkSubStreams flags, in MPEG-TS, the stream sharing its container id with a TrueHD
// stream as a sub stream inheriting its disposition and metadata
func linkSubStreams(streams []*container.Stream) {
	for i, st := range streams {
		if st.CodecID != container.CodecIDTrueHD {
			continue
		}
		for j, sst := range streams {
			if i == j || sst.ID != st.ID {
				continue
			}
			sst.Disposition = st.Disposition | container.DispositionSubStream
			if len(st.Metadata) > 0 && sst.Metadata == nil {
				sst.Metadata = make(map[string]string, len(st.Metadata))
			}
			for k, v := range st.Metadata {
				sst.Metadata[k] = v
			}
			break
		}
	}
}

// subStreamPartner returns the stream linked to streams[idx], -1 when none. The link
// works both ways.
func subStreamPartner(streams []*container.Stream, idx int) int {
	if idx < 0 || idx >= len(streams) {
		return -1
	}
	st := streams[idx]
	for i, o := range streams {
		if i == idx || o.ID != st.ID {
			continue
		}
		if (st.CodecID == container.CodecIDTrueHD && o.Disposition.Has(container.DispositionSubStream)) ||
			(o.CodecID == container.CodecIDTrueHD && st.Disposition.Has(container.DispositionSubStream)) {
			return i
		}
	}
	return -1
}
