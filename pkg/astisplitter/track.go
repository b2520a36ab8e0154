package astisplitter

import "github.com/asticode/go-astisplitter/pkg/container"

type TrackKind int

const (
	TrackKindVideo TrackKind = iota
	TrackKindAudio
	TrackKindSubtitle
)

var trackKinds = []TrackKind{TrackKindVideo, TrackKindAudio, TrackKindSubtitle}

func (k TrackKind) String() string {
	switch k {
	case TrackKindVideo:
		return "video"
	case TrackKindAudio:
		return "audio"
	default:
		return "subtitle"
	}
}

func trackKindFromMediaType(t container.MediaType) (TrackKind, bool) {
	switch t {
	case container.MediaTypeVideo:
		return TrackKindVideo, true
	case container.MediaTypeAudio:
		return TrackKindAudio, true
	case container.MediaTypeSubtitle:
		return TrackKindSubtitle, true
	}
	return 0, false
}

type Track struct {
	Disposition container.Disposition `json:"disposition"`
	// Container stream index, or one of the sentinel ids
	ID       int       `json:"id"`
	Info     TrackInfo `json:"info"`
	Kind     TrackKind `json:"kind"`
	Language string    `json:"language"`
}

func (t Track) Synthetic() bool {
	return t.ID < 0
}

type TrackInfo struct {
	BitRate            int64             `json:"bit_rate,omitempty"`
	BitsPerCodedSample int               `json:"bits_per_coded_sample,omitempty"`
	Channels           int               `json:"channels,omitempty"`
	CodecID            container.CodecID `json:"codec_id,omitempty"`
	CodecInfoFrames    int               `json:"-"`
	CodecTag           uint32            `json:"codec_tag,omitempty"`
	CodedHeight        int               `json:"coded_height,omitempty"`
	CodedWidth         int               `json:"coded_width,omitempty"`
	Height             int               `json:"height,omitempty"`
	Profile            int               `json:"profile,omitempty"`
	SampleRate         int               `json:"sample_rate,omitempty"`
	Title              string            `json:"title,omitempty"`
	Width              int               `json:"width,omitempty"`
}

func newTrackInfo(s *container.Stream) TrackInfo {
	return TrackInfo{
		BitRate:            s.BitRate,
		BitsPerCodedSample: s.BitsPerCodedSample,
		Channels:           s.Channels,
		CodecID:            s.CodecID,
		CodecInfoFrames:    s.CodecInfoFrames,
		CodecTag:           s.CodecTag,
		CodedHeight:        s.CodedHeight,
		CodedWidth:         s.CodedWidth,
		Height:             s.Height,
		Profile:            s.Profile,
		SampleRate:         s.SampleRate,
		Title:              s.MetadataValue("title"),
		Width:              s.Width,
	}
}

func (i TrackInfo) pixels() uint64 {
	if i.Width <= 0 || i.Height <= 0 {
		return 0
	}
	return uint64(i.Width) * uint64(i.Height)
}
