// Package astiavsplitter opens containers with libavformat through go-astiav and exposes
// them as container.Demuxer
package astiavsplitter

import (
	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astisplitter/pkg/container"
)

const (
	DeltaStatNameAllocatedPackets = "astiavsplitter.allocated.packets"
	DeltaStatNameReusedPackets    = "astiavsplitter.reused.packets"
)

func newRational(r astiav.Rational) container.Rational {
	return container.NewRational(r.Num(), r.Den())
}

func newMediaType(t astiav.MediaType) container.MediaType {
	switch t {
	case astiav.MediaTypeVideo:
		return container.MediaTypeVideo
	case astiav.MediaTypeAudio:
		return container.MediaTypeAudio
	case astiav.MediaTypeSubtitle:
		return container.MediaTypeSubtitle
	case astiav.MediaTypeAttachment:
		return container.MediaTypeAttachment
	case astiav.MediaTypeUnknown:
		return container.MediaTypeUnknown
	default:
		return container.MediaTypeData
	}
}

func newSeekFlags(f container.SeekFlags) astiav.SeekFlags {
	var fs []astiav.SeekFlag
	if f.Has(container.SeekFlagBackward) {
		fs = append(fs, astiav.SeekFlagBackward)
	}
	if f.Has(container.SeekFlagByte) {
		fs = append(fs, astiav.SeekFlagByte)
	}
	if f.Has(container.SeekFlagAny) {
		fs = append(fs, astiav.SeekFlagAny)
	}
	if f.Has(container.SeekFlagFrame) {
		fs = append(fs, astiav.SeekFlagFrame)
	}
	return astiav.NewSeekFlags(fs...)
}

func newPacketFlags(f astiav.PacketFlags) (o container.PacketFlags) {
	if f.Has(astiav.PacketFlagKey) {
		o |= container.PacketFlagKey
	}
	if f.Has(astiav.PacketFlagCorrupt) {
		o |= container.PacketFlagCorrupt
	}
	return
}

func newMetadata(d *astiav.Dictionary) map[string]string {
	if d == nil {
		return nil
	}
	m := make(map[string]string)
	var e *astiav.DictionaryEntry
	for {
		if e = d.Get("", e, astiav.NewDictionaryFlags(astiav.DictionaryFlagIgnoreSuffix)); e == nil {
			break
		}
		m[e.Key()] = e.Value()
	}
	return m
}

// MPEG-TS timestamps are 33 bits
const mpegtsPTSWrapBits = 33

func newStream(s *astiav.Stream, mpegts bool) *container.Stream {
	cp := s.CodecParameters()
	o := &container.Stream{
		BitRate:   cp.BitRate(),
		Channels:  cp.ChannelLayout().Channels(),
		CodecID:   container.CodecID(cp.CodecID().String()),
		Duration:  s.Duration(),
		Height:    cp.Height(),
		ID:        s.ID(),
		Index:     s.Index(),
		MediaType: newMediaType(cp.MediaType()),
		Metadata:  newMetadata(s.Metadata()),
		// libavformat parses every stream until told otherwise
		ParseMode:  container.ParseModeFull,
		SampleRate: cp.SampleRate(),
		StartTime:  s.StartTime(),
		TimeBase:   newRational(s.TimeBase()),
		Width:      cp.Width(),
	}
	if mpegts {
		o.PTSWrapBits = mpegtsPTSWrapBits
	}
	return o
}
