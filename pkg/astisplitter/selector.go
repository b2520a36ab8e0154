package astisplitter

import "github.com/asticode/go-astisplitter/pkg/container"

type SubtitleSelectorFlags uint32

const (
	SubtitleSelectorFlagDefault SubtitleSelectorFlags = 1 << iota
	SubtitleSelectorFlagForced
	SubtitleSelectorFlagPGS
)

func (f SubtitleSelectorFlags) Has(i SubtitleSelectorFlags) bool {
	return f&i > 0
}

const subtitleLanguageOff = "off"

// SubtitleSelector matches subtitle tracks when the audio language matches AudioLanguage.
// "*" matches any language and a SubtitleLanguage of "off" stops the selection.
type SubtitleSelector struct {
	AudioLanguage    string
	Flags            SubtitleSelectorFlags
	SubtitleLanguage string
}

// SelectVideo prefers more pixels, then a higher bit rate
func (c *Catalog) SelectVideo() (Track, bool) {
	var best *Track
	for i := range c.tracks[TrackKindVideo] {
		check := &c.tracks[TrackKindVideo][i]
		if best == nil {
			best = check
			continue
		}

		checkFrames, bestFrames := check.Info.CodecInfoFrames, best.Info.CodecInfoFrames
		if c.o.RealMedia && checkFrames > 0 && bestFrames <= 0 {
			best = check
		} else if !c.o.RealMedia || checkFrames > 0 {
			if cp, bp := check.Info.pixels(), best.Info.pixels(); cp > bp {
				best = check
			} else if cp == bp && best.Info.BitRate > 0 && check.Info.BitRate > best.Info.BitRate {
				best = check
			}
		}
	}
	if best == nil {
		return Track{}, false
	}
	return *best, true
}

// SelectAudio restricts tracks to the first preferred language having any, then picks the
// default track or the best quality one
func (c *Catalog) SelectAudio(preferredLanguages []string) (Track, bool) {
	tracks := c.tracks[TrackKindAudio]

	// Filter by language
	var checked []*Track
	for _, l := range preferredLanguages {
		l = normalizeLanguage(l)
		for i := range tracks {
			if tracks[i].Language == l {
				checked = append(checked, &tracks[i])
			}
		}
		if len(checked) > 0 {
			break
		}
	}
	if len(checked) == 0 {
		for i := range tracks {
			checked = append(checked, &tracks[i])
		}
	}
	if len(checked) == 0 {
		return Track{}, false
	}

	// Default disposition prevails
	for _, t := range checked {
		if t.Disposition.Has(container.DispositionDefault) {
			return *t, true
		}
	}
	if len(checked) == 1 {
		return *checked[0], true
	}

	// Compare quality
	best := checked[0]
	for _, check := range checked[1:] {
		checkFrames, bestFrames := check.Info.CodecInfoFrames, best.Info.CodecInfoFrames
		if c.o.RealMedia && checkFrames > 0 && bestFrames <= 0 {
			best = check
			continue
		} else if c.o.RealMedia && checkFrames <= 0 {
			continue
		}

		if check.Info.Channels > best.Info.Channels {
			best = check
		} else if check.Info.Channels == best.Info.Channels {
			if cp, bp := audioCodecPriority(check.Info), audioCodecPriority(best.Info); cp > bp {
				best = check
			} else if cp == bp && best.Info.BitRate > 0 && check.Info.BitRate > best.Info.BitRate {
				best = check
			}
		}
	}
	return *best, true
}

func audioCodecPriority(i TrackInfo) (p int) {
	switch {
	case i.CodecID.IsPCM():
		p = 10
	default:
		switch i.CodecID {
		case container.CodecIDFLAC, container.CodecIDTrueHD, container.CodecIDMLP, container.CodecIDTTA, container.CodecIDMP4ALS:
			p = 10
		case container.CodecIDWavPack, container.CodecIDEAC3:
			p = 8
		case container.CodecIDDTS:
			p = 7
			if i.Profile >= container.ProfileDTSHDHRA {
				p += 2
			} else if i.Profile >= container.ProfileDTSES {
				p++
			}
		case container.CodecIDAC3, container.CodecIDAAC, container.CodecIDAACLATM:
			p = 5
		}
	}

	// Multi channel PCM has no proper codec otherwise
	if i.CodecTag == container.CodecTagWaveFormatExtensible {
		p = 10
	}
	return
}

// SelectSubtitle returns the first track matched by the first selector yielding any, and
// the "no subtitle" track otherwise. It returns false when there are no subtitle tracks.
func (c *Catalog) SelectSubtitle(ss []SubtitleSelector, audioLanguage string) (Track, bool) {
	tracks := c.tracks[TrackKindSubtitle]
	if len(tracks) == 0 {
		return Track{}, false
	}

	audioLanguage = normalizeLanguage(audioLanguage)
	for _, s := range ss {
		if !languageMatches(normalizeLanguagePattern(s.AudioLanguage), audioLanguage) {
			continue
		}
		sl := normalizeLanguagePattern(s.SubtitleLanguage)
		if sl == subtitleLanguageOff {
			break
		}

		for _, t := range tracks {
			switch t.ID {
			case NoSubtitleID:
				continue
			case ForcedSubtitleID:
				if (s.Flags == 0 || s.Flags.Has(SubtitleSelectorFlagForced)) && languageMatches(sl, audioLanguage) {
					return t, true
				}
				continue
			}

			if s.Flags == 0 ||
				(s.Flags.Has(SubtitleSelectorFlagDefault) && t.Disposition.Has(container.DispositionDefault)) ||
				(s.Flags.Has(SubtitleSelectorFlagForced) && t.Disposition.Has(container.DispositionForced)) ||
				(s.Flags.Has(SubtitleSelectorFlagPGS) && t.Info.CodecID == container.CodecIDPGS) {
				if languageMatches(sl, t.Language) {
					return t, true
				}
			}
		}
	}

	if t, ok := c.Track(TrackKindSubtitle, NoSubtitleID); ok {
		return t, true
	}
	return Track{}, false
}
