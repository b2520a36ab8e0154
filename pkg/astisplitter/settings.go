package astisplitter

import (
	"slices"
	"strings"
)

type VC1TimestampMode int

// Values are those of the persisted setting
const (
	VC1TimestampModeOff VC1TimestampMode = iota
	VC1TimestampModeOn
	// Correction depends on VC1CorrectionRequired and the container
	VC1TimestampModeAuto
)

func (m VC1TimestampMode) String() string {
	switch m {
	case VC1TimestampModeOn:
		return "on"
	case VC1TimestampModeAuto:
		return "auto"
	default:
		return "off"
	}
}

type Settings struct {
	// Short format names, case insensitive
	DisabledFormats     []string
	DisableSubstreams   bool
	DisableVideoParsing bool
	// Adds a forced subtitle placeholder track when PGS subtitles exist
	PGSForcedStream bool
	// Leaves PGS packets to the downstream forced subtitle parser
	PGSOnlyForced         bool
	VC1CorrectionRequired bool
	VC1TimestampMode      VC1TimestampMode
}

func (s Settings) formatEnabled(shortName string) bool {
	return !slices.ContainsFunc(s.DisabledFormats, func(n string) bool { return strings.EqualFold(n, shortName) })
}

func (s Settings) vc1Correction(matroska bool) bool {
	switch s.VC1TimestampMode {
	case VC1TimestampModeOn:
		return true
	case VC1TimestampModeAuto:
		if matroska {
			return !s.VC1CorrectionRequired
		}
		return s.VC1CorrectionRequired
	default:
		return false
	}
}
