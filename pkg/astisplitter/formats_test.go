package astisplitter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormats(t *testing.T) {
	Init(InitOptions{})
	require.NotEmpty(t, Formats())

	f := lookupFormat("matroska,webm")
	require.Equal(t, "matroska", f.ShortName)
	require.Equal(t, "Matroska/WebM", f.Description)

	f = lookupFormat("unknown,other")
	require.Equal(t, Format{Description: "unknown,other", Name: "unknown,other", ShortName: "unknown"}, f)
}

func TestFormatFamily(t *testing.T) {
	require.Equal(t, formatFamily{matroska: true}, newFormatFamily("matroska", "a.mkv"))
	require.Equal(t, formatFamily{avi: true}, newFormatFamily("avi", "a.avi"))
	require.Equal(t, formatFamily{flv: true}, newFormatFamily("flv", "a.flv"))
	require.Equal(t, formatFamily{mpegts: true}, newFormatFamily("mpegts", "a.ts"))
	require.Equal(t, formatFamily{rm: true}, newFormatFamily("rm", "a.rm"))
	require.Equal(t, formatFamily{evo: true}, newFormatFamily("mpeg", "http://host/path/a.EVO?key=value"))
	require.Equal(t, formatFamily{evo: true}, newFormatFamily("mpeg", ""))
	require.Equal(t, formatFamily{}, newFormatFamily("mpeg", "http://host/stream"))
	require.Equal(t, formatFamily{}, newFormatFamily("mpeg", "a.vob"))

	require.Equal(t, FamilyMatroska, formatFamily{matroska: true}.correctionFamily())
	require.Equal(t, FamilyAVI, formatFamily{avi: true}.correctionFamily())
	require.Equal(t, FamilyMPEGTS, formatFamily{mpegts: true}.correctionFamily())
	require.Equal(t, FamilyGeneric, formatFamily{flv: true}.correctionFamily())

	require.Equal(t, ".mkv", urlExtension("http://host/a.b/c.mkv?x=1.2#y"))
	require.Equal(t, "", urlExtension("http://host/a.b/c"))
	require.Equal(t, ".ts", urlExtension(`C:\videos\a.ts`))
}

func TestSettings(t *testing.T) {
	s := Settings{DisabledFormats: []string{"MPEGTS"}}
	require.False(t, s.formatEnabled("mpegts"))
	require.True(t, s.formatEnabled("matroska"))

	require.Equal(t, VC1TimestampMode(0), VC1TimestampModeOff)
	require.Equal(t, VC1TimestampMode(1), VC1TimestampModeOn)
	require.Equal(t, VC1TimestampMode(2), VC1TimestampModeAuto)
	require.Equal(t, "off", VC1TimestampMode(0).String())
	require.Equal(t, "on", VC1TimestampMode(1).String())
	require.Equal(t, "auto", VC1TimestampMode(2).String())

	require.False(t, s.vc1Correction(true))
	require.False(t, s.vc1Correction(false))
	s.VC1TimestampMode = VC1TimestampModeOn
	require.True(t, s.vc1Correction(true))
	require.True(t, s.vc1Correction(false))
	s.VC1TimestampMode = VC1TimestampModeAuto
	require.True(t, s.vc1Correction(true))
	require.False(t, s.vc1Correction(false))
	s.VC1CorrectionRequired = true
	require.False(t, s.vc1Correction(true))
	require.True(t, s.vc1Correction(false))
}

func TestNormalizeLanguage(t *testing.T) {
	require.Equal(t, "eng", normalizeLanguage("en"))
	require.Equal(t, "eng", normalizeLanguage(" EN "))
	require.Equal(t, "eng", normalizeLanguage("eng"))
	require.Equal(t, "jpn", normalizeLanguage("ja"))
	require.Equal(t, "und", normalizeLanguage(""))
	require.Equal(t, "und", normalizeLanguage("e1"))

	require.Equal(t, "*", normalizeLanguagePattern("*"))
	require.Equal(t, "off", normalizeLanguagePattern("off"))
	require.Equal(t, "eng", normalizeLanguagePattern("en"))
	require.True(t, languageMatches("*", "jpn"))
	require.False(t, languageMatches("eng", "jpn"))
}
