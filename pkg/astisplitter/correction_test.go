package astisplitter

import (
	"testing"

	"github.com/asticode/go-astisplitter/pkg/container"
	"github.com/stretchr/testify/require"
)

func TestCorrectionFor(t *testing.T) {
	for _, v := range []struct {
		codecID       container.CodecID
		expected      CorrectionPolicy
		family        Family
		mediaType     container.MediaType
		vc1Correction bool
	}{
		{codecID: container.CodecIDH264, expected: CorrectionSuppressPTS, family: FamilyAVI, mediaType: container.MediaTypeVideo},
		{codecID: container.CodecIDH264, expected: CorrectionAnnexBProbe, family: FamilyMatroska, mediaType: container.MediaTypeVideo},
		{codecID: container.CodecIDH264, expected: CorrectionSuppressDTS, family: FamilyMPEGTS, mediaType: container.MediaTypeVideo},
		{codecID: container.CodecIDH264, expected: CorrectionSuppressDTS, family: FamilyGeneric, mediaType: container.MediaTypeVideo},
		{codecID: container.CodecIDMPEG2Video, expected: CorrectionSuppressPTS, family: FamilyAVI, mediaType: container.MediaTypeVideo},
		{codecID: container.CodecIDMPEG2Video, expected: CorrectionSuppressDTS, family: FamilyMPEGTS, mediaType: container.MediaTypeVideo},
		{codecID: container.CodecIDMPEG1Video, expected: CorrectionSuppressDTS, family: FamilyGeneric, mediaType: container.MediaTypeVideo},
		{codecID: container.CodecIDRV40, expected: CorrectionSuppressPTS, family: FamilyGeneric, mediaType: container.MediaTypeVideo},
		{codecID: container.CodecIDRV10, expected: CorrectionSuppressPTS, family: FamilyAVI, mediaType: container.MediaTypeVideo},
		{codecID: container.CodecIDVC1, expected: CorrectionUsePTSOnly, family: FamilyMatroska, mediaType: container.MediaTypeVideo, vc1Correction: true},
		{codecID: container.CodecIDVC1, family: FamilyMatroska, mediaType: container.MediaTypeVideo},
		{codecID: container.CodecIDVC1, expected: CorrectionUseDTSOnly | CorrectionPreParsed, family: FamilyMPEGTS, mediaType: container.MediaTypeVideo, vc1Correction: true},
		{codecID: container.CodecIDVC1, expected: CorrectionSuppressPTS, family: FamilyAVI, mediaType: container.MediaTypeVideo},
		{codecID: container.CodecIDAAC, family: FamilyAVI, mediaType: container.MediaTypeAudio},
		{codecID: container.CodecIDAC3, family: FamilyMPEGTS, mediaType: container.MediaTypeAudio},
	} {
		require.Equal(t, v.expected, CorrectionFor(v.family, v.codecID, v.mediaType, v.vc1Correction), "%s/%s", v.family, v.codecID)
	}
}

func TestIsAnnexB(t *testing.T) {
	require.True(t, isAnnexB(nil))
	require.True(t, isAnnexB([]byte{0, 0, 0, 1, 0x67}))
	require.False(t, isAnnexB([]byte{1, 0x64, 0, 0x1f}))
}
