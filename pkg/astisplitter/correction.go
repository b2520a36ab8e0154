package astisplitter

import "github.com/asticode/go-astisplitter/pkg/container"

// Family groups containers sharing timestamp quirks
type Family uint8

const (
	FamilyGeneric Family = 1 << iota
	FamilyMatroska
	FamilyAVI
	FamilyMPEGTS
)

const familyAll = FamilyGeneric | FamilyMatroska | FamilyAVI | FamilyMPEGTS

func (f Family) String() string {
	switch f {
	case FamilyMatroska:
		return "matroska"
	case FamilyAVI:
		return "avi"
	case FamilyMPEGTS:
		return "mpegts"
	default:
		return "generic"
	}
}

type CorrectionPolicy uint32

const (
	CorrectionSuppressPTS CorrectionPolicy = 1 << iota
	CorrectionSuppressDTS
	// Presented time is the PTS, DTS is only used until a first PTS has been seen
	CorrectionUsePTSOnly
	CorrectionUseDTSOnly
	CorrectionPreParsed
	// Length prefixed streams lose their DTS, others are flagged for Annex-B conversion
	CorrectionAnnexBProbe
)

const vc1CorrectionPolicies = CorrectionUsePTSOnly | CorrectionUseDTSOnly | CorrectionPreParsed

func (p CorrectionPolicy) Has(i CorrectionPolicy) bool {
	return p&i > 0
}

type correctionRule struct {
	// Empty matches any codec
	codecID  container.CodecID
	families Family
	// Unknown matches any media type
	mediaType container.MediaType
	policy    CorrectionPolicy
}

var correctionRules = []correctionRule{
	{families: FamilyAVI, mediaType: container.MediaTypeVideo, policy: CorrectionSuppressPTS},
	{codecID: container.CodecIDH264, families: FamilyMatroska, policy: CorrectionAnnexBProbe},
	{codecID: container.CodecIDH264, families: familyAll &^ (FamilyAVI | FamilyMatroska), policy: CorrectionSuppressDTS},
	{codecID: container.CodecIDMPEG1Video, families: familyAll &^ FamilyAVI, policy: CorrectionSuppressDTS},
	{codecID: container.CodecIDMPEG2Video, families: familyAll &^ FamilyAVI, policy: CorrectionSuppressDTS},
	{codecID: container.CodecIDRV10, families: familyAll, policy: CorrectionSuppressPTS},
	{codecID: container.CodecIDRV20, families: familyAll, policy: CorrectionSuppressPTS},
	{codecID: container.CodecIDRV30, families: familyAll, policy: CorrectionSuppressPTS},
	{codecID: container.CodecIDRV40, families: familyAll, policy: CorrectionSuppressPTS},
	{codecID: container.CodecIDVC1, families: FamilyMatroska, policy: CorrectionUsePTSOnly},
	{codecID: container.CodecIDVC1, families: familyAll &^ FamilyMatroska, policy: CorrectionUseDTSOnly | CorrectionPreParsed},
}

func (r correctionRule) matches(f Family, codecID container.CodecID, mediaType container.MediaType) bool {
	return r.families&f > 0 &&
		(r.codecID == "" || r.codecID == codecID) &&
		(r.mediaType == container.MediaTypeUnknown || r.mediaType == mediaType)
}

// CorrectionFor merges the policies of every matching rule. VC-1 policies are dropped
// when VC-1 correction is off.
func CorrectionFor(f Family, codecID container.CodecID, mediaType container.MediaType, vc1Correction bool) (p CorrectionPolicy) {
	for _, r := range correctionRules {
		if r.matches(f, codecID, mediaType) {
			p |= r.policy
		}
	}
	if !vc1Correction && codecID == container.CodecIDVC1 {
		p &^= vc1CorrectionPolicies
	}
	return
}

// Length prefixed (avcC) extradata starts with configuration version 1
func isAnnexB(extraData []byte) bool {
	return len(extraData) == 0 || extraData[0] != 1
}
