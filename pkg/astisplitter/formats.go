package astisplitter

import (
	"strings"
	"sync"
	"sync/atomic"
)

type Format struct {
	Description string `json:"description,omitempty"`
	// Demuxer name as reported by the container library, e.g. "matroska,webm"
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
}

var defaultFormats = []Format{
	{Description: "Advanced Systems Format", Name: "asf", ShortName: "asf"},
	{Description: "Audio Video Interleave", Name: "avi", ShortName: "avi"},
	{Description: "Flash Video", Name: "flv", ShortName: "flv"},
	{Description: "Matroska/WebM", Name: "matroska,webm", ShortName: "matroska"},
	{Description: "MPEG-4/QuickTime", Name: "mov,mp4,m4a,3gp,3g2,mj2", ShortName: "mp4"},
	{Description: "MPEG-PS (VOB/EVO)", Name: "mpeg", ShortName: "mpeg"},
	{Description: "MPEG-TS (DVB/Blu-ray)", Name: "mpegts", ShortName: "mpegts"},
	{Description: "Ogg", Name: "ogg", ShortName: "ogg"},
	{Description: "RealMedia", Name: "rm", ShortName: "rm"},
	{Description: "Raw H.264", Name: "h264", ShortName: "h264"},
	{Description: "Raw VC-1", Name: "vc1", ShortName: "vc1"},
	{Description: "WAV", Name: "wav", ShortName: "wav"},
}

type InitOptions struct {
	// Added to, or overriding, the default registry
	Formats []Format
}

var (
	formats     []Format
	formatsOnce sync.Once
	initialized atomic.Bool
)

// Init must be called once before any session is created
func Init(o InitOptions) {
	formatsOnce.Do(func() {
		m := make(map[string]int)
		for _, fs := range [][]Format{defaultFormats, o.Formats} {
			for _, f := range fs {
				if f.ShortName == "" {
					f.ShortName = shortFormatName(f.Name)
				}
				if idx, ok := m[f.Name]; ok {
					formats[idx] = f
					continue
				}
				m[f.Name] = len(formats)
				formats = append(formats, f)
			}
		}
		initialized.Store(true)
	})
}

// Formats lists the registry, nil before Init
func Formats() []Format {
	if !initialized.Load() {
		return nil
	}
	fs := make([]Format, len(formats))
	copy(fs, formats)
	return fs
}

func lookupFormat(name string) Format {
	for _, f := range formats {
		if f.Name == name {
			return f
		}
	}
	return Format{
		Description: name,
		Name:        name,
		ShortName:   shortFormatName(name),
	}
}

func shortFormatName(name string) string {
	n, _, _ := strings.Cut(name, ",")
	return n
}

type formatFamily struct {
	avi      bool
	evo      bool
	flv      bool
	matroska bool
	mpegts   bool
	rm       bool
}

func newFormatFamily(shortName, url string) formatFamily {
	hasPrefix := func(p string) bool {
		return len(shortName) >= len(p) && strings.EqualFold(shortName[:len(p)], p)
	}
	ext := strings.ToLower(urlExtension(url))
	return formatFamily{
		avi:      hasPrefix("avi"),
		evo:      (url == "" || ext == ".evo") && strings.EqualFold(shortName, "mpeg"),
		flv:      strings.EqualFold(shortName, "flv"),
		matroska: hasPrefix("matroska"),
		mpegts:   hasPrefix("mpegts"),
		rm:       strings.EqualFold(shortName, "rm"),
	}
}

func (f formatFamily) correctionFamily() Family {
	switch {
	case f.matroska:
		return FamilyMatroska
	case f.avi:
		return FamilyAVI
	case f.mpegts:
		return FamilyMPEGTS
	default:
		return FamilyGeneric
	}
}

func urlExtension(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	if i := strings.LastIndexAny(url, "/\\"); i >= 0 {
		url = url[i+1:]
	}
	if i := strings.LastIndex(url, "."); i >= 0 {
		return url[i:]
	}
	return ""
}
