package astiavsplitter

import (
	"fmt"
	"sort"

	"github.com/asticode/go-astiav"
)

// DictionaryOptions are the libavformat options used when opening the input. String is
// parsed first (e.g. "probesize=5000000,analyzeduration=2000000"), Values are set after it
// and win on conflicts.
type DictionaryOptions struct {
	Flags             astiav.DictionaryFlags
	KeyValueSeparator string
	PairsSeparator    string
	String            string
	Values            map[string]string
}

func NewCommaDictionaryOptions(format string, args ...interface{}) DictionaryOptions {
	return DictionaryOptions{
		KeyValueSeparator: "=",
		PairsSeparator:    ",",
		String:            fmt.Sprintf(format, args...),
	}
}

func (o DictionaryOptions) empty() bool {
	return o.String == "" && len(o.Values) == 0
}

// newDictionary returns nil when there are no options. Caller must free the dictionary.
func (o DictionaryOptions) newDictionary() (d *astiav.Dictionary, err error) {
	// Nothing to do
	if o.empty() {
		return
	}

	// Create dictionary
	d = astiav.NewDictionary()

	// Make sure dictionary is freed on error
	defer func() {
		if err != nil {
			d.Free()
			d = nil
		}
	}()

	// Parse string
	if o.String != "" {
		if err = d.ParseString(o.String, o.KeyValueSeparator, o.PairsSeparator, o.Flags); err != nil {
			err = fmt.Errorf("astiavsplitter: parsing %q failed: %w", o.String, err)
			return
		}
	}

	// Set values in a stable order
	ks := make([]string, 0, len(o.Values))
	for k := range o.Values {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	for _, k := range ks {
		if err = d.Set(k, o.Values[k], o.Flags); err != nil {
			err = fmt.Errorf("astiavsplitter: setting %s failed: %w", k, err)
			return
		}
	}
	return
}
