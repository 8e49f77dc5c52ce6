package browser

import (
	_ "embed"
	"fmt"
	"math/rand"

	"sigs.k8s.io/yaml"
)

//go:embed fingerprints.yaml
var fingerprintYAML []byte

// Viewport is the reported window size of a fingerprint.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Fingerprint is one preset identity a leased context presents to a page.
type Fingerprint struct {
	Name          string            `json:"name"`
	UserAgent     string            `json:"user_agent"`
	Locale        string            `json:"locale"`
	Timezone      string            `json:"timezone"`
	Viewport      Viewport          `json:"viewport"`
	WebGLVendor   string            `json:"webgl_vendor"`
	WebGLRenderer string            `json:"webgl_renderer"`
	ExtraHeaders  map[string]string `json:"extra_headers"`
}

type fingerprintFile struct {
	Presets []Fingerprint `json:"presets"`
}

var presets = mustLoadFingerprints()

func mustLoadFingerprints() []Fingerprint {
	var file fingerprintFile
	if err := yaml.Unmarshal(fingerprintYAML, &file); err != nil {
		panic(fmt.Sprintf("bad embedded fingerprint presets: %v", err))
	}
	if len(file.Presets) == 0 {
		panic("embedded fingerprint presets are empty")
	}
	return file.Presets
}

// FingerprintByName returns the named preset.
func FingerprintByName(name string) (Fingerprint, error) {
	for _, fp := range presets {
		if fp.Name == name {
			return fp, nil
		}
	}
	return Fingerprint{}, fmt.Errorf("unknown fingerprint preset %q", name)
}

// RandomFingerprint picks any preset, used when a resolver has no preference.
func RandomFingerprint() Fingerprint {
	return presets[rand.Intn(len(presets))]
}
