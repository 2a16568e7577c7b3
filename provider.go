package transcode

import (
	"strconv"
	"sync/atomic"
)

// Provider identifies an encoder implementation inside the engine.
type Provider uint8

const (
	ProviderAuto     Provider = iota // Let library choose best available
	ProviderX264                     // GPL H.264 encoder
	ProviderOpenH264                 // BSD H.264 encoder
	ProviderAAC                      // LGPL native AAC encoder
	ProviderFDKAAC                   // Non-free AAC encoder
	providerCount
)

// License represents the software license of a provider.
type License uint8

const (
	LicenseGPL     License = iota // Copyleft - requires source disclosure
	LicenseLGPL                   // Weak copyleft
	LicenseBSD                    // Permissive - no copyleft obligations
	LicenseNonFree                // Not redistributable with GPL code
)

func (l License) String() string {
	switch l {
	case LicenseGPL:
		return "GPL"
	case LicenseLGPL:
		return "LGPL"
	case LicenseBSD:
		return "BSD"
	case LicenseNonFree:
		return "non-free"
	default:
		return "unknown"
	}
}

// encoderOption is one private option passed to the engine when opening an encoder.
type encoderOption struct {
	Key, Value string
}

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name    string // Engine encoder name
	License License
	Kind    MediaKind
	Options []encoderOption
}

// Static metadata table - indexed by Provider. Within a media kind,
// providers are listed in preference order.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto: {"auto", LicenseBSD, MediaKindUnknown, nil},
	ProviderX264: {"libx264", LicenseGPL, MediaKindVideo, []encoderOption{
		{"crf", strconv.Itoa(VideoCRF)},
		{"preset", VideoPreset},
		{"tune", VideoTune},
	}},
	ProviderOpenH264: {"libopenh264", LicenseBSD, MediaKindVideo, []encoderOption{
		{"rc_mode", "quality"},
	}},
	ProviderAAC: {"aac", LicenseLGPL, MediaKindAudio, []encoderOption{
		{"flags", "+qscale"},
		{"global_quality", strconv.Itoa(AudioGlobalQuality)},
		{"aac_coder", AudioCoder},
	}},
	ProviderFDKAAC: {"libfdk_aac", LicenseNonFree, MediaKindAudio, []encoderOption{
		{"flags", "+qscale"},
		{"global_quality", strconv.Itoa(AudioGlobalQuality)},
	}},
}

// Runtime availability - set once the engine has probed its encoders.
var providerAvailable [providerCount]atomic.Bool

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// License returns the provider's license type.
func (p Provider) License() License {
	if p >= providerCount {
		return LicenseGPL
	}
	return providerInfo[p].License
}

// Kind returns the media kind the provider encodes.
func (p Provider) Kind() MediaKind {
	if p >= providerCount {
		return MediaKindUnknown
	}
	return providerInfo[p].Kind
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

func (p Provider) options() []encoderOption {
	if p >= providerCount {
		return nil
	}
	return providerInfo[p].Options
}

// setProviderAvailable records the engine's probe result for p.
func setProviderAvailable(p Provider, ok bool) {
	if p < providerCount {
		providerAvailable[p].Store(ok)
	}
}

// selectProvider returns the first available provider for kind.
func selectProvider(kind MediaKind) (Provider, bool) {
	for p := ProviderAuto + 1; p < providerCount; p++ {
		if p.Kind() == kind && p.Available() {
			return p, true
		}
	}
	return ProviderAuto, false
}
