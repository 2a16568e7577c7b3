package transcode

import "fmt"

// Output profile. These are fixed and not configurable.
const (
	VideoGOPSize = 12            // A keyframe at least every 12 frames
	VideoCRF     = 20            // x264 constant rate factor
	VideoPreset  = "superfast"   // x264 speed preset
	VideoTune    = "zerolatency" // x264 tuning

	AudioSampleRate = 48000
	AudioChannels   = 2
	AudioCoder      = "fast" // aac_coder of the native AAC encoder

	// AudioGlobalQuality is the constant-quality target of the AAC encoder,
	// 5 on the encoder's quantizer scale expressed in lambda units.
	AudioGlobalQuality = 5 * qp2Lambda

	ProbeSize    = 65536 // Byte ceiling for container structure probing
	IOBufferSize = 65536 // Engine-side buffer of the memory I/O adapters

	qp2Lambda = 118
)

// MediaKind is the kind of an elementary stream.
type MediaKind int

const (
	MediaKindUnknown MediaKind = iota
	MediaKindVideo
	MediaKindAudio
)

func (k MediaKind) String() string {
	switch k {
	case MediaKindVideo:
		return "video"
	case MediaKindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// H264Profile is an H.264 profile, identified by profile_idc.
type H264Profile int

const (
	H264ProfileBaseline H264Profile = 66
	H264ProfileMain     H264Profile = 77
	H264ProfileHigh     H264Profile = 100
	H264ProfileHigh444  H264Profile = 244
)

func (p H264Profile) String() string {
	switch p {
	case H264ProfileBaseline:
		return "Baseline"
	case H264ProfileMain:
		return "Main"
	case H264ProfileHigh:
		return "High"
	case H264ProfileHigh444:
		return "High444"
	default:
		return "Unknown"
	}
}

// H264CodecString returns the RFC 6381 codecs parameter (avc1.PPCCLL)
// for an SPS NAL unit, header byte included.
func H264CodecString(sps []byte) string {
	if len(sps) < 4 {
		return "avc1"
	}
	return fmt.Sprintf("avc1.%02x%02x%02x", sps[1], sps[2], sps[3])
}

// AACCodecString returns the RFC 6381 codecs parameter for an MPEG-4 audio object type.
func AACCodecString(objectType int) string {
	return fmt.Sprintf("mp4a.40.%d", objectType)
}
