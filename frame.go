// Sample classification for probed output tracks.
package transcode

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // I-frame, can be decoded independently
	FrameTypeDelta             // P/B-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}
