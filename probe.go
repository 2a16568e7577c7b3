package transcode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	amp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

const (
	sampleFlagIsNonSyncSample = 1 << 16

	tfhdDefaultSampleDurationPresent = 0x08
	tfhdDefaultSampleSizePresent     = 0x10
	tfhdDefaultSampleFlagsPresent    = 0x20

	trunFirstSampleFlagsPresent        = 0x004
	trunSampleDurationPresent          = 0x100
	trunSampleSizePresent              = 0x200
	trunSampleFlagsPresent             = 0x400
	trunSampleCompositionOffsetPresent = 0x800
)

// ProbeSample is one sample of a fragmented MP4 track.
type ProbeSample struct {
	DTS       int64  // Decode time in track time scale units
	PTSOffset int32  // PTS - DTS
	Duration  uint32 // In track time scale units
	Size      uint32
	Type      FrameType
}

// PTS returns the presentation time in track time scale units.
func (s ProbeSample) PTS() int64 { return s.DTS + int64(s.PTSOffset) }

// ProbeTrack describes one track of a fragmented MP4.
type ProbeTrack struct {
	ID        int
	Kind      MediaKind
	Codec     string // RFC 6381 codecs parameter
	TimeScale uint32

	// Video
	Width   int
	Height  int
	Profile H264Profile

	// Audio
	SampleRate   int
	ChannelCount int

	Samples []ProbeSample
}

// Duration returns the sum of sample durations.
func (t *ProbeTrack) Duration() time.Duration {
	if t.TimeScale == 0 {
		return 0
	}
	var d uint64
	for _, s := range t.Samples {
		d += uint64(s.Duration)
	}
	return durationMp4ToGo(d, t.TimeScale)
}

// Keyframes returns the number of sync samples.
func (t *ProbeTrack) Keyframes() int {
	n := 0
	for _, s := range t.Samples {
		if s.Type == FrameTypeKey {
			n++
		}
	}
	return n
}

// MaxKeyframeInterval returns the longest run of samples that starts at a
// keyframe (or at the first sample) and ends before the next keyframe.
func (t *ProbeTrack) MaxKeyframeInterval() int {
	longest, run := 0, 0
	for i, s := range t.Samples {
		if s.Type == FrameTypeKey && i > 0 {
			run = 0
		}
		run++
		if run > longest {
			longest = run
		}
	}
	return longest
}

// PresentationTimestamps returns the PTS of every sample in decode order.
func (t *ProbeTrack) PresentationTimestamps() []int64 {
	out := make([]int64, len(t.Samples))
	for i, s := range t.Samples {
		out[i] = s.PTS()
	}
	return out
}

// ProbeResult describes a fragmented MP4.
type ProbeResult struct {
	Tracks []*ProbeTrack
}

// Video returns the first video track, or nil.
func (r *ProbeResult) Video() *ProbeTrack { return r.first(MediaKindVideo) }

// Audio returns the first audio track, or nil.
func (r *ProbeResult) Audio() *ProbeTrack { return r.first(MediaKindAudio) }

func (r *ProbeResult) first(kind MediaKind) *ProbeTrack {
	for _, t := range r.Tracks {
		if t.Kind == kind {
			return t
		}
	}
	return nil
}

func durationMp4ToGo(v uint64, timeScale uint32) time.Duration {
	timeScale64 := uint64(timeScale)
	secs := v / timeScale64
	dec := v % timeScale64
	return time.Duration(secs)*time.Second + time.Duration(dec)*time.Second/time.Duration(timeScale64)
}

// Probe parses a fragmented MP4, such as the output of Transcode.
func Probe(data []byte) (*ProbeResult, error) {
	initBuf, err := fmp4ReadInit(data)
	if err != nil {
		return nil, err
	}

	var init fmp4.Init
	err = init.Unmarshal(bytes.NewReader(initBuf))
	if err != nil {
		return nil, fmt.Errorf("parsing init segment: %w", err)
	}

	res := &ProbeResult{}
	byID := make(map[uint32]*ProbeTrack)

	for _, it := range init.Tracks {
		track, err := probeInitTrack(it)
		if err != nil {
			return nil, err
		}
		res.Tracks = append(res.Tracks, track)
		byID[uint32(it.ID)] = track
	}

	err = readFragments(data, byID)
	if err != nil {
		return nil, err
	}

	return res, nil
}

func probeInitTrack(it *fmp4.InitTrack) (*ProbeTrack, error) {
	track := &ProbeTrack{
		ID:        it.ID,
		TimeScale: it.TimeScale,
	}

	switch codec := it.Codec.(type) {
	case *mp4.CodecH264:
		var sps h264.SPS
		err := sps.Unmarshal(codec.SPS)
		if err != nil {
			return nil, fmt.Errorf("unable to parse H264 SPS: %w", err)
		}

		track.Kind = MediaKindVideo
		track.Codec = H264CodecString(codec.SPS)
		track.Width = sps.Width()
		track.Height = sps.Height()
		track.Profile = H264Profile(sps.ProfileIdc)

	case *mp4.CodecMPEG4Audio:
		track.Kind = MediaKindAudio
		track.Codec = AACCodecString(int(codec.Config.Type))
		track.SampleRate = codec.Config.SampleRate
		track.ChannelCount = codec.Config.ChannelCount

	default:
		track.Kind = MediaKindUnknown
		track.Codec = fmt.Sprintf("%T", codec)
	}

	return track, nil
}

// fmp4ReadInit returns the ftyp and moov boxes at the start of data.
func fmp4ReadInit(data []byte) ([]byte, error) {
	if len(data) < 8 || !bytes.Equal(data[4:8], []byte{'f', 't', 'y', 'p'}) {
		return nil, fmt.Errorf("ftyp box not found")
	}
	ftypSize := int(binary.BigEndian.Uint32(data[0:4]))

	if len(data) < ftypSize+8 || !bytes.Equal(data[ftypSize+4:ftypSize+8], []byte{'m', 'o', 'o', 'v'}) {
		return nil, fmt.Errorf("moov box not found")
	}
	moovSize := int(binary.BigEndian.Uint32(data[ftypSize : ftypSize+4]))

	if len(data) < ftypSize+moovSize {
		return nil, fmt.Errorf("moov box truncated")
	}

	return data[:ftypSize+moovSize], nil
}

type trackDefaults struct {
	duration uint32
	size     uint32
	flags    uint32
}

func readFragments(data []byte, tracks map[uint32]*ProbeTrack) error {
	defaults := make(map[uint32]trackDefaults)
	nextDTS := make(map[uint32]int64)

	var tfhd *amp4.Tfhd
	var baseTime int64
	var baseTimeSet bool

	_, err := amp4.ReadBoxStructure(bytes.NewReader(data), func(h *amp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type.String() {
		case "moov", "mvex", "moof":
			return h.Expand()

		case "trex":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			trex := box.(*amp4.Trex)
			defaults[trex.TrackID] = trackDefaults{
				duration: trex.DefaultSampleDuration,
				size:     trex.DefaultSampleSize,
				flags:    trex.DefaultSampleFlags,
			}

		case "traf":
			tfhd = nil
			baseTimeSet = false
			return h.Expand()

		case "tfhd":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfhd = box.(*amp4.Tfhd)

		case "tfdt":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfdt := box.(*amp4.Tfdt)
			if tfdt.GetVersion() == 0 {
				baseTime = int64(tfdt.BaseMediaDecodeTimeV0)
			} else {
				baseTime = int64(tfdt.BaseMediaDecodeTimeV1)
			}
			baseTimeSet = true

		case "trun":
			if tfhd == nil {
				return nil, fmt.Errorf("trun without tfhd")
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			trun := box.(*amp4.Trun)

			track, ok := tracks[tfhd.TrackID]
			if !ok {
				return nil, fmt.Errorf("fragment references unknown track %d", tfhd.TrackID)
			}

			def := defaults[tfhd.TrackID]
			if tfhd.CheckFlag(tfhdDefaultSampleDurationPresent) {
				def.duration = tfhd.DefaultSampleDuration
			}
			if tfhd.CheckFlag(tfhdDefaultSampleSizePresent) {
				def.size = tfhd.DefaultSampleSize
			}
			if tfhd.CheckFlag(tfhdDefaultSampleFlagsPresent) {
				def.flags = tfhd.DefaultSampleFlags
			}

			dts := nextDTS[tfhd.TrackID]
			if baseTimeSet {
				dts = baseTime
				baseTimeSet = false
			}

			for i, e := range trun.Entries {
				s := ProbeSample{
					DTS:      dts,
					Duration: def.duration,
					Size:     def.size,
				}
				flags := def.flags

				if trun.CheckFlag(trunSampleDurationPresent) {
					s.Duration = e.SampleDuration
				}
				if trun.CheckFlag(trunSampleSizePresent) {
					s.Size = e.SampleSize
				}
				if i == 0 && trun.CheckFlag(trunFirstSampleFlagsPresent) {
					flags = trun.FirstSampleFlags
				}
				if trun.CheckFlag(trunSampleFlagsPresent) {
					flags = e.SampleFlags
				}
				if trun.CheckFlag(trunSampleCompositionOffsetPresent) {
					if trun.GetVersion() == 0 {
						s.PTSOffset = int32(e.SampleCompositionTimeOffsetV0)
					} else {
						s.PTSOffset = e.SampleCompositionTimeOffsetV1
					}
				}

				if flags&sampleFlagIsNonSyncSample == 0 {
					s.Type = FrameTypeKey
				} else {
					s.Type = FrameTypeDelta
				}

				track.Samples = append(track.Samples, s)
				dts += int64(s.Duration)
			}
			nextDTS[tfhd.TrackID] = dts
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("reading fragments: %w", err)
	}

	return nil
}
