package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astits"
)

// ContainerFormat is the container (or raw elementary stream) an input looks like.
type ContainerFormat int

const (
	ContainerUnknown ContainerFormat = iota
	ContainerMPEGTS
	ContainerMP4
	ContainerMatroska
	ContainerFLV
	ContainerOgg
	ContainerRIFF
	ContainerMP3
	ContainerADTS
	ContainerH264
	ContainerIVF
)

func (c ContainerFormat) String() string {
	switch c {
	case ContainerMPEGTS:
		return "mpegts"
	case ContainerMP4:
		return "mp4"
	case ContainerMatroska:
		return "matroska"
	case ContainerFLV:
		return "flv"
	case ContainerOgg:
		return "ogg"
	case ContainerRIFF:
		return "riff"
	case ContainerMP3:
		return "mp3"
	case ContainerADTS:
		return "adts"
	case ContainerH264:
		return "h264"
	case ContainerIVF:
		return "ivf"
	default:
		return "unknown"
	}
}

const tsPacketSize = 188

// DetectContainer guesses the container of data from its first bytes.
// The engine probes the input on its own; this is used for diagnostics
// and to reject inputs early.
//
// Returns ContainerUnknown if the format cannot be determined.
func DetectContainer(data []byte) ContainerFormat {
	if len(data) < 4 {
		return ContainerUnknown
	}

	// MPEG-TS: sync byte every 188 bytes
	if data[0] == 0x47 && (len(data) <= tsPacketSize || data[tsPacketSize] == 0x47) {
		return ContainerMPEGTS
	}

	// ISO BMFF: size + box type
	if len(data) >= 8 {
		switch string(data[4:8]) {
		case "ftyp", "styp", "moov", "moof":
			return ContainerMP4
		}
	}

	// EBML header
	if bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		return ContainerMatroska
	}

	switch {
	case bytes.HasPrefix(data, []byte("FLV\x01")):
		return ContainerFLV
	case bytes.HasPrefix(data, []byte("OggS")):
		return ContainerOgg
	case bytes.HasPrefix(data, []byte("RIFF")):
		return ContainerRIFF
	case bytes.HasPrefix(data, []byte("DKIF")):
		return ContainerIVF
	case bytes.HasPrefix(data, []byte("ID3")):
		return ContainerMP3
	}

	if isAACAdts(data) {
		return ContainerADTS
	}
	if isMP3Frame(data) {
		return ContainerMP3
	}
	if isAnnexBStartCode(data) && isH264NALType(getNALType(data)) {
		return ContainerH264
	}

	return ContainerUnknown
}

// isAnnexBStartCode checks for H.264/H.265 Annex-B start codes.
// Per ITU-T H.264 Annex B, NAL units are prefixed with:
//   - 4-byte start code: 0x00000001 (used at stream start and after certain NALUs)
//   - 3-byte start code: 0x000001 (used between NALUs)
func isAnnexBStartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return true
	}
	return false
}

// getNALType extracts NAL unit type from Annex-B data.
// Per ITU-T H.264 Section 7.3.1, nal_unit_type is the low 5 bits of the
// byte after the start code.
func getNALType(data []byte) byte {
	if len(data) < 4 {
		return 0
	}
	offset := 3
	if data[2] == 0 {
		offset = 4
	}
	if len(data) <= offset {
		return 0
	}
	return data[offset] & 0x1F
}

// isH264NALType checks if NAL type is valid H.264 (ITU-T H.264 Table 7-1).
func isH264NALType(nalType byte) bool {
	return (nalType >= 1 && nalType <= 12) || (nalType >= 19 && nalType <= 21)
}

// isAACAdts checks for AAC ADTS (Audio Data Transport Stream) header.
// Per ISO/IEC 14496-3 Section 1.A.2.2:
//   - syncword (12 bits): 0xFFF
//   - layer (2 bits): always 0b00
func isAACAdts(data []byte) bool {
	if len(data) < 7 {
		return false
	}
	if data[0] != 0xFF || (data[1]&0xF0) != 0xF0 {
		return false
	}
	layer := (data[1] >> 1) & 0x03
	return layer == 0
}

// isMP3Frame checks for MP3 (MPEG Audio Layer III) frame header.
// Per ISO/IEC 11172-3 Section 2.4.2.3: 11-bit sync, then version, then
// layer (0b01 for Layer III).
func isMP3Frame(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] != 0xFF || (data[1]&0xE0) != 0xE0 {
		return false
	}
	layer := (data[1] >> 1) & 0x03
	return layer == 1
}

// TSStream is an elementary stream announced in an MPEG-TS program map.
type TSStream struct {
	PID        uint16
	StreamType uint8
	Kind       MediaKind
	Codec      string
}

var errNoPMT = errors.New("no program map table found")

// InspectTS lists the elementary streams of the first program map table in
// an MPEG-TS buffer, in table order.
func InspectTS(data []byte) ([]TSStream, error) {
	dem := astits.NewDemuxer(context.Background(), bytes.NewReader(data),
		astits.DemuxerOptPacketSize(tsPacketSize))

	for {
		d, err := dem.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				return nil, errNoPMT
			}
			return nil, fmt.Errorf("reading MPEG-TS: %w", err)
		}

		if d.PMT == nil {
			continue
		}

		streams := make([]TSStream, 0, len(d.PMT.ElementaryStreams))
		for _, es := range d.PMT.ElementaryStreams {
			kind, codec := tsStreamType(es.StreamType)
			streams = append(streams, TSStream{
				PID:        es.ElementaryPID,
				StreamType: uint8(es.StreamType),
				Kind:       kind,
				Codec:      codec,
			})
		}
		return streams, nil
	}
}

func tsStreamType(t astits.StreamType) (MediaKind, string) {
	switch t {
	case astits.StreamTypeH264Video:
		return MediaKindVideo, "H264"
	case astits.StreamTypeH265Video:
		return MediaKindVideo, "H265"
	case astits.StreamTypeMPEG4Video:
		return MediaKindVideo, "MPEG-4 Video"
	case astits.StreamTypeMPEG1Video:
		return MediaKindVideo, "MPEG-1 Video"
	case astits.StreamTypeMPEG2Video:
		return MediaKindVideo, "MPEG-2 Video"
	case astits.StreamTypeMPEG1Audio, astits.StreamTypeMPEG2Audio:
		return MediaKindAudio, "MPEG Audio"
	case astits.StreamTypeAACAudio:
		return MediaKindAudio, "AAC"
	case astits.StreamTypeAACLATMAudio:
		return MediaKindAudio, "AAC LATM"
	case astits.StreamTypeAC3Audio:
		return MediaKindAudio, "AC-3"
	case astits.StreamTypeEAC3Audio:
		return MediaKindAudio, "E-AC-3"
	case astits.StreamTypeDTSAudio:
		return MediaKindAudio, "DTS"
	default:
		return MediaKindUnknown, fmt.Sprintf("0x%02x", uint8(t))
	}
}
