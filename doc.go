// Package transcode converts a complete media container held in memory into
// a fragmented MP4 (H.264 + AAC), also in memory.
//
// A run reads the whole input from a byte slice, decodes the first video and
// the first audio stream it finds, converts video to planar 4:2:0 and audio
// to 48 kHz stereo, re-encodes both and writes the muxed result into a
// growable buffer. Nothing touches the filesystem or the network.
//
// # Architecture
//
//	Source -> demuxer -> streamDecoder -> videoConverter -> streamEncoder -> muxer -> Sink
//	                                   -> audioConverter -> FIFO -> streamEncoder ->
//
// A run is all-or-nothing: it returns either a complete OutputBuffer or an
// error, never a partial container. Every resource acquired by a run is
// released in reverse acquisition order before Transcode returns.
//
// TranscodeAll runs independent inputs concurrently with the same guarantee
// for the whole batch. Probe parses an output back into tracks and samples.
//
// # Fixed Output Profile
//
// Codec parameters are constants, not options:
//   - Video: H.264, yuv420p, source resolution, GOP 12, zerolatency, CRF 20
//   - Audio: AAC, 48000 Hz, stereo, constant quality
//   - Container: fragmented MP4 (empty moov, fragment per keyframe)
//
// # Native Libraries
//
// The engine is FFmpeg through go-astiav and requires cgo. Without cgo the
// package builds but Transcode returns ErrEngineUnavailable.
//
// Diagnostics go to a LogSink. OpenNativeLogSink binds a C logging function
// from a shared library with purego; set TRANSCODE_LOG_LIB_PATH to the
// library to load.
//
// # Build Tags
//
//   - cgo: enables the FFmpeg engine
//
// The H.264 encoder is picked from libx264, then libopenh264; the AAC encoder
// from the native aac encoder, then libfdk_aac. See Provider.
package transcode
