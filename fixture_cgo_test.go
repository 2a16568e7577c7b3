//go:build cgo

package transcode

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

// fixtureConfig describes a synthetic input container.
type fixtureConfig struct {
	duration time.Duration

	// Video, MPEG-4 Part 2. Zero fps means no video stream.
	width, height, fps int

	// Audio, MP2. Zero sampleRate means no audio stream.
	sampleRate int
	channels   int
	extraAudio bool // A second audio stream, which must be ignored
}

func (c fixtureConfig) hasVideo() bool { return c.fps > 0 }
func (c fixtureConfig) hasAudio() bool { return c.sampleRate > 0 }

// requireFixtureEncoders skips the test when the engine cannot build fixtures
// or cannot encode the output profile.
func requireFixtureEncoders(tb testing.TB, cfg fixtureConfig) {
	tb.Helper()
	initEngine()

	if cfg.hasVideo() {
		if astiav.FindEncoder(astiav.CodecIDMpeg4) == nil {
			tb.Skip("mpeg4 encoder not available")
		}
		if _, ok := selectProvider(MediaKindVideo); !ok {
			tb.Skip("no H.264 encoder available")
		}
	}
	if cfg.hasAudio() {
		if astiav.FindEncoder(astiav.CodecIDMp2) == nil {
			tb.Skip("mp2 encoder not available")
		}
		if _, ok := selectProvider(MediaKindAudio); !ok {
			tb.Skip("no AAC encoder available")
		}
	}
}

// fixtureTrack encodes one synthetic stream.
type fixtureTrack struct {
	enc    *astiav.CodecContext
	stream *astiav.Stream
	frame  *astiav.Frame
	pkt    *astiav.Packet

	index int64 // Frames written
	total int64 // Frames to write
	step  int64 // Frame duration in encoder time base

	buf  []byte
	fill func(index int64, buf []byte)
}

func (tr *fixtureTrack) done() bool { return tr.index >= tr.total }

func (tr *fixtureTrack) seconds() float64 {
	tb := tr.enc.TimeBase()
	return float64(tr.index*tr.step) * float64(tb.Num()) / float64(tb.Den())
}

func (tr *fixtureTrack) writeNext(tb testing.TB, oc *astiav.FormatContext) {
	require.NoError(tb, tr.frame.MakeWritable())
	tr.fill(tr.index, tr.buf)
	require.NoError(tb, tr.frame.Data().SetBytes(tr.buf, 1))
	tr.frame.SetPts(tr.index * tr.step)
	tr.index++
	tr.encode(tb, oc, tr.frame)
}

func (tr *fixtureTrack) encode(tb testing.TB, oc *astiav.FormatContext, f *astiav.Frame) {
	err := tr.enc.SendFrame(f)
	if err != nil && !isEOF(err) {
		require.NoError(tb, err)
	}

	for {
		err := tr.enc.ReceivePacket(tr.pkt)
		if isAgain(err) || isEOF(err) {
			return
		}
		require.NoError(tb, err)

		tr.pkt.RescaleTs(tr.enc.TimeBase(), tr.stream.TimeBase())
		tr.pkt.SetStreamIndex(tr.stream.Index())
		require.NoError(tb, oc.WriteInterleavedFrame(tr.pkt))
		tr.pkt.Unref()
	}
}

func newFixtureVideo(tb testing.TB, oc *astiav.FormatContext, cfg fixtureConfig, c *astikit.Closer) *fixtureTrack {
	codec := astiav.FindEncoder(astiav.CodecIDMpeg4)
	require.NotNil(tb, codec)

	enc := astiav.AllocCodecContext(codec)
	require.NotNil(tb, enc)
	c.Add(enc.Free)

	enc.SetWidth(cfg.width)
	enc.SetHeight(cfg.height)
	enc.SetPixelFormat(astiav.PixelFormatYuv420P)
	enc.SetTimeBase(astiav.NewRational(1, cfg.fps))
	enc.SetFramerate(astiav.NewRational(cfg.fps, 1))
	enc.SetGopSize(cfg.fps)
	enc.SetBitRate(500_000)
	require.NoError(tb, enc.Open(codec, nil))

	tr := newFixtureTrack(tb, oc, enc, c)
	tr.frame.SetWidth(cfg.width)
	tr.frame.SetHeight(cfg.height)
	tr.frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	require.NoError(tb, tr.frame.AllocBuffer(0))

	tr.total = int64(cfg.duration.Seconds() * float64(cfg.fps))
	tr.step = 1
	tr.buf = make([]byte, cfg.width*cfg.height*3/2)
	tr.fill = func(i int64, buf []byte) { fillTestPattern(buf, cfg.width, cfg.height, i) }

	return tr
}

func newFixtureAudio(tb testing.TB, oc *astiav.FormatContext, cfg fixtureConfig, freq float64, c *astikit.Closer) *fixtureTrack {
	codec := astiav.FindEncoder(astiav.CodecIDMp2)
	require.NotNil(tb, codec)

	enc := astiav.AllocCodecContext(codec)
	require.NotNil(tb, enc)
	c.Add(enc.Free)

	layout := astiav.ChannelLayoutMono
	if cfg.channels == 2 {
		layout = astiav.ChannelLayoutStereo
	}

	enc.SetSampleFormat(astiav.SampleFormatS16)
	enc.SetSampleRate(cfg.sampleRate)
	enc.SetChannelLayout(layout)
	enc.SetTimeBase(astiav.NewRational(1, cfg.sampleRate))
	enc.SetBitRate(64_000)
	require.NoError(tb, enc.Open(codec, nil))

	frameSize := enc.FrameSize()
	require.Positive(tb, frameSize)

	tr := newFixtureTrack(tb, oc, enc, c)
	tr.frame.SetSampleFormat(astiav.SampleFormatS16)
	tr.frame.SetChannelLayout(layout)
	tr.frame.SetSampleRate(cfg.sampleRate)
	tr.frame.SetNbSamples(frameSize)
	require.NoError(tb, tr.frame.AllocBuffer(0))

	samples := int64(cfg.duration.Seconds() * float64(cfg.sampleRate))
	tr.total = (samples + int64(frameSize) - 1) / int64(frameSize)
	tr.step = int64(frameSize)
	tr.buf = make([]byte, frameSize*cfg.channels*2)
	tr.fill = func(i int64, buf []byte) {
		fillTone(buf, cfg.channels, cfg.sampleRate, freq, i*int64(frameSize))
	}

	return tr
}

func newFixtureTrack(tb testing.TB, oc *astiav.FormatContext, enc *astiav.CodecContext, c *astikit.Closer) *fixtureTrack {
	s := oc.NewStream(nil)
	require.NotNil(tb, s)
	require.NoError(tb, enc.ToCodecParameters(s.CodecParameters()))
	s.SetTimeBase(enc.TimeBase())

	tr := &fixtureTrack{
		enc:    enc,
		stream: s,
		frame:  astiav.AllocFrame(),
		pkt:    astiav.AllocPacket(),
	}
	c.Add(tr.frame.Free)
	c.Add(tr.pkt.Free)
	return tr
}

// makeFixture encodes an MPEG-TS container in memory.
func makeFixture(tb testing.TB, cfg fixtureConfig) []byte {
	tb.Helper()
	requireFixtureEncoders(tb, cfg)

	if cfg.channels == 0 {
		cfg.channels = 1
	}

	c := astikit.NewCloser()
	defer c.Close()

	sink := NewSink(0)

	oc, err := astiav.AllocOutputFormatContext(nil, "mpegts", "")
	require.NoError(tb, err)
	require.NotNil(tb, oc)
	c.Add(oc.Free)

	ioCtx, err := astiav.AllocIOContext(4096, true, nil, nil, sink.Write)
	require.NoError(tb, err)
	c.Add(ioCtx.Free)
	oc.SetPb(ioCtx)

	var tracks []*fixtureTrack
	if cfg.hasVideo() {
		tracks = append(tracks, newFixtureVideo(tb, oc, cfg, c))
	}
	if cfg.hasAudio() {
		tracks = append(tracks, newFixtureAudio(tb, oc, cfg, 440, c))
		if cfg.extraAudio {
			tracks = append(tracks, newFixtureAudio(tb, oc, cfg, 880, c))
		}
	}

	require.NoError(tb, oc.WriteHeader(nil))

	// interleave by presentation time
	for {
		var next *fixtureTrack
		for _, tr := range tracks {
			if tr.done() {
				continue
			}
			if next == nil || tr.seconds() < next.seconds() {
				next = tr
			}
		}
		if next == nil {
			break
		}
		next.writeNext(tb, oc)
	}

	for _, tr := range tracks {
		tr.encode(tb, oc, nil)
	}

	require.NoError(tb, oc.WriteTrailer())
	require.NoError(tb, sink.Err())

	return append([]byte(nil), sink.Bytes()...)
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

// fillTestPattern draws color bars with a white box moving in a circle
// into a packed I420 buffer.
func fillTestPattern(buf []byte, w, h int, frameNum int64) {
	cw, ch := (w+1)/2, (h+1)/2
	yPlane := buf[:w*h]
	uPlane := buf[w*h : w*h+cw*ch]
	vPlane := buf[w*h+cw*ch:]

	barWidth := w / 8
	if barWidth == 0 {
		barWidth = 1
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			barIdx := x / barWidth
			if barIdx >= 8 {
				barIdx = 7
			}
			rgb := colorBarsRGB[barIdx]
			yVal, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])

			yPlane[y*w+x] = yVal
			if x%2 == 0 && y%2 == 0 {
				uvIdx := (y/2)*cw + x/2
				uPlane[uvIdx] = u
				vPlane[uvIdx] = v
			}
		}
	}

	boxSize := min(w, h) / 4
	radius := float64(min(w, h)) / 4
	angle := float64(frameNum) * 0.05
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := max(boxY, 0); y < boxY+boxSize && y < h; y++ {
		for x := max(boxX, 0); x < boxX+boxSize && x < w; x++ {
			yPlane[y*w+x] = 235
		}
	}
}

func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	// BT.601 conversion
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(math.Max(16, math.Min(235, yf)))
	u = uint8(math.Max(16, math.Min(240, uf)))
	v = uint8(math.Max(16, math.Min(240, vf)))
	return
}

// fillTone writes a sine wave as interleaved little-endian S16, starting at
// sample offset start.
func fillTone(buf []byte, channels, sampleRate int, freq float64, start int64) {
	const amplitude = 0.5 * 32767.0

	frames := len(buf) / (2 * channels)
	idx := 0
	for i := 0; i < frames; i++ {
		phase := 2.0 * math.Pi * freq * float64(start+int64(i)) / float64(sampleRate)
		sample := int16(amplitude * math.Sin(phase))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(buf[idx:], uint16(sample))
			idx += 2
		}
	}
}
