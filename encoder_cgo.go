//go:build cgo

package transcode

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// defaultAudioFrameSize is used when the encoder accepts any frame size.
const defaultAudioFrameSize = 1024

// streamEncoder encodes one output stream.
type streamEncoder struct {
	kind     MediaKind
	provider Provider
	ctx      *astiav.CodecContext
	stream   *astiav.Stream
	pkt      *astiav.Packet
}

func allocEncoder(kind MediaKind, c *astikit.Closer, log Logger) (*streamEncoder, *astiav.Codec, error) {
	p, ok := selectProvider(kind)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no %s encoder available", ErrSetup, kind)
	}

	codec := astiav.FindEncoderByName(p.String())
	if codec == nil {
		return nil, nil, fmt.Errorf("%w: encoder %s not found", ErrSetup, p)
	}

	log.Log(Debug, "%s encoder: %s (%s)", kind, p, p.License())

	e := &streamEncoder{kind: kind, provider: p}

	e.ctx = astiav.AllocCodecContext(codec)
	if e.ctx == nil {
		return nil, nil, fmt.Errorf("%w: allocating %s encoder", ErrSetup, p)
	}
	acquire(c, e.ctx.Free)
	acquire(c, routeEngineLog(e.ctx, log))

	return e, codec, nil
}

// open opens the encoder with its provider options and creates its output stream.
func (e *streamEncoder) open(codec *astiav.Codec, m *muxer, c *astikit.Closer) error {
	if m.globalHeader() {
		e.ctx.SetFlags(e.ctx.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	opts, err := encoderDictionary(e.provider.options())
	if err != nil {
		return fmt.Errorf("%w: %s options: %w", ErrSetup, e.provider, err)
	}
	defer opts.Free()

	if err := e.ctx.Open(codec, opts); err != nil {
		return fmt.Errorf("%w: opening %s: %w", ErrSetup, e.provider, err)
	}

	e.stream, err = m.addStream(e.ctx)
	if err != nil {
		return err
	}

	e.pkt = astiav.AllocPacket()
	acquire(c, e.pkt.Free)

	return nil
}

// openVideoEncoder opens an H.264 encoder producing frames of the decoded
// size, with the input stream time base.
func openVideoEncoder(dec *streamDecoder, m *muxer, c *astikit.Closer, log Logger) (*streamEncoder, error) {
	width, height := dec.ctx.Width(), dec.ctx.Height()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: unknown video size %dx%d", ErrSetup, width, height)
	}

	e, codec, err := allocEncoder(MediaKindVideo, c, log)
	if err != nil {
		return nil, err
	}

	e.ctx.SetWidth(width)
	e.ctx.SetHeight(height)
	e.ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	e.ctx.SetSampleAspectRatio(dec.ctx.SampleAspectRatio())
	e.ctx.SetTimeBase(dec.stream.TimeBase())
	if fr := dec.stream.AvgFrameRate(); fr.Num() > 0 && fr.Den() > 0 {
		e.ctx.SetFramerate(fr)
	}
	e.ctx.SetGopSize(VideoGOPSize)

	if err := e.open(codec, m, c); err != nil {
		return nil, err
	}

	log.Log(Debug, "video encoder %s: %dx%d yuv420p, GOP %d, time base %s",
		e.provider, width, height, VideoGOPSize, e.ctx.TimeBase())

	return e, nil
}

// openAudioEncoder opens an AAC encoder at the fixed output rate and layout.
// It returns the format the encoder expects its frames in.
func openAudioEncoder(m *muxer, c *astikit.Closer, log Logger) (*streamEncoder, audioFormat, error) {
	e, codec, err := allocEncoder(MediaKindAudio, c, log)
	if err != nil {
		return nil, audioFormat{}, err
	}

	format := audioFormat{
		sampleFormat:  astiav.SampleFormatFltp,
		channelLayout: astiav.ChannelLayoutStereo,
		sampleRate:    AudioSampleRate,
	}
	if fmts := codec.SampleFormats(); len(fmts) > 0 && !containsSampleFormat(fmts, format.sampleFormat) {
		format.sampleFormat = fmts[0]
	}

	e.ctx.SetSampleFormat(format.sampleFormat)
	e.ctx.SetSampleRate(format.sampleRate)
	e.ctx.SetChannelLayout(format.channelLayout)
	e.ctx.SetTimeBase(astiav.NewRational(1, format.sampleRate))

	if err := e.open(codec, m, c); err != nil {
		return nil, audioFormat{}, err
	}

	format.frameSize = e.ctx.FrameSize()
	if format.frameSize <= 0 {
		format.frameSize = defaultAudioFrameSize
	}

	log.Log(Debug, "audio encoder %s: %d Hz %s %s, frame size %d",
		e.provider, format.sampleRate, format.channelLayout, format.sampleFormat, format.frameSize)

	return e, format, nil
}

func containsSampleFormat(fmts []astiav.SampleFormat, f astiav.SampleFormat) bool {
	for _, v := range fmts {
		if v == f {
			return true
		}
	}
	return false
}

// encode sends frame (nil to flush) and passes every packet the encoder
// yields to cb. cb owns the packet data until it returns.
func (e *streamEncoder) encode(frame *astiav.Frame, cb func(*astiav.Packet) error) error {
	if err := e.ctx.SendFrame(frame); err != nil && !isEOF(err) {
		return fmt.Errorf("%w: %s: sending frame: %w", ErrEncode, e.provider, err)
	}

	for {
		err := e.ctx.ReceivePacket(e.pkt)
		if err != nil {
			if isAgain(err) || isEOF(err) {
				return nil
			}
			return fmt.Errorf("%w: %s: receiving packet: %w", ErrEncode, e.provider, err)
		}

		err = cb(e.pkt)
		e.pkt.Unref()
		if err != nil {
			return err
		}
	}
}
