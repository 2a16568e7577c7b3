//go:build cgo

package transcode

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// streamDecoder decodes one selected input stream.
type streamDecoder struct {
	kind   MediaKind
	stream *astiav.Stream
	ctx    *astiav.CodecContext
	frame  *astiav.Frame
}

// demuxer reads packets of a container held in memory.
type demuxer struct {
	src *Source
	fc  *astiav.FormatContext
	pkt *astiav.Packet
	log Logger

	video *streamDecoder
	audio *streamDecoder
}

// openDemuxer opens the container, selects the first video and first audio
// stream and opens their decoders. Every acquired resource is registered on c.
func openDemuxer(src *Source, c *astikit.Closer, log Logger) (*demuxer, error) {
	d := &demuxer{src: src, log: log}

	ioCtx, err := astiav.AllocIOContext(IOBufferSize, false, d.read, d.seek, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: allocating input I/O context: %w", ErrSetup, err)
	}
	acquire(c, ioCtx.Free)

	d.fc = astiav.AllocFormatContext()
	if d.fc == nil {
		return nil, fmt.Errorf("%w: allocating input format context", ErrSetup)
	}
	acquire(c, d.fc.Free)
	acquire(c, routeEngineLog(d.fc, log))
	d.fc.SetPb(ioCtx)

	opts := astiav.NewDictionary()
	defer opts.Free()
	for _, k := range []string{"probesize", "formatprobesize"} {
		if err := opts.Set(k, strconv.Itoa(ProbeSize), 0); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSetup, err)
		}
	}

	if err := d.fc.OpenInput("", nil, opts); err != nil {
		return nil, fmt.Errorf("%w: opening container: %w", ErrSetup, err)
	}
	acquire(c, d.fc.CloseInput)

	if err := d.fc.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("%w: reading stream info: %w", ErrSetup, err)
	}

	for _, s := range d.fc.Streams() {
		switch s.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			if d.video == nil {
				d.video = &streamDecoder{kind: MediaKindVideo, stream: s}
				continue
			}
		case astiav.MediaTypeAudio:
			if d.audio == nil {
				d.audio = &streamDecoder{kind: MediaKindAudio, stream: s}
				continue
			}
		}
		log.Log(Debug, "ignoring stream %d (%s %s)", s.Index(),
			s.CodecParameters().MediaType(), s.CodecParameters().CodecID())
	}

	if d.video == nil && d.audio == nil {
		return nil, fmt.Errorf("%w: no video or audio stream", ErrSetup)
	}

	for _, sd := range []*streamDecoder{d.video, d.audio} {
		if sd == nil {
			continue
		}
		if err := sd.open(c, log); err != nil {
			return nil, err
		}
	}

	d.pkt = astiav.AllocPacket()
	acquire(c, d.pkt.Free)

	return d, nil
}

func (d *demuxer) read(b []byte) (int, error) {
	n, err := d.src.Read(b)
	if errors.Is(err, io.EOF) {
		return 0, astiav.ErrEof
	}
	return n, err
}

func (d *demuxer) seek(offset int64, whence int) (int64, error) {
	return d.src.Seek(offset, whence)
}

// next reads the next packet into d.pkt. It returns false at end of input.
// A read error ends the input like EOF does.
func (d *demuxer) next() bool {
	if err := d.fc.ReadFrame(d.pkt); err != nil {
		if !isEOF(err) {
			d.log.Log(Warn, "reading packet: %v, treating as end of input", err)
		}
		return false
	}
	return true
}

// decoderFor returns the decoder of the stream the current packet belongs to.
func (d *demuxer) decoderFor(pkt *astiav.Packet) *streamDecoder {
	for _, sd := range []*streamDecoder{d.video, d.audio} {
		if sd != nil && sd.stream.Index() == pkt.StreamIndex() {
			return sd
		}
	}
	return nil
}

func (sd *streamDecoder) open(c *astikit.Closer, log Logger) error {
	params := sd.stream.CodecParameters()

	codec := astiav.FindDecoder(params.CodecID())
	if codec == nil {
		return fmt.Errorf("%w: no %s decoder for %s", ErrSetup, sd.kind, params.CodecID())
	}

	sd.ctx = astiav.AllocCodecContext(codec)
	if sd.ctx == nil {
		return fmt.Errorf("%w: allocating %s decoder", ErrSetup, sd.kind)
	}
	acquire(c, sd.ctx.Free)
	acquire(c, routeEngineLog(sd.ctx, log))

	if err := params.ToCodecContext(sd.ctx); err != nil {
		return fmt.Errorf("%w: %s decoder parameters: %w", ErrSetup, sd.kind, err)
	}
	sd.ctx.SetTimeBase(sd.stream.TimeBase())

	if err := sd.ctx.Open(codec, nil); err != nil {
		return fmt.Errorf("%w: opening %s decoder %s: %w", ErrSetup, sd.kind, codec.Name(), err)
	}

	sd.frame = astiav.AllocFrame()
	acquire(c, sd.frame.Free)

	log.Log(Debug, "%s stream %d: decoder %s, time base %s",
		sd.kind, sd.stream.Index(), codec.Name(), sd.stream.TimeBase())

	return nil
}

// decode sends pkt (nil at end of input) and passes every frame the decoder
// yields to cb. A rejected packet is reported as *decodeError.
func (sd *streamDecoder) decode(pkt *astiav.Packet, cb func(*astiav.Frame) error) error {
	if err := sd.ctx.SendPacket(pkt); err != nil && !isEOF(err) {
		return &decodeError{err: err}
	}

	for {
		err := sd.ctx.ReceiveFrame(sd.frame)
		if err != nil {
			if isAgain(err) || isEOF(err) {
				return nil
			}
			return &decodeError{err: err}
		}

		err = cb(sd.frame)
		sd.frame.Unref()
		if err != nil {
			return err
		}
	}
}

// decodeError is a decoder rejecting one packet. The run skips it.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "decoding: " + e.err.Error() }

func (e *decodeError) Unwrap() error { return e.err }
