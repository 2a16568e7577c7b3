//go:build cgo

package transcode

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// outputMovFlags makes the MP4 muxer write fragments instead of seeking back
// to patch the moov box, so the sink stays append-only.
const outputMovFlags = "empty_moov+frag_keyframe+default_base_moof"

// muxer interleaves encoded packets into a fragmented MP4 held by a Sink.
type muxer struct {
	sink *Sink
	oc   *astiav.FormatContext
}

func newMuxer(sink *Sink, c *astikit.Closer, log Logger) (*muxer, error) {
	m := &muxer{sink: sink}

	oc, err := astiav.AllocOutputFormatContext(nil, "mp4", "")
	if err != nil {
		return nil, fmt.Errorf("%w: allocating output format context: %w", ErrSetup, err)
	}
	if oc == nil {
		return nil, fmt.Errorf("%w: allocating output format context", ErrSetup)
	}
	m.oc = oc
	acquire(c, oc.Free)
	acquire(c, routeEngineLog(oc, log))

	ioCtx, err := astiav.AllocIOContext(IOBufferSize, true, nil, nil, sink.Write)
	if err != nil {
		return nil, fmt.Errorf("%w: allocating output I/O context: %w", ErrSetup, err)
	}
	acquire(c, ioCtx.Free)
	oc.SetPb(ioCtx)

	return m, nil
}

// globalHeader reports whether encoders must put codec extradata in the
// container header instead of the bitstream.
func (m *muxer) globalHeader() bool {
	return m.oc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader)
}

// addStream creates the output stream fed by enc.
func (m *muxer) addStream(enc *astiav.CodecContext) (*astiav.Stream, error) {
	s := m.oc.NewStream(nil)
	if s == nil {
		return nil, fmt.Errorf("%w: creating output stream", ErrSetup)
	}
	if err := enc.ToCodecParameters(s.CodecParameters()); err != nil {
		return nil, fmt.Errorf("%w: output stream parameters: %w", ErrSetup, err)
	}
	s.SetTimeBase(enc.TimeBase())
	return s, nil
}

func (m *muxer) writeHeader() error {
	opts := astiav.NewDictionary()
	defer opts.Free()
	if err := opts.Set("movflags", outputMovFlags, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrMux, err)
	}

	if err := m.oc.WriteHeader(opts); err != nil {
		return m.fail("writing header", err)
	}
	return nil
}

// write rescales pkt from the encoder time base to the stream time base and
// hands it to the interleaving writer, which takes ownership of its data.
func (m *muxer) write(pkt *astiav.Packet, enc *astiav.CodecContext, s *astiav.Stream) error {
	pkt.RescaleTs(enc.TimeBase(), s.TimeBase())
	pkt.SetStreamIndex(s.Index())

	if err := m.oc.WriteInterleavedFrame(pkt); err != nil {
		return m.fail("writing packet", err)
	}
	return nil
}

func (m *muxer) writeTrailer() error {
	if err := m.oc.WriteTrailer(); err != nil {
		return m.fail("writing trailer", err)
	}
	if err := m.sink.Err(); err != nil {
		return err
	}
	return nil
}

// fail classifies a muxer error. A write the sink could not store is an
// I/O failure, anything else is a mux failure.
func (m *muxer) fail(op string, err error) error {
	if serr := m.sink.Err(); serr != nil {
		return fmt.Errorf("%s: %w", op, serr)
	}
	return fmt.Errorf("%w: %s: %w", ErrMux, op, err)
}
