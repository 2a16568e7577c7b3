//go:build cgo

package transcode

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// pipelineRun owns every resource of one transcode.
type pipelineRun struct {
	log    Logger
	sm     *runStateMachine
	closer *astikit.Closer
	stats  Stats

	src  *Source
	sink *Sink

	demux *demuxer
	mux   *muxer

	video *streamEncoder
	vconv *videoConverter
	audio *streamEncoder
	aconv *audioConverter
}

func runEngine(p *runParams) ([]byte, Stats, error) {
	initEngine()

	r := &pipelineRun{
		log:    p.log,
		sm:     newRunStateMachine(p.log),
		closer: astikit.NewCloser(),
		src:    NewSource(p.input),
		sink:   NewSink(p.maxOutput),
	}

	err := r.run()

	// resources go away in reverse acquisition order on every path
	if cerr := r.closer.Close(); cerr != nil {
		r.log.Log(Warn, "releasing resources: %v", cerr)
	}

	if err != nil {
		r.sm.fail()
		r.sink.reset()
		r.stats.States = r.sm.history
		return nil, r.stats, err
	}

	if err := r.sm.advance(RunStateDone); err != nil {
		return nil, r.stats, err
	}
	r.stats.States = r.sm.history

	return r.sink.Bytes(), r.stats, nil
}

func (r *pipelineRun) run() error {
	if err := r.setup(); err != nil {
		return err
	}

	if err := r.mux.writeHeader(); err != nil {
		return err
	}
	if err := r.sm.advance(RunStateHeaderWritten); err != nil {
		return err
	}

	if err := r.sm.advance(RunStateReading); err != nil {
		return err
	}
	if err := r.readLoop(); err != nil {
		return err
	}

	if err := r.flushDecoders(); err != nil {
		return err
	}

	if err := r.sm.advance(RunStateFlushVideo); err != nil {
		return err
	}
	if r.video != nil {
		if err := r.video.encode(nil, r.writeVideo); err != nil {
			return err
		}
	}

	if err := r.sm.advance(RunStateFlushAudio); err != nil {
		return err
	}
	if r.audio != nil {
		if err := r.aconv.drain(true, r.encodeAudio); err != nil {
			return err
		}
		if err := r.audio.encode(nil, r.writeAudio); err != nil {
			return err
		}
	}

	if err := r.mux.writeTrailer(); err != nil {
		return err
	}
	return r.sm.advance(RunStateTrailerWritten)
}

// setup acquires every stage in pipeline order.
func (r *pipelineRun) setup() error {
	var err error

	r.demux, err = openDemuxer(r.src, r.closer, r.log)
	if err != nil {
		return err
	}

	r.mux, err = newMuxer(r.sink, r.closer, r.log)
	if err != nil {
		return err
	}

	if dec := r.demux.video; dec != nil {
		r.video, err = openVideoEncoder(dec, r.mux, r.closer, r.log)
		if err != nil {
			return err
		}
		r.vconv, err = newVideoConverter(r.video.ctx.Width(), r.video.ctx.Height(), r.closer)
		if err != nil {
			return err
		}
		r.stats.HasVideo = true
	}

	if r.demux.audio != nil {
		var format audioFormat
		r.audio, format, err = openAudioEncoder(r.mux, r.closer, r.log)
		if err != nil {
			return err
		}
		r.aconv, err = newAudioConverter(format, &r.stats, r.closer)
		if err != nil {
			return err
		}
		r.stats.HasAudio = true
	}

	return nil
}

func (r *pipelineRun) readLoop() error {
	for r.demux.next() {
		pkt := r.demux.pkt
		r.stats.PacketsRead++

		dec := r.demux.decoderFor(pkt)
		if dec == nil {
			r.stats.PacketsIgnored++
			pkt.Unref()
			continue
		}

		err := r.decode(dec, pkt)
		pkt.Unref()
		if err != nil {
			return err
		}
	}
	return nil
}

// flushDecoders drains the video decoder, then the audio decoder.
func (r *pipelineRun) flushDecoders() error {
	for _, dec := range []*streamDecoder{r.demux.video, r.demux.audio} {
		if dec == nil {
			continue
		}
		if err := r.decode(dec, nil); err != nil {
			return err
		}
	}
	return nil
}

// decode feeds pkt to dec and drives every decoded frame through the rest of
// the pipeline. A packet the decoder rejects is logged and skipped.
func (r *pipelineRun) decode(dec *streamDecoder, pkt *astiav.Packet) error {
	cb := r.onVideoFrame
	if dec.kind == MediaKindAudio {
		cb = r.onAudioFrame
	}

	err := dec.decode(pkt, cb)

	var derr *decodeError
	if errors.As(err, &derr) {
		r.stats.DecodeErrors++
		r.log.Log(Warn, "%s: %v, packet skipped", dec.kind, derr)
		return nil
	}
	return err
}

func (r *pipelineRun) onVideoFrame(f *astiav.Frame) error {
	r.stats.VideoFramesDecoded++

	conv, err := r.vconv.convert(f)
	if err != nil {
		return err
	}

	r.stats.VideoFramesEncoded++
	return r.video.encode(conv, r.writeVideo)
}

func (r *pipelineRun) onAudioFrame(f *astiav.Frame) error {
	r.stats.AudioFramesDecoded++

	if err := r.aconv.push(f); err != nil {
		return err
	}
	return r.aconv.drain(false, r.encodeAudio)
}

func (r *pipelineRun) encodeAudio(f *astiav.Frame) error {
	r.stats.AudioFramesEncoded++
	return r.audio.encode(f, r.writeAudio)
}

func (r *pipelineRun) writeVideo(pkt *astiav.Packet) error {
	if pkt.Flags().Has(astiav.PacketFlagKey) {
		r.stats.VideoKeyframes++
	}
	r.stats.VideoPacketsMuxed++
	return r.write(r.video, pkt)
}

func (r *pipelineRun) writeAudio(pkt *astiav.Packet) error {
	r.stats.AudioPacketsMuxed++
	return r.write(r.audio, pkt)
}

func (r *pipelineRun) write(e *streamEncoder, pkt *astiav.Packet) error {
	if err := r.mux.write(pkt, e.ctx, e.stream); err != nil {
		return fmt.Errorf("%s %w", e.kind, err)
	}
	return nil
}
