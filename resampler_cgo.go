//go:build cgo

package transcode

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// audioFormat is the sample layout the audio encoder consumes.
type audioFormat struct {
	sampleFormat  astiav.SampleFormat
	channelLayout astiav.ChannelLayout
	sampleRate    int
	frameSize     int
}

// audioConverter resamples decoded audio and regroups it into frames of
// exactly frameSize samples.
type audioConverter struct {
	out   audioFormat
	stats *Stats

	swr        *astiav.SoftwareResampleContext
	configured bool
	resampled  *astiav.Frame

	fifo  *astiav.AudioFifo
	frame *astiav.Frame
	pts   int64 // Samples emitted so far
}

func newAudioConverter(out audioFormat, stats *Stats, c *astikit.Closer) (*audioConverter, error) {
	a := &audioConverter{
		out:   out,
		stats: stats,
	}

	a.swr = astiav.AllocSoftwareResampleContext()
	if a.swr == nil {
		return nil, fmt.Errorf("%w: allocating resampler", ErrConversion)
	}
	acquire(c, a.swr.Free)

	a.resampled = astiav.AllocFrame()
	acquire(c, a.resampled.Free)

	a.fifo = astiav.AllocAudioFifo(out.sampleFormat, out.channelLayout.Channels(), out.frameSize)
	if a.fifo == nil {
		return nil, fmt.Errorf("%w: allocating audio FIFO", ErrConversion)
	}
	acquire(c, a.fifo.Free)

	a.frame = astiav.AllocFrame()
	acquire(c, a.frame.Free)

	return a, nil
}

// expectedSamples returns how many samples the resampler may produce for an
// input of n samples at inRate, including what it has buffered.
func (a *audioConverter) expectedSamples(n, inRate int) int {
	var delay int64
	if a.configured {
		delay = a.swr.Delay(int64(inRate))
	}
	out := int64(a.out.sampleRate)
	in := int64(inRate)
	return int(((delay+int64(n))*out + in - 1) / in)
}

// push resamples src and appends the result to the FIFO.
func (a *audioConverter) push(src *astiav.Frame) error {
	a.resampled.Unref()
	a.resampled.SetSampleFormat(a.out.sampleFormat)
	a.resampled.SetChannelLayout(a.out.channelLayout)
	a.resampled.SetSampleRate(a.out.sampleRate)
	a.resampled.SetNbSamples(a.expectedSamples(src.NbSamples(), src.SampleRate()))

	if err := a.resampled.AllocBuffer(0); err != nil {
		return fmt.Errorf("%w: allocating resampled frame: %w", ErrConversion, err)
	}

	if err := a.swr.ConvertFrame(src, a.resampled); err != nil {
		return fmt.Errorf("%w: resampling: %w", ErrConversion, err)
	}
	a.configured = true

	n := a.resampled.NbSamples()
	if n == 0 {
		return nil
	}

	if _, err := a.fifo.Write(a.resampled); err != nil {
		return fmt.Errorf("%w: writing %d samples to FIFO: %w", ErrConversion, n, err)
	}

	a.stats.AudioSamplesResampled += uint64(n)
	a.stats.FIFOWrites++
	return nil
}

// drain passes full frames from the FIFO to cb. With final set it also
// emits the remainder, padded with silence to a full frame.
func (a *audioConverter) drain(final bool, cb func(*astiav.Frame) error) error {
	for {
		size := a.fifo.Size()
		if size == 0 || (size < a.out.frameSize && !final) {
			return nil
		}

		a.frame.Unref()
		a.frame.SetSampleFormat(a.out.sampleFormat)
		a.frame.SetChannelLayout(a.out.channelLayout)
		a.frame.SetSampleRate(a.out.sampleRate)
		a.frame.SetNbSamples(a.out.frameSize)

		if err := a.frame.AllocBuffer(0); err != nil {
			return fmt.Errorf("%w: allocating audio frame: %w", ErrConversion, err)
		}

		if size < a.out.frameSize {
			if err := a.frame.SamplesFillSilence(); err != nil {
				return fmt.Errorf("%w: padding last audio frame: %w", ErrConversion, err)
			}
			a.stats.FIFOPaddedSamples += uint64(a.out.frameSize - size)
		}

		if _, err := a.fifo.Read(a.frame); err != nil {
			return fmt.Errorf("%w: reading FIFO: %w", ErrConversion, err)
		}

		a.frame.SetPts(a.pts)
		a.pts += int64(a.out.frameSize)

		if err := cb(a.frame); err != nil {
			return err
		}
	}
}
