package transcode

import (
	"io"
	"sync"
)

// Stats describes what one run did.
type Stats struct {
	RunID       string
	InputBytes  int
	OutputBytes int

	HasVideo bool
	HasAudio bool

	PacketsRead    uint64 // Packets demuxed
	PacketsIgnored uint64 // Packets of unselected streams
	DecodeErrors   uint64 // Packets the decoder rejected

	VideoFramesDecoded uint64
	VideoFramesEncoded uint64
	VideoPacketsMuxed  uint64
	VideoKeyframes     uint64

	AudioFramesDecoded    uint64
	AudioSamplesResampled uint64 // Samples pushed into the FIFO
	AudioFramesEncoded    uint64 // Fixed-size frames pulled from the FIFO
	AudioPacketsMuxed     uint64
	FIFOWrites            uint64
	FIFOPaddedSamples     uint64 // Silence appended to the last audio frame

	States []RunState // Path through the run state machine
}

// OutputBuffer owns the muxed output of a successful run.
// Release must be called exactly once.
type OutputBuffer struct {
	mu       sync.Mutex
	data     []byte
	stats    Stats
	released bool
}

func newOutputBuffer(data []byte, stats Stats) *OutputBuffer {
	stats.OutputBytes = len(data)
	return &OutputBuffer{data: data, stats: stats}
}

// Data returns the container bytes, or nil after Release.
func (b *OutputBuffer) Data() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Len returns the container size, or 0 after Release.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Stats returns the statistics of the run that produced the buffer.
func (b *OutputBuffer) Stats() Stats {
	return b.stats
}

// WriteTo writes the container to w.
func (b *OutputBuffer) WriteTo(w io.Writer) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return 0, ErrAlreadyReleased
	}
	n, err := w.Write(b.data)
	return int64(n), err
}

// Release drops the buffer. A second call returns ErrAlreadyReleased.
func (b *OutputBuffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrAlreadyReleased
	}
	b.released = true
	b.data = nil
	return nil
}
