package transcode

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	"github.com/google/uuid"
)

// Config configures a Transcoder.
// Codec parameters are fixed and cannot be set here.
type Config struct {
	// Logger receives the diagnostics of every run (default: discard).
	Logger Logger

	// LogLevel drops entries below it before they reach Logger (default: Info).
	LogLevel Level

	// MaxOutputSize caps the capacity of the output buffer, in bytes.
	// Zero means no cap. Exceeding it fails the run with ErrIO.
	MaxOutputSize int
}

// DefaultConfig returns the configuration used by Transcode.
func DefaultConfig() Config {
	return Config{
		LogLevel: Info,
	}
}

// Transcoder runs independent single-shot transcodes with a shared configuration.
// It is safe for concurrent use; every call owns its own resources.
type Transcoder struct {
	config Config
	log    Logger
}

// NewTranscoder creates a transcoder.
func NewTranscoder(config Config) *Transcoder {
	if config.LogLevel == 0 {
		config.LogLevel = Info
	}

	var log Logger = discardLogger{}
	if config.Logger != nil {
		log = &levelLogger{parent: config.Logger, level: config.LogLevel}
	}

	return &Transcoder{
		config: config,
		log:    log,
	}
}

// Transcode converts a complete input container into a fragmented MP4 with
// one H.264 video track and one AAC audio track (whichever the input has).
// input is borrowed for the duration of the call and never modified.
// On failure no output is returned and every resource has been released.
func (t *Transcoder) Transcode(input []byte) (*OutputBuffer, error) {
	id := uuid.New().String()
	log := &prefixLogger{parent: t.log, prefix: "run " + id[:8]}

	if len(input) == 0 {
		log.Log(Error, "empty input")
		return nil, fmt.Errorf("%w: empty input", ErrSetup)
	}

	container := DetectContainer(input)
	log.Log(Info, "input %s (%s)", bytefmt.ByteSize(uint64(len(input))), container)

	if container == ContainerMPEGTS {
		streams, err := InspectTS(input)
		if err != nil {
			log.Log(Debug, "TS inspection: %v", err)
		}
		for _, s := range streams {
			log.Log(Debug, "TS PID %d: %s %s", s.PID, s.Kind, s.Codec)
		}
	}

	data, stats, err := runEngine(&runParams{
		id:        id,
		input:     input,
		maxOutput: t.config.MaxOutputSize,
		log:       log,
	})
	if err != nil {
		log.Log(Error, "%v", err)
		return nil, err
	}

	stats.RunID = id
	stats.InputBytes = len(input)
	out := newOutputBuffer(data, stats)

	log.Log(Info, "output %s, %d video / %d audio packets",
		bytefmt.ByteSize(uint64(out.Len())), stats.VideoPacketsMuxed, stats.AudioPacketsMuxed)

	return out, nil
}

// Transcode runs a single transcode with DefaultConfig.
func Transcode(input []byte) (*OutputBuffer, error) {
	return NewTranscoder(DefaultConfig()).Transcode(input)
}

// runParams is everything the engine needs for one run.
type runParams struct {
	id        string
	input     []byte
	maxOutput int
	log       Logger
}
