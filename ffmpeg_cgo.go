//go:build cgo

package transcode

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

var (
	engineOnce   sync.Once
	engineRoutes sync.Map // astiav.Classer -> Logger

	// engine resources acquired and not yet released, across all runs
	liveResources atomic.Int64
)

// initEngine installs the process-wide log hook and probes encoders.
func initEngine() {
	engineOnce.Do(func() {
		astiav.SetLogLevel(astiav.LogLevelError)
		astiav.SetLogCallback(func(c astiav.Classer, l astiav.LogLevel, _, msg string) {
			if c == nil {
				return
			}
			v, ok := engineRoutes.Load(c)
			if !ok {
				return
			}
			msg = strings.TrimRight(msg, "\n")
			if msg == "" {
				return
			}
			v.(Logger).Log(engineLevel(l), "engine: %s", msg)
		})

		for p := Provider(1); p < providerCount; p++ {
			setProviderAvailable(p, astiav.FindEncoderByName(p.String()) != nil)
		}
	})
}

func engineLevel(l astiav.LogLevel) Level {
	switch {
	case l <= astiav.LogLevelError:
		return Error
	case l <= astiav.LogLevelWarning:
		return Warn
	case l <= astiav.LogLevelInfo:
		return Info
	default:
		return Debug
	}
}

// acquire registers release on c and counts the resource as live until
// c is closed.
func acquire(c *astikit.Closer, release func()) {
	liveResources.Add(1)
	c.Add(func() {
		release()
		liveResources.Add(-1)
	})
}

// routeEngineLog sends engine messages emitted by c to log until the
// returned function is called.
func routeEngineLog(c astiav.Classer, log Logger) func() {
	engineRoutes.Store(c, log)
	return func() { engineRoutes.Delete(c) }
}

func isEOF(err error) bool {
	return errors.Is(err, astiav.ErrEof) || errors.Is(err, io.EOF)
}

func isAgain(err error) bool {
	return errors.Is(err, astiav.ErrEagain)
}

// encoderDictionary builds the private options of an encoder.
func encoderDictionary(opts []encoderOption) (*astiav.Dictionary, error) {
	d := astiav.NewDictionary()
	for _, o := range opts {
		if err := d.Set(o.Key, o.Value, 0); err != nil {
			d.Free()
			return nil, err
		}
	}
	return d, nil
}
