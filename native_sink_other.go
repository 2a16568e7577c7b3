//go:build !darwin && !linux

package transcode

import "errors"

// DefaultNativeLogSymbol is the conventional name of the host log function.
const DefaultNativeLogSymbol = "log_msg"

// NativeLogSink is unavailable on this platform.
type NativeLogSink struct{}

// OpenNativeLogSink always fails on this platform.
func OpenNativeLogSink(libPath, symbol string) (*NativeLogSink, error) {
	return nil, errors.New("native log sink not supported on this platform")
}

// LogMessage implements LogSink.
func (s *NativeLogSink) LogMessage(msg string, length int) {}

// Close implements io.Closer.
func (s *NativeLogSink) Close() error { return nil }
