package transcode

import "errors"

// Failure kinds. Every error returned by Transcode wraps exactly one of them.
var (
	ErrSetup      = errors.New("setup failed")
	ErrIO         = errors.New("i/o failed")
	ErrConversion = errors.New("conversion failed")
	ErrEncode     = errors.New("encode failed")
	ErrMux        = errors.New("mux failed")
)

var (
	ErrEngineUnavailable = errors.New("transcode engine not available")
	ErrAlreadyReleased   = errors.New("output buffer already released")
)
