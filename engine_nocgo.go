//go:build !cgo

package transcode

import "fmt"

func runEngine(p *runParams) ([]byte, Stats, error) {
	p.log.Log(Error, "built without cgo, no transcode engine")
	return nil, Stats{}, fmt.Errorf("%w: %w", ErrSetup, ErrEngineUnavailable)
}
