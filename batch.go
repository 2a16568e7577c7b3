package transcode

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BatchOptions configures TranscodeAll.
type BatchOptions struct {
	Config Config

	// Concurrency bounds the number of runs in flight (default: GOMAXPROCS).
	Concurrency int
}

// TranscodeAll transcodes every input with its own independent run.
// The result is all-or-nothing: when any run fails, runs not yet started
// are skipped, every output already produced is released and the first
// error is returned. Runs already in progress are not interrupted.
func TranscodeAll(ctx context.Context, inputs [][]byte, opts BatchOptions) ([]*OutputBuffer, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	t := NewTranscoder(opts.Config)
	outputs := make([]*OutputBuffer, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, input := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			out, err := t.Transcode(input)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			outputs[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, out := range outputs {
			if out != nil {
				out.Release()
			}
		}
		return nil, err
	}

	return outputs, nil
}
