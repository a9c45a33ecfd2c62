package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunAll runs every Worker's loop concurrently under one cancellation
// root, isolated from one another: no shared mutable state crosses
// repository workers except the process-wide log sink and this
// cancellation root (§5). Cancelling ctx stops every worker; one
// worker's non-Cancelled error does not stop the others, mirroring the
// per-repository isolation §4.7 and §7 require.
func RunAll(ctx context.Context, workers []*Worker) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	return g.Wait()
}
