package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"meshetl/internal/config"
	"meshetl/internal/mesh"
)

// Loader is the coordinator of one data phase.
//
// Generator, inserter pool and aggregator run in one errgroup. The first error cancels the
// group context, every blocked send and receive selects on it, and Run only returns after all
// three have exited, so no task outlives a failed run. The event channel is closed once both
// producers are done, which ends the aggregator on success.
type Loader struct {
	Grid     mesh.Grid
	Sessions Acquirer
	Display  Display
	Logger   Logger
}

func (l *Loader) Run(ctx context.Context, cfg config.Config) (Progress, error) {
	rows := make(chan Row, cfg.RowBuffer)
	events := make(chan Event, cfg.EventBuffer)

	gen := &Generator{Grid: l.Grid, Roots: cfg.RootMeshes, Levels: cfg.Levels, Logger: l.Logger}
	pool := &InserterPool{Sessions: l.Sessions, Workers: cfg.Workers, BatchSize: cfg.BatchSize, Logger: l.Logger}
	agg := &Aggregator{Display: l.Display}

	g, gctx := errgroup.WithContext(ctx)

	var producers sync.WaitGroup
	producers.Add(2)
	g.Go(func() error {
		defer producers.Done()
		return gen.Run(gctx, rows, events)
	})
	g.Go(func() error {
		defer producers.Done()
		return pool.Run(gctx, rows, events)
	})
	g.Go(func() error {
		producers.Wait()
		close(events)
		return nil
	})

	var progress Progress
	g.Go(func() error {
		var err error
		progress, err = agg.Run(gctx, events)
		return err
	})

	if err := g.Wait(); err != nil {
		return progress, err
	}
	if progress.Done != progress.Total {
		return progress, fmt.Errorf("committed %d of %d generated rows", progress.Done, progress.Total)
	}
	return progress, nil
}
