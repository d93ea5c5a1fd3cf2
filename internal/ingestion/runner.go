package ingestion

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Runner runs the scheduler and the catalog and FX refreshers concurrently.
type Runner struct {
	scheduler *Scheduler
	catalog   *CatalogRefresher
	fx        *FXRefresher
	logger    zerolog.Logger
}

// RunnerOptions contains configuration for creating a Runner.
// Nil loops are skipped.
type RunnerOptions struct {
	Scheduler        *Scheduler
	CatalogRefresher *CatalogRefresher
	FXRefresher      *FXRefresher
	Logger           *zerolog.Logger
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{
		scheduler: opts.Scheduler,
		catalog:   opts.CatalogRefresher,
		fx:        opts.FXRefresher,
		logger:    componentLogger(opts.Logger, "ingestion_runner"),
	}
}

// Run starts all loops and blocks until ctx is cancelled or a loop fails.
// Returns the first non-cancellation error, or ctx.Err() on shutdown.
func (r *Runner) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	type loop struct {
		name string
		run  func(context.Context) error
	}
	var loops []loop
	if r.catalog != nil {
		loops = append(loops, loop{"catalog", r.catalog.Run})
	}
	if r.fx != nil {
		loops = append(loops, loop{"fx", r.fx.Run})
	}
	if r.scheduler != nil {
		loops = append(loops, loop{"scheduler", r.scheduler.Run})
	}
	if len(loops) == 0 {
		return errors.New("no ingestion loops configured")
	}

	errCh := make(chan error, len(loops))
	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l loop) {
			defer wg.Done()
			err := l.run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error().Err(err).Str("loop", l.name).Msg("Ingestion loop failed")
			}
			errCh <- err
		}(l)
	}

	r.logger.Info().Int("loops", len(loops)).Msg("Ingestion runner started")

	// The first loop to return stops the others.
	first := <-errCh
	cancel()
	wg.Wait()

	if err := parent.Err(); err != nil {
		r.logger.Info().Msg("Ingestion runner stopped")
		return err
	}
	if first == nil {
		return errors.New("ingestion loop exited unexpectedly")
	}
	return first
}
