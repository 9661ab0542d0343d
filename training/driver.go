package training

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-detect/pipeline"
)

// TrainAndEvaluate runs the train loop and the continuous eval loop
// concurrently against the same model directory, the way a trainer job and
// an eval job run side by side. It returns the final evaluation metrics.
func TrainAndEvaluate(ctx context.Context, cfg pipeline.Config, modelDir string, opts Options) (Metrics, error) {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return TrainLoop(ctx, cfg, modelDir, opts)
	})

	var metrics Metrics
	g.Go(func() error {
		m, err := EvalContinuously(ctx, cfg, modelDir, opts)
		if err != nil {
			return err
		}
		metrics = m
		return nil
	})

	if err := g.Wait(); err != nil {
		return metrics, err
	}
	return metrics, nil
}
