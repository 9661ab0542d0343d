package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-detect/checkpoints"
	"github.com/tsawler/go-detect/inputs"
	"github.com/tsawler/go-detect/model"
	"github.com/tsawler/go-detect/pipeline"
)

// ErrNoCheckpoint is returned by EvalContinuously when the timeout lapses
// without any checkpoint ever appearing in the checkpoint directory.
var ErrNoCheckpoint = errors.New("no checkpoint appeared before the evaluation timeout")

// Metrics summarizes one evaluation pass over the eval input.
type Metrics struct {
	CheckpointPath string
	Step           int
	Batches        int
	MeanLoss       float64
	StdDevLoss     float64
}

// EvalContinuously polls checkpointDir every cfg.EvalConfig.WaitInterval
// seconds for a checkpoint newer than the last one evaluated, restoring each
// into a fresh model and evaluating it over the eval input. It returns the
// metrics of the most recent evaluation when either the final training
// checkpoint (step >= TrainSteps) has been evaluated or the timeout lapses
// with nothing new. If the timeout lapses before any checkpoint appears, it
// returns ErrNoCheckpoint, so an empty directory is distinguishable from a
// successful evaluation.
func EvalContinuously(ctx context.Context, cfg pipeline.Config, checkpointDir string, opts Options) (Metrics, error) {
	if err := cfg.Validate(); err != nil {
		return Metrics{}, err
	}
	log := opts.logger()
	build := opts.builder()

	ds, err := inputs.Open(cfg.EvalInputPath, cfg.TrainConfig.BatchSize)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to open eval input: %v", err)
	}
	ds.SetUnpadGroundtruth(cfg.TrainConfig.UnpadGroundtruthTensors)

	var last Metrics
	evaluated := false
	lastStep := -1
	deadline := time.Now().Add(cfg.EvalConfig.TimeoutDuration())

	for {
		info, ok, err := checkpoints.LatestIn(checkpointDir, "")
		if err != nil {
			return last, err
		}
		if ok && info.Step > lastStep {
			m, err := build(cfg.Model)
			if err != nil {
				return last, fmt.Errorf("failed to build eval model: %v", err)
			}
			if err := checkpoints.RestoreVariables(info.Path, m.TrainableVariables()); err != nil {
				return last, fmt.Errorf("failed to restore %s: %v", info.Path, err)
			}

			metrics, err := evaluate(m, ds, info)
			if err != nil {
				return last, fmt.Errorf("evaluation of %s failed: %v", info.Path, err)
			}
			log.Info().
				Str("checkpoint", info.Path).
				Int("step", info.Step).
				Float64("mean_loss", metrics.MeanLoss).
				Msg("evaluated checkpoint")

			last = metrics
			evaluated = true
			lastStep = info.Step
			deadline = time.Now().Add(cfg.EvalConfig.TimeoutDuration())

			if cfg.TrainConfig.TrainSteps > 0 && info.Step >= cfg.TrainConfig.TrainSteps {
				return last, nil
			}
			continue
		}

		if time.Now().After(deadline) {
			if !evaluated {
				return Metrics{}, ErrNoCheckpoint
			}
			return last, nil
		}

		select {
		case <-ctx.Done():
			if evaluated {
				return last, nil
			}
			return Metrics{}, ctx.Err()
		case <-time.After(cfg.EvalConfig.WaitIntervalDuration()):
		}
	}
}

// evaluate runs one pass over the dataset and aggregates per-batch losses.
func evaluate(m model.DetectionModel, ds *inputs.Dataset, info checkpoints.Info) (Metrics, error) {
	batches := ds.Batches()
	losses := make([]float64, 0, batches)

	for b := 0; b < batches; b++ {
		batch, err := ds.Next()
		if err != nil {
			return Metrics{}, err
		}
		preprocessed, trueShape, err := m.Preprocess(batch.Images)
		if err != nil {
			return Metrics{}, fmt.Errorf("preprocess failed: %v", err)
		}
		m.ProvideGroundtruth(groundtruthFrom(batch))

		predictions, err := m.Predict(preprocessed, trueShape)
		if err != nil {
			return Metrics{}, fmt.Errorf("predict failed: %v", err)
		}
		lossMap, err := m.Loss(predictions)
		if err != nil {
			return Metrics{}, fmt.Errorf("loss computation failed: %v", err)
		}
		if _, err := m.Postprocess(predictions, trueShape); err != nil {
			return Metrics{}, fmt.Errorf("postprocess failed: %v", err)
		}
		losses = append(losses, float64(model.TotalLoss(lossMap, m.RegularizationLosses())))
	}

	metrics := Metrics{
		CheckpointPath: info.Path,
		Step:           info.Step,
		Batches:        len(losses),
		MeanLoss:       stat.Mean(losses, nil),
	}
	if len(losses) > 1 {
		metrics.StdDevLoss = stat.StdDev(losses, nil)
	}
	return metrics, nil
}
