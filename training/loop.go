// Package training drives the train and eval loops over a detection model:
// bounded training with periodic checkpointing, and a polling evaluation
// loop that follows the checkpoint directory.
package training

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tsawler/go-detect/checkpoints"
	"github.com/tsawler/go-detect/inputs"
	"github.com/tsawler/go-detect/model"
	"github.com/tsawler/go-detect/optimizer"
	"github.com/tsawler/go-detect/pipeline"
	"github.com/tsawler/go-detect/tensor"
)

// Differentiable is implemented by models that can report the gradients of
// their most recent Loss with respect to their trainable variables. The
// training loop requires it.
type Differentiable interface {
	Gradients() ([]*tensor.Tensor, error)
}

// Options customizes the loop drivers. The zero value is usable.
type Options struct {
	// Logger receives structured progress events. Nil disables logging.
	Logger *zerolog.Logger
	// Builder constructs the model from the pipeline model config.
	// Defaults to model.Build. Tests inject fixture models here.
	Builder func(pipeline.ModelConfig) (model.DetectionModel, error)
	// Optimizer overrides the optimizer the train config selects.
	Optimizer optimizer.Optimizer
}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

func (o Options) builder() func(pipeline.ModelConfig) (model.DetectionModel, error) {
	if o.Builder == nil {
		return model.Build
	}
	return o.Builder
}

// TrainLoop runs cfg.TrainConfig.TrainSteps optimizer steps over the train
// input, checkpointing into modelDir every CheckpointEveryN steps and after
// the final step. Checkpoint retention is bounded by CheckpointMaxToKeep.
func TrainLoop(ctx context.Context, cfg pipeline.Config, modelDir string, opts Options) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := opts.logger()

	m, err := opts.builder()(cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to build model: %v", err)
	}
	diff, ok := m.(Differentiable)
	if !ok {
		return fmt.Errorf("model %T does not provide gradients and cannot be trained", m)
	}

	if path := cfg.TrainConfig.FineTuneCheckpoint; path != "" {
		restoreOpts := checkpoints.RestoreOptions{
			Type:                    cfg.TrainConfig.FineTuneCheckpointType,
			Version:                 parseVersion(cfg.TrainConfig.FineTuneCheckpointVersion),
			LoadAllDetectionVars:    cfg.TrainConfig.LoadAllDetectionVars,
			UnpadGroundtruthTensors: cfg.TrainConfig.UnpadGroundtruthTensors,
		}
		if err := checkpoints.LoadFineTuneCheckpoint(m, path, restoreOpts); err != nil {
			return fmt.Errorf("failed to restore fine-tune checkpoint %s: %v", path, err)
		}
		log.Info().Str("checkpoint", path).Msg("restored fine-tune checkpoint")
	}

	ds, err := inputs.Open(cfg.TrainInputPath, cfg.TrainConfig.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to open train input: %v", err)
	}
	ds.SetUnpadGroundtruth(cfg.TrainConfig.UnpadGroundtruthTensors)

	opt := opts.Optimizer
	if opt == nil {
		opt, err = buildOptimizer(cfg.TrainConfig)
		if err != nil {
			return err
		}
	}

	manager, err := checkpoints.NewManager(checkpoints.ManagerConfig{
		Directory: modelDir,
		MaxToKeep: cfg.TrainConfig.CheckpointMaxToKeep,
	})
	if err != nil {
		return err
	}

	// Save the initial state as step 0 so the eval loop has a checkpoint
	// to pick up before the first cadence save lands.
	if _, err := manager.Save(m.TrainableVariables(), 0); err != nil {
		return fmt.Errorf("failed to save initial checkpoint: %v", err)
	}

	steps := cfg.TrainConfig.TrainSteps
	everyN := cfg.TrainConfig.CheckpointEveryN
	for step := 1; step <= steps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := ds.Next()
		if err != nil {
			return fmt.Errorf("step %d: %v", step, err)
		}

		loss, err := trainStep(m, diff, opt, batch)
		if err != nil {
			return fmt.Errorf("step %d: %v", step, err)
		}
		log.Debug().Int("step", step).Float32("loss", loss).Msg("train step")

		if step%everyN == 0 || step == steps {
			path, err := manager.Save(m.TrainableVariables(), step)
			if err != nil {
				return fmt.Errorf("step %d: %v", step, err)
			}
			log.Info().Int("step", step).Float32("loss", loss).Str("checkpoint", path).Msg("saved checkpoint")
		}
	}
	return nil
}

// trainStep runs one forward/backward/update round and returns the total
// loss before the update.
func trainStep(m model.DetectionModel, diff Differentiable, opt optimizer.Optimizer, batch inputs.Batch) (float32, error) {
	preprocessed, trueShape, err := m.Preprocess(batch.Images)
	if err != nil {
		return 0, fmt.Errorf("preprocess failed: %v", err)
	}

	m.ProvideGroundtruth(groundtruthFrom(batch))

	predictions, err := m.Predict(preprocessed, trueShape)
	if err != nil {
		return 0, fmt.Errorf("predict failed: %v", err)
	}
	losses, err := m.Loss(predictions)
	if err != nil {
		return 0, fmt.Errorf("loss computation failed: %v", err)
	}
	total := model.TotalLoss(losses, m.RegularizationLosses())

	grads, err := diff.Gradients()
	if err != nil {
		return 0, fmt.Errorf("gradient computation failed: %v", err)
	}
	if err := opt.Step(m.TrainableVariables(), grads); err != nil {
		return 0, fmt.Errorf("optimizer step failed: %v", err)
	}
	for _, update := range m.Updates() {
		update()
	}
	return total, nil
}

func groundtruthFrom(batch inputs.Batch) []model.Groundtruth {
	gt := make([]model.Groundtruth, 0, len(batch.Examples))
	for _, ex := range batch.Examples {
		gt = append(gt, model.Groundtruth{Boxes: ex.Boxes, Classes: ex.Classes})
	}
	return gt
}

func buildOptimizer(cfg pipeline.TrainConfig) (optimizer.Optimizer, error) {
	switch strings.ToLower(cfg.Optimizer) {
	case "", "sgd":
		sgd := optimizer.DefaultSGDConfig()
		if cfg.LearningRate > 0 {
			sgd.LearningRate = float32(cfg.LearningRate)
		}
		return optimizer.NewSGD(sgd), nil
	case "adam":
		adam := optimizer.DefaultAdamConfig()
		if cfg.LearningRate > 0 {
			adam.LearningRate = float32(cfg.LearningRate)
		}
		return optimizer.NewAdam(adam), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", cfg.Optimizer)
	}
}

func parseVersion(s string) checkpoints.CheckpointVersion {
	switch strings.ToUpper(s) {
	case "V1":
		return checkpoints.V1
	case "V2":
		return checkpoints.V2
	default:
		return checkpoints.VersionAuto
	}
}
