// Package pipeline defines the training/eval pipeline configuration and its
// file loader. A pipeline config resolves everything the loop drivers need:
// the model architecture, input paths, checkpoint cadence and retention, and
// the eval polling parameters.
package pipeline

import (
	"fmt"
	"time"
)

// ModelConfig selects and parameterizes the detection model architecture.
type ModelConfig struct {
	// Type names the architecture ("linear" is the reference detector).
	Type string `json:"type" yaml:"type" toml:"type"`
	// NumClasses is the number of object classes the model predicts.
	NumClasses int `json:"num_classes" yaml:"num_classes" toml:"num_classes"`
	// WeightDim is the parameter vector length of the linear detector.
	WeightDim int `json:"weight_dim" yaml:"weight_dim" toml:"weight_dim"`
}

// TrainConfig governs the training loop.
type TrainConfig struct {
	TrainSteps          int     `json:"train_steps" yaml:"train_steps" toml:"train_steps"`
	BatchSize           int     `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	LearningRate        float64 `json:"learning_rate" yaml:"learning_rate" toml:"learning_rate"`
	Optimizer           string  `json:"optimizer" yaml:"optimizer" toml:"optimizer"`
	CheckpointEveryN    int     `json:"checkpoint_every_n" yaml:"checkpoint_every_n" toml:"checkpoint_every_n"`
	CheckpointMaxToKeep int     `json:"checkpoint_max_to_keep" yaml:"checkpoint_max_to_keep" toml:"checkpoint_max_to_keep"`

	// Fine-tune restoration. An empty checkpoint path disables it.
	FineTuneCheckpoint        string `json:"fine_tune_checkpoint" yaml:"fine_tune_checkpoint" toml:"fine_tune_checkpoint"`
	FineTuneCheckpointType    string `json:"fine_tune_checkpoint_type" yaml:"fine_tune_checkpoint_type" toml:"fine_tune_checkpoint_type"`
	FineTuneCheckpointVersion string `json:"fine_tune_checkpoint_version" yaml:"fine_tune_checkpoint_version" toml:"fine_tune_checkpoint_version"`
	LoadAllDetectionVars      bool   `json:"load_all_detection_checkpoint_vars" yaml:"load_all_detection_checkpoint_vars" toml:"load_all_detection_checkpoint_vars"`
	UnpadGroundtruthTensors   bool   `json:"unpad_groundtruth_tensors" yaml:"unpad_groundtruth_tensors" toml:"unpad_groundtruth_tensors"`
}

// EvalConfig governs the continuous evaluation loop. Intervals are seconds,
// matching the wait_interval/timeout knobs of the original pipeline format.
type EvalConfig struct {
	WaitInterval int `json:"wait_interval" yaml:"wait_interval" toml:"wait_interval"`
	Timeout      int `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// WaitIntervalDuration returns the poll interval as a duration.
func (e EvalConfig) WaitIntervalDuration() time.Duration {
	return time.Duration(e.WaitInterval) * time.Second
}

// TimeoutDuration returns the give-up deadline as a duration.
func (e EvalConfig) TimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// Config is a fully resolved pipeline configuration.
type Config struct {
	Model          ModelConfig `json:"model" yaml:"model" toml:"model"`
	TrainConfig    TrainConfig `json:"train_config" yaml:"train_config" toml:"train_config"`
	EvalConfig     EvalConfig  `json:"eval_config" yaml:"eval_config" toml:"eval_config"`
	TrainInputPath string      `json:"train_input_path" yaml:"train_input_path" toml:"train_input_path"`
	EvalInputPath  string      `json:"eval_input_path" yaml:"eval_input_path" toml:"eval_input_path"`
	LabelMapPath   string      `json:"label_map_path" yaml:"label_map_path" toml:"label_map_path"`
}

// Default returns a config with the defaults a loaded file is merged over.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Type:       "linear",
			NumClasses: 1,
			WeightDim:  10,
		},
		TrainConfig: TrainConfig{
			TrainSteps:          100,
			BatchSize:           1,
			LearningRate:        0.01,
			Optimizer:           "sgd",
			CheckpointEveryN:    1,
			CheckpointMaxToKeep: 5,
		},
		EvalConfig: EvalConfig{
			WaitInterval: 1,
			Timeout:      10,
		},
	}
}

// Validate checks the invariants the loop drivers rely on.
func (c *Config) Validate() error {
	if c.Model.Type == "" {
		return fmt.Errorf("model type must not be empty")
	}
	if c.TrainConfig.TrainSteps < 0 {
		return fmt.Errorf("train_steps must not be negative, got %d", c.TrainConfig.TrainSteps)
	}
	if c.TrainConfig.CheckpointEveryN < 1 {
		return fmt.Errorf("checkpoint_every_n must be at least 1, got %d", c.TrainConfig.CheckpointEveryN)
	}
	if c.TrainConfig.CheckpointMaxToKeep < 0 {
		return fmt.Errorf("checkpoint_max_to_keep must not be negative, got %d", c.TrainConfig.CheckpointMaxToKeep)
	}
	if c.TrainConfig.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", c.TrainConfig.BatchSize)
	}
	if c.EvalConfig.WaitInterval < 1 {
		return fmt.Errorf("wait_interval must be at least 1 second, got %d", c.EvalConfig.WaitInterval)
	}
	if c.EvalConfig.Timeout < c.EvalConfig.WaitInterval {
		return fmt.Errorf("timeout (%ds) must not be shorter than wait_interval (%ds)",
			c.EvalConfig.Timeout, c.EvalConfig.WaitInterval)
	}
	return nil
}

// Overrides carries resolved external values applied over a loaded config,
// the way callers override input paths and loop knobs at launch. Zero values
// mean "leave the config alone".
type Overrides struct {
	TrainInputPath      string
	EvalInputPath       string
	LabelMapPath        string
	TrainSteps          int
	CheckpointEveryN    int
	CheckpointMaxToKeep int
	WaitInterval        int
	Timeout             int
}

// Apply merges the overrides into c.
func (c *Config) Apply(o Overrides) {
	if o.TrainInputPath != "" {
		c.TrainInputPath = o.TrainInputPath
	}
	if o.EvalInputPath != "" {
		c.EvalInputPath = o.EvalInputPath
	}
	if o.LabelMapPath != "" {
		c.LabelMapPath = o.LabelMapPath
	}
	if o.TrainSteps > 0 {
		c.TrainConfig.TrainSteps = o.TrainSteps
	}
	if o.CheckpointEveryN > 0 {
		c.TrainConfig.CheckpointEveryN = o.CheckpointEveryN
	}
	if o.CheckpointMaxToKeep > 0 {
		c.TrainConfig.CheckpointMaxToKeep = o.CheckpointMaxToKeep
	}
	if o.WaitInterval > 0 {
		c.EvalConfig.WaitInterval = o.WaitInterval
	}
	if o.Timeout > 0 {
		c.EvalConfig.Timeout = o.Timeout
	}
}
