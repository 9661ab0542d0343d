package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}
	return path
}

const yamlConfig = `
model:
  type: linear
  num_classes: 3
  weight_dim: 16
train_config:
  train_steps: 20
  checkpoint_every_n: 2
  checkpoint_max_to_keep: 3
  learning_rate: 0.05
eval_config:
  wait_interval: 1
  timeout: 10
train_input_path: /data/train.records
eval_input_path: /data/eval.records
label_map_path: /data/labels.pbtxt
`

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "pipeline.yaml", yamlConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Model.Type != "linear" || cfg.Model.NumClasses != 3 || cfg.Model.WeightDim != 16 {
		t.Errorf("model config mismatch: %+v", cfg.Model)
	}
	if cfg.TrainConfig.TrainSteps != 20 || cfg.TrainConfig.CheckpointEveryN != 2 || cfg.TrainConfig.CheckpointMaxToKeep != 3 {
		t.Errorf("train config mismatch: %+v", cfg.TrainConfig)
	}
	if cfg.TrainInputPath != "/data/train.records" {
		t.Errorf("train input path mismatch: %s", cfg.TrainInputPath)
	}
	// Fields the file omits keep their defaults.
	if cfg.TrainConfig.BatchSize != Default().TrainConfig.BatchSize {
		t.Errorf("batch size should default, got %d", cfg.TrainConfig.BatchSize)
	}
}

func TestLoadJSONAndTOML(t *testing.T) {
	jsonPath := writeConfig(t, "pipeline.json",
		`{"model": {"type": "linear", "num_classes": 2, "weight_dim": 8}, "train_config": {"train_steps": 5}}`)
	tomlPath := writeConfig(t, "pipeline.toml", `
[model]
type = "linear"
num_classes = 2
weight_dim = 8
[train_config]
train_steps = 5
`)

	jsonCfg, err := Load(jsonPath)
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}
	tomlCfg, err := Load(tomlPath)
	if err != nil {
		t.Fatalf("failed to load TOML config: %v", err)
	}
	if diff := cmp.Diff(jsonCfg, tomlCfg); diff != "" {
		t.Errorf("JSON and TOML configs should resolve identically (-json +toml):\n%s", diff)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeConfig(t, "pipeline.ini", "[model]")
	if _, err := Load(path); err == nil {
		t.Error("expected error for unsupported config extension")
	}
}

func TestLoadWithOverrides(t *testing.T) {
	path := writeConfig(t, "pipeline.yaml", yamlConfig)

	cfg, err := LoadWithOverrides(path, Overrides{
		TrainInputPath:   "/override/train.records",
		TrainSteps:       2,
		CheckpointEveryN: 1,
		Timeout:          30,
	})
	if err != nil {
		t.Fatalf("failed to load config with overrides: %v", err)
	}

	if cfg.TrainInputPath != "/override/train.records" {
		t.Errorf("train input override not applied: %s", cfg.TrainInputPath)
	}
	if cfg.TrainConfig.TrainSteps != 2 {
		t.Errorf("train steps override not applied: %d", cfg.TrainConfig.TrainSteps)
	}
	if cfg.EvalConfig.Timeout != 30 {
		t.Errorf("timeout override not applied: %d", cfg.EvalConfig.Timeout)
	}
	// Untouched values survive.
	if cfg.EvalConfig.WaitInterval != 1 {
		t.Errorf("wait interval should be unchanged, got %d", cfg.EvalConfig.WaitInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"zero every_n", func(c *Config) { c.TrainConfig.CheckpointEveryN = 0 }, true},
		{"negative steps", func(c *Config) { c.TrainConfig.TrainSteps = -1 }, true},
		{"negative max_to_keep", func(c *Config) { c.TrainConfig.CheckpointMaxToKeep = -1 }, true},
		{"empty model type", func(c *Config) { c.Model.Type = "" }, true},
		{"zero wait interval", func(c *Config) { c.EvalConfig.WaitInterval = 0 }, true},
		{"timeout below wait interval", func(c *Config) { c.EvalConfig.Timeout = 0 }, true},
	}

	for _, test := range tests {
		cfg := Default()
		test.mutate(&cfg)
		err := cfg.Validate()
		if (err != nil) != test.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", test.name, err, test.wantErr)
		}
	}
}
