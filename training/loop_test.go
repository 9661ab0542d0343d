package training

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-detect/checkpoints"
	"github.com/tsawler/go-detect/inputs"
	"github.com/tsawler/go-detect/model"
	"github.com/tsawler/go-detect/optimizer"
	"github.com/tsawler/go-detect/pipeline"
	"github.com/tsawler/go-detect/tensor"
)

// writeRecordsFixture writes a small record file and returns its path.
func writeRecordsFixture(t *testing.T, dir string) string {
	t.Helper()
	var examples []inputs.Example
	for i := 0; i < 3; i++ {
		boxes, err := tensor.New([]int{1, 4}, []float32{0.1, 0.1, 0.8, 0.8})
		if err != nil {
			t.Fatalf("failed to create boxes: %v", err)
		}
		classes, err := tensor.New([]int{1}, []float32{1})
		if err != nil {
			t.Fatalf("failed to create classes: %v", err)
		}
		examples = append(examples, inputs.Example{
			Image:   tensor.Full([]int{2, 2, 3}, float32(i+1)),
			Boxes:   boxes,
			Classes: classes,
		})
	}
	path := filepath.Join(dir, "fixture.records")
	if err := inputs.WriteRecords(path, examples); err != nil {
		t.Fatalf("failed to write record fixture: %v", err)
	}
	return path
}

func testConfig(t *testing.T, dir string) pipeline.Config {
	t.Helper()
	records := writeRecordsFixture(t, dir)
	cfg := pipeline.Default()
	cfg.TrainInputPath = records
	cfg.EvalInputPath = records
	cfg.TrainConfig.TrainSteps = 2
	cfg.TrainConfig.CheckpointEveryN = 1
	cfg.EvalConfig.WaitInterval = 1
	cfg.EvalConfig.Timeout = 10
	return cfg
}

func TestTrainLoopThenEvalLoop(t *testing.T) {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "model")
	cfg := testConfig(t, dir)

	if err := TrainLoop(context.Background(), cfg, modelDir, Options{}); err != nil {
		t.Fatalf("train loop failed: %v", err)
	}

	metrics, err := EvalContinuously(context.Background(), cfg, modelDir, Options{})
	if err != nil {
		t.Fatalf("eval loop failed: %v", err)
	}
	if metrics.Step != cfg.TrainConfig.TrainSteps {
		t.Errorf("expected the final checkpoint (step %d) evaluated, got step %d",
			cfg.TrainConfig.TrainSteps, metrics.Step)
	}
	if metrics.Batches == 0 {
		t.Error("evaluation processed no batches")
	}
}

func TestCheckpointMaxToKeep(t *testing.T) {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "model")
	cfg := testConfig(t, dir)
	cfg.TrainConfig.TrainSteps = 20
	cfg.TrainConfig.CheckpointEveryN = 2
	cfg.TrainConfig.CheckpointMaxToKeep = 3

	builder := func(mc pipeline.ModelConfig) (model.DetectionModel, error) {
		return model.NewLinearDetector(1, 10)
	}
	if err := TrainLoop(context.Background(), cfg, modelDir, Options{Builder: builder}); err != nil {
		t.Fatalf("train loop failed: %v", err)
	}

	ckptFiles, err := filepath.Glob(filepath.Join(modelDir, "ckpt-*"+checkpoints.IndexSuffix))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(ckptFiles) != 3 {
		t.Errorf("%v not of length 3", ckptFiles)
	}

	// The retained checkpoints are the most recent by step.
	infos, err := checkpoints.ListDir(modelDir, "")
	if err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	wantSteps := []int{16, 18, 20}
	for i, info := range infos {
		if info.Step != wantSteps[i] {
			t.Errorf("retained[%d]: expected step %d, got %d", i, wantSteps[i], info.Step)
		}
	}
}

func TestTrainLoopRestoresFineTuneCheckpoint(t *testing.T) {
	dir := t.TempDir()

	// Save a checkpoint whose weight is all-42.
	pretrained, err := model.NewLinearDetector(1, 10)
	if err != nil {
		t.Fatalf("failed to create pretrained model: %v", err)
	}
	pretrained.Weight().Fill(42)
	manager, err := checkpoints.NewManager(checkpoints.ManagerConfig{
		Directory: filepath.Join(dir, "pretrained"),
	})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	ckptPath, err := manager.Save(pretrained.TrainableVariables(), 0)
	if err != nil {
		t.Fatalf("failed to save pretrained checkpoint: %v", err)
	}

	cfg := testConfig(t, dir)
	cfg.TrainConfig.TrainSteps = 1
	cfg.TrainConfig.FineTuneCheckpoint = ckptPath
	cfg.TrainConfig.FineTuneCheckpointType = checkpoints.TypeDetection
	cfg.TrainConfig.FineTuneCheckpointVersion = "V2"
	cfg.TrainConfig.LoadAllDetectionVars = true
	cfg.TrainConfig.UnpadGroundtruthTensors = true

	var trained *model.LinearDetector
	builder := func(mc pipeline.ModelConfig) (model.DetectionModel, error) {
		m, err := model.NewLinearDetector(1, 10)
		trained = m
		return m, err
	}
	// A zero learning rate keeps the restored weight observable after the step.
	opts := Options{
		Builder:   builder,
		Optimizer: optimizer.NewSGD(optimizer.SGDConfig{LearningRate: 0}),
	}
	if err := TrainLoop(context.Background(), cfg, filepath.Join(dir, "model"), opts); err != nil {
		t.Fatalf("train loop failed: %v", err)
	}

	for i, got := range trained.Weight().Value().Data {
		if got != 42 {
			t.Errorf("weight[%d]: expected restored value 42, got %f", i, got)
		}
	}
}

func TestTrainLoopRejectsFineTuneRestoreMapMismatch(t *testing.T) {
	dir := t.TempDir()

	pretrained, err := model.NewLinearDetector(1, 10)
	if err != nil {
		t.Fatalf("failed to create pretrained model: %v", err)
	}
	manager, err := checkpoints.NewManager(checkpoints.ManagerConfig{
		Directory: filepath.Join(dir, "pretrained"),
	})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	ckptPath, err := manager.Save(pretrained.TrainableVariables(), 0)
	if err != nil {
		t.Fatalf("failed to save pretrained checkpoint: %v", err)
	}

	cfg := testConfig(t, dir)
	cfg.TrainConfig.TrainSteps = 1
	cfg.TrainConfig.FineTuneCheckpoint = ckptPath
	// A weight of a different dimension cannot receive the saved payload.
	builder := func(mc pipeline.ModelConfig) (model.DetectionModel, error) {
		return model.NewLinearDetector(1, 4)
	}

	err = TrainLoop(context.Background(), cfg, filepath.Join(dir, "model"), Options{Builder: builder})
	if err == nil {
		t.Fatal("expected fine-tune restore to fail for an incompatible model")
	}
}

func TestEvalTimeoutWithoutCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.EvalConfig.WaitInterval = 1
	cfg.EvalConfig.Timeout = 1

	emptyDir := filepath.Join(dir, "empty")
	_, err := EvalContinuously(context.Background(), cfg, emptyDir, Options{})
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint for an empty checkpoint directory, got %v", err)
	}
}

func TestTrainAndEvaluate(t *testing.T) {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "model")
	cfg := testConfig(t, dir)
	cfg.TrainConfig.TrainSteps = 3

	metrics, err := TrainAndEvaluate(context.Background(), cfg, modelDir, Options{})
	if err != nil {
		t.Fatalf("concurrent train/eval failed: %v", err)
	}
	if metrics.Step != 3 {
		t.Errorf("expected final metrics from step 3, got step %d", metrics.Step)
	}
}

func TestTrainLoopValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.TrainConfig.CheckpointEveryN = 0

	if err := TrainLoop(context.Background(), cfg, filepath.Join(dir, "model"), Options{}); err == nil {
		t.Error("expected error for checkpoint_every_n below 1")
	}
}
