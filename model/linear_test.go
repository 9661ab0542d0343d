package model

import (
	"math"
	"testing"

	"github.com/tsawler/go-detect/checkpoints"
	"github.com/tsawler/go-detect/pipeline"
	"github.com/tsawler/go-detect/tensor"
)

func TestBuildLinear(t *testing.T) {
	m, err := Build(pipeline.ModelConfig{Type: "linear", NumClasses: 2, WeightDim: 10})
	if err != nil {
		t.Fatalf("failed to build linear model: %v", err)
	}
	vars := m.TrainableVariables()
	if len(vars) != 1 {
		t.Fatalf("expected 1 trainable variable, got %d", len(vars))
	}
	if vars[0].Name != "weight" || vars[0].Value().NumElems() != 10 {
		t.Errorf("unexpected weight variable: %s", vars[0])
	}
}

func TestBuildUnknownType(t *testing.T) {
	if _, err := Build(pipeline.ModelConfig{Type: "ssd_mobilenet"}); err == nil {
		t.Error("expected error for unknown model type")
	}
}

func TestLinearForwardPass(t *testing.T) {
	m, err := NewLinearDetector(1, 10)
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}

	inputs := tensor.Full([]int{1, 2, 2, 3}, 255)
	preprocessed, trueShape, err := m.Preprocess(inputs)
	if err != nil {
		t.Fatalf("preprocess failed: %v", err)
	}
	if !tensor.ShapesEqual(trueShape, []int{1, 2, 2, 3}) {
		t.Errorf("true shape mismatch: %v", trueShape)
	}
	if preprocessed.Data[0] != 1 {
		t.Errorf("preprocess should scale 255 to 1, got %f", preprocessed.Data[0])
	}

	predictions, err := m.Predict(preprocessed, trueShape)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	// |sum(w) * sum(x)| = |10 * 12| = 120.
	pred := predictions["prediction"]
	if pred == nil {
		t.Fatal("predictions missing the prediction head")
	}
	if math.Abs(float64(pred.Sum())-120) > 1e-4 {
		t.Errorf("expected prediction 120, got %f", pred.Sum())
	}

	losses, err := m.Loss(predictions)
	if err != nil {
		t.Fatalf("loss failed: %v", err)
	}
	if math.Abs(float64(losses["loss"].Sum())-120) > 1e-4 {
		t.Errorf("expected loss 120, got %f", losses["loss"].Sum())
	}
}

func TestLinearGradients(t *testing.T) {
	m, err := NewLinearDetector(1, 4)
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}

	inputs := tensor.Full([]int{1, 2}, 3)
	preprocessed, trueShape, err := m.Preprocess(inputs)
	if err != nil {
		t.Fatalf("preprocess failed: %v", err)
	}
	if _, err := m.Predict(preprocessed, trueShape); err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	grads, err := m.Gradients()
	if err != nil {
		t.Fatalf("gradients failed: %v", err)
	}
	if len(grads) != 1 {
		t.Fatalf("expected 1 gradient, got %d", len(grads))
	}
	// d|sum(w)*sum(x)|/dw_i = sum(x) with positive sum(w): 2*3/255.
	want := float64(2 * 3.0 / 255.0)
	for i, g := range grads[0].Data {
		if math.Abs(float64(g)-want) > 1e-6 {
			t.Errorf("gradient[%d]: expected %f, got %f", i, want, g)
		}
	}
}

func TestLinearPostprocess(t *testing.T) {
	m, err := NewLinearDetector(1, 10)
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}

	pred, err := tensor.New([]int{1}, []float32{0})
	if err != nil {
		t.Fatalf("failed to create prediction: %v", err)
	}
	detections, err := m.Postprocess(Predictions{"prediction": pred}, []int{1, 2, 2, 3})
	if err != nil {
		t.Fatalf("postprocess failed: %v", err)
	}

	for _, key := range []string{"detection_boxes", "detection_scores", "detection_classes"} {
		if detections[key] == nil {
			t.Errorf("detections missing %q", key)
		}
	}
	// Zero prediction squashes to a score of 0.5.
	if got := detections["detection_scores"].Data[0]; math.Abs(float64(got)-0.5) > 1e-6 {
		t.Errorf("expected score 0.5, got %f", got)
	}
}

func TestLinearRestoreMap(t *testing.T) {
	m, err := NewLinearDetector(1, 10)
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}

	rm := m.RestoreMap(checkpoints.RestoreOptions{Type: checkpoints.TypeDetection})
	v, ok := rm["weight"].(*tensor.Variable)
	if !ok {
		t.Fatalf("restore map weight should be a variable, got %T", rm["weight"])
	}
	if v != m.Weight() {
		t.Error("restore map should reference the live weight variable")
	}
}
