package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/go-detect/tensor"
)

func TestSGDVanillaStep(t *testing.T) {
	config := DefaultSGDConfig()
	config.LearningRate = 0.1
	sgd := NewSGD(config)

	v := tensor.NewVariable("w", tensor.Full([]int{3}, 1.0))
	grad := tensor.Full([]int{3}, 0.5)

	if err := sgd.Step([]*tensor.Variable{v}, []*tensor.Tensor{grad}); err != nil {
		t.Fatalf("SGD step failed: %v", err)
	}

	// w - lr*g = 1 - 0.1*0.5 = 0.95
	for i, got := range v.Value().Data {
		if math.Abs(float64(got)-0.95) > 1e-6 {
			t.Errorf("element %d: expected 0.95, got %f", i, got)
		}
	}
}

func TestSGDMomentumAccumulates(t *testing.T) {
	config := SGDConfig{LearningRate: 0.1, Momentum: 0.9}
	sgd := NewSGD(config)

	v := tensor.NewVariable("w", tensor.Full([]int{1}, 1.0))
	grad := tensor.Full([]int{1}, 1.0)
	vars := []*tensor.Variable{v}
	grads := []*tensor.Tensor{grad}

	// Step 1: vel = 1.0, w = 1 - 0.1*1.0 = 0.9
	// Step 2: vel = 0.9*1.0 + 1.0 = 1.9, w = 0.9 - 0.1*1.9 = 0.71
	if err := sgd.Step(vars, grads); err != nil {
		t.Fatalf("step 1 failed: %v", err)
	}
	if err := sgd.Step(vars, grads); err != nil {
		t.Fatalf("step 2 failed: %v", err)
	}
	if got := v.Value().Data[0]; math.Abs(float64(got)-0.71) > 1e-6 {
		t.Errorf("after two momentum steps: expected 0.71, got %f", got)
	}
}

func TestSGDWeightDecay(t *testing.T) {
	config := SGDConfig{LearningRate: 0.1, WeightDecay: 0.5}
	sgd := NewSGD(config)

	v := tensor.NewVariable("w", tensor.Full([]int{1}, 2.0))
	grad := tensor.Full([]int{1}, 0.0)

	if err := sgd.Step([]*tensor.Variable{v}, []*tensor.Tensor{grad}); err != nil {
		t.Fatalf("SGD step failed: %v", err)
	}

	// w - lr*(g + wd*w) = 2 - 0.1*(0 + 0.5*2) = 1.9
	if got := v.Value().Data[0]; math.Abs(float64(got)-1.9) > 1e-6 {
		t.Errorf("expected 1.9, got %f", got)
	}
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	config := DefaultAdamConfig()
	config.LearningRate = 0.001
	adam := NewAdam(config)

	v := tensor.NewVariable("w", tensor.Full([]int{4}, 1.0))
	grad := tensor.Full([]int{4}, 0.3)

	if err := adam.Step([]*tensor.Variable{v}, []*tensor.Tensor{grad}); err != nil {
		t.Fatalf("Adam step failed: %v", err)
	}

	// With bias correction, the first Adam step is ~lr regardless of
	// gradient magnitude.
	for i, got := range v.Value().Data {
		if math.Abs(float64(got)-(1-0.001)) > 1e-4 {
			t.Errorf("element %d: expected ~0.999, got %f", i, got)
		}
	}
}

func TestStepRejectsMismatchedGradients(t *testing.T) {
	sgd := NewSGD(DefaultSGDConfig())
	v := tensor.NewVariable("w", tensor.Ones([]int{3}))

	if err := sgd.Step([]*tensor.Variable{v}, nil); err == nil {
		t.Error("expected error for missing gradients")
	}

	wrongShape := tensor.Ones([]int{4})
	if err := sgd.Step([]*tensor.Variable{v}, []*tensor.Tensor{wrongShape}); err == nil {
		t.Error("expected error for gradient shape mismatch")
	}
}
