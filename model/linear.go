package model

import (
	"fmt"
	"math"

	"github.com/tsawler/go-detect/checkpoints"
	"github.com/tsawler/go-detect/tensor"
)

// LinearDetector is the reference detection architecture: a single weight
// vector whose prediction is |sum(w) * sum(x)|. Its trivial loss surface makes
// it the standard fixture for exercising the checkpoint and restore paths end
// to end.
type LinearDetector struct {
	weight     *tensor.Variable
	numClasses int

	groundtruth []Groundtruth
	lastInput   float32
}

// NewLinearDetector creates a linear detector with a weight vector of
// weightDim elements, initialized to ones.
func NewLinearDetector(numClasses, weightDim int) (*LinearDetector, error) {
	if weightDim < 1 {
		return nil, fmt.Errorf("weight dimension must be at least 1, got %d", weightDim)
	}
	if numClasses < 1 {
		return nil, fmt.Errorf("number of classes must be at least 1, got %d", numClasses)
	}
	return &LinearDetector{
		weight:     tensor.NewVariable("weight", tensor.Ones([]int{weightDim})),
		numClasses: numClasses,
	}, nil
}

// Weight returns the model's single trainable variable.
func (m *LinearDetector) Weight() *tensor.Variable {
	return m.weight
}

// Preprocess scales raw pixel values into [0, 1]. The true image shape is
// the input shape unchanged.
func (m *LinearDetector) Preprocess(inputs *tensor.Tensor) (*tensor.Tensor, []int, error) {
	out := inputs.Clone()
	for i, v := range out.Data {
		out.Data[i] = v / 255
	}
	return out, append([]int(nil), inputs.Shape...), nil
}

// Predict computes the single prediction head |sum(w) * sum(x)|.
func (m *LinearDetector) Predict(inputs *tensor.Tensor, trueShape []int) (Predictions, error) {
	m.lastInput = inputs.Sum()
	pred := float32(math.Abs(float64(m.weight.Value().Sum() * m.lastInput)))
	t, err := tensor.New([]int{1}, []float32{pred})
	if err != nil {
		return nil, err
	}
	return Predictions{"prediction": t}, nil
}

// Loss is the sum of the prediction head.
func (m *LinearDetector) Loss(predictions Predictions) (map[string]*tensor.Tensor, error) {
	pred, ok := predictions["prediction"]
	if !ok {
		return nil, fmt.Errorf("predictions missing the %q head", "prediction")
	}
	t, err := tensor.New([]int{1}, []float32{pred.Sum()})
	if err != nil {
		return nil, err
	}
	return map[string]*tensor.Tensor{"loss": t}, nil
}

// Gradients returns d(loss)/d(weight) for the most recent Predict/Loss
// round: each component is sum(x) * sign(sum(w) * sum(x)).
func (m *LinearDetector) Gradients() ([]*tensor.Tensor, error) {
	sumW := m.weight.Value().Sum()
	sign := float32(1)
	if sumW*m.lastInput < 0 {
		sign = -1
	}
	grad := tensor.Full(m.weight.Value().Shape, sign*m.lastInput)
	return []*tensor.Tensor{grad}, nil
}

// Postprocess emits a single full-frame detection whose score is the
// squashed prediction.
func (m *LinearDetector) Postprocess(predictions Predictions, trueShape []int) (Detections, error) {
	pred, ok := predictions["prediction"]
	if !ok {
		return nil, fmt.Errorf("predictions missing the %q head", "prediction")
	}
	score := float32(1 / (1 + math.Exp(-float64(pred.Sum()))))

	boxes, err := tensor.New([]int{1, 1, 4}, []float32{0, 0, 1, 1})
	if err != nil {
		return nil, err
	}
	scores, err := tensor.New([]int{1, 1}, []float32{score})
	if err != nil {
		return nil, err
	}
	classes, err := tensor.New([]int{1, 1}, []float32{0})
	if err != nil {
		return nil, err
	}
	return Detections{
		"detection_boxes":   boxes,
		"detection_scores":  scores,
		"detection_classes": classes,
	}, nil
}

// RegularizationLosses returns nothing; the linear detector is unregularized.
func (m *LinearDetector) RegularizationLosses() []*tensor.Tensor {
	return nil
}

// ProvideGroundtruth stores the labels for the next Loss call.
func (m *LinearDetector) ProvideGroundtruth(groundtruth []Groundtruth) {
	m.groundtruth = groundtruth
}

// Updates returns nothing; the linear detector has no non-gradient state.
func (m *LinearDetector) Updates() []func() {
	return nil
}

// TrainableVariables returns the weight vector.
func (m *LinearDetector) TrainableVariables() []*tensor.Variable {
	return []*tensor.Variable{m.weight}
}

// RestoreMap maps the saved weight onto the live weight variable.
func (m *LinearDetector) RestoreMap(opts checkpoints.RestoreOptions) checkpoints.RestoreMap {
	rm := checkpoints.RestoreMap{"weight": m.weight}
	if opts.LoadAllDetectionVars {
		for _, v := range m.TrainableVariables() {
			rm[v.Name] = v
		}
	}
	return rm
}
