// Package model defines the detection model capability interface and the
// concrete architectures the pipeline config can select. Any model variant
// implements the full interface; the training and eval loops only ever talk
// to it polymorphically.
package model

import (
	"github.com/tsawler/go-detect/checkpoints"
	"github.com/tsawler/go-detect/tensor"
)

// Predictions is the raw output of a model's forward pass, keyed by head
// name (e.g. "prediction", "class_predictions").
type Predictions map[string]*tensor.Tensor

// Detections is the postprocessed output keyed by result name
// (e.g. "detection_boxes", "detection_scores").
type Detections map[string]*tensor.Tensor

// Groundtruth holds the labeled boxes for one image: Boxes is [N,4] in
// normalized [ymin, xmin, ymax, xmax] order, Classes is [N].
type Groundtruth struct {
	Boxes   *tensor.Tensor
	Classes *tensor.Tensor
}

// DetectionModel is the capability set every detection architecture
// provides. It embeds checkpoints.Checkpointable, so any model can be saved
// and fine-tune restored.
type DetectionModel interface {
	checkpoints.Checkpointable

	// Preprocess normalizes raw inputs and returns the preprocessed batch
	// along with the true (pre-padding) image shape.
	Preprocess(inputs *tensor.Tensor) (*tensor.Tensor, []int, error)
	// Predict runs the forward pass on a preprocessed batch.
	Predict(inputs *tensor.Tensor, trueShape []int) (Predictions, error)
	// Loss computes named scalar loss tensors from predictions and the
	// groundtruth most recently provided via ProvideGroundtruth.
	Loss(predictions Predictions) (map[string]*tensor.Tensor, error)
	// Postprocess converts raw predictions into final detections.
	Postprocess(predictions Predictions, trueShape []int) (Detections, error)
	// RegularizationLosses returns additional scalar loss tensors, if any.
	RegularizationLosses() []*tensor.Tensor
	// ProvideGroundtruth hands the model the labels for the next Loss call.
	ProvideGroundtruth(groundtruth []Groundtruth)
	// Updates returns non-gradient state updates (batch-norm style) to run
	// after each optimizer step.
	Updates() []func()
}

// TotalLoss sums a model's named losses and regularization losses into a
// single scalar.
func TotalLoss(losses map[string]*tensor.Tensor, regularization []*tensor.Tensor) float32 {
	var total float32
	for _, l := range losses {
		total += l.Sum()
	}
	for _, l := range regularization {
		total += l.Sum()
	}
	return total
}
