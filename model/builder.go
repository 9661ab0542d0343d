package model

import (
	"fmt"

	"github.com/tsawler/go-detect/pipeline"
)

// Build constructs the detection model named by the pipeline model config.
func Build(cfg pipeline.ModelConfig) (DetectionModel, error) {
	switch cfg.Type {
	case "linear":
		return NewLinearDetector(cfg.NumClasses, cfg.WeightDim)
	default:
		return nil, fmt.Errorf("unknown model type %q", cfg.Type)
	}
}
