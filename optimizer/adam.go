package optimizer

import (
	"math"

	"github.com/tsawler/go-detect/tensor"
)

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LearningRate float32
	Beta1        float32 // First moment decay
	Beta2        float32 // Second moment decay
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Adam implements the Adam optimizer with bias-corrected moment estimates.
type Adam struct {
	config    AdamConfig
	m         map[string][]float32
	v         map[string][]float32
	stepCount uint64
}

// NewAdam creates an Adam optimizer.
func NewAdam(config AdamConfig) *Adam {
	return &Adam{
		config: config,
		m:      make(map[string][]float32),
		v:      make(map[string][]float32),
	}
}

// Step applies one Adam update to each variable.
func (a *Adam) Step(vars []*tensor.Variable, grads []*tensor.Tensor) error {
	if err := checkStep(vars, grads); err != nil {
		return err
	}
	a.stepCount++

	beta1 := float64(a.config.Beta1)
	beta2 := float64(a.config.Beta2)
	correction1 := 1 - math.Pow(beta1, float64(a.stepCount))
	correction2 := 1 - math.Pow(beta2, float64(a.stepCount))

	for i, variable := range vars {
		w := variable.Value().Data
		g := grads[i].Data
		m := a.stateFor(a.m, variable.Name, len(w))
		v := a.stateFor(a.v, variable.Name, len(w))

		for j := range w {
			grad := g[j]
			if a.config.WeightDecay > 0 {
				grad += a.config.WeightDecay * w[j]
			}

			m[j] = a.config.Beta1*m[j] + (1-a.config.Beta1)*grad
			v[j] = a.config.Beta2*v[j] + (1-a.config.Beta2)*grad*grad

			mHat := float64(m[j]) / correction1
			vHat := float64(v[j]) / correction2

			w[j] -= float32(float64(a.config.LearningRate) * mHat / (math.Sqrt(vHat) + float64(a.config.Epsilon)))
		}
	}
	return nil
}

func (a *Adam) stateFor(state map[string][]float32, name string, n int) []float32 {
	s, ok := state[name]
	if !ok || len(s) != n {
		s = make([]float32, n)
		state[name] = s
	}
	return s
}
