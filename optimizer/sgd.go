package optimizer

import (
	"github.com/tsawler/go-detect/tensor"
)

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LearningRate float32
	Momentum     float32 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float32 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum
}

// DefaultSGDConfig returns default SGD optimizer configuration.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// SGD implements stochastic gradient descent with optional momentum,
// weight decay, and Nesterov acceleration.
type SGD struct {
	config    SGDConfig
	velocity  map[string][]float32
	stepCount uint64
}

// NewSGD creates an SGD optimizer.
func NewSGD(config SGDConfig) *SGD {
	return &SGD{
		config:   config,
		velocity: make(map[string][]float32),
	}
}

// Step applies one SGD update to each variable.
func (s *SGD) Step(vars []*tensor.Variable, grads []*tensor.Tensor) error {
	if err := checkStep(vars, grads); err != nil {
		return err
	}
	s.stepCount++

	for i, v := range vars {
		w := v.Value().Data
		g := grads[i].Data

		for j := range w {
			grad := g[j]
			if s.config.WeightDecay > 0 {
				grad += s.config.WeightDecay * w[j]
			}

			if s.config.Momentum > 0 {
				vel := s.velocityFor(v.Name, len(w))
				vel[j] = s.config.Momentum*vel[j] + grad
				if s.config.Nesterov {
					grad += s.config.Momentum * vel[j]
				} else {
					grad = vel[j]
				}
			}

			w[j] -= s.config.LearningRate * grad
		}
	}
	return nil
}

func (s *SGD) velocityFor(name string, n int) []float32 {
	vel, ok := s.velocity[name]
	if !ok || len(vel) != n {
		vel = make([]float32, n)
		s.velocity[name] = vel
	}
	return vel
}
