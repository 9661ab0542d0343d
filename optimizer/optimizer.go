// Package optimizer implements gradient-descent parameter updates over
// model variables.
package optimizer

import (
	"fmt"

	"github.com/tsawler/go-detect/tensor"
)

// Optimizer applies one update step to vars given their gradients. Gradients
// are positionally matched to vars.
type Optimizer interface {
	Step(vars []*tensor.Variable, grads []*tensor.Tensor) error
}

func checkStep(vars []*tensor.Variable, grads []*tensor.Tensor) error {
	if len(vars) != len(grads) {
		return fmt.Errorf("gradient count mismatch: %d variables, %d gradients", len(vars), len(grads))
	}
	for i, v := range vars {
		if !v.Value().SameShape(grads[i]) {
			return fmt.Errorf("gradient shape %v does not match variable %q shape %v",
				grads[i].Shape, v.Name, v.Value().Shape)
		}
	}
	return nil
}
