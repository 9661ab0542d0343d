package tensor

import (
	"fmt"
)

// Variable is a named, mutable model parameter. The optimizer updates its
// value in place; checkpoint save and restore address it by name.
type Variable struct {
	Name      string
	Trainable bool

	value *Tensor
}

// NewVariable creates a trainable variable holding value.
func NewVariable(name string, value *Tensor) *Variable {
	return &Variable{Name: name, Trainable: true, value: value}
}

// Value returns the variable's current tensor. Mutating the returned
// tensor's data mutates the variable.
func (v *Variable) Value() *Tensor {
	return v.value
}

// Assign replaces the variable's payload with the contents of t. The shape
// of t must match the variable's current shape.
func (v *Variable) Assign(t *Tensor) error {
	if !v.value.SameShape(t) {
		return fmt.Errorf("cannot assign tensor of shape %v to variable %q of shape %v",
			t.Shape, v.Name, v.value.Shape)
	}
	copy(v.value.Data, t.Data)
	return nil
}

// Fill sets every element of the variable to value.
func (v *Variable) Fill(value float32) {
	v.value.Fill(value)
}

func (v *Variable) String() string {
	return fmt.Sprintf("Variable(name=%q, shape=%v, trainable=%v)", v.Name, v.value.Shape, v.Trainable)
}
