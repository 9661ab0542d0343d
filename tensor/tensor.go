package tensor

import (
	"fmt"
)

// DType identifies the element type of a tensor payload. In-memory tensors
// are always Float32; Float16 exists for half-precision storage of
// checkpoint payloads.
type DType int

const (
	Float32 DType = iota
	Float16
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float16:
		return "Float16"
	default:
		return "Unknown"
	}
}

// ByteSize returns the size in bytes of a single element of this type.
func (d DType) ByteSize() int {
	switch d {
	case Float16:
		return 2
	default:
		return 4
	}
}

// Tensor is a dense, CPU-resident, row-major float32 tensor.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New creates a tensor with the given shape backed by data. The data slice
// is used directly, not copied.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if n := NumElements(shape); len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape []int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, NumElements(shape))}
}

// Full creates a tensor with every element set to value.
func Full(shape []int, value float32) *Tensor {
	t := Zeros(shape)
	t.Fill(value)
	return t
}

// Ones creates a tensor with every element set to 1.
func Ones(shape []int) *Tensor {
	return Full(shape, 1)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems())
}

// NumElems returns the total number of elements.
func (t *Tensor) NumElems() int {
	return NumElements(t.Shape)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: append([]int(nil), t.Shape...), Data: data}
}

// Fill sets every element to value.
func (t *Tensor) Fill(value float32) {
	for i := range t.Data {
		t.Data[i] = value
	}
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float32 {
	var sum float32
	for _, v := range t.Data {
		sum += v
	}
	return sum
}

// CopyFrom replaces the tensor's payload with data, which must have exactly
// as many elements as the tensor's shape.
func (t *Tensor) CopyFrom(data []float32) error {
	if len(data) != len(t.Data) {
		return fmt.Errorf("cannot copy %d elements into tensor of shape %v", len(data), t.Shape)
	}
	copy(t.Data, data)
	return nil
}

// SameShape reports whether two tensors have identical shapes.
func (t *Tensor) SameShape(other *Tensor) bool {
	return ShapesEqual(t.Shape, other.Shape)
}

// NumElements returns the element count implied by shape.
func NumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

// ShapesEqual reports whether a and b describe the same shape.
func ShapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: must have at least one dimension")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
