package inputs

import (
	"fmt"

	"github.com/tsawler/go-detect/tensor"
)

// Batch is one training or evaluation step's worth of data: the stacked
// image tensor (leading batch dimension) and the per-example groundtruth.
type Batch struct {
	Images   *tensor.Tensor
	Examples []Example
}

// Dataset iterates over a fixed set of examples in batches, cycling when it
// reaches the end. All examples must share one image shape so batches can
// be stacked.
type Dataset struct {
	examples  []Example
	batchSize int
	pos       int
	unpad     bool
}

// NewDataset creates a cycling dataset over examples.
func NewDataset(examples []Example, batchSize int) (*Dataset, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("dataset requires at least one example")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	shape := examples[0].Image.Shape
	for i, ex := range examples {
		if !tensor.ShapesEqual(ex.Image.Shape, shape) {
			return nil, fmt.Errorf("example %d has image shape %v, want %v", i, ex.Image.Shape, shape)
		}
	}
	return &Dataset{examples: examples, batchSize: batchSize}, nil
}

// Open reads a record file and wraps it in a cycling dataset.
func Open(path string, batchSize int) (*Dataset, error) {
	examples, err := ReadRecords(path)
	if err != nil {
		return nil, err
	}
	return NewDataset(examples, batchSize)
}

// SetUnpadGroundtruth makes Next trim zero-padded groundtruth boxes from the
// examples it hands out.
func (d *Dataset) SetUnpadGroundtruth(unpad bool) {
	d.unpad = unpad
}

// Len returns the number of examples in the dataset.
func (d *Dataset) Len() int {
	return len(d.examples)
}

// Batches returns how many batches make up one pass over the dataset.
func (d *Dataset) Batches() int {
	return (len(d.examples) + d.batchSize - 1) / d.batchSize
}

// Next returns the next batch, cycling back to the start after the last
// example.
func (d *Dataset) Next() (Batch, error) {
	batch := Batch{Examples: make([]Example, 0, d.batchSize)}

	imageShape := d.examples[0].Image.Shape
	stacked := make([]float32, 0, d.batchSize*tensor.NumElements(imageShape))
	for i := 0; i < d.batchSize; i++ {
		ex := d.examples[d.pos]
		d.pos = (d.pos + 1) % len(d.examples)

		if d.unpad && ex.Boxes != nil {
			boxes, classes := UnpadGroundtruth(ex.Boxes, ex.Classes)
			ex = Example{Image: ex.Image, Boxes: boxes, Classes: classes}
		}
		batch.Examples = append(batch.Examples, ex)
		stacked = append(stacked, ex.Image.Data...)
	}

	images, err := tensor.New(append([]int{d.batchSize}, imageShape...), stacked)
	if err != nil {
		return Batch{}, err
	}
	batch.Images = images
	return batch, nil
}

// UnpadGroundtruth trims trailing all-zero box rows (and their classes) that
// padded a groundtruth tensor up to a fixed size. It returns nil tensors
// when every row is padding.
func UnpadGroundtruth(boxes, classes *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	if boxes == nil {
		return nil, nil
	}
	n := boxes.Shape[0]
	keep := n
	for keep > 0 {
		row := boxes.Data[(keep-1)*4 : keep*4]
		if row[0] != 0 || row[1] != 0 || row[2] != 0 || row[3] != 0 {
			break
		}
		keep--
	}
	if keep == 0 {
		return nil, nil
	}
	if keep == n {
		return boxes, classes
	}

	trimmedBoxes := &tensor.Tensor{Shape: []int{keep, 4}, Data: boxes.Data[:keep*4]}
	var trimmedClasses *tensor.Tensor
	if classes != nil {
		trimmedClasses = &tensor.Tensor{Shape: []int{keep}, Data: classes.Data[:keep]}
	}
	return trimmedBoxes, trimmedClasses
}
