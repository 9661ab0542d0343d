package inputs

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/go-detect/tensor"
)

// Example is one labeled image: the image tensor plus its groundtruth boxes
// ([N,4] normalized corners) and classes ([N]). Boxes and Classes are nil
// for an unlabeled example.
type Example struct {
	Image   *tensor.Tensor
	Boxes   *tensor.Tensor
	Classes *tensor.Tensor
}

// Record file layout: a sequence of examples, each framed as a
// length-delimited protobuf field. Example fields:
//
//	1 image payload (bytes, little-endian float32)
//	2 image shape   (repeated varint)
//	3 box payload   (bytes, little-endian float32, 4 per box)
//	4 classes       (repeated varint)
const (
	fieldExample protowire.Number = 1
	fieldImage   protowire.Number = 1
	fieldShape   protowire.Number = 2
	fieldBoxes   protowire.Number = 3
	fieldClasses protowire.Number = 4
)

// WriteRecords serializes examples to a record file at path.
func WriteRecords(path string, examples []Example) error {
	var buf []byte
	for i, ex := range examples {
		rec, err := encodeExample(ex)
		if err != nil {
			return fmt.Errorf("example %d: %v", i, err)
		}
		buf = protowire.AppendTag(buf, fieldExample, protowire.BytesType)
		buf = protowire.AppendBytes(buf, rec)
	}
	return os.WriteFile(path, buf, 0o644)
}

// ReadRecords parses a record file back into examples.
func ReadRecords(path string) ([]Example, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var examples []Example
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("corrupt record file %s: %v", path, protowire.ParseError(n))
		}
		buf = buf[n:]
		if num != fieldExample || typ != protowire.BytesType {
			return nil, fmt.Errorf("corrupt record file %s: unexpected field %d", path, num)
		}
		rec, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, fmt.Errorf("corrupt record file %s: %v", path, protowire.ParseError(n))
		}
		buf = buf[n:]

		ex, err := decodeExample(rec)
		if err != nil {
			return nil, fmt.Errorf("record file %s: %v", path, err)
		}
		examples = append(examples, ex)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("record file %s contains no examples", path)
	}
	return examples, nil
}

func encodeExample(ex Example) ([]byte, error) {
	if ex.Image == nil {
		return nil, fmt.Errorf("example has no image")
	}

	var rec []byte
	rec = protowire.AppendTag(rec, fieldImage, protowire.BytesType)
	rec = protowire.AppendBytes(rec, floatBytes(ex.Image.Data))
	for _, dim := range ex.Image.Shape {
		rec = protowire.AppendTag(rec, fieldShape, protowire.VarintType)
		rec = protowire.AppendVarint(rec, uint64(dim))
	}
	if ex.Boxes != nil {
		rec = protowire.AppendTag(rec, fieldBoxes, protowire.BytesType)
		rec = protowire.AppendBytes(rec, floatBytes(ex.Boxes.Data))
	}
	if ex.Classes != nil {
		for _, c := range ex.Classes.Data {
			rec = protowire.AppendTag(rec, fieldClasses, protowire.VarintType)
			rec = protowire.AppendVarint(rec, uint64(c))
		}
	}
	return rec, nil
}

func decodeExample(rec []byte) (Example, error) {
	var ex Example
	var imagePayload, boxPayload []byte
	var shape []int
	var classes []float32

	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			return ex, fmt.Errorf("corrupt example: %v", protowire.ParseError(n))
		}
		rec = rec[n:]

		switch num {
		case fieldImage:
			b, n := protowire.ConsumeBytes(rec)
			if n < 0 {
				return ex, fmt.Errorf("corrupt image payload: %v", protowire.ParseError(n))
			}
			imagePayload = b
			rec = rec[n:]
		case fieldShape:
			dim, n := protowire.ConsumeVarint(rec)
			if n < 0 {
				return ex, fmt.Errorf("corrupt image shape: %v", protowire.ParseError(n))
			}
			shape = append(shape, int(dim))
			rec = rec[n:]
		case fieldBoxes:
			b, n := protowire.ConsumeBytes(rec)
			if n < 0 {
				return ex, fmt.Errorf("corrupt box payload: %v", protowire.ParseError(n))
			}
			boxPayload = b
			rec = rec[n:]
		case fieldClasses:
			c, n := protowire.ConsumeVarint(rec)
			if n < 0 {
				return ex, fmt.Errorf("corrupt classes: %v", protowire.ParseError(n))
			}
			classes = append(classes, float32(c))
			rec = rec[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, rec)
			if n < 0 {
				return ex, fmt.Errorf("corrupt example field %d: %v", num, protowire.ParseError(n))
			}
			rec = rec[n:]
		}
	}

	image, err := tensor.New(shape, bytesFloats(imagePayload))
	if err != nil {
		return ex, fmt.Errorf("example image: %v", err)
	}
	ex.Image = image

	if len(boxPayload) > 0 {
		boxData := bytesFloats(boxPayload)
		if len(boxData)%4 != 0 {
			return ex, fmt.Errorf("box payload has %d values, not a multiple of 4", len(boxData))
		}
		boxes, err := tensor.New([]int{len(boxData) / 4, 4}, boxData)
		if err != nil {
			return ex, fmt.Errorf("example boxes: %v", err)
		}
		ex.Boxes = boxes
	}
	if len(classes) > 0 {
		cls, err := tensor.New([]int{len(classes)}, classes)
		if err != nil {
			return ex, fmt.Errorf("example classes: %v", err)
		}
		ex.Classes = cls
	}
	return ex, nil
}

func floatBytes(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func bytesFloats(buf []byte) []float32 {
	data := make([]float32, len(buf)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return data
}
