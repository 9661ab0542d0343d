package checkpoints

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/go-detect/tensor"
)

// Data shard layout: a sequence of variable records, each framed as a
// length-delimited protobuf field. Record fields:
//
//	1 name    (bytes)
//	2 shape   (repeated varint)
//	3 dtype   (varint, tensor.DType)
//	4 payload (bytes, little-endian element values)
const (
	fieldRecord  protowire.Number = 1
	fieldName    protowire.Number = 1
	fieldShape   protowire.Number = 2
	fieldDType   protowire.Number = 3
	fieldPayload protowire.Number = 4
)

// encodeShard serializes the variables into a data shard, converting
// payloads to dtype. It returns the shard bytes and the index entries
// describing each record's position.
func encodeShard(vars []*tensor.Variable, dtype tensor.DType) ([]byte, []VariableEntry, error) {
	var shard []byte
	entries := make([]VariableEntry, 0, len(vars))

	for _, v := range vars {
		payload, err := encodePayload(v.Value().Data, dtype)
		if err != nil {
			return nil, nil, fmt.Errorf("variable %q: %v", v.Name, err)
		}

		var rec []byte
		rec = protowire.AppendTag(rec, fieldName, protowire.BytesType)
		rec = protowire.AppendString(rec, v.Name)
		for _, dim := range v.Value().Shape {
			rec = protowire.AppendTag(rec, fieldShape, protowire.VarintType)
			rec = protowire.AppendVarint(rec, uint64(dim))
		}
		rec = protowire.AppendTag(rec, fieldDType, protowire.VarintType)
		rec = protowire.AppendVarint(rec, uint64(dtype))
		rec = protowire.AppendTag(rec, fieldPayload, protowire.BytesType)
		rec = protowire.AppendBytes(rec, payload)

		offset := int64(len(shard))
		shard = protowire.AppendTag(shard, fieldRecord, protowire.BytesType)
		shard = protowire.AppendBytes(shard, rec)

		entries = append(entries, VariableEntry{
			Name:     v.Name,
			Shape:    append([]int(nil), v.Value().Shape...),
			DType:    dtype.String(),
			Offset:   offset,
			ByteSize: int64(len(shard)) - offset,
		})
	}

	return shard, entries, nil
}

// decodeShard parses a data shard back into named tensors. Half-precision
// payloads are widened to float32.
func decodeShard(shard []byte) (map[string]*tensor.Tensor, error) {
	values := make(map[string]*tensor.Tensor)

	for len(shard) > 0 {
		num, typ, n := protowire.ConsumeTag(shard)
		if n < 0 {
			return nil, fmt.Errorf("corrupt data shard: %v", protowire.ParseError(n))
		}
		shard = shard[n:]
		if num != fieldRecord || typ != protowire.BytesType {
			return nil, fmt.Errorf("corrupt data shard: unexpected field %d (wire type %d)", num, typ)
		}
		rec, n := protowire.ConsumeBytes(shard)
		if n < 0 {
			return nil, fmt.Errorf("corrupt data shard: %v", protowire.ParseError(n))
		}
		shard = shard[n:]

		name, t, err := decodeRecord(rec)
		if err != nil {
			return nil, err
		}
		values[name] = t
	}

	return values, nil
}

func decodeRecord(rec []byte) (string, *tensor.Tensor, error) {
	var name string
	var shape []int
	var payload []byte
	dtype := tensor.Float32

	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			return "", nil, fmt.Errorf("corrupt variable record: %v", protowire.ParseError(n))
		}
		rec = rec[n:]

		switch num {
		case fieldName:
			s, n := protowire.ConsumeString(rec)
			if n < 0 {
				return "", nil, fmt.Errorf("corrupt variable name: %v", protowire.ParseError(n))
			}
			name = s
			rec = rec[n:]
		case fieldShape:
			dim, n := protowire.ConsumeVarint(rec)
			if n < 0 {
				return "", nil, fmt.Errorf("corrupt variable shape: %v", protowire.ParseError(n))
			}
			shape = append(shape, int(dim))
			rec = rec[n:]
		case fieldDType:
			d, n := protowire.ConsumeVarint(rec)
			if n < 0 {
				return "", nil, fmt.Errorf("corrupt variable dtype: %v", protowire.ParseError(n))
			}
			dtype = tensor.DType(d)
			rec = rec[n:]
		case fieldPayload:
			b, n := protowire.ConsumeBytes(rec)
			if n < 0 {
				return "", nil, fmt.Errorf("corrupt variable payload: %v", protowire.ParseError(n))
			}
			payload = b
			rec = rec[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, rec)
			if n < 0 {
				return "", nil, fmt.Errorf("corrupt variable record field %d: %v", num, protowire.ParseError(n))
			}
			rec = rec[n:]
		}
	}

	if name == "" {
		return "", nil, fmt.Errorf("variable record missing name")
	}
	data, err := decodePayload(payload, dtype)
	if err != nil {
		return "", nil, fmt.Errorf("variable %q: %v", name, err)
	}
	t, err := tensor.New(shape, data)
	if err != nil {
		return "", nil, fmt.Errorf("variable %q: %v", name, err)
	}
	return name, t, nil
}

func encodePayload(data []float32, dtype tensor.DType) ([]byte, error) {
	switch dtype {
	case tensor.Float32:
		buf := make([]byte, 4*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
		return buf, nil
	case tensor.Float16:
		buf := make([]byte, 2*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(v).Bits())
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("unsupported payload dtype: %s", dtype)
	}
}

func decodePayload(payload []byte, dtype tensor.DType) ([]float32, error) {
	size := dtype.ByteSize()
	if len(payload)%size != 0 {
		return nil, fmt.Errorf("payload length %d not a multiple of %s element size", len(payload), dtype)
	}
	data := make([]float32, len(payload)/size)
	switch dtype {
	case tensor.Float32:
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
		}
	case tensor.Float16:
		for i := range data {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(payload[2*i:])).Float32()
		}
	default:
		return nil, fmt.Errorf("unsupported payload dtype: %s", dtype)
	}
	return data, nil
}
