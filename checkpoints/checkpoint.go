// Package checkpoints persists model parameter snapshots during training
// and restores them into live models for evaluation and fine-tuning.
//
// A V2 checkpoint is a pair of files sharing a prefix such as
// "model_dir/ckpt-20": an index file "ckpt-20.index" (JSON metadata mapping
// variable names to their location in the data shard) and a data shard
// "ckpt-20.data" (the raw parameter payloads). Both files are written to
// temporary names and renamed into place, so readers only ever observe
// complete checkpoints.
package checkpoints

import (
	"errors"
	"fmt"
	"time"

	"github.com/tsawler/go-detect/tensor"
)

// ErrNotFound reports a variable name absent from a loaded checkpoint.
var ErrNotFound = errors.New("variable not found in checkpoint")

// CheckpointVersion selects the on-disk checkpoint format.
type CheckpointVersion int

const (
	// VersionAuto detects the format from what is on disk.
	VersionAuto CheckpointVersion = iota
	// V1 is the legacy single-file JSON format. Readable for migration;
	// new checkpoints are never written as V1.
	V1
	// V2 is the index + data shard pair format.
	V2
)

func (v CheckpointVersion) String() string {
	switch v {
	case VersionAuto:
		return "Auto"
	case V1:
		return "V1"
	case V2:
		return "V2"
	default:
		return "Unknown"
	}
}

// IndexSuffix and DataSuffix are the file extensions of a V2 checkpoint pair.
const (
	IndexSuffix = ".index"
	DataSuffix  = ".data"
)

// VariableEntry describes where one variable lives inside the data shard.
type VariableEntry struct {
	Name     string `json:"name"`
	Shape    []int  `json:"shape"`
	DType    string `json:"dtype"`
	Offset   int64  `json:"offset"`
	ByteSize int64  `json:"byte_size"`
}

// Index is the contents of a checkpoint index file.
type Index struct {
	Step      int             `json:"step"`
	CreatedAt time.Time       `json:"created_at"`
	Framework string          `json:"framework"`
	Version   string          `json:"version"`
	Variables []VariableEntry `json:"variables"`
}

// Checkpoint is a fully loaded snapshot: the index metadata plus the decoded
// variable payloads keyed by name.
type Checkpoint struct {
	Index  Index
	Values map[string]*tensor.Tensor
}

// Value returns the saved tensor for name.
func (c *Checkpoint) Value(name string) (*tensor.Tensor, error) {
	t, ok := c.Values[name]
	if !ok {
		return nil, fmt.Errorf("checkpoint has no variable %q: %w", name, ErrNotFound)
	}
	return t, nil
}

// Info identifies one retained checkpoint on disk.
type Info struct {
	// Path is the checkpoint prefix (no extension), e.g. "model_dir/ckpt-20".
	Path string
	// Step is the training step the checkpoint was saved at.
	Step int
}
