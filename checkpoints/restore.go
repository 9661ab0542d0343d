package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tsawler/go-detect/tensor"
)

// Checkpoint type selectors, mirroring the fine_tune_checkpoint_type config
// field. They control which restore map a model hands out.
const (
	TypeDetection      = "detection"
	TypeClassification = "classification"
	TypeFull           = ""
)

// RestoreOptions controls fine-tune checkpoint restoration.
type RestoreOptions struct {
	// Type selects which subset of the model the restore map should cover
	// (TypeDetection, TypeClassification, or TypeFull).
	Type string
	// Version selects the checkpoint format. VersionAuto detects from disk.
	Version CheckpointVersion
	// LoadAllDetectionVars asks the model to include every
	// detection-specific variable in its restore map.
	LoadAllDetectionVars bool
	// UnpadGroundtruthTensors is passed through to input handling; it does
	// not affect restore mechanics.
	UnpadGroundtruthTensors bool
}

// RestoreMap maps a saved variable's name to the live parameter it should
// populate. Every value must be a single restorable *tensor.Variable;
// aggregate objects (such as a whole model) are rejected.
type RestoreMap map[string]any

// Checkpointable is the capability the restore and save paths need from a
// model.
type Checkpointable interface {
	// RestoreMap returns the mapping from saved variable names to live
	// parameters for the given options.
	RestoreMap(opts RestoreOptions) RestoreMap
	// TrainableVariables returns the model's trainable parameters.
	TrainableVariables() []*tensor.Variable
}

// Load reads a checkpoint from a path prefix (V2 pair) or a V1 file,
// detecting the format when version is VersionAuto.
func Load(path string, version CheckpointVersion) (*Checkpoint, error) {
	switch version {
	case V2:
		return loadV2(path)
	case V1:
		return loadV1(path)
	case VersionAuto:
		if _, err := os.Stat(path + IndexSuffix); err == nil {
			return loadV2(path)
		}
		return loadV1(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint version: %s", version)
	}
}

func loadV2(prefix string) (*Checkpoint, error) {
	indexData, err := os.ReadFile(prefix + IndexSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %v", err)
	}
	var index Index
	if err := json.Unmarshal(indexData, &index); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint index: %v", err)
	}

	shard, err := os.ReadFile(prefix + DataSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint data: %v", err)
	}
	values, err := decodeShard(shard)
	if err != nil {
		return nil, err
	}

	for _, entry := range index.Variables {
		t, ok := values[entry.Name]
		if !ok {
			return nil, fmt.Errorf("checkpoint data is missing variable %q listed in the index", entry.Name)
		}
		if !tensor.ShapesEqual(t.Shape, entry.Shape) {
			return nil, fmt.Errorf("variable %q has shape %v on disk but %v in the index",
				entry.Name, t.Shape, entry.Shape)
		}
	}

	return &Checkpoint{Index: index, Values: values}, nil
}

// v1File is the legacy single-file JSON checkpoint layout.
type v1File struct {
	Step      int          `json:"step"`
	Variables []v1Variable `json:"variables"`
}

type v1Variable struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func loadV1(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}
	var file v1File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode V1 checkpoint: %v", err)
	}

	values := make(map[string]*tensor.Tensor, len(file.Variables))
	var entries []VariableEntry
	for _, v := range file.Variables {
		t, err := tensor.New(v.Shape, v.Data)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %v", v.Name, err)
		}
		values[v.Name] = t
		entries = append(entries, VariableEntry{
			Name:  v.Name,
			Shape: append([]int(nil), v.Shape...),
			DType: tensor.Float32.String(),
		})
	}

	return &Checkpoint{
		Index:  Index{Step: file.Step, Version: V1.String(), Variables: entries},
		Values: values,
	}, nil
}

// LoadFineTuneCheckpoint restores a saved checkpoint's values into a live
// model through its restore map. The whole map is validated before any
// parameter is touched: every value must be an individually restorable
// variable, every mapped name must exist in the checkpoint, and shapes must
// match. On success each mapped parameter holds the saved payload verbatim.
func LoadFineTuneCheckpoint(m Checkpointable, path string, opts RestoreOptions) error {
	restoreMap := m.RestoreMap(opts)
	if len(restoreMap) == 0 {
		return fmt.Errorf("model returned an empty restore map")
	}

	targets := make(map[string]*tensor.Variable, len(restoreMap))
	for name, value := range restoreMap {
		target, ok := value.(*tensor.Variable)
		if !ok {
			return fmt.Errorf("restore map value for %q must be a restorable variable, received a (str -> %T) pair",
				name, value)
		}
		targets[name] = target
	}

	ckpt, err := Load(path, opts.Version)
	if err != nil {
		return err
	}

	type assignment struct {
		target *tensor.Variable
		saved  *tensor.Tensor
	}
	assignments := make([]assignment, 0, len(targets))
	for name, target := range targets {
		saved, err := ckpt.Value(name)
		if err != nil {
			return err
		}
		if !saved.SameShape(target.Value()) {
			return fmt.Errorf("variable %q has shape %v in the checkpoint but the live parameter has shape %v",
				name, saved.Shape, target.Value().Shape)
		}
		assignments = append(assignments, assignment{target: target, saved: saved})
	}

	for _, a := range assignments {
		if err := a.target.Assign(a.saved); err != nil {
			return err
		}
	}
	return nil
}

// RestoreVariables assigns every saved value in the checkpoint at path onto
// the variable with the matching name. Variables without a saved counterpart
// are an error; extra saved values are ignored.
func RestoreVariables(path string, vars []*tensor.Variable) error {
	ckpt, err := Load(path, VersionAuto)
	if err != nil {
		return err
	}
	for _, v := range vars {
		saved, err := ckpt.Value(v.Name)
		if err != nil {
			return err
		}
		if err := v.Assign(saved); err != nil {
			return err
		}
	}
	return nil
}
