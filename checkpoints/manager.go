package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tsawler/go-detect/tensor"
)

// DefaultPrefix is the checkpoint filename prefix when none is configured.
const DefaultPrefix = "ckpt"

// StateFilename is the name of the JSON state file the Manager maintains in
// its directory, recording the latest and all retained checkpoint paths.
const StateFilename = "checkpoint"

// ManagerConfig configures checkpoint saving behavior.
type ManagerConfig struct {
	// Directory checkpoints are written to. Created if missing.
	Directory string
	// Prefix for checkpoint filenames. Defaults to DefaultPrefix.
	Prefix string
	// MaxToKeep bounds the number of retained checkpoints. When a save
	// pushes the set over this limit the oldest checkpoints are deleted.
	// Zero means unlimited.
	MaxToKeep int
	// DType is the on-disk payload precision. Defaults to Float32;
	// Float16 halves shard size at reduced precision.
	DType tensor.DType
}

// Manager owns the checkpoint set of one training run: it persists model
// snapshots and enforces the retention limit. A Manager assumes it is the
// only writer for its directory.
type Manager struct {
	cfg      ManagerConfig
	retained []Info // ordered by step, oldest first
}

// NewManager creates a checkpoint manager for cfg.Directory. Any checkpoints
// already present (matching the prefix) are adopted into the retained set,
// so retention stays correct across process restarts.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("checkpoint directory must not be empty")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.MaxToKeep < 0 {
		return nil, fmt.Errorf("max_to_keep must not be negative, got %d", cfg.MaxToKeep)
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	existing, err := ListDir(cfg.Directory, cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan checkpoint directory: %v", err)
	}

	return &Manager{cfg: cfg, retained: existing}, nil
}

// Save writes a new checkpoint of vars labeled by step and returns its path
// prefix (e.g. "model_dir/ckpt-20"). The write is atomic-or-nothing: on any
// failure no partial checkpoint is left behind or registered. A successful
// save that pushes the retained set over MaxToKeep deletes the oldest
// checkpoints' index and data files.
func (m *Manager) Save(vars []*tensor.Variable, step int) (string, error) {
	if len(vars) == 0 {
		return "", fmt.Errorf("cannot save a checkpoint with no variables")
	}

	shard, entries, err := encodeShard(vars, m.cfg.DType)
	if err != nil {
		return "", fmt.Errorf("failed to encode checkpoint data: %v", err)
	}

	index := Index{
		Step:      step,
		CreatedAt: time.Now().UTC(),
		Framework: "go-detect",
		Version:   V2.String(),
		Variables: entries,
	}
	indexData, err := json.MarshalIndent(&index, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode checkpoint index: %v", err)
	}

	prefix := filepath.Join(m.cfg.Directory, fmt.Sprintf("%s-%d", m.cfg.Prefix, step))
	if err := writePair(prefix, indexData, shard); err != nil {
		return "", err
	}

	m.register(Info{Path: prefix, Step: step})
	if err := m.prune(); err != nil {
		return "", fmt.Errorf("failed to prune old checkpoints: %v", err)
	}
	if err := m.writeState(); err != nil {
		return "", fmt.Errorf("failed to write checkpoint state: %v", err)
	}

	return prefix, nil
}

// writePair commits the index and data files for a checkpoint prefix. Both
// are written to temporary names first; the index rename is the commit
// point, so a reader that sees the index always finds a complete shard.
func writePair(prefix string, indexData, shard []byte) error {
	dataTmp := prefix + DataSuffix + ".tmp"
	indexTmp := prefix + IndexSuffix + ".tmp"

	if err := os.WriteFile(dataTmp, shard, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint data: %v", err)
	}
	if err := os.WriteFile(indexTmp, indexData, 0o644); err != nil {
		os.Remove(dataTmp)
		return fmt.Errorf("failed to write checkpoint index: %v", err)
	}
	if err := os.Rename(dataTmp, prefix+DataSuffix); err != nil {
		os.Remove(dataTmp)
		os.Remove(indexTmp)
		return fmt.Errorf("failed to commit checkpoint data: %v", err)
	}
	if err := os.Rename(indexTmp, prefix+IndexSuffix); err != nil {
		os.Remove(indexTmp)
		os.Remove(prefix + DataSuffix)
		return fmt.Errorf("failed to commit checkpoint index: %v", err)
	}
	return nil
}

func (m *Manager) register(info Info) {
	for i, r := range m.retained {
		if r.Step == info.Step {
			m.retained[i] = info
			return
		}
	}
	m.retained = append(m.retained, info)
	sort.Slice(m.retained, func(i, j int) bool { return m.retained[i].Step < m.retained[j].Step })
}

func (m *Manager) prune() error {
	if m.cfg.MaxToKeep <= 0 {
		return nil
	}
	for len(m.retained) > m.cfg.MaxToKeep {
		oldest := m.retained[0]
		if err := os.Remove(oldest.Path + IndexSuffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %v", oldest.Path+IndexSuffix, err)
		}
		if err := os.Remove(oldest.Path + DataSuffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %v", oldest.Path+DataSuffix, err)
		}
		m.retained = m.retained[1:]
	}
	return nil
}

// managerState is the serialized form of the state file.
type managerState struct {
	ModelCheckpointPath     string   `json:"model_checkpoint_path"`
	AllModelCheckpointPaths []string `json:"all_model_checkpoint_paths"`
}

func (m *Manager) writeState() error {
	state := managerState{ModelCheckpointPath: m.Latest()}
	for _, r := range m.retained {
		state.AllModelCheckpointPaths = append(state.AllModelCheckpointPaths, r.Path)
	}
	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(m.cfg.Directory, StateFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// List returns the retained checkpoints ordered by step, oldest first.
func (m *Manager) List() []Info {
	return append([]Info(nil), m.retained...)
}

// Latest returns the path prefix of the most recent checkpoint, or "" when
// none has been saved.
func (m *Manager) Latest() string {
	if len(m.retained) == 0 {
		return ""
	}
	return m.retained[len(m.retained)-1].Path
}

// ListDir enumerates the checkpoints under dir with the given prefix by
// globbing "<prefix>-*.index", ordered by step, oldest first.
func ListDir(dir, prefix string) ([]Info, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*"+IndexSuffix))
	if err != nil {
		return nil, err
	}

	var infos []Info
	for _, match := range matches {
		base := strings.TrimSuffix(filepath.Base(match), IndexSuffix)
		stepStr := strings.TrimPrefix(base, prefix+"-")
		step, err := strconv.Atoi(stepStr)
		if err != nil {
			// Not one of ours (e.g. "ckpt-best.index"); skip it.
			continue
		}
		infos = append(infos, Info{Path: strings.TrimSuffix(match, IndexSuffix), Step: step})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Step < infos[j].Step })
	return infos, nil
}

// LatestIn returns the newest checkpoint under dir with the given prefix,
// or a zero Info and false when the directory holds none.
func LatestIn(dir, prefix string) (Info, bool, error) {
	infos, err := ListDir(dir, prefix)
	if err != nil || len(infos) == 0 {
		return Info{}, false, err
	}
	return infos[len(infos)-1], true, nil
}
