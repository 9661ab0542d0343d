package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads a pipeline configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml. The file is merged over Default()
// and validated.
func Load(path string) (Config, error) {
	return LoadWithOverrides(path, Overrides{})
}

// LoadWithOverrides reads a pipeline configuration and applies resolved
// external values over it before validating.
func LoadWithOverrides(path string, o Overrides) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty pipeline config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported pipeline config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %v", path, err)
	}
	cfg.Apply(o)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid pipeline config %s: %v", path, err)
	}
	return cfg, nil
}
