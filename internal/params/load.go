package params

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileSpace is the on-disk shape shared by the YAML and TOML formats.
type fileSpace struct {
	Sets []fileSet `yaml:"sets" toml:"sets"`
}

type fileSet struct {
	Name   string         `yaml:"name" toml:"name"`
	Values map[string]int `yaml:"values" toml:"values"`
}

// Load reads a parameter space from a .yaml, .yml or .toml file.
// Sets keep the order in which they appear in the file.
func Load(path string) (*Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parameter file load failed (%s): %w", path, err)
	}

	var doc fileSpace
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parameter file parse failed (%s): %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("parameter file parse failed (%s): %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported parameter file extension %q (want .yaml, .yml or .toml)", ext)
	}

	sets := make([]Set, 0, len(doc.Sets))
	for i, fs := range doc.Sets {
		s, err := NewSet(fs.Name, fs.Values)
		if err != nil {
			return nil, fmt.Errorf("%s: set[%d]: %w", path, i, err)
		}
		sets = append(sets, s)
	}

	space, err := NewSpace(sets...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return space, nil
}
