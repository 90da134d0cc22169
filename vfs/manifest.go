package vfs

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Manifest describes a set of files and directories to seed into a MemFS
// before a script runs — the `initial_files` half of the interpreter's
// construction contract. Both TOML and YAML manifests decode into this
// same shape, so a host can pick whichever fits its config pipeline.
type Manifest struct {
	Dirs  []string          `toml:"dirs" yaml:"dirs"`
	Files map[string]string `toml:"files" yaml:"files"`
}

// LoadManifestTOML parses a TOML seed manifest.
func LoadManifestTOML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing toml seed manifest: %w", err)
	}
	return &m, nil
}

// LoadManifestYAML parses a YAML seed manifest.
func LoadManifestYAML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing yaml seed manifest: %w", err)
	}
	return &m, nil
}

// Apply creates every directory and writes every file described by the
// manifest into fs, creating parent directories as needed.
func (m *Manifest) Apply(ctx context.Context, fs FS) error {
	for _, d := range m.Dirs {
		if err := fs.Mkdir(ctx, d, true); err != nil {
			return fmt.Errorf("seeding dir %q: %w", d, err)
		}
	}
	for p, content := range m.Files {
		dir := parentDir(p)
		if dir != "" && dir != "/" {
			if err := fs.Mkdir(ctx, dir, true); err != nil {
				return fmt.Errorf("seeding parent of %q: %w", p, err)
			}
		}
		if err := fs.WriteFile(ctx, p, []byte(content), false); err != nil {
			return fmt.Errorf("seeding file %q: %w", p, err)
		}
	}
	return nil
}

func parentDir(p string) string {
	i := len(p) - 1
	for i >= 0 && p[i] != '/' {
		i--
	}
	if i <= 0 {
		return "/"
	}
	return p[:i]
}
