package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DiscoveryConfig configures manifest-based discovery of executor
// binaries/endpoints under a set of directories.
type DiscoveryConfig struct {
	Enabled            bool
	Paths              []string
	ScanSubdirectories bool
}

// NewDiscoveryConfig returns a config scanning "./executors" by default.
func NewDiscoveryConfig() *DiscoveryConfig {
	return &DiscoveryConfig{
		Enabled:            true,
		Paths:              []string{"./executors"},
		ScanSubdirectories: true,
	}
}

// manifestFile is the on-disk YAML shape of an executor manifest,
// wrapped in a top-level "executor:" key.
type manifestFile struct {
	Executor struct {
		Name         string   `yaml:"name"`
		Version      string   `yaml:"version"`
		Kind         string   `yaml:"kind"`
		Capabilities []string `yaml:"capabilities"`
		Path         string   `yaml:"path"`
	} `yaml:"executor"`
}

// Discover walks cfg.Paths for "*.executor.yaml" manifests and returns
// the parsed Manifest for each. A manifest that fails to load (bad
// YAML, a missing name or kind, or a netrpc manifest whose path is not
// an existing file) makes Discover return that error and no manifests.
// Manifests of other kinds are returned without checking their path.
func Discover(cfg *DiscoveryConfig) ([]Manifest, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	var out []Manifest
	seen := map[string]bool{}

	for _, root := range cfg.Paths {
		root = expandPath(root)
		info, err := os.Stat(root)
		if err != nil {
			continue // an unconfigured path is not an error
		}
		if !info.IsDir() {
			continue
		}

		walker := func(path string) error {
			if !strings.HasSuffix(path, ".executor.yaml") {
				return nil
			}
			if seen[path] {
				return nil
			}
			seen[path] = true

			m, err := loadManifest(path)
			if err != nil {
				return fmt.Errorf("executor: discover %s: %w", path, err)
			}
			out = append(out, m)
			return nil
		}

		if cfg.ScanSubdirectories {
			err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
				if err != nil || fi.IsDir() {
					return err
				}
				return walker(path)
			})
		} else {
			entries, rerr := os.ReadDir(root)
			if rerr != nil {
				return nil, fmt.Errorf("executor: read %s: %w", root, rerr)
			}
			for _, ent := range entries {
				if ent.IsDir() {
					continue
				}
				if werr := walker(filepath.Join(root, ent.Name())); werr != nil {
					err = werr
				}
			}
		}
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func loadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var f manifestFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Manifest{}, fmt.Errorf("parse yaml: %w", err)
	}
	if f.Executor.Name == "" {
		return Manifest{}, fmt.Errorf("manifest missing required field: name")
	}
	if f.Executor.Kind == "" {
		return Manifest{}, fmt.Errorf("manifest missing required field: kind")
	}

	m := Manifest{
		Name:         f.Executor.Name,
		Version:      f.Executor.Version,
		Kind:         Kind(f.Executor.Kind),
		Capabilities: f.Executor.Capabilities,
		Path:         f.Executor.Path,
	}

	if m.Kind == KindNetRPC {
		if m.Path == "" {
			return Manifest{}, fmt.Errorf("netrpc manifest %s requires path", m.Name)
		}
		if fi, err := os.Stat(m.Path); err != nil || fi.IsDir() {
			return Manifest{}, fmt.Errorf("netrpc manifest %s path %s is not an executable file", m.Name, m.Path)
		}
	}

	return m, nil
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
