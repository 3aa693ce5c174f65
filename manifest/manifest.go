// Package manifest handles cellvm.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "cellvm.toml"

// Manifest represents a cellvm.toml configuration.
type Manifest struct {
	Runtime Runtime `toml:"runtime"`
	Log     Log     `toml:"log"`
	Run     Run     `toml:"run"`

	// Dir is the directory containing the cellvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime configures each instance.
type Runtime struct {
	Memory          int    `toml:"memory"`
	MaxInstructions uint64 `toml:"max-instructions"`
	Trace           bool   `toml:"trace"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Run says what the CLI executes.
type Run struct {
	Source   string  `toml:"source"`
	Entry    string  `toml:"entry"`
	Args     []int32 `toml:"args"`
	Parallel int     `toml:"parallel"`
	Dump     string  `toml:"dump"`
}

// Default returns the configuration used when no cellvm.toml exists.
func Default() *Manifest {
	return &Manifest{
		Runtime: Runtime{Memory: 64 * 1024},
		Run:     Run{Entry: "main", Parallel: 1},
	}
}

// Load parses a cellvm.toml file from the given directory. Keys the file
// leaves out keep their Default values.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undec[0].String())
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a cellvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate rejects settings no instance could run with.
func (m *Manifest) Validate() error {
	switch {
	case m.Runtime.Memory <= 0 || m.Runtime.Memory%4 != 0:
		return fmt.Errorf("runtime.memory must be a positive multiple of 4, got %d", m.Runtime.Memory)
	case m.Run.Parallel < 1:
		return fmt.Errorf("run.parallel must be at least 1, got %d", m.Run.Parallel)
	case m.Log.Verbosity < 0:
		return fmt.Errorf("log.verbosity must not be negative, got %d", m.Log.Verbosity)
	}
	return nil
}

// SourcePath returns the script path resolved against the manifest
// directory.
func (m *Manifest) SourcePath() string {
	if m.Run.Source == "" || filepath.IsAbs(m.Run.Source) {
		return m.Run.Source
	}
	return filepath.Join(m.Dir, m.Run.Source)
}

// LogFile returns the log path, or nil for stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Log.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.Dir, path)
	}
	return &path
}
