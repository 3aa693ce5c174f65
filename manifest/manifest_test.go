package manifest

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[runtime]
memory = 131072
max-instructions = 1000000
trace = true

[log]
verbosity = 2
file = "logs/cellvm.log"

[run]
source = "scripts/main.casm"
entry = "start"
args = [1, -2]
parallel = 4
dump = "crash.cbor"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Runtime.Memory != 131072 {
		t.Errorf("runtime memory = %d, want 131072", m.Runtime.Memory)
	}
	if m.Runtime.MaxInstructions != 1000000 {
		t.Errorf("max-instructions = %d", m.Runtime.MaxInstructions)
	}
	if !m.Runtime.Trace {
		t.Error("trace = false, want true")
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", m.Log.Verbosity)
	}
	if m.Run.Entry != "start" || m.Run.Parallel != 4 || m.Run.Dump != "crash.cbor" {
		t.Errorf("run = %+v", m.Run)
	}
	if !reflect.DeepEqual(m.Run.Args, []int32{1, -2}) {
		t.Errorf("args = %v", m.Run.Args)
	}
	if got := m.SourcePath(); got != filepath.Join(m.Dir, "scripts", "main.casm") {
		t.Errorf("SourcePath = %q", got)
	}
	if got := m.LogFile(); got == nil || *got != filepath.Join(m.Dir, "logs", "cellvm.log") {
		t.Errorf("LogFile = %v", got)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[run]
source = "a.casm"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()
	if m.Runtime != def.Runtime {
		t.Errorf("runtime = %+v, want %+v", m.Runtime, def.Runtime)
	}
	if m.Run.Entry != "main" || m.Run.Parallel != 1 {
		t.Errorf("run = %+v", m.Run)
	}
	if m.LogFile() != nil {
		t.Errorf("LogFile = %v, want stderr", *m.LogFile())
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[runtime\n"},
		{"unknown key", "[runtime]\nstack = 4\n"},
		{"odd memory", "[runtime]\nmemory = 1001\n"},
		{"zero parallel", "[run]\nparallel = 0\n"},
		{"negative verbosity", "[log]\nverbosity = -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			if _, err := Load(dir); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[run]\nentry = \"found\"\n")

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Run.Entry != "found" {
		t.Errorf("entry = %q, want found", m.Run.Entry)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no cellvm.toml exists")
	}
}
