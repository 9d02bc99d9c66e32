package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "inko.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	return dir
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if *c != (Config{}) {
		t.Errorf("missing file produced %+v, want the zero config", *c)
	}
}

func TestLoadFile(t *testing.T) {
	dir := writeConfig(t, `
concurrency = 4
blocking-threads = 2
reductions = 500
young-heap-threshold = 1024
mature-heap-threshold = 2048
finalizer-threads = -1
log = 1
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	want := Config{
		Concurrency:      4,
		BlockingThreads:  2,
		Reductions:       500,
		YoungThreshold:   1024,
		MatureThreshold:  2048,
		FinalizerThreads: -1,
		Log:              1,
	}
	if *c != want {
		t.Errorf("Load = %+v, want %+v", *c, want)
	}
}

func TestLoadParseError(t *testing.T) {
	dir := writeConfig(t, "concurrency = [nonsense")

	_, err := Load(dir)
	if err == nil {
		t.Fatal("malformed TOML was accepted")
	}
	if !strings.Contains(err.Error(), "parse error") {
		t.Errorf("error = %q", err)
	}
}

func TestFromEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("INKO_CONCURRENCY", "8")
	t.Setenv("INKO_LOG", "2")

	c := &Config{Concurrency: 4, Reductions: 500}
	if err := c.FromEnvironment(); err != nil {
		t.Fatalf("FromEnvironment: %s", err)
	}
	if c.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want the environment's 8", c.Concurrency)
	}
	if c.Log != 2 {
		t.Errorf("Log = %d, want 2", c.Log)
	}
	if c.Reductions != 500 {
		t.Errorf("Reductions = %d, an unset variable clobbered the file value", c.Reductions)
	}
}

func TestFromEnvironmentIgnoresEmpty(t *testing.T) {
	t.Setenv("INKO_REDUCTIONS", "")

	c := &Config{Reductions: 500}
	if err := c.FromEnvironment(); err != nil {
		t.Fatalf("FromEnvironment: %s", err)
	}
	if c.Reductions != 500 {
		t.Errorf("Reductions = %d, want 500", c.Reductions)
	}
}

func TestFromEnvironmentRejectsGarbage(t *testing.T) {
	t.Setenv("INKO_CONCURRENCY", "many")

	err := (&Config{}).FromEnvironment()
	if err == nil {
		t.Fatal("a non-integer value was accepted")
	}
	if !strings.Contains(err.Error(), "INKO_CONCURRENCY") {
		t.Errorf("error = %q", err)
	}
}

func TestMachineMapping(t *testing.T) {
	c := &Config{
		Concurrency:      4,
		BlockingThreads:  2,
		Reductions:       500,
		YoungThreshold:   1024,
		MatureThreshold:  2048,
		FinalizerThreads: -1,
	}
	got := c.Machine()

	if got.PrimaryWorkers != 4 || got.BlockingWorkers != 2 {
		t.Error("worker counts were not carried over")
	}
	if got.Reductions != 500 {
		t.Error("reductions were not carried over")
	}
	if got.YoungThreshold != 1024 || got.MatureThreshold != 2048 {
		t.Error("heap thresholds were not carried over")
	}
	if got.FinalizerThreads != -1 {
		t.Error("finalizer threads were not carried over")
	}
}
