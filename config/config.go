// Package config loads VM configuration from an optional inko.toml file
// and INKO_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/YorickPeterse/inko/vm"
)

// Config is the on-disk and environment configuration surface. Zero
// fields fall back to the VM defaults.
type Config struct {
	// Concurrency is the primary pool thread count, BlockingThreads the
	// blocking pool thread count.
	Concurrency     int `toml:"concurrency"`
	BlockingThreads int `toml:"blocking-threads"`

	// Reductions is the quantum a process gets per resumption.
	Reductions int `toml:"reductions"`

	// YoungThreshold and MatureThreshold trigger per-process
	// collections, in objects allocated per generation.
	YoungThreshold  int `toml:"young-heap-threshold"`
	MatureThreshold int `toml:"mature-heap-threshold"`

	// FinalizerThreads sizes the pool releasing dead file and socket
	// handles. Negative values release them inline.
	FinalizerThreads int `toml:"finalizer-threads"`

	// Log is the commonlog verbosity, 0 meaning quiet.
	Log int `toml:"log"`
}

// Load parses inko.toml from the given directory. A missing file yields
// a zero Config.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "inko.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return &c, nil
}

// FromEnvironment overlays INKO_* environment variables onto c. Set
// variables win over file values; malformed values are an error rather
// than a silent default.
func (c *Config) FromEnvironment() error {
	fields := []struct {
		name string
		dst  *int
	}{
		{"INKO_CONCURRENCY", &c.Concurrency},
		{"INKO_BLOCKING_THREADS", &c.BlockingThreads},
		{"INKO_REDUCTIONS", &c.Reductions},
		{"INKO_YOUNG_HEAP_THRESHOLD", &c.YoungThreshold},
		{"INKO_MATURE_HEAP_THRESHOLD", &c.MatureThreshold},
		{"INKO_FINALIZER_THREADS", &c.FinalizerThreads},
		{"INKO_LOG", &c.Log},
	}
	for _, f := range fields {
		value, ok := os.LookupEnv(f.name)
		if !ok || value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", f.name, value)
		}
		*f.dst = n
	}
	return nil
}

// Machine converts c into the VM's configuration; zero fields take the
// VM defaults there.
func (c *Config) Machine() vm.Config {
	return vm.Config{
		PrimaryWorkers:   c.Concurrency,
		BlockingWorkers:  c.BlockingThreads,
		Reductions:       c.Reductions,
		YoungThreshold:   c.YoungThreshold,
		MatureThreshold:  c.MatureThreshold,
		FinalizerThreads: c.FinalizerThreads,
	}
}
