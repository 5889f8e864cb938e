// Package config loads workload descriptions from TOML files.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

var ErrInvalidWorkload = errors.New("invalid workload")

// Workload is the shape of one traversal run.
type Workload struct {
	// Height of the perfect binary tree.
	Height int `toml:"height"`
	// BatchSize is the number of traversal elements; must be a positive
	// multiple of the vector width.
	BatchSize int `toml:"batch_size"`
	// Rounds is how many traversal/mix rounds to run.
	Rounds int `toml:"rounds"`
	// Seed drives the deterministic generation of tree and batch values.
	Seed int64 `toml:"seed"`
}

// Kernel tunes code generation.
type Kernel struct {
	// Window is the number of chunks kept in flight together; zero picks
	// the compiler default.
	Window int `toml:"window"`
	// NoRootBroadcast forces gathers even for root rounds.
	NoRootBroadcast bool `toml:"no_root_broadcast"`
}

// Config is the top-level file layout.
type Config struct {
	Workload Workload `toml:"workload"`
	Kernel   Kernel   `toml:"kernel"`
}

// Default returns the standard benchmark shape.
func Default() Config {
	return Config{
		Workload: Workload{
			Height:    10,
			BatchSize: 256,
			Rounds:    16,
		},
	}
}

// Parse decodes a TOML config, applying defaults for absent fields and
// validating the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the workload shape.
func (c *Config) Validate() error {
	w := c.Workload
	if w.Height < 1 {
		return fmt.Errorf("config: %w: height %d", ErrInvalidWorkload, w.Height)
	}
	if w.BatchSize < 1 || w.BatchSize%8 != 0 {
		return fmt.Errorf("config: %w: batch size %d must be a positive multiple of 8", ErrInvalidWorkload, w.BatchSize)
	}
	// The kernel keeps the whole batch resident in scratch.
	if w.BatchSize > 256 {
		return fmt.Errorf("config: %w: batch size %d exceeds the resident limit of 256", ErrInvalidWorkload, w.BatchSize)
	}
	if w.Rounds < 1 {
		return fmt.Errorf("config: %w: rounds %d", ErrInvalidWorkload, w.Rounds)
	}
	if c.Kernel.Window < 0 {
		return fmt.Errorf("config: %w: window %d", ErrInvalidWorkload, c.Kernel.Window)
	}
	return nil
}
