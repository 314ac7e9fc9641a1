package main

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/joeycumines/go-tinykernel/internal/devices"
)

// config is the boot configuration loaded from a TOML file. MLFQS can also
// be switched on from the command line with -o mlfqs; Freq has no flag.
type config struct {
	// Freq is the PIT interrupt frequency in Hz, clamped to
	// [devices.MinFreq, devices.MaxFreq] by devices.New.
	Freq int `toml:"pit_freq"`

	// MLFQS selects the multi-level feedback queue scheduling policy
	// instead of plain round-robin-by-priority. Only round-robin is
	// implemented; MLFQS is accepted and recorded but not yet wired,
	// the same "documented but inert" status leaves it at.
	MLFQS bool `toml:"mlfqs"`
}

// defaultConfig matches: 100 Hz, round-robin-priority, MLFQS off.
func defaultConfig() config {
	return config{Freq: devices.DefaultFreq, MLFQS: false}
}

// loadConfig reads path as TOML into defaultConfig's base, so a config file
// only needs to mention the fields it overrides.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("tinykerneld: load config %s: %w", path, err)
	}
	return cfg, nil
}
