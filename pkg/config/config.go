// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the configuration of the optimizer, read from YAML files.
//
// Example:
//
//	convention: empty_is_no_op
//	on_failure: abort
//	disabled: [TransposeReshapeFusionPass]
//	parallelism: 4
package config

import (
	"bytes"
	"io"
	"os"
	"slices"

	"github.com/gomlx/opfusion/pkg/fusion"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/gomlx/opfusion/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvConfig is the environment variable with the path of the configuration file used by FromEnv.
const EnvConfig = "OPFUSION_CONFIG"

// OnFailure policies, for passes ending with status.Failed or status.ParamInvalid.
const (
	// OnFailureSkip logs the failure and continues with the next pass: the failing pass keeps
	// the mappings it fused before failing.
	OnFailureSkip = "skip"

	// OnFailureAbort stops the optimization of the graph and returns the error.
	OnFailureAbort = "abort"
)

// Config of the optimizer.
type Config struct {
	// Convention is the default verification convention of passes that don't declare one:
	// "not_changed" or "empty_is_no_op".
	Convention string `yaml:"convention"`

	// OnFailure is OnFailureSkip or OnFailureAbort.
	OnFailure string `yaml:"on_failure"`

	// Enabled, if not empty, lists the only passes to run. Disabled passes are never run.
	Enabled  []string `yaml:"enabled,omitempty"`
	Disabled []string `yaml:"disabled,omitempty"`

	// MaxMappings caps the mappings matched per pattern. 0 means no limit.
	MaxMappings int `yaml:"max_mappings,omitempty"`

	// Parallelism is the number of graphs optimized at the same time by RunAll.
	// 0 optimizes them sequentially and -1 means no limit.
	Parallelism int `yaml:"parallelism"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Convention:  fusion.ConventionNotChanged.String(),
		OnFailure:   OnFailureSkip,
		Parallelism: 1,
	}
}

// Parse reads a YAML configuration. Fields not given keep their default values, and unknown
// fields are an error.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, status.Wrapf(err, status.ParamInvalid, "parsing configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the YAML configuration file. A leading "~" in path is expanded.
func Load(path string) (*Config, error) {
	data, err := fsutil.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessage(err, "reading configuration")
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration file %q", path)
	}
	return cfg, nil
}

// FromEnv loads the file named by $OPFUSION_CONFIG, or returns Default if it is not set.
func FromEnv() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks the values of the configuration.
func (c *Config) Validate() error {
	if _, err := fusion.ConventionFromString(c.Convention); err != nil {
		return err
	}
	if c.OnFailure != OnFailureSkip && c.OnFailure != OnFailureAbort {
		return status.Errorf(status.ParamInvalid, "on_failure must be %q or %q, got %q",
			OnFailureSkip, OnFailureAbort, c.OnFailure)
	}
	if c.MaxMappings < 0 {
		return status.Errorf(status.ParamInvalid, "max_mappings must be >= 0, got %d", c.MaxMappings)
	}
	if c.Parallelism < -1 {
		return status.Errorf(status.ParamInvalid, "parallelism must be >= -1, got %d", c.Parallelism)
	}
	for _, name := range c.Enabled {
		if slices.Contains(c.Disabled, name) {
			return status.Errorf(status.ParamInvalid, "pass %q is both enabled and disabled", name)
		}
	}
	return nil
}

// VerifyConvention returns the parsed Convention.
func (c *Config) VerifyConvention() fusion.Convention {
	convention, _ := fusion.ConventionFromString(c.Convention)
	return convention
}

// IsEnabled returns whether the pass should run.
func (c *Config) IsEnabled(pass string) bool {
	if slices.Contains(c.Disabled, pass) {
		return false
	}
	return len(c.Enabled) == 0 || slices.Contains(c.Enabled, pass)
}

// Marshal returns the YAML representation of the configuration.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	return data, errors.WithStack(err)
}
