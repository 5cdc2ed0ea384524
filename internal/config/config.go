// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads minidump-writer settings.
//
// Sources are layered, later ones winning: built-in defaults, a TOML
// file, MINIDUMP_* environment variables, then command-line flags.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment variables, e.g. MINIDUMP_STOP_TIMEOUT.
const EnvPrefix = "MINIDUMP_"

// Memory reader names.
const (
	ReaderAuto   = "auto"
	ReaderVM     = "vm"
	ReaderProcFS = "procfs"
	ReaderPtrace = "ptrace"
)

// Config holds the settings of the command.
type Config struct {
	StopTimeout     time.Duration `koanf:"stop_timeout"`
	SanitizeStack   bool          `koanf:"sanitize_stack"`
	MemoryReader    string        `koanf:"memory_reader"`
	OutputDir       string        `koanf:"output_dir"`
	Compress        bool          `koanf:"compress"`
	Jobs            int           `koanf:"jobs"`
	LogLevel        string        `koanf:"log_level"`
	ModuleCacheSize int           `koanf:"module_cache_size"`
}

// Defaults returns the built-in settings.
func Defaults() map[string]any {
	return map[string]any{
		"stop_timeout":      "100ms",
		"sanitize_stack":    false,
		"memory_reader":     ReaderAuto,
		"output_dir":        ".",
		"compress":          false,
		"jobs":              4,
		"log_level":         "info",
		"module_cache_size": 256,
	}
}

// Load merges the sources. path may be empty; a missing file at a non-empty
// path is an error. flags holds only the flags the user set.
func Load(path string, flags map[string]any) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, "loading defaults")
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, "config file %s", path)
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "parsing config file %s", path)
		}
	}
	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, errors.Wrap(err, "loading environment")
	}
	if len(flags) > 0 {
		if err := k.Load(confmap.Provider(flags, "."), nil); err != nil {
			return nil, errors.Wrap(err, "loading flags")
		}
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.MemoryReader {
	case ReaderAuto, ReaderVM, ReaderProcFS, ReaderPtrace:
	default:
		return errors.Newf("memory_reader %q: want one of auto, vm, procfs, ptrace", c.MemoryReader)
	}
	if c.StopTimeout < 0 {
		return errors.Newf("stop_timeout %s is negative", c.StopTimeout)
	}
	if c.Jobs < 1 {
		return errors.Newf("jobs must be at least 1, got %d", c.Jobs)
	}
	return nil
}
