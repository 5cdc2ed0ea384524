// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StopTimeout != 100*time.Millisecond {
		t.Errorf("StopTimeout = %s", cfg.StopTimeout)
	}
	if cfg.MemoryReader != ReaderAuto || cfg.Jobs != 4 || cfg.ModuleCacheSize != 256 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minidump.toml")
	err := os.WriteFile(path, []byte(`
stop_timeout = "2s"
sanitize_stack = true
memory_reader = "procfs"
jobs = 2
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("MINIDUMP_MEMORY_READER", "ptrace")
	t.Setenv("MINIDUMP_OUTPUT_DIR", "/tmp/dumps")

	cfg, err := Load(path, map[string]any{"jobs": 8})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StopTimeout != 2*time.Second || !cfg.SanitizeStack {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.MemoryReader != ReaderPtrace || cfg.OutputDir != "/tmp/dumps" {
		t.Errorf("environment values not applied: %+v", cfg)
	}
	if cfg.Jobs != 8 {
		t.Errorf("flag value not applied: jobs = %d", cfg.Jobs)
	}
}

func TestInvalid(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml"), nil); err == nil {
		t.Error("missing config file accepted")
	}
	if _, err := Load("", map[string]any{"memory_reader": "magic"}); err == nil {
		t.Error("unknown memory reader accepted")
	}
	if _, err := Load("", map[string]any{"jobs": 0}); err == nil {
		t.Error("zero jobs accepted")
	}
}
