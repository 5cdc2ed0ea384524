// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux && !darwin

package main

import (
	"io"
	"runtime"

	"github.com/cockroachdb/errors"

	"github.com/bahamoth/minidump-writer/internal/config"
)

type platform struct{}

func newPlatform(*config.Config) (*platform, error) {
	return nil, errors.Newf("minidumps cannot be written on %s", runtime.GOOS)
}

func (*platform) dump(int, io.WriteSeeker) ([]byte, []error, error) { panic("unreachable") }
func (*platform) threads(io.Writer, int) error                      { panic("unreachable") }
func (*platform) mappings(io.Writer, int) error                     { panic("unreachable") }
func (*platform) modules(io.Writer, int) error                      { panic("unreachable") }
