// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package failspot names internal steps that tests can force to fail.
package failspot

// Spot identifies a step.
type Spot int

const (
	StopProcess Spot = iota
	FillMissingAuxvInfo
	ThreadName
	SuspendThreads
	CPUInfoFileOpen
)

var names = [...]string{
	StopProcess:         "StopProcess",
	FillMissingAuxvInfo: "FillMissingAuxvInfo",
	ThreadName:          "ThreadName",
	SuspendThreads:      "SuspendThreads",
	CPUInfoFileOpen:     "CpuInfoFileOpen",
}

func (s Spot) String() string {
	if int(s) < len(names) {
		return names[s]
	}
	return "Spot(?)"
}

// Set is the group of steps that must fail. The zero Set fails nothing.
type Set map[Spot]bool

// Enabled reports whether s must fail.
func (set Set) Enabled(s Spot) bool { return set[s] }

// Of returns a Set failing the given spots.
func Of(spots ...Spot) Set {
	set := make(Set, len(spots))
	for _, s := range spots {
		set[s] = true
	}
	return set
}
