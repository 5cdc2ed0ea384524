// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testenv provides target processes and checks for tests that
// produce minidumps.
package testenv

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

// HelperEnv selects a helper in a re-executed test binary. Its value is
// "name" or "name:arg".
const HelperEnv = "MINIDUMP_WRITER_TEST_HELPER"

// A Helper prepares the state of a target process. The returned string is
// reported to the parent on the ready line. The returned value is kept
// alive while the process waits to be dumped.
type Helper func(arg string) (string, any)

// RunHelperIfRequested runs the helper named by HelperEnv and never
// returns. It does nothing if HelperEnv is unset. Call it from TestMain.
func RunHelperIfRequested(helpers map[string]Helper) {
	req := os.Getenv(HelperEnv)
	if req == "" {
		return
	}
	name, arg, _ := strings.Cut(req, ":")
	h, ok := helpers[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "testenv: unknown helper %q\n", name)
		os.Exit(2)
	}
	line, result := h(arg)
	fmt.Printf("ready %s\n", line)
	for {
		time.Sleep(time.Hour)
		runtime.KeepAlive(result)
	}
}

// Process is a running target started for a test.
type Process struct {
	Cmd *exec.Cmd
	Pid int
	// Line is what the helper reported when it became ready.
	Line string
}

// StartHelper re-executes the test binary running the named helper and
// waits until it is ready. The process is killed when the test ends.
func StartHelper(t *testing.T, name, arg string) *Process {
	t.Helper()
	req := name
	if arg != "" {
		req += ":" + arg
	}
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), HelperEnv+"="+req)
	cmd.Stderr = os.Stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("can't get helper stdout: %s", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("can't start helper %s: %s", req, err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})
	sc := bufio.NewScanner(out)
	if !sc.Scan() {
		t.Fatalf("helper %s exited before becoming ready: %v", req, sc.Err())
	}
	line, ok := strings.CutPrefix(sc.Text(), "ready ")
	if !ok && sc.Text() != "ready" {
		t.Fatalf("helper %s: unexpected output %q", req, sc.Text())
	}
	return &Process{Cmd: cmd, Pid: cmd.Process.Pid, Line: line}
}

// StartCommand starts an external program, skipping the test if it is not
// installed. The process is killed when the test ends.
func StartCommand(t *testing.T, name string, args ...string) *Process {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %s", name, err)
	}
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		t.Fatalf("can't start %s: %s", name, err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})
	return &Process{Cmd: cmd, Pid: cmd.Process.Pid}
}

// Uint64 parses a hexadecimal value reported by a helper.
func Uint64(t *testing.T, s string) uint64 {
	t.Helper()
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		t.Fatalf("bad helper value %q: %s", s, err)
	}
	return v
}
