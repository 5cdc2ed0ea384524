// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package linux writes minidumps of live Linux processes.
//
// The target is stopped with SIGSTOP and each of its threads is attached
// with ptrace. Memory, mappings and the auxiliary vector are read through
// procfs or process_vm_readv. Parsing of procfs files is portable so it can
// be tested anywhere; everything that touches a process is Linux only.
package linux
