// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Skip aix and plan9: github.com/chzyer/readline doesn't support them.
//
//go:build !aix && !plan9

// The minidump-writer tool writes minidumps of running processes and shows
// what a dump of them would contain.
// Run "minidump-writer help" for a list of commands.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bahamoth/minidump-writer/internal/config"
)

// Top-level command.
var cmdRoot = &cobra.Command{
	Use:   "minidump-writer",
	Short: "minidump-writer writes minidumps of running processes",
	Long: `
minidump-writer writes minidumps of running processes.

  minidump-writer dump <pid>...

writes <pid>.dmp for each process into the output directory. The
inspection commands show what a dump would contain:

  minidump-writer threads <pid>
  minidump-writer mappings <pid>
  minidump-writer modules <pid>

The following command starts an interactive shell for a process.

  minidump-writer shell <pid>

Settings come from defaults, the file named by --config, MINIDUMP_*
environment variables and flags, in increasing priority.
`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
}

// Subcommands
var (
	cmdDump = &cobra.Command{
		Use:   "dump <pid>...",
		Short: "write a minidump of each process",
		Args:  cobra.ArbitraryArgs,
		RunE:  runDump,
	}

	cmdThreads = &cobra.Command{
		Use:   "threads <pid>",
		Short: "list threads with their stack and instruction pointers",
		Args:  cobra.RangeArgs(0, 1),
		RunE:  runThreads,
	}

	cmdMappings = &cobra.Command{
		Use:   "mappings <pid>",
		Short: "print virtual memory mappings",
		Args:  cobra.RangeArgs(0, 1),
		RunE:  runMappings,
	}

	cmdModules = &cobra.Command{
		Use:   "modules <pid>",
		Short: "print the modules a dump would list, with their identifiers",
		Args:  cobra.RangeArgs(0, 1),
		RunE:  runModules,
	}

	cmdShell = &cobra.Command{
		Use:   "shell <pid>",
		Short: "inspect a process interactively",
		Args:  cobra.ExactArgs(1),
		RunE:  runShell,
	}
)

var (
	cfgFile string
	cfg     *config.Config
	plat    *platform

	// shellPid is the process the interactive shell works on.
	shellPid int
)

func init() {
	pf := cmdRoot.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "TOML configuration file")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.Duration("stop-timeout", 100*time.Millisecond, "how long to wait for a process to stop")
	pf.String("memory-reader", config.ReaderAuto, "memory reader: auto, vm, procfs or ptrace")
	pf.Int("module-cache-size", 256, "number of module identifiers to remember")

	df := cmdDump.Flags()
	df.StringP("output-dir", "o", ".", "directory to write dumps into")
	df.Bool("compress", false, "write zstd compressed .dmp.zst files")
	df.IntP("jobs", "j", 4, "number of processes to dump at once")
	df.Bool("sanitize-stack", false, "scrub stack words that do not look like pointers")

	cmdRoot.AddCommand(
		cmdDump,
		cmdThreads,
		cmdMappings,
		cmdModules,
		cmdShell)
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers the flags the user set over the other sources.
func loadConfig(cmd *cobra.Command, args []string) error {
	if cfg != nil {
		// Already loaded by the shell.
		return nil
	}
	c, err := config.Load(cfgFile, changedFlags(cmd.Flags()))
	if err != nil {
		return err
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.Wrap(err, "log_level")
	}
	log.SetLevel(level)
	p, err := newPlatform(c)
	if err != nil {
		return err
	}
	cfg, plat = c, p
	return nil
}

// changedFlags maps flags set on the command line to configuration keys.
func changedFlags(fs *pflag.FlagSet) map[string]any {
	m := make(map[string]any)
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		m[strings.ReplaceAll(f.Name, "-", "_")] = f.Value.String()
	})
	return m
}

// pidArgs parses process ids, falling back to the shell's process.
func pidArgs(args []string) ([]int, error) {
	if len(args) == 0 {
		if shellPid == 0 {
			return nil, errors.New("no process id given")
		}
		return []int{shellPid}, nil
	}
	pids := make([]int, len(args))
	for i, a := range args {
		pid, err := strconv.Atoi(a)
		if err != nil || pid <= 0 {
			return nil, errors.Newf("can't parse %q as a process id", a)
		}
		pids[i] = pid
	}
	return pids, nil
}

func pidArg(args []string) (int, error) {
	pids, err := pidArgs(args)
	if err != nil {
		return 0, err
	}
	return pids[0], nil
}

func runDump(cmd *cobra.Command, args []string) error {
	pids, err := pidArgs(args)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}
	var g errgroup.Group
	g.SetLimit(cfg.Jobs)
	for _, pid := range pids {
		g.Go(func() error { return dumpOne(cmd.OutOrStdout(), pid) })
	}
	return g.Wait()
}

// dumpOne writes the dump of pid into the output directory.
func dumpOne(out io.Writer, pid int) (err error) {
	name := fmt.Sprintf("%d.dmp", pid)
	if cfg.Compress {
		name += ".zst"
	}
	path := filepath.Join(cfg.OutputDir, name)
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	// A compressed dump is encoded once complete.
	var dst io.WriteSeeker = f
	if cfg.Compress {
		dst = nil
	}
	data, softErrs, err := plat.dump(pid, dst)
	if err != nil {
		return errors.Wrapf(err, "dumping process %d", pid)
	}
	if cfg.Compress {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		if _, err := enc.Write(data); err != nil {
			enc.Close()
			return errors.Wrapf(err, "compressing %s", path)
		}
		if err := enc.Close(); err != nil {
			return errors.Wrapf(err, "compressing %s", path)
		}
	}
	for _, e := range softErrs {
		log.WithError(e).WithField("pid", pid).Debug("soft error")
	}
	log.WithFields(log.Fields{
		"pid":         pid,
		"size":        humanize.IBytes(uint64(len(data))),
		"soft_errors": len(softErrs),
	}).Info("wrote minidump")
	fmt.Fprintln(out, path)
	return nil
}

func runThreads(cmd *cobra.Command, args []string) error {
	pid, err := pidArg(args)
	if err != nil {
		return err
	}
	return plat.threads(cmd.OutOrStdout(), pid)
}

func runMappings(cmd *cobra.Command, args []string) error {
	pid, err := pidArg(args)
	if err != nil {
		return err
	}
	return plat.mappings(cmd.OutOrStdout(), pid)
}

func runModules(cmd *cobra.Command, args []string) error {
	pid, err := pidArg(args)
	if err != nil {
		return err
	}
	return plat.modules(cmd.OutOrStdout(), pid)
}

func runShell(cmd *cobra.Command, args []string) error {
	pid, err := pidArg(args)
	if err != nil {
		return err
	}
	shellPid = pid

	// Create a dummy root to run in shell.
	root := &cobra.Command{SilenceUsage: true}
	for _, subcmd := range cmdRoot.Commands() {
		switch subcmd.Name() {
		case "help":
			root.SetHelpCommand(subcmd)
			continue
		case "shell":
			continue
		}
		root.AddCommand(subcmd)
	}
	// Also, add exit command to terminate the shell.
	done := false
	root.AddCommand(&cobra.Command{
		Use:     "exit",
		Aliases: []string{"quit", "bye"},
		Short:   "exit from interactive mode",
		Run:     func(*cobra.Command, []string) { done = true },
	})

	rootCompleter := readline.NewPrefixCompleter()
	for _, child := range root.Commands() {
		cmdToCompleter(rootCompleter, child)
	}
	shell, err := readline.NewEx(&readline.Config{
		Prompt:       fmt.Sprintf("(pid %d) ", pid),
		AutoComplete: rootCompleter,
		EOFPrompt:    "\n",
	})
	if err != nil {
		return err
	}
	defer shell.Close()

	fmt.Fprintf(shell.Terminal, "Inspecting process %d (type 'help' for commands)\n", pid)
	for !done {
		l, err := shell.Readline()
		if err != nil {
			if err != io.EOF && err != readline.ErrInterrupt {
				fmt.Printf("Error: %v\n", err)
			}
			break
		}
		err = capturePanic(func() {
			root.SetArgs(strings.Fields(l))
			root.Execute()
		})
		if err != nil {
			fmt.Printf("Error while trying to run command %q: %v", l, err)
		}
	}
	return nil
}

func capturePanic(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("%v\nStack: %s\n", r, debug.Stack())
		}
	}()

	fn()
	return nil
}

func cmdToCompleter(parent readline.PrefixCompleterInterface, c *cobra.Command) {
	completer := readline.PcItem(c.Name())
	parent.SetChildren(append(parent.GetChildren(), completer))
	for _, child := range c.Commands() {
		cmdToCompleter(completer, child)
	}
}
