// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"vfscore.dev/vfscore/pkg/log"
	"vfscore.dev/vfscore/pkg/metric"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	keepGoing bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "execute a script against a fresh VFS"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [-k] <script> - mounts the configured filesystems and executes script, one command per line ("-" reads stdin).
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.keepGoing, "k", false, "keep going after a command fails.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config)
	if err := runScript(ctx, conf, f.Arg(0), r.keepGoing, metric.NewRegistry(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "vfsctl: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// Stats implements subcommands.Command for the "stats" command.
type Stats struct {
	Run
}

// Name implements subcommands.Command.Name.
func (*Stats) Name() string {
	return "stats"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stats) Synopsis() string {
	return "execute a script and print VFS metrics"
}

// Usage implements subcommands.Command.Usage.
func (*Stats) Usage() string {
	return `stats [-k] <script> - like run, then prints the VFS metrics in Prometheus text format.
`
}

// Execute implements subcommands.Command.Execute.
func (s *Stats) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config)
	reg := metric.NewRegistry()
	status := subcommands.ExitSuccess
	if err := runScript(ctx, conf, f.Arg(0), s.keepGoing, reg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "vfsctl: %v\n", err)
		status = subcommands.ExitFailure
	}
	written, err := reg.WritePrometheus(os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vfsctl: writing metrics: %v\n", err)
		return subcommands.ExitFailure
	}
	log.Infof("Wrote %d bytes of Prometheus metric data to stdout", written)
	return status
}

// runScript builds a VFS from conf, executes the script at path and tears
// the VFS down again. Command output goes to out.
func runScript(ctx context.Context, conf *config, path string, keepGoing bool, reg *metric.Registry, out io.Writer) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	lines, err := readScript(path, r)
	if err != nil {
		return err
	}

	v, err := conf.newVFS(ctx, reg)
	if err != nil {
		return err
	}
	tk := v.NewTask()
	in := &interpreter{tk: tk, out: out, keepGoing: keepGoing}
	err = in.run(ctx, lines)

	tk.Release(ctx)
	if uerr := v.UnmountAll(ctx); uerr != nil {
		log.Warningf("unmounting: %v", uerr)
	}
	if n := v.Vnodes().Len(); n != 0 {
		log.Warningf("%d vnodes still active after unmount", n)
		for _, line := range v.Vnodes().Dump() {
			log.Warningf("  %s", line)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %d commands failed: %w", path, in.failures, err)
	}
	return nil
}
