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
	"vfscore.dev/vfscore/pkg/vfs"
)

// Fstab implements subcommands.Command for the "fstab" command.
type Fstab struct{}

// Name implements subcommands.Command.Name.
func (*Fstab) Name() string {
	return "fstab"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Fstab) Synopsis() string {
	return "parse and print fstab entries"
}

// Usage implements subcommands.Command.Usage.
func (*Fstab) Usage() string {
	return `fstab [entry...] - parses each "device:path:driver[:flags[:options[:vfsoptions]]]" entry, or the configured fstab if none are given.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Fstab) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Fstab) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	entries := f.Args()
	if len(entries) == 0 {
		entries = args[0].(*config).Fstab
	}
	if err := printFstab(os.Stdout, entries); err != nil {
		fmt.Fprintf(os.Stderr, "vfsctl: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printFstab(w io.Writer, entries []string) error {
	for _, entry := range entries {
		vol, err := vfs.ParseVolume(entry)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "device=%s path=%s driver=%s flags=%#x options=%q mkmp=%t\n",
			vol.Device, vol.Path, vol.Driver, uint64(vol.Flags), vol.Options, vol.HasVFSOption("mkmp"))
	}
	return nil
}
