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

// Binary vfsctl drives the VFS from scripts, for testing and debugging
// filesystem drivers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"vfscore.dev/vfscore/pkg/log"
	"vfscore.dev/vfscore/pkg/refs"
)

var configPath = flag.String("config", "", "path to a TOML or YAML config file.")

func main() {
	forEachCmd(subcommands.Register)
	flag.Parse()

	conf, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vfsctl: %v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}
	closer, err := conf.setupLogging(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vfsctl: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}
	log.Debugf("Args: %v", os.Args)

	code := subcommands.Execute(context.Background(), conf)
	if n := refs.DoRepeatedLeakCheck(); n != 0 {
		log.Warningf("%d reference-counted objects leaked", n)
	}
	if closer != nil {
		closer.Close()
	}
	os.Exit(int(code))
}

// forEachCmd invokes cb for each command supported by vfsctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(new(Run), "")
	cb(new(Stats), "")
	cb(new(Fstab), "")
}
