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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
	"vfscore.dev/vfscore/pkg/errors/linuxerr"
	"vfscore.dev/vfscore/pkg/log"
	"vfscore.dev/vfscore/pkg/vfs"
)

// errScriptFailed is returned by interpreter.run when a command failed.
var errScriptFailed = errors.New("script failed")

// interpreter executes vfsctl scripts against a Task. Each line of a script
// is one command; blank lines and lines starting with '#' are ignored.
type interpreter struct {
	tk  *vfs.Task
	out io.Writer

	// keepGoing continues past failed commands.
	keepGoing bool

	failures int
}

type command struct {
	// args is the number of arguments, or -1 for a variable number of at
	// least one.
	args  int
	usage string
	fn    func(in *interpreter, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"mkdir":    {1, "mkdir PATH", (*interpreter).mkdir},
		"write":    {-1, "write PATH TEXT...", (*interpreter).write},
		"append":   {-1, "append PATH TEXT...", (*interpreter).appendFile},
		"cat":      {1, "cat PATH", (*interpreter).cat},
		"ls":       {1, "ls PATH", (*interpreter).ls},
		"stat":     {1, "stat PATH", (*interpreter).stat},
		"lstat":    {1, "lstat PATH", (*interpreter).lstat},
		"ln":       {-1, "ln [-s] TARGET PATH", (*interpreter).ln},
		"mv":       {2, "mv SRC DST", (*interpreter).mv},
		"rm":       {1, "rm PATH", (*interpreter).rm},
		"rmdir":    {1, "rmdir PATH", (*interpreter).rmdir},
		"mount":    {-1, "mount DEVICE DIR FSTYPE [FLAGS [OPTIONS]]", (*interpreter).mount},
		"umount":   {1, "umount DIR", (*interpreter).umount},
		"cd":       {1, "cd PATH", (*interpreter).cd},
		"pwd":      {0, "pwd", (*interpreter).pwd},
		"chmod":    {2, "chmod MODE PATH", (*interpreter).chmod},
		"truncate": {2, "truncate PATH LENGTH", (*interpreter).truncate},
		"readlink": {1, "readlink PATH", (*interpreter).readlink},
		"umask":    {1, "umask MODE", (*interpreter).umask},
		"df":       {1, "df PATH", (*interpreter).df},
		"mounts":   {0, "mounts", (*interpreter).mounts},
		"sync":     {0, "sync", (*interpreter).sync},
	}
}

// readScript returns the commands of a script. Files ending in ".yaml" or
// ".yml" hold a YAML list of command lines; anything else is one command
// per line.
func readScript(name string, r io.Reader) ([]string, error) {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		var lines []string
		if err := yaml.NewDecoder(r).Decode(&lines); err != nil && err != io.EOF {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		return lines, nil
	}
	var lines []string
	s := bufio.NewScanner(r)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	return lines, s.Err()
}

// run executes lines. It stops at the first failed command unless
// keepGoing is set, and returns errScriptFailed if any command failed.
func (in *interpreter) run(ctx context.Context, lines []string) error {
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := in.exec(ctx, line); err != nil {
			in.failures++
			log.Debugf("vfsctl: line %d: %v (%s)", i+1, err, linuxerr.CategoryOf(err))
			fmt.Fprintf(in.out, "%d: %s: %s\n", i+1, line, linuxerr.Name(err))
			if !in.keepGoing {
				return errScriptFailed
			}
		}
	}
	if in.failures > 0 {
		return errScriptFailed
	}
	return nil
}

func (in *interpreter) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, ok := commands[fields[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", fields[0])
	}
	args := fields[1:]
	if (cmd.args >= 0 && len(args) != cmd.args) || (cmd.args < 0 && len(args) == 0) {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.fn(in, ctx, args)
}

func (in *interpreter) mkdir(ctx context.Context, args []string) error {
	return in.tk.Mkdir(ctx, args[0], 0755)
}

func (in *interpreter) writeFile(ctx context.Context, args []string, flags int) error {
	fd, err := in.tk.Open(ctx, args[0], unix.O_CREAT|unix.O_WRONLY|flags, 0644)
	if err != nil {
		return err
	}
	defer fd.DecRef(ctx)
	_, err = fd.Write(ctx, []byte(strings.Join(args[1:], " ")+"\n"))
	return err
}

func (in *interpreter) write(ctx context.Context, args []string) error {
	return in.writeFile(ctx, args, unix.O_TRUNC)
}

func (in *interpreter) appendFile(ctx context.Context, args []string) error {
	return in.writeFile(ctx, args, unix.O_APPEND)
}

func (in *interpreter) cat(ctx context.Context, args []string) error {
	fd, err := in.tk.Open(ctx, args[0], unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer fd.DecRef(ctx)
	buf := make([]byte, 4096)
	for {
		n, err := fd.Read(ctx, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := in.out.Write(buf[:n]); err != nil {
			return err
		}
	}
}

func (in *interpreter) ls(ctx context.Context, args []string) error {
	fd, err := in.tk.Open(ctx, args[0], unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return err
	}
	defer fd.DecRef(ctx)
	ents, err := fd.ReadDirAll(ctx)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		fmt.Fprintln(in.out, e.Name)
	}
	return nil
}

func (in *interpreter) printStat(st vfs.Stat) {
	fmt.Fprintf(in.out, "ino=%d mode=%#o nlink=%d size=%d dev=%d\n", st.Ino, st.Mode, st.Nlink, st.Size, st.Dev)
}

func (in *interpreter) stat(ctx context.Context, args []string) error {
	st, err := in.tk.Stat(ctx, args[0])
	if err != nil {
		return err
	}
	in.printStat(st)
	return nil
}

func (in *interpreter) lstat(ctx context.Context, args []string) error {
	st, err := in.tk.Lstat(ctx, args[0])
	if err != nil {
		return err
	}
	in.printStat(st)
	return nil
}

func (in *interpreter) ln(ctx context.Context, args []string) error {
	switch {
	case len(args) == 3 && args[0] == "-s":
		return in.tk.Symlink(ctx, args[1], args[2])
	case len(args) == 2:
		return in.tk.Link(ctx, args[0], args[1])
	default:
		return fmt.Errorf("usage: %s", commands["ln"].usage)
	}
}

func (in *interpreter) mv(ctx context.Context, args []string) error {
	return in.tk.Rename(ctx, args[0], args[1])
}

func (in *interpreter) rm(ctx context.Context, args []string) error {
	return in.tk.Unlink(ctx, args[0])
}

func (in *interpreter) rmdir(ctx context.Context, args []string) error {
	return in.tk.Rmdir(ctx, args[0])
}

func (in *interpreter) mount(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 5 {
		return fmt.Errorf("usage: %s", commands["mount"].usage)
	}
	var (
		flags uint64
		data  string
	)
	if len(args) > 3 {
		var err error
		if flags, err = strconv.ParseUint(args[3], 0, 64); err != nil {
			return linuxerr.EINVAL
		}
	}
	if len(args) > 4 {
		data = args[4]
	}
	return in.tk.Mount(ctx, args[0], args[1], args[2], vfs.MountFlags(flags), data)
}

func (in *interpreter) umount(ctx context.Context, args []string) error {
	return in.tk.Unmount(ctx, args[0], 0)
}

func (in *interpreter) cd(ctx context.Context, args []string) error {
	return in.tk.Chdir(ctx, args[0])
}

func (in *interpreter) pwd(ctx context.Context, args []string) error {
	cwd, err := in.tk.Getcwd(vfs.DefaultMaxPath)
	if err != nil {
		return err
	}
	fmt.Fprintln(in.out, cwd)
	return nil
}

func parseMode(s string) (uint32, error) {
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil || mode&^07777 != 0 {
		return 0, linuxerr.EINVAL
	}
	return uint32(mode), nil
}

func (in *interpreter) chmod(ctx context.Context, args []string) error {
	mode, err := parseMode(args[0])
	if err != nil {
		return err
	}
	return in.tk.Chmod(ctx, args[1], mode)
}

func (in *interpreter) truncate(ctx context.Context, args []string) error {
	length, err := strconv.ParseInt(args[1], 0, 64)
	if err != nil {
		return linuxerr.EINVAL
	}
	return in.tk.Truncate(ctx, args[0], length)
}

func (in *interpreter) readlink(ctx context.Context, args []string) error {
	target, err := in.tk.Readlink(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(in.out, target)
	return nil
}

func (in *interpreter) umask(ctx context.Context, args []string) error {
	mode, err := parseMode(args[0])
	if err != nil {
		return err
	}
	in.tk.Umask(mode)
	return nil
}

func (in *interpreter) df(ctx context.Context, args []string) error {
	st, err := in.tk.Statfs(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(in.out, "type=%#x bsize=%d blocks=%d bfree=%d files=%d flags=%#x\n", st.Type, st.Bsize, st.Blocks, st.Bfree, st.Files, st.Flags)
	return nil
}

func (in *interpreter) mounts(ctx context.Context, args []string) error {
	for _, line := range in.tk.VFS().Mounts().Dump() {
		fmt.Fprintln(in.out, line)
	}
	return nil
}

func (in *interpreter) sync(ctx context.Context, args []string) error {
	return in.tk.Sync(ctx)
}
