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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"vfscore.dev/vfscore/pkg/log"
	"vfscore.dev/vfscore/pkg/metric"
	"vfscore.dev/vfscore/pkg/refs"
	"vfscore.dev/vfscore/pkg/vfs"
	"vfscore.dev/vfscore/pkg/vfs/ramfs"
)

// rootfsConfig describes the filesystem mounted at "/".
type rootfsConfig struct {
	Device  string `toml:"device" yaml:"device"`
	Driver  string `toml:"driver" yaml:"driver"`
	Flags   uint64 `toml:"flags" yaml:"flags"`
	Options string `toml:"options" yaml:"options"`
}

// config is the configuration of vfsctl, read from a TOML or YAML file.
type config struct {
	// LogLevel is one of "warning", "info" or "debug".
	LogLevel string `toml:"log_level" yaml:"log_level"`

	// LogFormat is one of "text", "json" or "logrus".
	LogFormat string `toml:"log_format" yaml:"log_format"`

	// LogFile is the log destination. Empty means stderr.
	LogFile string `toml:"log_file" yaml:"log_file"`

	MaxSymlinks int `toml:"max_symlinks" yaml:"max_symlinks"`

	// Umask is an octal string, e.g. "022".
	Umask string `toml:"umask" yaml:"umask"`

	// LeakCheck is one of "disabled", "log-names" or "panic".
	LeakCheck string `toml:"leak_check" yaml:"leak_check"`

	// Fstab holds volume entries in vfs.ParseVolume form, mounted in
	// order after the root filesystem.
	Fstab []string `toml:"fstab" yaml:"fstab"`

	Rootfs rootfsConfig `toml:"rootfs" yaml:"rootfs"`
}

// defaultConfig returns the configuration used without a config file.
func defaultConfig() *config {
	return &config{
		LogLevel:  "warning",
		LogFormat: "text",
		LeakCheck: "log-names",
		Rootfs: rootfsConfig{
			Device: "rootfs",
			Driver: ramfs.Name,
		},
	}
}

// loadConfig reads the config file at path on top of the defaults. The
// format is selected by the file extension: ".yaml" and ".yml" are YAML,
// everything else is TOML.
func loadConfig(path string) (*config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, c)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, fmt.Errorf("parsing %s: unknown keys %v", path, undec)
		}
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c *config) validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json", "logrus":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	if _, err := c.umask(); err != nil {
		return err
	}
	var mode refs.LeakMode
	if err := mode.Set(c.LeakCheck); err != nil {
		return err
	}
	if c.MaxSymlinks < 0 {
		return fmt.Errorf("invalid max_symlinks %d", c.MaxSymlinks)
	}
	for _, entry := range c.Fstab {
		if _, err := vfs.ParseVolume(entry); err != nil {
			return err
		}
	}
	return nil
}

// umask returns the configured umask, or nil for the default.
func (c *config) umask() (*uint32, error) {
	if c.Umask == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(c.Umask, 8, 32)
	if err != nil || v&^0777 != 0 {
		return nil, fmt.Errorf("invalid umask %q", c.Umask)
	}
	mask := uint32(v)
	return &mask, nil
}

// setupLogging installs the configured emitter and level. It returns the
// opened log file, if any, for the caller to close.
func (c *config) setupLogging(stderr io.Writer) (io.Closer, error) {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	out := stderr
	var closer io.Closer
	if c.LogFile != "" {
		f, err := log.OpenFile(c.LogFile)
		if err != nil {
			return nil, err
		}
		out, closer = f, f
	}
	log.SetTarget(newEmitter(c.LogFormat, out))
	log.SetLevel(level)

	var mode refs.LeakMode
	if err := mode.Set(c.LeakCheck); err != nil {
		return closer, err
	}
	refs.SetLeakMode(mode)
	return closer, nil
}

func newEmitter(format string, w io.Writer) log.Emitter {
	switch format {
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: w}}
	case "logrus":
		return log.NewLogrusEmitter(w, false /* json */)
	default:
		return log.GoogleEmitter{Writer: &log.Writer{Next: w}}
	}
}

// newVFS builds a VFS from c, with ramfs registered and the root
// filesystem and fstab volumes mounted.
func (c *config) newVFS(ctx context.Context, reg *metric.Registry) (*vfs.VirtualFilesystem, error) {
	umask, err := c.umask()
	if err != nil {
		return nil, err
	}
	v, err := vfs.New(vfs.Options{
		MaxSymlinks: c.MaxSymlinks,
		Umask:       umask,
		Metrics:     reg,
	})
	if err != nil {
		return nil, err
	}
	v.MustRegisterFilesystem(ramfs.Name, ramfs.FilesystemType{})

	volumes := make([]vfs.Volume, 0, len(c.Fstab))
	for _, entry := range c.Fstab {
		vol, err := vfs.ParseVolume(entry)
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, vol)
	}
	rootfs := vfs.Volume{
		Device:  c.Rootfs.Device,
		Path:    "/",
		Driver:  c.Rootfs.Driver,
		Flags:   vfs.MountFlags(c.Rootfs.Flags),
		Options: c.Rootfs.Options,
	}
	if err := v.Automount(ctx, rootfs, volumes); err != nil {
		if uerr := v.UnmountAll(ctx); uerr != nil {
			log.Warningf("unwinding mounts: %v", uerr)
		}
		return nil, err
	}
	return v, nil
}
