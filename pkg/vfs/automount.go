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

package vfs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"vfscore.dev/vfscore/pkg/errors/linuxerr"
	"vfscore.dev/vfscore/pkg/fspath"
	"vfscore.dev/vfscore/pkg/log"
)

// mkmpOption is the mount option that creates a missing mount point.
const mkmpOption = "mkmp"

// Volume describes one filesystem to mount at boot.
type Volume struct {
	// Device is the mount source.
	Device string

	// Path is the absolute mount point.
	Path string

	// Driver is the registered filesystem type name.
	Driver string

	// Flags are passed to Mount.
	Flags MountFlags

	// Options is the driver option string.
	Options string

	// VFSOptions is a comma-separated list of options interpreted by the
	// VFS itself. "mkmp" creates the mount point if it is missing.
	VFSOptions string
}

// String returns vol in fstab form.
func (vol Volume) String() string {
	return fmt.Sprintf("%s:%s:%s:%#x:%s:%s", vol.Device, vol.Path, vol.Driver, uint64(vol.Flags), vol.Options, vol.VFSOptions)
}

// HasVFSOption returns true if opt is one of vol's VFS options.
func (vol Volume) HasVFSOption(opt string) bool {
	for _, o := range strings.Split(vol.VFSOptions, ",") {
		if o == opt {
			return true
		}
	}
	return false
}

// ParseVolume parses an fstab entry of the form
// "device:path:driver:flags:options:vfsoptions". device, path and driver
// are required and path must be absolute. flags is an integer in any base
// accepted by strconv.ParseUint with base 0. Trailing fields may be
// omitted.
func ParseVolume(entry string) (Volume, error) {
	fields := strings.SplitN(entry, ":", 6)
	for len(fields) < 6 {
		fields = append(fields, "")
	}
	vol := Volume{
		Device:     fields[0],
		Path:       fields[1],
		Driver:     fields[2],
		Options:    fields[4],
		VFSOptions: fields[5],
	}
	if vol.Device == "" || vol.Path == "" || vol.Driver == "" {
		return Volume{}, fmt.Errorf("fstab entry %q: device, path and driver are required: %w", entry, linuxerr.EINVAL)
	}
	if vol.Path[0] != '/' {
		return Volume{}, fmt.Errorf("fstab entry %q: mount point must be absolute: %w", entry, linuxerr.EINVAL)
	}
	if fields[3] != "" {
		flags, err := strconv.ParseUint(fields[3], 0, 64)
		if err != nil {
			return Volume{}, fmt.Errorf("fstab entry %q: bad flags %q: %w", entry, fields[3], linuxerr.EINVAL)
		}
		vol.Flags = MountFlags(flags)
	}
	return vol, nil
}

// Automount mounts rootfs at "/" and then each of volumes in order. rootfs
// is skipped if it has no driver. Mounting stops at the first failure,
// which is returned.
func (v *VirtualFilesystem) Automount(ctx context.Context, rootfs Volume, volumes []Volume) error {
	if rootfs.Driver != "" {
		log.Infof("vfs: mounting rootfs %q (%s)", rootfs.Device, rootfs.Driver)
		if err := v.Mount(ctx, rootfs.Device, "/", rootfs.Driver, rootfs.Flags, rootfs.Options); err != nil {
			return fmt.Errorf("mounting rootfs: %w", err)
		}
	}
	for _, vol := range volumes {
		if vol.HasVFSOption(mkmpOption) && vol.Path != "/" {
			if err := v.makeMountPoint(ctx, vol.Path); err != nil {
				return fmt.Errorf("creating mount point %s: %w", vol.Path, err)
			}
		}
		if err := v.Mount(ctx, vol.Device, vol.Path, vol.Driver, vol.Flags, vol.Options); err != nil {
			return fmt.Errorf("mounting %q at %s: %w", vol.Device, vol.Path, err)
		}
	}
	return nil
}

// makeMountPoint creates every missing directory along path with mode
// 0700.
func (v *VirtualFilesystem) makeMountPoint(ctx context.Context, path string) error {
	p, err := fspath.Parse(path)
	if err != nil {
		return err
	}
	cur := "/"
	for it := p.Begin; it.Ok(); it = it.Next() {
		name := it.String()
		if name == "." || name == ".." {
			return linuxerr.EINVAL
		}
		cur = fspath.Join(cur, name)
		if err := v.mkdir(ctx, cur, 0700); err != nil && !linuxerr.Equals(linuxerr.EEXIST, err) {
			return err
		}
	}
	return nil
}

// UnmountAll unmounts every mount, deepest first and the root mount last.
// It continues past failures and returns the first one.
func (v *VirtualFilesystem) UnmountAll(ctx context.Context) error {
	mounts := v.mounts.Mounts()
	depth := func(m *Mount) int {
		if m.path == "/" {
			return 0
		}
		return strings.Count(m.path, "/")
	}
	sort.SliceStable(mounts, func(i, j int) bool {
		return depth(mounts[i]) > depth(mounts[j])
	})
	var first error
	for _, m := range mounts {
		var flags UnmountFlags
		if m.covered == nil {
			flags = UnmountForce
		}
		if err := v.Unmount(ctx, m.path, flags); err != nil {
			log.Warningf("vfs: unmounting %s: %v", m.path, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
