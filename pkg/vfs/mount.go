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
	"sync"
	"sync/atomic"

	"vfscore.dev/vfscore/pkg/cleanup"
	"vfscore.dev/vfscore/pkg/errors/linuxerr"
	"vfscore.dev/vfscore/pkg/fspath"
	"vfscore.dev/vfscore/pkg/log"
)

// Mount is a filesystem attached to the file tree at an absolute path.
type Mount struct {
	vfs *VirtualFilesystem

	// The following fields are immutable.
	id      uint64
	path    string
	device  string
	fsName  string
	flags   MountFlags
	fs      Filesystem
	root    *Dentry
	covered *Dentry

	// busy counts the active vnodes of the mount.
	busy atomic.Int64

	// unmounting is protected by MountTable.mu.
	unmounting bool

	// Private is owned by the driver.
	Private any
}

// ID returns the unique ID of the mount. It is used as the device number of
// files that do not report one.
func (m *Mount) ID() uint64 {
	return m.id
}

// Path returns the absolute path m is mounted at.
func (m *Mount) Path() string {
	return m.path
}

// Device returns the device m was mounted from.
func (m *Mount) Device() string {
	return m.device
}

// FilesystemName returns the driver name of m.
func (m *Mount) FilesystemName() string {
	return m.fsName
}

// Flags returns the flags m was mounted with.
func (m *Mount) Flags() MountFlags {
	return m.flags
}

// ReadOnly returns true if m was mounted read-only.
func (m *Mount) ReadOnly() bool {
	return m.flags&MountReadOnly != 0
}

// Root returns the root dentry of m. The caller does not receive a
// reference.
func (m *Mount) Root() *Dentry {
	return m.root
}

// Busy returns the number of active vnodes of m.
func (m *Mount) Busy() int64 {
	return m.busy.Load()
}

// GetVnode returns the vnode for inode ino of m, referenced and locked. See
// VnodeCache.Get.
func (m *Mount) GetVnode(ctx context.Context, ino uint64) (*Vnode, bool, error) {
	return m.vfs.vnodes.Get(ctx, m, ino)
}

// Statfs returns filesystem statistics for m.
func (m *Mount) Statfs(ctx context.Context) (Statfs, error) {
	st, err := m.fs.Statfs(ctx, m)
	if err != nil {
		return Statfs{}, linuxerr.Normalize(err)
	}
	if m.ReadOnly() {
		st.Flags |= uint64(MountReadOnly)
	}
	return st, nil
}

// fullPath converts a path relative to the root of m to an absolute path.
func (m *Mount) fullPath(rel string) string {
	switch {
	case m.path == "/":
		return rel
	case rel == "/":
		return m.path
	default:
		return m.path + rel
	}
}

// MountTable holds the mounts of a VirtualFilesystem in mount order.
type MountTable struct {
	nextID atomic.Uint64

	mu     sync.Mutex
	mounts []*Mount
}

// FindRoot returns the mount whose path is the longest component-wise
// prefix of the canonical path, along with the rest of path relative to the
// mount's root (without a leading separator). It fails with ENOTDIR if no
// mount covers path.
func (t *MountTable) FindRoot(path string) (*Mount, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *Mount
	for _, m := range t.mounts {
		if !fspath.HasPrefix(path, m.path) {
			continue
		}
		if best == nil || len(m.path) > len(best.path) {
			best = m
		}
	}
	if best == nil {
		return nil, "", linuxerr.ENOTDIR
	}
	rest := path[len(best.path):]
	if len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return best, rest, nil
}

// Mounts returns a snapshot of the mount table in mount order.
func (t *MountTable) Mounts() []*Mount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Mount(nil), t.mounts...)
}

// Len returns the number of mounts.
func (t *MountTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.mounts)
}

// Dump returns a description of every mount and logs it at debug level.
func (t *MountTable) Dump() []string {
	var lines []string
	for _, m := range t.Mounts() {
		line := fmt.Sprintf("%s on %s type %s flags=%#x busy=%d", m.device, m.path, m.fsName, uint64(m.flags), m.Busy())
		log.Debugf("vfs: mount %s", line)
		lines = append(lines, line)
	}
	return lines
}

// Preconditions: t.mu is locked.
func (t *MountTable) checkAvailableLocked(path, device string) error {
	for _, m := range t.mounts {
		if m.path == path {
			return linuxerr.EBUSY
		}
		if device != "" && m.device == device {
			return linuxerr.EBUSY
		}
	}
	return nil
}

// Mount attaches a new filesystem of type fsName, read from device, at dir.
// data is passed to the driver uninterpreted.
func (v *VirtualFilesystem) Mount(ctx context.Context, device, dir, fsName string, flags MountFlags, data string) error {
	if dir == "" {
		return linuxerr.ENOENT
	}
	path, err := fspath.Canonicalize("/", dir, v.opts.MaxPath)
	if err != nil {
		return err
	}
	fsType, ok := v.getFilesystemType(fsName)
	if !ok {
		return linuxerr.ENODEV
	}
	v.mounts.mu.Lock()
	err = v.mounts.checkAvailableLocked(path, device)
	v.mounts.mu.Unlock()
	if err != nil {
		return err
	}

	var cu cleanup.Cleanup
	defer cu.Clean()

	var covered *Dentry
	if path != "/" {
		if covered, err = v.Namei(ctx, path); err != nil {
			return err
		}
		cu.Add(func() { covered.DecRef(ctx) })
		if covered.vnode.Type != Directory {
			return linuxerr.ENOTDIR
		}
	}

	fs, err := fsType.NewFilesystem(ctx, v)
	if err != nil {
		return linuxerr.Normalize(err)
	}
	mnt := &Mount{
		vfs:     v,
		id:      v.mounts.nextID.Add(1),
		path:    path,
		device:  device,
		fsName:  fsName,
		flags:   flags,
		fs:      fs,
		covered: covered,
	}

	vp, _, err := v.vnodes.Get(ctx, mnt, 0)
	if err != nil {
		return err
	}
	vp.Type = Directory
	vp.Flags |= VnodeRoot
	if vp.Mode == 0 {
		vp.Mode = 0700
	}
	mnt.root = v.dentries.Alloc(nil, vp, "/")
	vp.Put(ctx)
	cu.Add(func() { mnt.root.DecRef(ctx) })

	if err := fs.Mount(ctx, mnt, device, flags, data); err != nil {
		return linuxerr.Normalize(err)
	}
	if flags&MountReadOnly != 0 {
		vp.Lock()
		vp.Mode &^= 0222
		vp.Unlock()
	}

	v.mounts.mu.Lock()
	if err := v.mounts.checkAvailableLocked(path, device); err != nil {
		v.mounts.mu.Unlock()
		if uerr := fs.Unmount(ctx, mnt, 0); uerr != nil {
			log.Warningf("vfs: unmount of %s after lost mount race failed: %v", path, uerr)
		}
		return err
	}
	v.mounts.mounts = append(v.mounts.mounts, mnt)
	v.mounts.mu.Unlock()
	cu.Release()

	v.metrics.mounts.Increment()
	log.Infof("vfs: mounted %q (%s) at %s", device, fsName, path)
	return nil
}

// Unmount detaches the filesystem mounted at dir. The root mount can only
// be detached with UnmountForce.
func (v *VirtualFilesystem) Unmount(ctx context.Context, dir string, flags UnmountFlags) error {
	path, err := fspath.Canonicalize("/", dir, v.opts.MaxPath)
	if err != nil {
		return err
	}

	t := &v.mounts
	t.mu.Lock()
	var mnt *Mount
	for _, m := range t.mounts {
		if m.path == path && !m.unmounting {
			mnt = m
			break
		}
	}
	if mnt == nil {
		t.mu.Unlock()
		return linuxerr.EINVAL
	}
	if mnt.covered == nil && flags&UnmountForce == 0 {
		t.mu.Unlock()
		return linuxerr.EINVAL
	}
	for _, m := range t.mounts {
		if fspath.IsDescendant(mnt.path, m.path) {
			t.mu.Unlock()
			return linuxerr.EBUSY
		}
	}
	mnt.unmounting = true
	t.mu.Unlock()

	if err := mnt.fs.Unmount(ctx, mnt, flags); err != nil {
		t.mu.Lock()
		mnt.unmounting = false
		t.mu.Unlock()
		return linuxerr.Normalize(err)
	}

	t.mu.Lock()
	for i, m := range t.mounts {
		if m == mnt {
			t.mounts = append(t.mounts[:i], t.mounts[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	mnt.root.DecRef(ctx)
	if mnt.covered != nil {
		mnt.covered.DecRef(ctx)
	}
	v.metrics.unmounts.Increment()
	if busy := mnt.Busy(); busy != 0 {
		log.Debugf("vfs: %s unmounted with %d active vnodes", path, busy)
	}
	log.Infof("vfs: unmounted %s", path)
	return nil
}

// Sync flushes every mounted filesystem. It returns the first error.
func (v *VirtualFilesystem) Sync(ctx context.Context) error {
	var first error
	for _, m := range v.mounts.Mounts() {
		if err := m.fs.Sync(ctx, m); err != nil && first == nil {
			first = linuxerr.Normalize(err)
		}
	}
	return first
}
