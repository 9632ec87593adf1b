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
	"sync"

	"golang.org/x/sys/unix"
	"vfscore.dev/vfscore/pkg/errors/linuxerr"
	"vfscore.dev/vfscore/pkg/fspath"
	"vfscore.dev/vfscore/pkg/log"
)

// Task is the filesystem context of a thread of execution: its working
// directory and file mode creation mask. Paths passed to Task methods may
// be relative to the working directory.
type Task struct {
	vfs *VirtualFilesystem

	// mu protects the fields below.
	mu sync.Mutex

	// cwd is the canonical path of the working directory.
	cwd string

	// cwdFile holds the working directory open. It is nil while the
	// working directory is the initial "/".
	cwdFile *File

	umask uint32
}

// NewTask returns a Task whose working directory is "/".
func (v *VirtualFilesystem) NewTask() *Task {
	return &Task{
		vfs:   v,
		cwd:   "/",
		umask: *v.opts.Umask,
	}
}

// Release drops the task's reference on its working directory.
func (t *Task) Release(ctx context.Context) {
	t.mu.Lock()
	cwdFile := t.cwdFile
	t.cwdFile = nil
	t.cwd = "/"
	t.mu.Unlock()
	if cwdFile != nil {
		cwdFile.DecRef(ctx)
	}
}

// VFS returns the VirtualFilesystem t operates on.
func (t *Task) VFS() *VirtualFilesystem {
	return t.vfs
}

// Cwd returns the working directory.
func (t *Task) Cwd() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cwd
}

// Umask sets the file mode creation mask and returns the previous one.
func (t *Task) Umask(mask uint32) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.umask
	t.umask = mask & 0777
	return old
}

func (t *Task) applyUmask(mode uint32) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return mode &^ t.umask
}

// Conv converts path to a canonical absolute path, resolving it against the
// working directory.
func (t *Task) Conv(path string) (string, error) {
	return fspath.Canonicalize(t.Cwd(), path, t.vfs.opts.MaxPath)
}

// convAt converts path relative to the directory dir, or to the working
// directory if dir is nil. It also reports whether path had a trailing
// separator.
func (t *Task) convAt(dir *File, path string) (string, bool, error) {
	if len(path) >= t.vfs.opts.MaxPath {
		return "", false, linuxerr.ENAMETOOLONG
	}
	_, trailing := fspath.TrimTrailingSlashes(path)
	base := ""
	if dir == nil || (path != "" && path[0] == '/') {
		base = t.Cwd()
	} else {
		if dir.vnode.Type != Directory {
			return "", false, linuxerr.ENOTDIR
		}
		base = dir.FullPath()
	}
	p, err := fspath.Canonicalize(base, path, t.vfs.opts.MaxPath)
	return p, trailing, err
}

// lastComponent returns the final component of path as written by the
// caller, before canonicalization.
func lastComponent(path string) string {
	trimmed, _ := fspath.TrimTrailingSlashes(path)
	_, name := fspath.Split(trimmed)
	return name
}

// Open opens path. If flags contains O_CREAT and path does not exist, a
// regular file is created with mode masked by the umask.
func (t *Task) Open(ctx context.Context, path string, flags int, mode uint32) (*File, error) {
	return t.OpenAt(ctx, nil, path, flags, mode)
}

// OpenAt is Open with relative paths resolved against dir.
func (t *Task) OpenAt(ctx context.Context, dir *File, path string, flags int, mode uint32) (*File, error) {
	log.Debugf("vfs: open %q flags=%#x mode=%#o", path, flags, mode)
	p, trailing, err := t.convAt(dir, path)
	if err != nil {
		return nil, err
	}
	if trailing {
		if flags&unix.O_CREAT != 0 {
			return nil, linuxerr.EISDIR
		}
		flags |= unix.O_DIRECTORY
	}
	return t.vfs.open(ctx, p, flags, t.applyUmask(mode))
}

// Mkdir creates the directory path with mode masked by the umask.
func (t *Task) Mkdir(ctx context.Context, path string, mode uint32) error {
	return t.MkdirAt(ctx, nil, path, mode)
}

// MkdirAt is Mkdir with relative paths resolved against dir.
func (t *Task) MkdirAt(ctx context.Context, dir *File, path string, mode uint32) error {
	log.Debugf("vfs: mkdir %q mode=%#o", path, mode)
	p, _, err := t.convAt(dir, path)
	if err != nil {
		return err
	}
	return t.vfs.mkdir(ctx, p, t.applyUmask(mode))
}

// Mknod creates a regular file, directory, FIFO or socket at path. The
// S_IFMT bits of mode select the type; the permission bits are masked by
// the umask.
func (t *Task) Mknod(ctx context.Context, path string, mode uint32) error {
	log.Debugf("vfs: mknod %q mode=%#o", path, mode)
	p, err := t.Conv(path)
	if err != nil {
		return err
	}
	return t.vfs.mknod(ctx, p, mode&unix.S_IFMT|t.applyUmask(mode&07777))
}

// Rmdir removes the empty directory path.
func (t *Task) Rmdir(ctx context.Context, path string) error {
	log.Debugf("vfs: rmdir %q", path)
	switch lastComponent(path) {
	case ".":
		return linuxerr.EINVAL
	case "..":
		return linuxerr.ENOTEMPTY
	}
	p, err := t.Conv(path)
	if err != nil {
		return err
	}
	return t.vfs.rmdir(ctx, p)
}

// Unlink removes the non-directory path.
func (t *Task) Unlink(ctx context.Context, path string) error {
	return t.UnlinkAt(ctx, nil, path, 0)
}

// UnlinkAt removes path relative to dir. With AT_REMOVEDIR in flags it
// behaves like Rmdir.
func (t *Task) UnlinkAt(ctx context.Context, dir *File, path string, flags int) error {
	log.Debugf("vfs: unlink %q flags=%#x", path, flags)
	if flags&^unix.AT_REMOVEDIR != 0 {
		return linuxerr.EINVAL
	}
	if flags&unix.AT_REMOVEDIR != 0 {
		switch lastComponent(path) {
		case ".":
			return linuxerr.EINVAL
		case "..":
			return linuxerr.ENOTEMPTY
		}
	}
	p, trailing, err := t.convAt(dir, path)
	if err != nil {
		return err
	}
	if flags&unix.AT_REMOVEDIR != 0 {
		return t.vfs.rmdir(ctx, p)
	}
	return t.vfs.unlink(ctx, p, trailing)
}

// Rename renames src to dst, replacing dst if it exists.
func (t *Task) Rename(ctx context.Context, src, dst string) error {
	log.Debugf("vfs: rename %q %q", src, dst)
	for _, path := range []string{src, dst} {
		if name := lastComponent(path); name == "." || name == ".." {
			return linuxerr.EINVAL
		}
	}
	sp, srcDir, err := t.convAt(nil, src)
	if err != nil {
		return err
	}
	dp, dstDir, err := t.convAt(nil, dst)
	if err != nil {
		return err
	}
	return t.vfs.rename(ctx, sp, dp, srcDir, dstDir)
}

// Link creates the hard link newPath to the file oldPath.
func (t *Task) Link(ctx context.Context, oldPath, newPath string) error {
	log.Debugf("vfs: link %q %q", oldPath, newPath)
	op, err := t.Conv(oldPath)
	if err != nil {
		return err
	}
	np, err := t.Conv(newPath)
	if err != nil {
		return err
	}
	return t.vfs.link(ctx, op, np)
}

// Symlink creates the symlink path pointing to target. target is stored
// verbatim.
func (t *Task) Symlink(ctx context.Context, target, path string) error {
	log.Debugf("vfs: symlink %q %q", target, path)
	p, err := t.Conv(path)
	if err != nil {
		return err
	}
	return t.vfs.symlink(ctx, target, p)
}

// Readlink returns the target of the symlink path.
func (t *Task) Readlink(ctx context.Context, path string) (string, error) {
	log.Debugf("vfs: readlink %q", path)
	p, err := t.Conv(path)
	if err != nil {
		return "", err
	}
	return t.vfs.readlink(ctx, p)
}

// Stat returns file status for path, following a final symlink.
func (t *Task) Stat(ctx context.Context, path string) (Stat, error) {
	return t.FstatAt(ctx, nil, path, 0)
}

// Lstat returns file status for path without following a final symlink.
func (t *Task) Lstat(ctx context.Context, path string) (Stat, error) {
	return t.FstatAt(ctx, nil, path, unix.AT_SYMLINK_NOFOLLOW)
}

// FstatAt returns file status for path relative to dir. flags may contain
// AT_SYMLINK_NOFOLLOW.
func (t *Task) FstatAt(ctx context.Context, dir *File, path string, flags int) (Stat, error) {
	log.Debugf("vfs: stat %q flags=%#x", path, flags)
	if flags&^unix.AT_SYMLINK_NOFOLLOW != 0 {
		return Stat{}, linuxerr.EINVAL
	}
	p, trailing, err := t.convAt(dir, path)
	if err != nil {
		return Stat{}, err
	}
	follow := flags&unix.AT_SYMLINK_NOFOLLOW == 0 || trailing
	st, err := t.vfs.stat(ctx, p, follow)
	if err != nil {
		return Stat{}, err
	}
	if trailing && st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return Stat{}, linuxerr.ENOTDIR
	}
	return st, nil
}

// Chmod sets the permission bits of path.
func (t *Task) Chmod(ctx context.Context, path string, mode uint32) error {
	log.Debugf("vfs: chmod %q mode=%#o", path, mode)
	p, err := t.Conv(path)
	if err != nil {
		return err
	}
	return t.vfs.chmod(ctx, p, mode)
}

// Utimes sets the access and modification times of path. A nil ts sets
// both to the current time.
func (t *Task) Utimes(ctx context.Context, path string, ts *[2]unix.Timespec) error {
	return t.Utimensat(ctx, nil, path, ts, 0)
}

// Utimensat sets the access and modification times of path relative to
// dir. Entries of ts may be UTIME_NOW or UTIME_OMIT; flags may contain
// AT_SYMLINK_NOFOLLOW.
func (t *Task) Utimensat(ctx context.Context, dir *File, path string, ts *[2]unix.Timespec, flags int) error {
	log.Debugf("vfs: utimensat %q flags=%#x", path, flags)
	if flags&^unix.AT_SYMLINK_NOFOLLOW != 0 {
		return linuxerr.EINVAL
	}
	if ts != nil && ts[0].Nsec == unix.UTIME_OMIT && ts[1].Nsec == unix.UTIME_OMIT {
		return nil
	}
	p, _, err := t.convAt(dir, path)
	if err != nil {
		return err
	}
	return t.vfs.utimens(ctx, p, ts, flags&unix.AT_SYMLINK_NOFOLLOW == 0)
}

// Statfs returns statistics for the filesystem containing path.
func (t *Task) Statfs(ctx context.Context, path string) (Statfs, error) {
	log.Debugf("vfs: statfs %q", path)
	p, err := t.Conv(path)
	if err != nil {
		return Statfs{}, err
	}
	return t.vfs.statfs(ctx, p)
}

// Truncate sets the size of the regular file path.
func (t *Task) Truncate(ctx context.Context, path string, length int64) error {
	log.Debugf("vfs: truncate %q length=%d", path, length)
	p, err := t.Conv(path)
	if err != nil {
		return err
	}
	return t.vfs.truncate(ctx, p, length)
}

// Access checks whether path is accessible with mode, a combination of
// R_OK, W_OK and X_OK, or F_OK.
func (t *Task) Access(ctx context.Context, path string, mode uint32) error {
	log.Debugf("vfs: access %q mode=%#o", path, mode)
	p, err := t.Conv(path)
	if err != nil {
		return err
	}
	return t.vfs.access(ctx, p, mode)
}

// Getcwd returns the working directory. size is the caller's buffer size,
// which must have room for the path and a terminating NUL.
func (t *Task) Getcwd(size int) (string, error) {
	if size == 0 {
		return "", linuxerr.EINVAL
	}
	cwd := t.Cwd()
	if size < len(cwd)+1 {
		return "", linuxerr.ERANGE
	}
	return cwd, nil
}

// Chdir changes the working directory to path.
func (t *Task) Chdir(ctx context.Context, path string) error {
	log.Debugf("vfs: chdir %q", path)
	fd, err := t.Open(ctx, path, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return err
	}
	defer fd.DecRef(ctx)
	return t.Fchdir(ctx, fd)
}

// Fchdir changes the working directory to the directory open as fd.
func (t *Task) Fchdir(ctx context.Context, fd *File) error {
	if fd.vnode.Type != Directory {
		return linuxerr.ENOTDIR
	}
	fd.IncRef()
	cwd := fd.FullPath()
	t.mu.Lock()
	old := t.cwdFile
	t.cwdFile = fd
	t.cwd = cwd
	t.mu.Unlock()
	if old != nil {
		old.DecRef(ctx)
	}
	return nil
}

// Sync flushes every mounted filesystem.
func (t *Task) Sync(ctx context.Context) error {
	return t.vfs.Sync(ctx)
}

// Mount mounts a filesystem of type fsName from device at dir.
func (t *Task) Mount(ctx context.Context, device, dir, fsName string, flags MountFlags, data string) error {
	p, err := t.Conv(dir)
	if err != nil {
		return err
	}
	return t.vfs.Mount(ctx, device, p, fsName, flags, data)
}

// Unmount unmounts the filesystem mounted at dir.
func (t *Task) Unmount(ctx context.Context, dir string, flags UnmountFlags) error {
	p, err := t.Conv(dir)
	if err != nil {
		return err
	}
	return t.vfs.Unmount(ctx, p, flags)
}
