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
	"io"
	"math"
	"sync"

	"golang.org/x/sys/unix"
	"vfscore.dev/vfscore/pkg/errors/linuxerr"
	"vfscore.dev/vfscore/pkg/log"
	"vfscore.dev/vfscore/pkg/refs"
)

// File is an open file description. It holds a reference on its dentry,
// and through it on the vnode, until its last reference is dropped.
type File struct {
	refs refs.AtomicRefCount

	// The following fields are immutable.
	vfs    *VirtualFilesystem
	dentry *Dentry
	vnode  *Vnode
	flags  int

	// mu protects offset.
	mu     sync.Mutex
	offset int64
}

// newFile returns a File with one reference. It takes ownership of the
// caller's reference on d.
func newFile(v *VirtualFilesystem, d *Dentry, flags int) *File {
	fd := &File{
		vfs:    v,
		dentry: d,
		vnode:  d.vnode,
		flags:  flags,
	}
	fd.refs.InitRefs("vfs.File")
	return fd
}

// Dentry returns the dentry fd was opened on.
func (fd *File) Dentry() *Dentry {
	return fd.dentry
}

// Vnode returns the vnode fd was opened on.
func (fd *File) Vnode() *Vnode {
	return fd.vnode
}

// Flags returns the open flags of fd.
func (fd *File) Flags() int {
	return fd.flags
}

// FullPath returns the absolute path fd was opened with, or its current
// path if it has since been renamed.
func (fd *File) FullPath() string {
	return fd.dentry.FullPath()
}

// IncRef takes an additional reference on fd.
func (fd *File) IncRef() {
	fd.refs.IncRef()
}

// ReadRefs returns the current reference count of fd.
func (fd *File) ReadRefs() int64 {
	return fd.refs.ReadRefs()
}

// DecRef drops a reference on fd. Dropping the last reference closes the
// file.
func (fd *File) DecRef(ctx context.Context) {
	fd.refs.DecRef(func() {
		vp := fd.vnode
		vp.Lock()
		if err := vp.mount.fs.Close(ctx, vp, fd); err != nil {
			log.Warningf("vfs: close of %q failed: %v", fd.dentry.FullPath(), err)
		}
		vp.Unlock()
		fd.dentry.DecRef(ctx)
	})
}

// abort drops the only reference on a File whose driver Open failed,
// without calling the driver's Close.
func (fd *File) abort(ctx context.Context) {
	fd.refs.DecRef(func() {
		fd.dentry.DecRef(ctx)
	})
}

func (fd *File) readable() bool {
	return fd.flags&unix.O_ACCMODE != unix.O_WRONLY
}

func (fd *File) writable() bool {
	return fd.flags&unix.O_ACCMODE != unix.O_RDONLY
}

// Read reads from fd at its offset and advances the offset.
func (fd *File) Read(ctx context.Context, dst []byte) (int, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	n, err := fd.pread(ctx, dst, fd.offset)
	fd.offset += int64(n)
	return n, err
}

// Pread reads from fd at off without changing its offset.
func (fd *File) Pread(ctx context.Context, dst []byte, off int64) (int, error) {
	if off < 0 {
		return 0, linuxerr.EINVAL
	}
	return fd.pread(ctx, dst, off)
}

func (fd *File) pread(ctx context.Context, dst []byte, off int64) (int, error) {
	if !fd.readable() {
		return 0, linuxerr.EBADF
	}
	vp := fd.vnode
	if vp.Type == Directory {
		return 0, linuxerr.EISDIR
	}
	vp.Lock()
	defer vp.Unlock()
	n, err := vp.mount.fs.Read(ctx, vp, fd, dst, off)
	return n, linuxerr.Normalize(err)
}

// Write writes to fd at its offset, or at the end of the file for
// O_APPEND, and advances the offset.
func (fd *File) Write(ctx context.Context, src []byte) (int, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	n, off, err := fd.pwrite(ctx, src, fd.offset, fd.flags&unix.O_APPEND != 0)
	fd.offset = off + int64(n)
	return n, err
}

// Pwrite writes to fd at off without changing its offset.
func (fd *File) Pwrite(ctx context.Context, src []byte, off int64) (int, error) {
	if off < 0 {
		return 0, linuxerr.EINVAL
	}
	n, _, err := fd.pwrite(ctx, src, off, false /* appending */)
	return n, err
}

func (fd *File) pwrite(ctx context.Context, src []byte, off int64, appending bool) (int, int64, error) {
	if !fd.writable() {
		return 0, off, linuxerr.EBADF
	}
	vp := fd.vnode
	if vp.Type == Directory {
		return 0, off, linuxerr.EISDIR
	}
	vp.Lock()
	defer vp.Unlock()
	if appending {
		off = vp.Size
	}
	if off > math.MaxInt64-int64(len(src)) {
		return 0, off, linuxerr.EFBIG
	}
	n, err := vp.mount.fs.Write(ctx, vp, fd, src, off)
	return n, off, linuxerr.Normalize(err)
}

// Seek sets the offset of fd according to whence (io.SeekStart,
// io.SeekCurrent or io.SeekEnd) and returns the new offset.
func (fd *File) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	vp := fd.vnode
	vp.Lock()
	defer vp.Unlock()

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = fd.offset
	case io.SeekEnd:
		base = vp.Size
	default:
		return fd.offset, linuxerr.EINVAL
	}
	if (offset > 0 && base > math.MaxInt64-offset) || base+offset < 0 {
		return fd.offset, linuxerr.EINVAL
	}
	newOff := base + offset
	if err := vp.mount.fs.Seek(ctx, vp, fd, fd.offset, newOff); err != nil {
		return fd.offset, linuxerr.Normalize(err)
	}
	fd.offset = newOff
	return newOff, nil
}

// Readdir returns the next entry of directory fd and advances its offset.
// It returns io.EOF after the last entry.
func (fd *File) Readdir(ctx context.Context) (Dirent, error) {
	vp := fd.vnode
	if vp.Type != Directory {
		return Dirent{}, linuxerr.ENOTDIR
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	vp.Lock()
	defer vp.Unlock()
	d, err := vp.mount.fs.Readdir(ctx, vp, fd.offset)
	if err != nil {
		if linuxerr.Equals(linuxerr.ENOENT, err) {
			return Dirent{}, io.EOF
		}
		return Dirent{}, linuxerr.Normalize(err)
	}
	fd.offset++
	return d, nil
}

// ReadDirAll returns all remaining entries of directory fd.
func (fd *File) ReadDirAll(ctx context.Context) ([]Dirent, error) {
	var ents []Dirent
	for {
		d, err := fd.Readdir(ctx)
		if err == io.EOF {
			return ents, nil
		}
		if err != nil {
			return ents, err
		}
		ents = append(ents, d)
	}
}

// Rewinddir resets directory fd to its first entry.
func (fd *File) Rewinddir() {
	fd.Seekdir(0)
}

// Seekdir sets the directory offset of fd to loc, a value returned by
// Telldir.
func (fd *File) Seekdir(loc int64) {
	fd.mu.Lock()
	fd.offset = loc
	fd.mu.Unlock()
}

// Telldir returns the directory offset of fd.
func (fd *File) Telldir() int64 {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.offset
}

// Fsync flushes fd's file.
func (fd *File) Fsync(ctx context.Context) error {
	vp := fd.vnode
	vp.Lock()
	defer vp.Unlock()
	return linuxerr.Normalize(vp.mount.fs.Fsync(ctx, vp, fd))
}

// Ioctl forwards a device-specific request to the driver.
func (fd *File) Ioctl(ctx context.Context, cmd uint32, arg uintptr) (uintptr, error) {
	vp := fd.vnode
	vp.Lock()
	defer vp.Unlock()
	ret, err := vp.mount.fs.Ioctl(ctx, vp, fd, cmd, arg)
	return ret, linuxerr.Normalize(err)
}

// Stat returns file status for fd.
func (fd *File) Stat(ctx context.Context) (Stat, error) {
	vp := fd.vnode
	vp.Lock()
	defer vp.Unlock()
	return vp.Stat(ctx)
}

// Statfs returns statistics for the filesystem containing fd.
func (fd *File) Statfs(ctx context.Context) (Statfs, error) {
	return fd.vnode.mount.Statfs(ctx)
}

// Truncate sets the size of fd's file. fd must be open for writing.
func (fd *File) Truncate(ctx context.Context, length int64) error {
	if length < 0 || !fd.writable() {
		return linuxerr.EINVAL
	}
	vp := fd.vnode
	if vp.Type == Directory {
		return linuxerr.EISDIR
	}
	if vp.Type != RegularFile {
		return linuxerr.EINVAL
	}
	vp.Lock()
	defer vp.Unlock()
	return linuxerr.Normalize(vp.mount.fs.Truncate(ctx, vp, length))
}

// Chmod sets the permission bits of fd's file.
func (fd *File) Chmod(ctx context.Context, mode uint32) error {
	vp := fd.vnode
	vp.Lock()
	defer vp.Unlock()
	if vp.mount.ReadOnly() {
		return linuxerr.EROFS
	}
	return vp.SetMode(ctx, mode)
}

// Utimens sets the access and modification times of fd's file. A nil ts
// sets both to the current time.
func (fd *File) Utimens(ctx context.Context, ts *[2]unix.Timespec) error {
	times, err := checkTimes(ts)
	if err != nil {
		return err
	}
	vp := fd.vnode
	vp.Lock()
	defer vp.Unlock()
	if vp.mount.ReadOnly() {
		return linuxerr.EROFS
	}
	return vp.SetTimes(ctx, times)
}

// Fallocate manipulates the allocated space of fd's file. mode accepts
// FALLOC_FL_KEEP_SIZE and FALLOC_FL_PUNCH_HOLE, the latter only together
// with the former.
func (fd *File) Fallocate(ctx context.Context, mode uint32, off, length int64) error {
	if off < 0 || length <= 0 {
		return linuxerr.EINVAL
	}
	if !fd.writable() {
		return linuxerr.EBADF
	}
	if mode&^(unix.FALLOC_FL_KEEP_SIZE|unix.FALLOC_FL_PUNCH_HOLE) != 0 {
		return linuxerr.EOPNOTSUPP
	}
	if mode&unix.FALLOC_FL_PUNCH_HOLE != 0 && mode&unix.FALLOC_FL_KEEP_SIZE == 0 {
		return linuxerr.EOPNOTSUPP
	}
	vp := fd.vnode
	switch vp.Type {
	case RegularFile:
	case Directory:
		return linuxerr.EISDIR
	default:
		return linuxerr.ENODEV
	}
	if off > math.MaxInt64-length {
		return linuxerr.EFBIG
	}
	vp.Lock()
	defer vp.Unlock()
	return linuxerr.Normalize(vp.mount.fs.Fallocate(ctx, vp, mode, off, length))
}

// checkTimes validates the timestamps passed to utimensat. A nil ts means
// both times are set to the current time.
func checkTimes(ts *[2]unix.Timespec) ([2]unix.Timespec, error) {
	if ts == nil {
		return [2]unix.Timespec{{Nsec: unix.UTIME_NOW}, {Nsec: unix.UTIME_NOW}}, nil
	}
	for _, t := range ts {
		if t.Nsec == unix.UTIME_NOW || t.Nsec == unix.UTIME_OMIT {
			continue
		}
		if t.Nsec < 0 || t.Nsec >= 1e9 {
			return *ts, linuxerr.EINVAL
		}
	}
	return *ts, nil
}
