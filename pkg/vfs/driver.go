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

	"vfscore.dev/vfscore/pkg/errors/linuxerr"
)

// A FilesystemType constructs filesystems. Implementations are registered
// with VirtualFilesystem.RegisterFilesystem under a driver name.
type FilesystemType interface {
	// NewFilesystem returns the driver state for one new mount. The root
	// vnode (inode 0) is obtained through Filesystem.Vget before
	// Filesystem.Mount is called, so the returned filesystem must already be
	// able to describe it.
	NewFilesystem(ctx context.Context, vfs *VirtualFilesystem) (Filesystem, error)
}

// Filesystem is the driver state of a single mount.
type Filesystem interface {
	MountOperations
	VnodeOperations
}

// MountOperations are the per-mount driver operations.
type MountOperations interface {
	// Mount attaches the filesystem to mnt. device and data are the source
	// and option string given to mount.
	Mount(ctx context.Context, mnt *Mount, device string, flags MountFlags, data string) error

	// Unmount detaches the filesystem. The mount is not removed from the
	// mount table if Unmount fails.
	Unmount(ctx context.Context, mnt *Mount, flags UnmountFlags) error

	// Sync flushes all dirty state of the filesystem.
	Sync(ctx context.Context, mnt *Mount) error

	// Vget fills in the driver-owned fields of vp (Type, Mode, Size,
	// Private) for the inode vp.Ino(). vp is not yet visible to any other
	// goroutine.
	Vget(ctx context.Context, mnt *Mount, vp *Vnode) error

	// Statfs returns filesystem statistics.
	Statfs(ctx context.Context, mnt *Mount) (Statfs, error)
}

// VnodeOperations are the per-vnode driver operations.
//
// Unless noted otherwise, every vnode argument is locked by the caller and
// the driver must not unlock it. A directory and its child are always
// locked in that order.
type VnodeOperations interface {
	// Open is called when fd is opened on fd.Vnode().
	Open(ctx context.Context, fd *File) error

	// Close is called when the last reference on fd is dropped.
	Close(ctx context.Context, vp *Vnode, fd *File) error

	// Read reads up to len(dst) bytes at off. It returns 0 at end of file.
	Read(ctx context.Context, vp *Vnode, fd *File, dst []byte, off int64) (int, error)

	// Write writes src at off. The driver updates vp.Size when the file
	// grows.
	Write(ctx context.Context, vp *Vnode, fd *File, src []byte, off int64) (int, error)

	// Seek validates a change of fd's offset from oldOff to newOff.
	Seek(ctx context.Context, vp *Vnode, fd *File, oldOff, newOff int64) error

	// Ioctl performs a device-specific request.
	Ioctl(ctx context.Context, vp *Vnode, fd *File, cmd uint32, arg uintptr) (uintptr, error)

	// Fsync flushes the dirty state of vp.
	Fsync(ctx context.Context, vp *Vnode, fd *File) error

	// Readdir returns the entry at offset off of directory vp. Offsets 0 and
	// 1 are "." and "..". It returns ENOENT past the last entry.
	Readdir(ctx context.Context, vp *Vnode, off int64) (Dirent, error)

	// Lookup finds name in directory dir. On success it returns the child
	// vnode referenced and locked, normally through Mount.GetVnode. It
	// returns ENOENT if name does not exist.
	Lookup(ctx context.Context, dir *Vnode, name string) (*Vnode, error)

	// Create creates a non-directory file name in dir. The S_IFMT bits of
	// mode select the file type.
	Create(ctx context.Context, dir *Vnode, name string, mode uint32) error

	// Remove removes the non-directory entry name, which refers to vp, from
	// dir.
	Remove(ctx context.Context, dir, vp *Vnode, name string) error

	// Rename moves entry srcName (vnode src) of srcDir to dstName in dstDir.
	// dst is the vnode currently named dstName, or nil if there is none;
	// the driver replaces it. srcDir and dstDir may be the same vnode.
	Rename(ctx context.Context, srcDir, src *Vnode, srcName string, dstDir, dst *Vnode, dstName string) error

	// Mkdir creates the directory name in dir.
	Mkdir(ctx context.Context, dir *Vnode, name string, mode uint32) error

	// Rmdir removes the empty directory name, which refers to vp, from dir.
	Rmdir(ctx context.Context, dir, vp *Vnode, name string) error

	// Getattr returns the attributes of vp.
	Getattr(ctx context.Context, vp *Vnode) (Vattr, error)

	// Setattr changes the attributes of vp selected by attr.Mask.
	Setattr(ctx context.Context, vp *Vnode, attr *Vattr) error

	// Inactive is called, without vp locked, when the last reference on vp
	// is dropped. The driver releases vp.Private.
	Inactive(ctx context.Context, vp *Vnode) error

	// Truncate sets the size of vp to length.
	Truncate(ctx context.Context, vp *Vnode, length int64) error

	// Link adds the entry name in dir for the existing file vp.
	Link(ctx context.Context, dir, vp *Vnode, name string) error

	// Fallocate manipulates the allocated space of vp.
	Fallocate(ctx context.Context, vp *Vnode, mode uint32, off, length int64) error

	// Readlink returns the target of symlink vp.
	Readlink(ctx context.Context, vp *Vnode) (string, error)

	// Symlink creates the symlink name in dir pointing to target.
	Symlink(ctx context.Context, dir *Vnode, name, target string) error
}

// DefaultVnodeOperations may be embedded by drivers to supply the usual
// behavior of operations they do not implement: Open, Close, Seek, Fsync
// and Inactive succeed, Ioctl fails with ENOTTY, Link fails with EPERM, and
// everything else fails with EOPNOTSUPP.
type DefaultVnodeOperations struct{}

// Open implements VnodeOperations.Open.
func (DefaultVnodeOperations) Open(context.Context, *File) error { return nil }

// Close implements VnodeOperations.Close.
func (DefaultVnodeOperations) Close(context.Context, *Vnode, *File) error { return nil }

// Read implements VnodeOperations.Read.
func (DefaultVnodeOperations) Read(context.Context, *Vnode, *File, []byte, int64) (int, error) {
	return 0, linuxerr.EOPNOTSUPP
}

// Write implements VnodeOperations.Write.
func (DefaultVnodeOperations) Write(context.Context, *Vnode, *File, []byte, int64) (int, error) {
	return 0, linuxerr.EOPNOTSUPP
}

// Seek implements VnodeOperations.Seek.
func (DefaultVnodeOperations) Seek(context.Context, *Vnode, *File, int64, int64) error { return nil }

// Ioctl implements VnodeOperations.Ioctl.
func (DefaultVnodeOperations) Ioctl(context.Context, *Vnode, *File, uint32, uintptr) (uintptr, error) {
	return 0, linuxerr.ENOTTY
}

// Fsync implements VnodeOperations.Fsync.
func (DefaultVnodeOperations) Fsync(context.Context, *Vnode, *File) error { return nil }

// Readdir implements VnodeOperations.Readdir.
func (DefaultVnodeOperations) Readdir(context.Context, *Vnode, int64) (Dirent, error) {
	return Dirent{}, linuxerr.ENOTDIR
}

// Lookup implements VnodeOperations.Lookup.
func (DefaultVnodeOperations) Lookup(context.Context, *Vnode, string) (*Vnode, error) {
	return nil, linuxerr.ENOENT
}

// Create implements VnodeOperations.Create.
func (DefaultVnodeOperations) Create(context.Context, *Vnode, string, uint32) error {
	return linuxerr.EOPNOTSUPP
}

// Remove implements VnodeOperations.Remove.
func (DefaultVnodeOperations) Remove(context.Context, *Vnode, *Vnode, string) error {
	return linuxerr.EOPNOTSUPP
}

// Rename implements VnodeOperations.Rename.
func (DefaultVnodeOperations) Rename(context.Context, *Vnode, *Vnode, string, *Vnode, *Vnode, string) error {
	return linuxerr.EOPNOTSUPP
}

// Mkdir implements VnodeOperations.Mkdir.
func (DefaultVnodeOperations) Mkdir(context.Context, *Vnode, string, uint32) error {
	return linuxerr.EOPNOTSUPP
}

// Rmdir implements VnodeOperations.Rmdir.
func (DefaultVnodeOperations) Rmdir(context.Context, *Vnode, *Vnode, string) error {
	return linuxerr.EOPNOTSUPP
}

// Getattr implements VnodeOperations.Getattr.
func (DefaultVnodeOperations) Getattr(context.Context, *Vnode) (Vattr, error) {
	return Vattr{}, linuxerr.EOPNOTSUPP
}

// Setattr implements VnodeOperations.Setattr.
func (DefaultVnodeOperations) Setattr(context.Context, *Vnode, *Vattr) error {
	return linuxerr.EOPNOTSUPP
}

// Inactive implements VnodeOperations.Inactive.
func (DefaultVnodeOperations) Inactive(context.Context, *Vnode) error { return nil }

// Truncate implements VnodeOperations.Truncate.
func (DefaultVnodeOperations) Truncate(context.Context, *Vnode, int64) error {
	return linuxerr.EOPNOTSUPP
}

// Link implements VnodeOperations.Link.
func (DefaultVnodeOperations) Link(context.Context, *Vnode, *Vnode, string) error {
	return linuxerr.EPERM
}

// Fallocate implements VnodeOperations.Fallocate.
func (DefaultVnodeOperations) Fallocate(context.Context, *Vnode, uint32, int64, int64) error {
	return linuxerr.EOPNOTSUPP
}

// Readlink implements VnodeOperations.Readlink.
func (DefaultVnodeOperations) Readlink(context.Context, *Vnode) (string, error) {
	return "", linuxerr.EINVAL
}

// Symlink implements VnodeOperations.Symlink.
func (DefaultVnodeOperations) Symlink(context.Context, *Vnode, string, string) error {
	return linuxerr.EOPNOTSUPP
}
