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

	"golang.org/x/sys/unix"
	"vfscore.dev/vfscore/pkg/errors/linuxerr"
	"vfscore.dev/vfscore/pkg/fspath"
)

// The methods in this file implement the filesystem calls on canonical
// absolute paths. Task converts caller paths and applies the umask before
// calling them.

func isNotFound(err error) bool {
	return linuxerr.Equals(linuxerr.ENOENT, err)
}

func (v *VirtualFilesystem) open(ctx context.Context, path string, flags int, mode uint32) (*File, error) {
	var (
		dp  *Dentry
		err error
	)
	switch {
	case flags&unix.O_CREAT != 0:
		dp, err = v.Namei(ctx, path)
		switch {
		case err == nil:
			if flags&unix.O_EXCL != 0 {
				dp.DecRef(ctx)
				return nil, linuxerr.EEXIST
			}
		case isNotFound(err):
			if dp, err = v.create(ctx, path, flags, mode); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	case flags&unix.O_NOFOLLOW != 0:
		if dp, err = v.NameiLastNoFollow(ctx, path); err != nil {
			return nil, err
		}
		if dp.vnode.Type == Symlink {
			dp.DecRef(ctx)
			return nil, linuxerr.ELOOP
		}
	default:
		if dp, err = v.Namei(ctx, path); err != nil {
			return nil, err
		}
	}

	vp := dp.vnode
	vp.Lock()
	if err := v.checkOpenLocked(ctx, vp, flags); err != nil {
		vp.Unlock()
		dp.DecRef(ctx)
		return nil, err
	}
	fd := newFile(v, dp, flags)
	if err := vp.mount.fs.Open(ctx, fd); err != nil {
		vp.Unlock()
		fd.abort(ctx)
		return nil, linuxerr.Normalize(err)
	}
	vp.Unlock()
	return fd, nil
}

// Preconditions: vp is locked.
func (v *VirtualFilesystem) checkOpenLocked(ctx context.Context, vp *Vnode, flags int) error {
	writable := flags&unix.O_ACCMODE != unix.O_RDONLY
	if writable || flags&unix.O_TRUNC != 0 {
		if err := vp.Access(MayWrite); err != nil {
			return err
		}
		if vp.Type == Directory {
			return linuxerr.EISDIR
		}
	}
	if flags&unix.O_DIRECTORY != 0 && vp.Type != Directory {
		return linuxerr.ENOTDIR
	}
	if flags&unix.O_TRUNC != 0 {
		if !writable {
			return linuxerr.EINVAL
		}
		if vp.Type == RegularFile {
			if err := vp.mount.fs.Truncate(ctx, vp, 0); err != nil {
				return linuxerr.Normalize(err)
			}
		}
	}
	return nil
}

// create creates the regular file path if it does not exist and returns
// its dentry. The existence check and the creation happen under the
// directory lock, so concurrent creators agree on a single file.
func (v *VirtualFilesystem) create(ctx context.Context, path string, flags int, mode uint32) (*Dentry, error) {
	ddp, name, err := v.Lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	defer ddp.DecRef(ctx)
	if name == "" {
		return nil, linuxerr.EISDIR
	}

	dvp := ddp.vnode
	dvp.Lock()
	dp, err := v.lookupChildLocked(ctx, ddp, name)
	switch {
	case err == nil:
		dvp.Unlock()
		if flags&unix.O_EXCL != 0 {
			dp.DecRef(ctx)
			return nil, linuxerr.EEXIST
		}
		if dp.vnode.Type == Symlink {
			// Created concurrently as a symlink; resolve it.
			dp.DecRef(ctx)
			return v.Namei(ctx, path)
		}
		return dp, nil
	case !isNotFound(err):
		dvp.Unlock()
		return nil, err
	}
	defer dvp.Unlock()
	if err := dvp.Access(MayWrite); err != nil {
		return nil, err
	}
	mode = mode&07777 | unix.S_IFREG
	if err := ddp.mount.fs.Create(ctx, dvp, name, mode); err != nil {
		return nil, linuxerr.Normalize(err)
	}
	return v.lookupChildLocked(ctx, ddp, name)
}

// createEntry runs mk to create name in the directory ddp, failing with
// EEXIST if name already exists. mk runs with the directory locked.
func (v *VirtualFilesystem) createEntry(ctx context.Context, ddp *Dentry, name string, mk func(dvp *Vnode) error) error {
	if name == "" {
		return linuxerr.EEXIST
	}
	dvp := ddp.vnode
	dvp.Lock()
	defer dvp.Unlock()
	if err := dvp.Access(MayWrite); err != nil {
		return err
	}
	dp, err := v.lookupChildLocked(ctx, ddp, name)
	if err == nil {
		dp.DecRef(ctx)
		return linuxerr.EEXIST
	}
	if !isNotFound(err) {
		return err
	}
	return linuxerr.Normalize(mk(dvp))
}

func (v *VirtualFilesystem) mkdir(ctx context.Context, path string, mode uint32) error {
	if dp, err := v.Namei(ctx, path); err == nil {
		dp.DecRef(ctx)
		return linuxerr.EEXIST
	}
	ddp, name, err := v.Lookup(ctx, path)
	if err != nil {
		return err
	}
	defer ddp.DecRef(ctx)
	return v.createEntry(ctx, ddp, name, func(dvp *Vnode) error {
		return ddp.mount.fs.Mkdir(ctx, dvp, name, mode&07777|unix.S_IFDIR)
	})
}

func (v *VirtualFilesystem) mknod(ctx context.Context, path string, mode uint32) error {
	switch mode & unix.S_IFMT {
	case 0, unix.S_IFREG, unix.S_IFDIR, unix.S_IFIFO, unix.S_IFSOCK:
	default:
		return linuxerr.EINVAL
	}
	if mode&unix.S_IFMT == unix.S_IFDIR {
		return v.mkdir(ctx, path, mode)
	}
	if mode&unix.S_IFMT == 0 {
		mode |= unix.S_IFREG
	}
	if dp, err := v.Namei(ctx, path); err == nil {
		dp.DecRef(ctx)
		return linuxerr.EEXIST
	}
	ddp, name, err := v.Lookup(ctx, path)
	if err != nil {
		return err
	}
	defer ddp.DecRef(ctx)
	return v.createEntry(ctx, ddp, name, func(dvp *Vnode) error {
		return ddp.mount.fs.Create(ctx, dvp, name, mode)
	})
}

func (v *VirtualFilesystem) symlink(ctx context.Context, target, path string) error {
	if target == "" {
		return linuxerr.ENOENT
	}
	if len(target) >= v.opts.MaxPath {
		return linuxerr.ENAMETOOLONG
	}
	ddp, name, err := v.Lookup(ctx, path)
	if err != nil {
		return err
	}
	defer ddp.DecRef(ctx)
	return v.createEntry(ctx, ddp, name, func(dvp *Vnode) error {
		return ddp.mount.fs.Symlink(ctx, dvp, name, target)
	})
}

func (v *VirtualFilesystem) link(ctx context.Context, oldPath, newPath string) error {
	olddp, err := v.Namei(ctx, oldPath)
	if err != nil {
		return err
	}
	defer olddp.DecRef(ctx)
	vp := olddp.vnode
	if vp.Type == Directory {
		return linuxerr.EPERM
	}
	if dp, err := v.Namei(ctx, newPath); err == nil {
		dp.DecRef(ctx)
		return linuxerr.EEXIST
	}
	ddp, name, err := v.Lookup(ctx, newPath)
	if err != nil {
		return err
	}
	defer ddp.DecRef(ctx)
	if ddp.mount != vp.mount {
		return linuxerr.EXDEV
	}
	return v.createEntry(ctx, ddp, name, func(dvp *Vnode) error {
		vp.Lock()
		defer vp.Unlock()
		return vp.mount.fs.Link(ctx, dvp, vp, name)
	})
}

func (v *VirtualFilesystem) rmdir(ctx context.Context, path string) error {
	ddp, name, err := v.Lookup(ctx, path)
	if err != nil {
		return err
	}
	defer ddp.DecRef(ctx)
	if name == "" {
		return linuxerr.EBUSY
	}
	dp, err := v.lastNoFollow(ctx, ddp, path, name)
	if err != nil {
		return err
	}
	defer dp.DecRef(ctx)

	vp := dp.vnode
	if vp.Type != Directory {
		return linuxerr.ENOTDIR
	}
	if vp.Flags&VnodeRoot != 0 {
		return linuxerr.EBUSY
	}

	dvp := ddp.vnode
	dvp.Lock()
	defer dvp.Unlock()
	vp.Lock()
	defer vp.Unlock()
	if err := dvp.Access(MayWrite); err != nil {
		return err
	}
	if err := v.checkEmptyLocked(ctx, vp); err != nil {
		return err
	}
	// Referenced children pin their parent, so emptiness is checked first.
	if dp.ReadRefs() >= 2 {
		return linuxerr.EBUSY
	}
	if err := vp.mount.fs.Rmdir(ctx, dvp, vp, name); err != nil {
		return linuxerr.Normalize(err)
	}
	v.dentries.Remove(dp)
	return nil
}

// checkEmptyLocked returns ENOTEMPTY if directory vp has entries other
// than "." and "..".
//
// Preconditions: vp is locked.
func (v *VirtualFilesystem) checkEmptyLocked(ctx context.Context, vp *Vnode) error {
	for off := int64(0); ; off++ {
		d, err := vp.mount.fs.Readdir(ctx, vp, off)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return linuxerr.Normalize(err)
		}
		if d.Name != "." && d.Name != ".." {
			return linuxerr.ENOTEMPTY
		}
	}
}

func (v *VirtualFilesystem) unlink(ctx context.Context, path string, mustBeDir bool) error {
	ddp, name, err := v.Lookup(ctx, path)
	if err != nil {
		return err
	}
	defer ddp.DecRef(ctx)
	if name == "" {
		return linuxerr.EISDIR
	}
	dp, err := v.lastNoFollow(ctx, ddp, path, name)
	if err != nil {
		return err
	}
	defer dp.DecRef(ctx)

	vp := dp.vnode
	if vp.Type == Directory {
		return linuxerr.EISDIR
	}
	if mustBeDir {
		return linuxerr.ENOTDIR
	}

	dvp := ddp.vnode
	dvp.Lock()
	defer dvp.Unlock()
	vp.Lock()
	defer vp.Unlock()
	if err := dvp.Access(MayWrite); err != nil {
		return err
	}
	if err := vp.mount.fs.Remove(ctx, dvp, vp, name); err != nil {
		return linuxerr.Normalize(err)
	}
	v.dentries.Remove(dp)
	return nil
}

// rename implements rename(2). srcDir and dstDir report whether the
// caller's paths had trailing slashes, which require directories.
func (v *VirtualFilesystem) rename(ctx context.Context, src, dst string, srcDir, dstDir bool) error {
	if src == "/" || dst == "/" {
		return linuxerr.EBUSY
	}
	if fspath.IsDescendant(src, dst) {
		return linuxerr.EINVAL
	}

	// Held across resolution too, so the ancestry checks below see paths
	// no other rename can change.
	v.renameMu.Lock()
	defer v.renameMu.Unlock()

	ddp1, sname, err := v.Lookup(ctx, src)
	if err != nil {
		return err
	}
	defer ddp1.DecRef(ctx)
	dp1, err := v.lastNoFollow(ctx, ddp1, src, sname)
	if err != nil {
		return err
	}
	defer dp1.DecRef(ctx)
	vp1 := dp1.vnode
	if srcDir && vp1.Type != Directory {
		return linuxerr.ENOTDIR
	}
	if vp1.Flags&VnodeRoot != 0 {
		return linuxerr.EBUSY
	}

	ddp2, dname, err := v.Lookup(ctx, dst)
	if err != nil {
		return err
	}
	defer ddp2.DecRef(ctx)
	var vp2 *Vnode
	dp2, err := v.lastNoFollow(ctx, ddp2, dst, dname)
	switch {
	case err == nil:
		defer dp2.DecRef(ctx)
		vp2 = dp2.vnode
		if vp2.Flags&VnodeRoot != 0 {
			return linuxerr.EBUSY
		}
		if vp2.Type == Directory {
			if vp1.Type != Directory {
				return linuxerr.EISDIR
			}
		} else if vp1.Type == Directory || dstDir {
			return linuxerr.ENOTDIR
		}
	case isNotFound(err):
		if dstDir && vp1.Type != Directory {
			return linuxerr.ENOTDIR
		}
	default:
		return err
	}

	if src == dst || vp1 == vp2 {
		return nil
	}
	srcPath := dp1.FullPath()
	dstDirPath := ddp2.FullPath()
	if srcPath == dstDirPath || fspath.IsDescendant(srcPath, dstDirPath) {
		return linuxerr.EINVAL
	}
	if dp2 != nil && fspath.IsDescendant(dp2.FullPath(), srcPath) {
		return linuxerr.ENOTEMPTY
	}
	if ddp1.mount != ddp2.mount {
		return linuxerr.EXDEV
	}

	dvp1, dvp2 := ddp1.vnode, ddp2.vnode
	unlock := lockDirs(dvp1, dvp2, ddp1.FullPath(), dstDirPath)
	defer unlock()
	if err := dvp1.Access(MayWrite); err != nil {
		return err
	}
	if dvp2 != dvp1 {
		if err := dvp2.Access(MayWrite); err != nil {
			return err
		}
	}
	vp1.Lock()
	defer vp1.Unlock()
	if vp2 != nil {
		vp2.Lock()
		defer vp2.Unlock()
		if vp2.Type == Directory {
			if err := v.checkEmptyLocked(ctx, vp2); err != nil {
				return err
			}
		}
	}
	if err := ddp1.mount.fs.Rename(ctx, dvp1, vp1, sname, dvp2, vp2, dname); err != nil {
		return linuxerr.Normalize(err)
	}
	v.dentries.Move(ctx, dp1, ddp2, fspath.Join(ddp2.Path(), dname))
	if dp2 != nil {
		v.dentries.Remove(dp2)
	}
	return nil
}

// lockDirs locks the directories d1 and d2, whose absolute paths are p1 and
// p2, ancestor first and otherwise in path order. It returns a function
// that unlocks them.
func lockDirs(d1, d2 *Vnode, p1, p2 string) func() {
	if d1 == d2 {
		d1.Lock()
		return d1.Unlock
	}
	if fspath.IsDescendant(p2, p1) || (!fspath.IsDescendant(p1, p2) && p2 < p1) {
		d1, d2 = d2, d1
	}
	d1.Lock()
	d2.Lock()
	return func() {
		d2.Unlock()
		d1.Unlock()
	}
}

func (v *VirtualFilesystem) readlink(ctx context.Context, path string) (string, error) {
	dp, err := v.NameiLastNoFollow(ctx, path)
	if err != nil {
		return "", err
	}
	defer dp.DecRef(ctx)
	if dp.vnode.Type != Symlink {
		return "", linuxerr.EINVAL
	}
	return v.readlinkDentry(ctx, dp)
}

func (v *VirtualFilesystem) resolve(ctx context.Context, path string, follow bool) (*Dentry, error) {
	if follow {
		return v.Namei(ctx, path)
	}
	return v.NameiLastNoFollow(ctx, path)
}

func (v *VirtualFilesystem) stat(ctx context.Context, path string, follow bool) (Stat, error) {
	dp, err := v.resolve(ctx, path, follow)
	if err != nil {
		return Stat{}, err
	}
	defer dp.DecRef(ctx)
	vp := dp.vnode
	vp.Lock()
	defer vp.Unlock()
	return vp.Stat(ctx)
}

func (v *VirtualFilesystem) statfs(ctx context.Context, path string) (Statfs, error) {
	dp, err := v.Namei(ctx, path)
	if err != nil {
		return Statfs{}, err
	}
	defer dp.DecRef(ctx)
	return dp.mount.Statfs(ctx)
}

func (v *VirtualFilesystem) chmod(ctx context.Context, path string, mode uint32) error {
	dp, err := v.Namei(ctx, path)
	if err != nil {
		return err
	}
	defer dp.DecRef(ctx)
	vp := dp.vnode
	vp.Lock()
	defer vp.Unlock()
	if vp.mount.ReadOnly() {
		return linuxerr.EROFS
	}
	return vp.SetMode(ctx, mode)
}

func (v *VirtualFilesystem) utimens(ctx context.Context, path string, ts *[2]unix.Timespec, follow bool) error {
	times, err := checkTimes(ts)
	if err != nil {
		return err
	}
	dp, err := v.resolve(ctx, path, follow)
	if err != nil {
		return err
	}
	defer dp.DecRef(ctx)
	vp := dp.vnode
	vp.Lock()
	defer vp.Unlock()
	if vp.mount.ReadOnly() {
		return linuxerr.EROFS
	}
	return vp.SetTimes(ctx, times)
}

func (v *VirtualFilesystem) truncate(ctx context.Context, path string, length int64) error {
	if length < 0 {
		return linuxerr.EINVAL
	}
	dp, err := v.Namei(ctx, path)
	if err != nil {
		return err
	}
	defer dp.DecRef(ctx)
	vp := dp.vnode
	switch vp.Type {
	case RegularFile:
	case Directory:
		return linuxerr.EISDIR
	default:
		return linuxerr.EINVAL
	}
	vp.Lock()
	defer vp.Unlock()
	if err := vp.Access(MayWrite); err != nil {
		return err
	}
	return linuxerr.Normalize(vp.mount.fs.Truncate(ctx, vp, length))
}

func (v *VirtualFilesystem) access(ctx context.Context, path string, mode uint32) error {
	if mode&^(unix.R_OK|unix.W_OK|unix.X_OK) != 0 {
		return linuxerr.EINVAL
	}
	dp, err := v.Namei(ctx, path)
	if err != nil {
		return err
	}
	defer dp.DecRef(ctx)
	if mode == unix.F_OK {
		return nil
	}
	vp := dp.vnode
	vp.Lock()
	defer vp.Unlock()
	return vp.Access(AccessTypes(mode))
}
