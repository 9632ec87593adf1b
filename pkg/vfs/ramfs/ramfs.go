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

// Package ramfs provides an in-memory filesystem driver for the VFS.
//
// All nodes of a mount are protected by a single filesystem mutex; the VFS
// serializes operations on each vnode with the vnode lock.
package ramfs

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
	"golang.org/x/sys/unix"
	"vfscore.dev/vfscore/pkg/errors/linuxerr"
	"vfscore.dev/vfscore/pkg/vfs"
)

// Name is the filesystem type name of ramfs.
const Name = "ramfs"

const (
	// magic is RAMFS_MAGIC.
	magic = 0x858458f6

	blockSize = 4096

	// entryDegree is the B-tree degree of directory entry sets.
	entryDegree = 16

	rootIno = 0
)

// FilesystemType implements vfs.FilesystemType.
type FilesystemType struct{}

// NewFilesystem implements vfs.FilesystemType.NewFilesystem.
func (FilesystemType) NewFilesystem(ctx context.Context, v *vfs.VirtualFilesystem) (vfs.Filesystem, error) {
	fs := &filesystem{
		nodes: make(map[uint64]*node),
	}
	fs.mu.Lock()
	root := fs.newNodeLocked(vfs.Directory, 0755)
	root.parent = root
	fs.mu.Unlock()
	return fs, nil
}

// filesystem implements vfs.Filesystem.
type filesystem struct {
	vfs.DefaultVnodeOperations

	// mu protects the fields below and all nodes.
	mu      sync.Mutex
	nodes   map[uint64]*node
	nextIno uint64

	// maxSize bounds the total file data in bytes. Zero means unlimited.
	maxSize int64
	used    int64
}

// node is a ramfs file.
type node struct {
	ino    uint64
	typ    vfs.VnodeType
	mode   uint32
	nlink  uint64
	data   []byte
	target string

	// entries and parent are set for directories only. The root is its own
	// parent.
	entries *btree.BTreeG[entry]
	parent  *node

	atime unix.Timespec
	mtime unix.Timespec
	ctime unix.Timespec
}

// entry is a directory entry.
type entry struct {
	name string
	node *node
}

func entryLess(a, b entry) bool {
	return a.name < b.name
}

func now() unix.Timespec {
	return unix.NsecToTimespec(time.Now().UnixNano())
}

// Preconditions: fs.mu is locked.
func (fs *filesystem) newNodeLocked(typ vfs.VnodeType, mode uint32) *node {
	t := now()
	n := &node{
		ino:   fs.nextIno,
		typ:   typ,
		mode:  mode & 07777,
		nlink: 1,
		atime: t,
		mtime: t,
		ctime: t,
	}
	fs.nextIno++
	if typ == vfs.Directory {
		n.nlink = 2
		n.entries = btree.NewG(entryDegree, entryLess)
	}
	fs.nodes[n.ino] = n
	return n
}

func nodeOf(vp *vfs.Vnode) *node {
	return vp.Private.(*node)
}

// Preconditions: fs.mu is locked.
func (n *node) lookupLocked(name string) (*node, bool) {
	e, ok := n.entries.Get(entry{name: name})
	return e.node, ok
}

// Preconditions: fs.mu is locked.
func (n *node) linkLocked(name string, child *node) {
	n.entries.ReplaceOrInsert(entry{name: name, node: child})
	t := now()
	n.mtime, n.ctime = t, t
	if child.typ == vfs.Directory {
		child.parent = n
		n.nlink++
	}
}

// Preconditions: fs.mu is locked.
func (n *node) unlinkLocked(name string, child *node) {
	n.entries.Delete(entry{name: name})
	t := now()
	n.mtime, n.ctime = t, t
	child.ctime = t
	if child.typ == vfs.Directory {
		child.nlink = 0
		n.nlink--
	} else {
		child.nlink--
	}
}

// Mount implements vfs.MountOperations.Mount. data may contain "size=N",
// the maximum total file data in bytes.
func (fs *filesystem) Mount(ctx context.Context, mnt *vfs.Mount, device string, flags vfs.MountFlags, data string) error {
	for _, opt := range strings.Split(data, ",") {
		if opt == "" {
			continue
		}
		k, val, _ := strings.Cut(opt, "=")
		switch k {
		case "size":
			size, err := strconv.ParseInt(val, 0, 64)
			if err != nil || size < 0 {
				return linuxerr.EINVAL
			}
			fs.mu.Lock()
			fs.maxSize = size
			fs.mu.Unlock()
		default:
			return linuxerr.EINVAL
		}
	}
	return nil
}

// Unmount implements vfs.MountOperations.Unmount.
func (fs *filesystem) Unmount(ctx context.Context, mnt *vfs.Mount, flags vfs.UnmountFlags) error {
	return nil
}

// Sync implements vfs.MountOperations.Sync.
func (fs *filesystem) Sync(ctx context.Context, mnt *vfs.Mount) error {
	return nil
}

// Vget implements vfs.MountOperations.Vget.
func (fs *filesystem) Vget(ctx context.Context, mnt *vfs.Mount, vp *vfs.Vnode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[vp.Ino()]
	if !ok {
		return linuxerr.ENOENT
	}
	vp.Type = n.typ
	vp.Mode = n.mode
	vp.Size = int64(len(n.data))
	vp.Private = n
	return nil
}

// Statfs implements vfs.MountOperations.Statfs.
func (fs *filesystem) Statfs(ctx context.Context, mnt *vfs.Mount) (vfs.Statfs, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	used := uint64((fs.used + blockSize - 1) / blockSize)
	st := vfs.Statfs{
		Type:    magic,
		Bsize:   blockSize,
		Blocks:  used,
		Files:   uint64(len(fs.nodes)),
		Namelen: vfs.DefaultMaxName,
	}
	if fs.maxSize > 0 {
		st.Blocks = uint64(fs.maxSize / blockSize)
		if st.Blocks > used {
			st.Bfree = st.Blocks - used
		}
		st.Bavail = st.Bfree
	}
	return st, nil
}

// Lookup implements vfs.VnodeOperations.Lookup.
func (fs *filesystem) Lookup(ctx context.Context, dir *vfs.Vnode, name string) (*vfs.Vnode, error) {
	dn := nodeOf(dir)
	fs.mu.Lock()
	child, ok := dn.lookupLocked(name)
	fs.mu.Unlock()
	if !ok {
		return nil, linuxerr.ENOENT
	}
	vp, _, err := dir.Mount().GetVnode(ctx, child.ino)
	return vp, err
}

// Create implements vfs.VnodeOperations.Create.
func (fs *filesystem) Create(ctx context.Context, dir *vfs.Vnode, name string, mode uint32) error {
	typ := vfs.VnodeTypeFromMode(mode)
	switch typ {
	case vfs.Directory, vfs.Symlink, vfs.Bad:
		return linuxerr.EINVAL
	}
	dn := nodeOf(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := dn.lookupLocked(name); ok {
		return linuxerr.EEXIST
	}
	dn.linkLocked(name, fs.newNodeLocked(typ, mode))
	return nil
}

// Mkdir implements vfs.VnodeOperations.Mkdir.
func (fs *filesystem) Mkdir(ctx context.Context, dir *vfs.Vnode, name string, mode uint32) error {
	dn := nodeOf(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := dn.lookupLocked(name); ok {
		return linuxerr.EEXIST
	}
	dn.linkLocked(name, fs.newNodeLocked(vfs.Directory, mode))
	return nil
}

// Symlink implements vfs.VnodeOperations.Symlink.
func (fs *filesystem) Symlink(ctx context.Context, dir *vfs.Vnode, name, target string) error {
	dn := nodeOf(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := dn.lookupLocked(name); ok {
		return linuxerr.EEXIST
	}
	n := fs.newNodeLocked(vfs.Symlink, 0777)
	n.target = target
	dn.linkLocked(name, n)
	return nil
}

// Link implements vfs.VnodeOperations.Link.
func (fs *filesystem) Link(ctx context.Context, dir, vp *vfs.Vnode, name string) error {
	dn, n := nodeOf(dir), nodeOf(vp)
	if n.typ == vfs.Directory {
		return linuxerr.EPERM
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n.nlink == 0 {
		return linuxerr.ENOENT
	}
	if _, ok := dn.lookupLocked(name); ok {
		return linuxerr.EEXIST
	}
	dn.linkLocked(name, n)
	n.nlink++
	n.ctime = now()
	return nil
}

// checkEntryLocked returns ENOENT unless name in dir still refers to n.
//
// Preconditions: fs.mu is locked.
func checkEntryLocked(dir *node, name string, n *node) error {
	if child, ok := dir.lookupLocked(name); !ok || child != n {
		return linuxerr.ENOENT
	}
	return nil
}

// Remove implements vfs.VnodeOperations.Remove.
func (fs *filesystem) Remove(ctx context.Context, dir, vp *vfs.Vnode, name string) error {
	dn, n := nodeOf(dir), nodeOf(vp)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := checkEntryLocked(dn, name, n); err != nil {
		return err
	}
	if n.typ == vfs.Directory {
		return linuxerr.EISDIR
	}
	dn.unlinkLocked(name, n)
	return nil
}

// Rmdir implements vfs.VnodeOperations.Rmdir.
func (fs *filesystem) Rmdir(ctx context.Context, dir, vp *vfs.Vnode, name string) error {
	dn, n := nodeOf(dir), nodeOf(vp)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := checkEntryLocked(dn, name, n); err != nil {
		return err
	}
	if n.typ != vfs.Directory {
		return linuxerr.ENOTDIR
	}
	if n.entries.Len() != 0 {
		return linuxerr.ENOTEMPTY
	}
	dn.unlinkLocked(name, n)
	return nil
}

// Rename implements vfs.VnodeOperations.Rename.
func (fs *filesystem) Rename(ctx context.Context, srcDir, src *vfs.Vnode, srcName string, dstDir, dst *vfs.Vnode, dstName string) error {
	sdn, sn, ddn := nodeOf(srcDir), nodeOf(src), nodeOf(dstDir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := checkEntryLocked(sdn, srcName, sn); err != nil {
		return err
	}
	if dst == nil {
		if _, ok := ddn.lookupLocked(dstName); ok {
			return linuxerr.EEXIST
		}
	} else {
		dn := nodeOf(dst)
		if err := checkEntryLocked(ddn, dstName, dn); err != nil {
			return err
		}
		if dn.typ == vfs.Directory && dn.entries.Len() != 0 {
			return linuxerr.ENOTEMPTY
		}
		ddn.unlinkLocked(dstName, dn)
	}
	nlink := sn.nlink
	sdn.unlinkLocked(srcName, sn)
	ddn.linkLocked(dstName, sn)
	sn.nlink = nlink
	return nil
}

// Readdir implements vfs.VnodeOperations.Readdir.
func (fs *filesystem) Readdir(ctx context.Context, vp *vfs.Vnode, off int64) (vfs.Dirent, error) {
	n := nodeOf(vp)
	if n.typ != vfs.Directory {
		return vfs.Dirent{}, linuxerr.ENOTDIR
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n.atime = now()
	switch {
	case off < 0:
		return vfs.Dirent{}, linuxerr.EINVAL
	case off == 0:
		return vfs.Dirent{Ino: n.ino, Off: off, Type: unix.DT_DIR, Name: "."}, nil
	case off == 1:
		return vfs.Dirent{Ino: n.parent.ino, Off: off, Type: unix.DT_DIR, Name: ".."}, nil
	}
	var (
		found bool
		d     vfs.Dirent
		i     int64
	)
	n.entries.Ascend(func(e entry) bool {
		if i == off-2 {
			d = vfs.Dirent{Ino: e.node.ino, Off: off, Type: e.node.typ.DirentType(), Name: e.name}
			found = true
			return false
		}
		i++
		return true
	})
	if !found {
		return vfs.Dirent{}, linuxerr.ENOENT
	}
	return d, nil
}

// Getattr implements vfs.VnodeOperations.Getattr.
func (fs *filesystem) Getattr(ctx context.Context, vp *vfs.Vnode) (vfs.Vattr, error) {
	n := nodeOf(vp)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	size := int64(len(n.data))
	if n.typ == vfs.Symlink {
		size = int64(len(n.target))
	}
	return vfs.Vattr{
		Type:   n.typ,
		Mode:   n.mode | n.typ.ModeType(),
		Nlink:  n.nlink,
		NodeID: n.ino,
		Size:   size,
		Atime:  n.atime,
		Mtime:  n.mtime,
		Ctime:  n.ctime,
	}, nil
}

// Setattr implements vfs.VnodeOperations.Setattr.
func (fs *filesystem) Setattr(ctx context.Context, vp *vfs.Vnode, attr *vfs.Vattr) error {
	n := nodeOf(vp)
	if attr.Mask&vfs.AttrSize != 0 {
		if err := fs.Truncate(ctx, vp, attr.Size); err != nil {
			return err
		}
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if attr.Mask&vfs.AttrMode != 0 {
		n.mode = attr.Mode & 07777
	}
	if attr.Mask&vfs.AttrAtime != 0 {
		n.atime = attr.Atime
	}
	if attr.Mask&vfs.AttrMtime != 0 {
		n.mtime = attr.Mtime
	}
	n.ctime = now()
	return nil
}

// Inactive implements vfs.VnodeOperations.Inactive. Nodes with no
// remaining links are freed.
func (fs *filesystem) Inactive(ctx context.Context, vp *vfs.Vnode) error {
	n, ok := vp.Private.(*node)
	if !ok {
		return nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n.nlink == 0 && n.ino != rootIno {
		fs.used -= int64(len(n.data))
		delete(fs.nodes, n.ino)
	}
	return nil
}

// Preconditions: fs.mu is locked.
func (fs *filesystem) resizeLocked(n *node, size int64) error {
	old := int64(len(n.data))
	if size > old && fs.maxSize > 0 && fs.used+size-old > fs.maxSize {
		return linuxerr.ENOSPC
	}
	if size <= int64(cap(n.data)) {
		n.data = n.data[:size]
		if size > old {
			clear(n.data[old:])
		}
	} else {
		data := make([]byte, size, size+size/4)
		copy(data, n.data)
		n.data = data
	}
	fs.used += size - old
	return nil
}

// Truncate implements vfs.VnodeOperations.Truncate.
func (fs *filesystem) Truncate(ctx context.Context, vp *vfs.Vnode, length int64) error {
	n := nodeOf(vp)
	if n.typ != vfs.RegularFile {
		return linuxerr.EINVAL
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.resizeLocked(n, length); err != nil {
		return err
	}
	t := now()
	n.mtime, n.ctime = t, t
	vp.Size = length
	return nil
}

// Read implements vfs.VnodeOperations.Read.
func (fs *filesystem) Read(ctx context.Context, vp *vfs.Vnode, fd *vfs.File, dst []byte, off int64) (int, error) {
	n := nodeOf(vp)
	if n.typ == vfs.Directory {
		return 0, linuxerr.EISDIR
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n.atime = now()
	if off >= int64(len(n.data)) {
		return 0, nil
	}
	return copy(dst, n.data[off:]), nil
}

// Write implements vfs.VnodeOperations.Write.
func (fs *filesystem) Write(ctx context.Context, vp *vfs.Vnode, fd *vfs.File, src []byte, off int64) (int, error) {
	n := nodeOf(vp)
	if n.typ == vfs.Directory {
		return 0, linuxerr.EISDIR
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if end := off + int64(len(src)); end > int64(len(n.data)) {
		if err := fs.resizeLocked(n, end); err != nil {
			return 0, err
		}
	}
	copy(n.data[off:], src)
	t := now()
	n.mtime, n.ctime = t, t
	vp.Size = int64(len(n.data))
	return len(src), nil
}

// Fallocate implements vfs.VnodeOperations.Fallocate.
func (fs *filesystem) Fallocate(ctx context.Context, vp *vfs.Vnode, mode uint32, off, length int64) error {
	n := nodeOf(vp)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	end := off + length
	size := int64(len(n.data))
	switch {
	case mode&unix.FALLOC_FL_PUNCH_HOLE != 0:
		if off < size {
			clear(n.data[off:min(end, size)])
		}
	case mode&unix.FALLOC_FL_KEEP_SIZE != 0:
	case end > size:
		if err := fs.resizeLocked(n, end); err != nil {
			return err
		}
		vp.Size = end
	}
	t := now()
	n.mtime, n.ctime = t, t
	return nil
}

// Readlink implements vfs.VnodeOperations.Readlink.
func (fs *filesystem) Readlink(ctx context.Context, vp *vfs.Vnode) (string, error) {
	n := nodeOf(vp)
	if n.typ != vfs.Symlink {
		return "", linuxerr.EINVAL
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n.atime = now()
	return n.target, nil
}
