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
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"vfscore.dev/vfscore/pkg/errors/linuxerr"
	"vfscore.dev/vfscore/pkg/log"
	"vfscore.dev/vfscore/pkg/refs"
)

// Vnode is the in-memory representation of a file on a mounted filesystem.
// There is at most one active Vnode per (mount, inode number).
//
// Vnodes are reference counted. A vnode is removed from the VnodeCache and
// handed to the driver's Inactive operation when its last reference is
// dropped.
type Vnode struct {
	// mount and ino are immutable.
	mount *Mount
	ino   uint64

	// mu serializes operations on the file.
	mu sync.Mutex

	// refs is protected by VnodeCache.mu.
	refs refs.Count

	// names is the set of dentries bound to this vnode. It is protected by
	// DentryCache.mu.
	names map[*Dentry]struct{}

	// The following fields are set by the driver's Vget before the vnode is
	// published, and are protected by mu afterwards.

	// Type is the file type.
	Type VnodeType

	// Flags are vnode flags.
	Flags VnodeFlags

	// Mode holds the permission bits checked by Access.
	Mode uint32

	// Size is the file size in bytes.
	Size int64

	// Private is owned by the driver.
	Private any
}

// Mount returns the mount vp belongs to.
func (vp *Vnode) Mount() *Mount {
	return vp.mount
}

// Ino returns the inode number of vp.
func (vp *Vnode) Ino() uint64 {
	return vp.ino
}

// Lock locks vp.
func (vp *Vnode) Lock() {
	vp.mu.Lock()
}

// Unlock unlocks vp.
func (vp *Vnode) Unlock() {
	vp.mu.Unlock()
}

// IncRef takes an additional reference on vp. The caller must already hold
// one.
func (vp *Vnode) IncRef() {
	vp.mount.vfs.vnodes.incRef(vp)
}

// Put unlocks vp and drops a reference.
func (vp *Vnode) Put(ctx context.Context) {
	vp.mount.vfs.vnodes.release(ctx, vp, true /* locked */)
}

// Release drops a reference on the unlocked vnode vp.
func (vp *Vnode) Release(ctx context.Context) {
	vp.mount.vfs.vnodes.release(ctx, vp, false /* locked */)
}

// ReadRefs returns the current reference count of vp.
func (vp *Vnode) ReadRefs() int64 {
	c := &vp.mount.vfs.vnodes
	c.mu.Lock()
	defer c.mu.Unlock()
	return vp.refs.Read()
}

// RefType implements refs.CheckedObject.RefType.
func (vp *Vnode) RefType() string {
	return "vfs.Vnode"
}

// LeakMessage implements refs.CheckedObject.LeakMessage.
func (vp *Vnode) LeakMessage() string {
	return fmt.Sprintf("[vfs.Vnode %p] ino %d on %q", vp, vp.ino, vp.mount.path)
}

// LogRefs implements refs.CheckedObject.LogRefs.
func (vp *Vnode) LogRefs() bool {
	return false
}

// Access checks the permission bits of vp against ats. Write access to a
// file on a read-only mount fails with EROFS. vp must be locked.
func (vp *Vnode) Access(ats AccessTypes) error {
	if ats&MayExec != 0 && vp.Mode&0111 == 0 {
		return linuxerr.EACCES
	}
	if ats&MayRead != 0 && vp.Mode&0444 == 0 {
		return linuxerr.EACCES
	}
	if ats&MayWrite != 0 {
		if vp.mount.ReadOnly() {
			return linuxerr.EROFS
		}
		if vp.Mode&0222 == 0 {
			return linuxerr.EACCES
		}
	}
	return nil
}

// Stat returns file status for vp. vp must be locked.
func (vp *Vnode) Stat(ctx context.Context) (Stat, error) {
	attr, err := vp.mount.fs.Getattr(ctx, vp)
	if err != nil {
		return Stat{}, linuxerr.Normalize(err)
	}
	mt := vp.Type.ModeType()
	if mt == 0 {
		return Stat{}, linuxerr.EBADF
	}
	st := Stat{
		Dev:     attr.Fsid,
		Ino:     attr.NodeID,
		Mode:    attr.Mode&07777 | mt,
		Nlink:   attr.Nlink,
		UID:     attr.UID,
		GID:     attr.GID,
		Rdev:    attr.Rdev,
		Size:    attr.Size,
		Blksize: blockSize,
		Blocks:  (attr.Size + statBlockSize - 1) / statBlockSize,
		Atime:   attr.Atime,
		Mtime:   attr.Mtime,
		Ctime:   attr.Ctime,
	}
	if st.Dev == 0 {
		st.Dev = vp.mount.id
	}
	return st, nil
}

// SetTimes sets the access and modification times of vp from ts. An entry
// with Nsec set to UTIME_OMIT is left unchanged and UTIME_NOW selects the
// current time. vp must be locked.
func (vp *Vnode) SetTimes(ctx context.Context, ts [2]unix.Timespec) error {
	var attr Vattr
	now := unix.NsecToTimespec(time.Now().UnixNano())
	for i, t := range ts {
		if t.Nsec == unix.UTIME_OMIT {
			continue
		}
		if t.Nsec == unix.UTIME_NOW {
			t = now
		}
		if i == 0 {
			attr.Mask |= AttrAtime
			attr.Atime = t
		} else {
			attr.Mask |= AttrMtime
			attr.Mtime = t
		}
	}
	if attr.Mask == 0 {
		return nil
	}
	return linuxerr.Normalize(vp.mount.fs.Setattr(ctx, vp, &attr))
}

// SetMode sets the permission bits of vp. vp must be locked.
func (vp *Vnode) SetMode(ctx context.Context, mode uint32) error {
	attr := Vattr{Mask: AttrMode, Mode: mode & 07777}
	if err := vp.mount.fs.Setattr(ctx, vp, &attr); err != nil {
		return linuxerr.Normalize(err)
	}
	vp.Mode = mode & 07777
	return nil
}

type vnodeKey struct {
	mount *Mount
	ino   uint64
}

// VnodeCache is the table of active vnodes, keyed by mount and inode
// number.
//
// Lock order: Vnode.mu -> VnodeCache.mu. VnodeCache.mu is never held across
// a driver call or while acquiring a vnode lock.
type VnodeCache struct {
	vfs  *VirtualFilesystem
	warn log.Logger

	mu    sync.Mutex
	table map[vnodeKey]*Vnode
}

func (c *VnodeCache) init(vfs *VirtualFilesystem) {
	c.vfs = vfs
	c.warn = log.BasicRateLimitedLogger(time.Second)
	c.table = make(map[vnodeKey]*Vnode)
}

// Get returns the vnode for inode ino of mnt, referenced and locked. found
// reports whether the vnode was already active; if it was not, the driver's
// Vget has initialized it.
func (c *VnodeCache) Get(ctx context.Context, mnt *Mount, ino uint64) (vp *Vnode, found bool, err error) {
	key := vnodeKey{mnt, ino}
	c.mu.Lock()
	if vp, ok := c.table[key]; ok {
		vp.refs.Inc()
		c.mu.Unlock()
		c.vfs.metrics.vnodeHits.Increment()
		vp.mu.Lock()
		return vp, true, nil
	}
	c.mu.Unlock()
	c.vfs.metrics.vnodeMisses.Increment()

	vp = &Vnode{mount: mnt, ino: ino}
	vp.refs.Init()
	if err := mnt.fs.Vget(ctx, mnt, vp); err != nil {
		return nil, false, linuxerr.Normalize(err)
	}
	// vp is unpublished, so this cannot block.
	vp.mu.Lock()

	c.mu.Lock()
	if other, ok := c.table[key]; ok {
		// Another goroutine activated the same inode while Vget ran. The
		// loser is dropped without Inactive; Vget must not give a vnode
		// resources that outlive it.
		other.refs.Inc()
		c.mu.Unlock()
		vp.mu.Unlock()
		other.mu.Lock()
		return other, true, nil
	}
	c.table[key] = vp
	mnt.busy.Add(1)
	c.mu.Unlock()
	refs.Register(vp)
	return vp, false, nil
}

func (c *VnodeCache) incRef(vp *Vnode) {
	c.mu.Lock()
	vp.refs.Inc()
	c.mu.Unlock()
}

func (c *VnodeCache) release(ctx context.Context, vp *Vnode, locked bool) {
	c.mu.Lock()
	if vp.refs.Dec() > 0 {
		c.mu.Unlock()
		if locked {
			vp.mu.Unlock()
		}
		return
	}
	key := vnodeKey{vp.mount, vp.ino}
	if c.table[key] == vp {
		delete(c.table, key)
	}
	c.mu.Unlock()
	if locked {
		vp.mu.Unlock()
	}

	if err := vp.mount.fs.Inactive(ctx, vp); err != nil {
		c.warn.Warningf("vfs: inactive of ino %d on %q failed: %v", vp.ino, vp.mount.path, err)
	}
	vp.mount.busy.Add(-1)
	refs.Unregister(vp)
}

// Len returns the number of active vnodes.
func (c *VnodeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// Dump returns a description of every active vnode, sorted by mount path
// and inode number, and logs it at debug level.
func (c *VnodeCache) Dump() []string {
	c.mu.Lock()
	vps := make([]*Vnode, 0, len(c.table))
	refCounts := make(map[*Vnode]int64, len(c.table))
	for _, vp := range c.table {
		vps = append(vps, vp)
		refCounts[vp] = vp.refs.Read()
	}
	c.mu.Unlock()

	sort.Slice(vps, func(i, j int) bool {
		if vps[i].mount.path != vps[j].mount.path {
			return vps[i].mount.path < vps[j].mount.path
		}
		return vps[i].ino < vps[j].ino
	})
	lines := make([]string, 0, len(vps))
	for _, vp := range vps {
		// Type and Size may be changing; this is a debugging aid.
		line := fmt.Sprintf("%s ino=%d refs=%d mount=%s names=%v", vp.Type, vp.ino, refCounts[vp], vp.mount.path, c.vfs.dentries.namesOf(vp))
		log.Debugf("vfs: vnode %s", line)
		lines = append(lines, line)
	}
	return lines
}
