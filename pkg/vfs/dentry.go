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
	"sync/atomic"

	"github.com/google/btree"
	"vfscore.dev/vfscore/pkg/fspath"
	"vfscore.dev/vfscore/pkg/log"
	"vfscore.dev/vfscore/pkg/refs"
)

// childDegree is the B-tree degree of Dentry child sets.
const childDegree = 8

// Dentry binds a path within a mount to a vnode. Dentries are reference
// counted; a child holds a reference on its parent, so a referenced dentry
// keeps its whole ancestry alive.
//
// A dentry is found by path only while it is hashed. Remove and Move unhash
// dentries whose paths have become stale; stale dentries stay usable by
// their holders and are freed when their last reference is dropped.
type Dentry struct {
	// mount is immutable.
	mount *Mount

	// vnode is immutable. The dentry holds a reference on it.
	vnode *Vnode

	// id breaks ties between children with the same name. It is immutable.
	id uint64

	// The following fields are protected by DentryCache.mu.
	path   string
	parent *Dentry
	hashed bool
	refs   refs.Count

	// name is the final component of path. It is protected by the childMu
	// of the dentry's parent.
	name string

	// childMu protects children.
	childMu  sync.Mutex
	children *btree.BTreeG[*Dentry]
}

func dentryLess(a, b *Dentry) bool {
	if a.name != b.name {
		return a.name < b.name
	}
	return a.id < b.id
}

// Mount returns the mount d belongs to.
func (d *Dentry) Mount() *Mount {
	return d.mount
}

// Vnode returns the vnode d is bound to. It remains valid while d is
// referenced.
func (d *Dentry) Vnode() *Vnode {
	return d.vnode
}

// Path returns the path of d relative to its mount's root.
func (d *Dentry) Path() string {
	c := &d.mount.vfs.dentries
	c.mu.Lock()
	defer c.mu.Unlock()
	return d.path
}

// FullPath returns the absolute path of d.
func (d *Dentry) FullPath() string {
	return d.mount.fullPath(d.Path())
}

// IsHashed returns true if d can still be found by DentryCache.Lookup.
func (d *Dentry) IsHashed() bool {
	c := &d.mount.vfs.dentries
	c.mu.Lock()
	defer c.mu.Unlock()
	return d.hashed
}

// hashedPath returns the path of d and whether d is hashed.
func (d *Dentry) hashedPath() (string, bool) {
	c := &d.mount.vfs.dentries
	c.mu.Lock()
	defer c.mu.Unlock()
	return d.path, d.hashed
}

// ReadRefs returns the current reference count of d.
func (d *Dentry) ReadRefs() int64 {
	c := &d.mount.vfs.dentries
	c.mu.Lock()
	defer c.mu.Unlock()
	return d.refs.Read()
}

// IncRef takes an additional reference on d. The caller must already hold
// one.
func (d *Dentry) IncRef() {
	c := &d.mount.vfs.dentries
	c.mu.Lock()
	d.refs.Inc()
	c.mu.Unlock()
}

// DecRef drops a reference on d.
func (d *Dentry) DecRef(ctx context.Context) {
	d.mount.vfs.dentries.decRef(ctx, d)
}

// Children returns the names of the cached children of d in order.
func (d *Dentry) Children() []string {
	d.childMu.Lock()
	defer d.childMu.Unlock()
	if d.children == nil {
		return nil
	}
	names := make([]string, 0, d.children.Len())
	d.children.Ascend(func(child *Dentry) bool {
		names = append(names, child.name)
		return true
	})
	return names
}

// RefType implements refs.CheckedObject.RefType.
func (d *Dentry) RefType() string {
	return "vfs.Dentry"
}

// LeakMessage implements refs.CheckedObject.LeakMessage.
func (d *Dentry) LeakMessage() string {
	return fmt.Sprintf("[vfs.Dentry %p] %q on %q", d, d.path, d.mount.path)
}

// LogRefs implements refs.CheckedObject.LogRefs.
func (d *Dentry) LogRefs() bool {
	return false
}

type dentryKey struct {
	mount *Mount
	path  string
}

// DentryCache is the table of hashed dentries, keyed by mount and
// mount-relative path.
//
// Lock order: Vnode.mu -> Dentry.childMu (parent before child) ->
// DentryCache.mu -> VnodeCache.mu.
type DentryCache struct {
	vfs    *VirtualFilesystem
	nextID atomic.Uint64

	// mu protects table, the DentryCache-protected fields of every Dentry
	// and Vnode.names.
	mu    sync.Mutex
	table map[dentryKey]*Dentry
}

func (c *DentryCache) init(vfs *VirtualFilesystem) {
	c.vfs = vfs
	c.table = make(map[dentryKey]*Dentry)
}

// Alloc returns a new dentry for path, bound to vp, with a single
// reference. The dentry takes its own references on vp and parent. parent
// is nil only for the root dentry of a mount.
//
// The dentry is hashed only if parent is: a child of an unhashed dentry
// would be cached under a path that no longer exists.
func (c *DentryCache) Alloc(parent *Dentry, vp *Vnode, path string) *Dentry {
	vp.IncRef()
	_, name := fspath.Split(path)
	d := &Dentry{
		mount: vp.mount,
		vnode: vp,
		id:    c.nextID.Add(1),
		path:  path,
		name:  name,
	}
	d.refs.Init()

	if parent == nil {
		c.mu.Lock()
		c.hashLocked(d)
		c.mu.Unlock()
	} else {
		parent.childMu.Lock()
		c.mu.Lock()
		parent.refs.Inc()
		d.parent = parent
		if parent.hashed {
			c.hashLocked(d)
		}
		c.mu.Unlock()
		parent.insertChildLocked(d)
		parent.childMu.Unlock()
	}
	refs.Register(d)
	return d
}

// Lookup returns the hashed dentry for path on mnt with a new reference, or
// nil if there is none.
func (c *DentryCache) Lookup(mnt *Mount, path string) *Dentry {
	c.mu.Lock()
	d, ok := c.table[dentryKey{mnt, path}]
	if ok {
		d.refs.Inc()
	}
	c.mu.Unlock()
	if ok {
		c.vfs.metrics.dentryHits.Increment()
		return d
	}
	c.vfs.metrics.dentryMisses.Increment()
	return nil
}

// Remove unhashes d. d stays valid for existing holders.
func (c *DentryCache) Remove(d *Dentry) {
	c.mu.Lock()
	c.unhashLocked(d)
	c.mu.Unlock()
}

// Move rebinds d to newPath under newParent and unhashes every cached
// descendant of d, whose paths are now stale. The caller must hold a
// reference on d and the vnode locks of both the old and the new parent.
func (c *DentryCache) Move(ctx context.Context, d, newParent *Dentry, newPath string) {
	c.mu.Lock()
	oldParent := d.parent
	c.mu.Unlock()
	if oldParent != nil {
		oldParent.childMu.Lock()
		oldParent.children.Delete(d)
		oldParent.childMu.Unlock()
	}

	c.unhashDescendants(d)

	_, name := fspath.Split(newPath)
	newParent.childMu.Lock()
	c.mu.Lock()
	c.unhashLocked(d)
	d.path = newPath
	d.parent = newParent
	newParent.refs.Inc()
	if newParent.hashed {
		c.hashLocked(d)
	}
	c.mu.Unlock()
	d.name = name
	newParent.insertChildLocked(d)
	newParent.childMu.Unlock()

	if oldParent != nil {
		oldParent.DecRef(ctx)
	}
}

// Len returns the number of hashed dentries.
func (c *DentryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// Dump returns a description of every hashed dentry, sorted by absolute
// path, and logs it at debug level.
func (c *DentryCache) Dump() []string {
	c.mu.Lock()
	lines := make([]string, 0, len(c.table))
	for _, d := range c.table {
		lines = append(lines, fmt.Sprintf("%s refs=%d ino=%d", d.mount.fullPath(d.path), d.refs.Read(), d.vnode.ino))
	}
	c.mu.Unlock()
	sort.Strings(lines)
	for _, line := range lines {
		log.Debugf("vfs: dentry %s", line)
	}
	return lines
}

// +checklocks:parent.childMu
func (parent *Dentry) insertChildLocked(d *Dentry) {
	if parent.children == nil {
		parent.children = btree.NewG(childDegree, dentryLess)
	}
	parent.children.ReplaceOrInsert(d)
}

// Preconditions: c.mu is locked.
func (c *DentryCache) hashLocked(d *Dentry) {
	key := dentryKey{d.mount, d.path}
	if old, ok := c.table[key]; ok && old != d {
		old.hashed = false
	}
	c.table[key] = d
	d.hashed = true
	if d.vnode.names == nil {
		d.vnode.names = make(map[*Dentry]struct{})
	}
	d.vnode.names[d] = struct{}{}
}

// Preconditions: c.mu is locked.
func (c *DentryCache) unhashLocked(d *Dentry) {
	if !d.hashed {
		return
	}
	key := dentryKey{d.mount, d.path}
	if c.table[key] == d {
		delete(c.table, key)
	}
	d.hashed = false
}

func (c *DentryCache) unhashDescendants(d *Dentry) {
	var kids []*Dentry
	d.childMu.Lock()
	if d.children != nil {
		d.children.Ascend(func(child *Dentry) bool {
			kids = append(kids, child)
			return true
		})
	}
	d.childMu.Unlock()

	c.mu.Lock()
	for _, kid := range kids {
		c.unhashLocked(kid)
	}
	c.mu.Unlock()
	for _, kid := range kids {
		c.unhashDescendants(kid)
	}
}

func (c *DentryCache) decRef(ctx context.Context, d *Dentry) {
	for d != nil {
		c.mu.Lock()
		if d.refs.Dec() > 0 {
			c.mu.Unlock()
			return
		}
		c.unhashLocked(d)
		delete(d.vnode.names, d)
		parent := d.parent
		d.parent = nil
		c.mu.Unlock()

		if parent != nil {
			parent.childMu.Lock()
			parent.children.Delete(d)
			parent.childMu.Unlock()
		}
		refs.Unregister(d)
		d.vnode.Release(ctx)
		d = parent
	}
}

// namesOf returns the absolute paths of the dentries bound to vp.
func (c *DentryCache) namesOf(vp *Vnode) []string {
	c.mu.Lock()
	names := make([]string, 0, len(vp.names))
	for d := range vp.names {
		names = append(names, d.mount.fullPath(d.path))
	}
	c.mu.Unlock()
	sort.Strings(names)
	return names
}
