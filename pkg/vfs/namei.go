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
	"strings"

	"golang.org/x/sys/unix"
	"vfscore.dev/vfscore/pkg/errors"
	"vfscore.dev/vfscore/pkg/errors/linuxerr"
	"vfscore.dev/vfscore/pkg/fspath"
)

// errRestart is returned by walk when a dentry on the path was unhashed by
// a concurrent rename or removal. Resolution starts over.
var errRestart = errors.New(unix.ESTALE, "dentry unhashed during path walk")

// Namei resolves the canonical absolute path to a dentry, following
// symlinks in every component including the last. The returned dentry
// carries a reference owned by the caller.
func (v *VirtualFilesystem) Namei(ctx context.Context, path string) (*Dentry, error) {
	return v.namei(ctx, path, true /* followLast */)
}

// NameiLastNoFollow resolves path like Namei, except that a symlink in the
// final component is returned rather than followed. A path naming a mount
// point yields the root of the mounted filesystem.
func (v *VirtualFilesystem) NameiLastNoFollow(ctx context.Context, path string) (*Dentry, error) {
	ddp, name, err := v.Lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	defer ddp.DecRef(ctx)
	return v.lastNoFollow(ctx, ddp, path, name)
}

// Lookup resolves the directory containing the final component of path. It
// returns the directory's dentry, referenced, and the final component. For
// "/" it returns the root dentry and an empty name.
func (v *VirtualFilesystem) Lookup(ctx context.Context, path string) (*Dentry, string, error) {
	dir, name := fspath.Split(path)
	if name == "" {
		d, err := v.Namei(ctx, path)
		return d, "", err
	}
	if len(name) > v.opts.MaxName {
		return nil, "", linuxerr.ENAMETOOLONG
	}
	ddp, err := v.Namei(ctx, dir)
	if err != nil {
		return nil, "", err
	}
	if ddp.vnode.Type != Directory {
		ddp.DecRef(ctx)
		return nil, "", linuxerr.ENOTDIR
	}
	return ddp, name, nil
}

func (v *VirtualFilesystem) namei(ctx context.Context, path string, followLast bool) (*Dentry, error) {
	hops := 0
	for {
		mnt, rest, err := v.mounts.FindRoot(path)
		if err != nil {
			return nil, err
		}
		if d := v.dentries.Lookup(mnt, "/"+rest); d != nil {
			if d.vnode.Type != Symlink || !followLast {
				return d, nil
			}
			d.DecRef(ctx)
		}

		d, next, err := v.walk(ctx, mnt, rest, followLast)
		if err == errRestart {
			continue
		}
		if err != nil || d != nil {
			return d, err
		}
		if hops >= v.opts.MaxSymlinks {
			return nil, linuxerr.ELOOP
		}
		hops++
		v.metrics.symlinks.Increment()
		path = next
	}
}

// walk resolves rest, a path relative to the root of mnt, one component at
// a time. If it meets a symlink that must be followed it returns a nil
// dentry and the absolute path to restart resolution from.
func (v *VirtualFilesystem) walk(ctx context.Context, mnt *Mount, rest string, followLast bool) (*Dentry, string, error) {
	ddp := mnt.root
	ddp.IncRef()
	for rest != "" {
		var name string
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name, rest = rest[:i], rest[i+1:]
		} else {
			name, rest = rest, ""
		}
		if len(name) > v.opts.MaxName {
			ddp.DecRef(ctx)
			return nil, "", linuxerr.ENAMETOOLONG
		}

		dp, err := v.lookupChild(ctx, ddp, name)
		ddp.DecRef(ctx)
		if err != nil {
			return nil, "", err
		}
		if !dp.IsHashed() {
			dp.DecRef(ctx)
			return nil, "", errRestart
		}
		ddp = dp

		switch dp.vnode.Type {
		case Symlink:
			if rest == "" && !followLast {
				break
			}
			linkPath := dp.FullPath()
			target, err := v.readlinkDentry(ctx, dp)
			dp.DecRef(ctx)
			if err != nil {
				return nil, "", err
			}
			next, err := v.splice(linkPath, target, rest)
			return nil, next, err
		case Directory:
		default:
			if rest != "" {
				dp.DecRef(ctx)
				return nil, "", linuxerr.ENOTDIR
			}
		}
	}
	return ddp, "", nil
}

// splice returns the path to resolve after the symlink at linkPath, whose
// target is target, with rest still unresolved beneath it.
func (v *VirtualFilesystem) splice(linkPath, target, rest string) (string, error) {
	if target == "" {
		return "", linuxerr.ENOENT
	}
	p := target
	if target[0] != '/' {
		dir, _ := fspath.Split(linkPath)
		p = fspath.Join(dir, target)
	}
	if rest != "" {
		p += "/" + rest
	}
	return fspath.Canonicalize("/", p, v.opts.MaxPath)
}

// lastNoFollow returns the dentry for name in directory ddp, where path is
// the full path being resolved, without following a symlink.
func (v *VirtualFilesystem) lastNoFollow(ctx context.Context, ddp *Dentry, path, name string) (*Dentry, error) {
	if mnt, rest, err := v.mounts.FindRoot(path); err == nil && rest == "" {
		mnt.root.IncRef()
		return mnt.root, nil
	}
	return v.lookupChild(ctx, ddp, name)
}

// lookupChild returns the dentry for name in the directory ddp.
func (v *VirtualFilesystem) lookupChild(ctx context.Context, ddp *Dentry, name string) (*Dentry, error) {
	dvp := ddp.vnode
	dvp.Lock()
	defer dvp.Unlock()
	return v.lookupChildLocked(ctx, ddp, name)
}

// lookupChildLocked returns the dentry for name in the directory ddp. If
// ddp has been unhashed, a new child is not hashed either.
//
// Preconditions: ddp.vnode is locked, so ddp cannot be moved.
func (v *VirtualFilesystem) lookupChildLocked(ctx context.Context, ddp *Dentry, name string) (*Dentry, error) {
	dir, hashed := ddp.hashedPath()
	node := fspath.Join(dir, name)
	if hashed {
		if dp := v.dentries.Lookup(ddp.mount, node); dp != nil {
			return dp, nil
		}
	}
	vp, err := ddp.mount.fs.Lookup(ctx, ddp.vnode, name)
	if err != nil {
		return nil, linuxerr.Normalize(err)
	}
	dp := v.dentries.Alloc(ddp, vp, node)
	vp.Put(ctx)
	return dp, nil
}

func (v *VirtualFilesystem) readlinkDentry(ctx context.Context, dp *Dentry) (string, error) {
	vp := dp.vnode
	vp.Lock()
	defer vp.Unlock()
	target, err := vp.mount.fs.Readlink(ctx, vp)
	if err != nil {
		return "", linuxerr.Normalize(err)
	}
	return target, nil
}
