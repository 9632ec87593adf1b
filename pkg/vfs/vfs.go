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

// Package vfs implements the virtual filesystem switch of a library OS: the
// vnode and dentry caches, the mount table, pathname resolution, and the
// POSIX filesystem calls built on top of them.
//
// Filesystems plug in as drivers (FilesystemType, Filesystem). The VFS owns
// all caching and locking; a driver only sees locked vnodes and names.
//
// Lock order:
//
//	VirtualFilesystem.renameMu
//	  File.mu
//	    Vnode.mu (directory before child; rename locks two directories
//	              ancestor first, otherwise by path)
//	      Dentry.childMu (parent before child)
//	        DentryCache.mu
//	          VnodeCache.mu
//
// MountTable.mu is taken without any other VFS lock held except Vnode.mu.
package vfs

import (
	"fmt"
	"sort"
	"sync"

	"vfscore.dev/vfscore/pkg/errors/linuxerr"
	"vfscore.dev/vfscore/pkg/metric"
)

// Defaults for Options.
const (
	// DefaultMaxSymlinks is the maximum number of symlinks followed while
	// resolving one path, as in Linux.
	DefaultMaxSymlinks = 40

	// DefaultMaxPath is the maximum length of a path, including the
	// terminating NUL of the C API.
	DefaultMaxPath = 4096

	// DefaultMaxName is the maximum length of a path component.
	DefaultMaxName = 255

	// DefaultUmask is S_IWGRP|S_IWOTH.
	DefaultUmask = 0022
)

// Options configure a VirtualFilesystem.
type Options struct {
	// MaxSymlinks bounds symlink traversals per resolution. Zero selects
	// DefaultMaxSymlinks.
	MaxSymlinks int

	// MaxPath bounds path length. Zero selects DefaultMaxPath.
	MaxPath int

	// MaxName bounds path component length. Zero selects DefaultMaxName.
	MaxName int

	// Umask is the file mode creation mask of new tasks. Nil selects
	// DefaultUmask.
	Umask *uint32

	// Metrics receives the VFS counters. Nil creates a private registry.
	Metrics *metric.Registry
}

func (o *Options) setDefaults() {
	if o.MaxSymlinks == 0 {
		o.MaxSymlinks = DefaultMaxSymlinks
	}
	if o.MaxPath == 0 {
		o.MaxPath = DefaultMaxPath
	}
	if o.MaxName == 0 {
		o.MaxName = DefaultMaxName
	}
	if o.Umask == nil {
		umask := uint32(DefaultUmask)
		o.Umask = &umask
	}
	if o.Metrics == nil {
		o.Metrics = metric.NewRegistry()
	}
}

type vfsMetrics struct {
	vnodeHits    *metric.Uint64Metric
	vnodeMisses  *metric.Uint64Metric
	dentryHits   *metric.Uint64Metric
	dentryMisses *metric.Uint64Metric
	symlinks     *metric.Uint64Metric
	mounts       *metric.Uint64Metric
	unmounts     *metric.Uint64Metric
}

// VirtualFilesystem is the root of the VFS: it owns the filesystem
// registry, the caches and the mount table.
type VirtualFilesystem struct {
	opts     Options
	metrics  vfsMetrics
	vnodes   VnodeCache
	dentries DentryCache
	mounts   MountTable

	// renameMu serializes renames. A rename locks two directories and then
	// the renamed vnode, which may itself be a directory another rename is
	// locking as a parent; without renameMu the two can deadlock.
	renameMu sync.Mutex

	fsTypesMu sync.RWMutex
	fsTypes   map[string]FilesystemType
}

// New returns a VirtualFilesystem with nothing mounted.
func New(opts Options) (*VirtualFilesystem, error) {
	opts.setDefaults()
	v := &VirtualFilesystem{
		opts:    opts,
		fsTypes: make(map[string]FilesystemType),
	}
	v.vnodes.init(v)
	v.dentries.init(v)
	if err := v.registerMetrics(opts.Metrics); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *VirtualFilesystem) registerMetrics(r *metric.Registry) error {
	counters := []struct {
		m    **metric.Uint64Metric
		name string
		desc string
	}{
		{&v.metrics.vnodeHits, "vfs_vnode_cache_hits", "Vnode lookups satisfied by the vnode cache."},
		{&v.metrics.vnodeMisses, "vfs_vnode_cache_misses", "Vnode lookups that activated a vnode through the driver."},
		{&v.metrics.dentryHits, "vfs_dentry_cache_hits", "Path lookups satisfied by the dentry cache."},
		{&v.metrics.dentryMisses, "vfs_dentry_cache_misses", "Path lookups not found in the dentry cache."},
		{&v.metrics.symlinks, "vfs_symlink_traversals", "Symlinks followed during path resolution."},
		{&v.metrics.mounts, "vfs_mounts", "Successful mounts."},
		{&v.metrics.unmounts, "vfs_unmounts", "Successful unmounts."},
	}
	for _, c := range counters {
		m, err := r.NewUint64Metric(c.name, c.desc)
		if err != nil {
			return err
		}
		*c.m = m
	}
	gauges := []struct {
		name  string
		desc  string
		value func() uint64
	}{
		{"vfs_active_vnodes", "Vnodes in the vnode cache.", func() uint64 { return uint64(v.vnodes.Len()) }},
		{"vfs_hashed_dentries", "Dentries in the dentry cache.", func() uint64 { return uint64(v.dentries.Len()) }},
		{"vfs_active_mounts", "Entries in the mount table.", func() uint64 { return uint64(v.mounts.Len()) }},
	}
	for _, g := range gauges {
		if err := r.RegisterCustomUint64Metric(g.name, g.desc, false /* cumulative */, g.value); err != nil {
			return err
		}
	}
	return nil
}

// Options returns the options v was created with, defaults applied.
func (v *VirtualFilesystem) Options() Options {
	return v.opts
}

// Metrics returns the registry holding v's counters.
func (v *VirtualFilesystem) Metrics() *metric.Registry {
	return v.opts.Metrics
}

// Vnodes returns the vnode cache.
func (v *VirtualFilesystem) Vnodes() *VnodeCache {
	return &v.vnodes
}

// Dentries returns the dentry cache.
func (v *VirtualFilesystem) Dentries() *DentryCache {
	return &v.dentries
}

// Mounts returns the mount table.
func (v *VirtualFilesystem) Mounts() *MountTable {
	return &v.mounts
}

// RegisterFilesystem makes fsType available to Mount under name.
func (v *VirtualFilesystem) RegisterFilesystem(name string, fsType FilesystemType) error {
	v.fsTypesMu.Lock()
	defer v.fsTypesMu.Unlock()
	if _, ok := v.fsTypes[name]; ok {
		return fmt.Errorf("filesystem type %q: %w", name, linuxerr.EEXIST)
	}
	v.fsTypes[name] = fsType
	return nil
}

// MustRegisterFilesystem calls RegisterFilesystem and panics on failure.
func (v *VirtualFilesystem) MustRegisterFilesystem(name string, fsType FilesystemType) {
	if err := v.RegisterFilesystem(name, fsType); err != nil {
		panic(fmt.Sprintf("failed to register filesystem type %q: %v", name, err))
	}
}

// FilesystemTypes returns the sorted names of all registered filesystem
// types.
func (v *VirtualFilesystem) FilesystemTypes() []string {
	v.fsTypesMu.RLock()
	defer v.fsTypesMu.RUnlock()
	names := make([]string, 0, len(v.fsTypes))
	for name := range v.fsTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *VirtualFilesystem) getFilesystemType(name string) (FilesystemType, bool) {
	v.fsTypesMu.RLock()
	defer v.fsTypesMu.RUnlock()
	fsType, ok := v.fsTypes[name]
	return fsType, ok
}
