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

package vfs_test

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"vfscore.dev/vfscore/pkg/errors/linuxerr"
	"vfscore.dev/vfscore/pkg/metric"
	"vfscore.dev/vfscore/pkg/vfs"
	"vfscore.dev/vfscore/pkg/vfs/ramfs"
)

const workers = 16

func TestConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	_, tk := newRamfsTask(t)

	inos := make([]uint64, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			fd, err := tk.Open(ctx, "/c", unix.O_CREAT|unix.O_RDWR, 0644)
			if err != nil {
				return err
			}
			defer fd.DecRef(ctx)
			st, err := fd.Stat(ctx)
			if err != nil {
				return err
			}
			inos[i] = st.Ino
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Open(O_CREAT): %v", err)
	}
	for i, ino := range inos {
		if ino != inos[0] {
			t.Errorf("worker %d: got ino %d, want %d", i, ino, inos[0])
		}
	}

	fd, err := tk.Open(ctx, "/", unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		t.Fatalf("Open(/): %v", err)
	}
	defer fd.DecRef(ctx)
	ents, err := fd.ReadDirAll(ctx)
	if err != nil {
		t.Fatalf("ReadDirAll: %v", err)
	}
	if len(ents) != 3 {
		t.Errorf("root entries: got %d, want 3 (., .. and c)", len(ents))
	}
}

func TestConcurrentExclusive(t *testing.T) {
	for _, tc := range []struct {
		name string
		op   func(ctx context.Context, tk *vfs.Task) error
	}{
		{"open", func(ctx context.Context, tk *vfs.Task) error {
			fd, err := tk.Open(ctx, "/x", unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0644)
			if err == nil {
				fd.DecRef(ctx)
			}
			return err
		}},
		{"mkdir", func(ctx context.Context, tk *vfs.Task) error {
			return tk.Mkdir(ctx, "/x", 0755)
		}},
		{"symlink", func(ctx context.Context, tk *vfs.Task) error {
			return tk.Symlink(ctx, "/target", "/x")
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			_, tk := newRamfsTask(t)

			var ok, exist atomic.Int32
			var g errgroup.Group
			for i := 0; i < workers; i++ {
				g.Go(func() error {
					switch err := tc.op(ctx, tk); {
					case err == nil:
						ok.Add(1)
					case err == linuxerr.EEXIST:
						exist.Add(1)
					default:
						return err
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok.Load() != 1 || exist.Load() != workers-1 {
				t.Errorf("results: got %d successes and %d EEXIST, want 1 and %d", ok.Load(), exist.Load(), workers-1)
			}
		})
	}
}

func TestConcurrentUnlink(t *testing.T) {
	ctx := context.Background()
	_, tk := newRamfsTask(t)
	writeFile(t, tk, "/u", "")
	mustMkdir(t, tk, "/r")

	for _, tc := range []struct {
		name string
		op   func() error
	}{
		{"unlink", func() error { return tk.Unlink(ctx, "/u") }},
		{"rmdir", func() error {
			for {
				// Rmdir fails with EBUSY while another remover holds
				// the dentry.
				if err := tk.Rmdir(ctx, "/r"); err != linuxerr.EBUSY {
					return err
				}
				runtime.Gosched()
			}
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var ok, missing atomic.Int32
			var g errgroup.Group
			for i := 0; i < workers; i++ {
				g.Go(func() error {
					switch err := tc.op(); {
					case err == nil:
						ok.Add(1)
					case err == linuxerr.ENOENT:
						missing.Add(1)
					default:
						return err
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok.Load() != 1 || missing.Load() != workers-1 {
				t.Errorf("results: got %d successes and %d ENOENT, want 1 and %d", ok.Load(), missing.Load(), workers-1)
			}
		})
	}
	for _, p := range []string{"/u", "/r"} {
		if _, err := tk.Lstat(ctx, p); err != linuxerr.ENOENT {
			t.Errorf("Lstat(%q) after concurrent removal: got %v, want %v", p, err, linuxerr.ENOENT)
		}
	}
}

func TestConcurrentRenameAndLookup(t *testing.T) {
	ctx := context.Background()
	_, tk := newRamfsTask(t)
	mustMkdir(t, tk, "/a", "/b")

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			name := fmt.Sprintf("f%d", i)
			src, dst := "/a/"+name, "/b/"+name
			fd, err := tk.Open(ctx, src, unix.O_CREAT|unix.O_RDWR, 0644)
			if err != nil {
				return err
			}
			defer fd.DecRef(ctx)
			if err := tk.Rename(ctx, src, dst); err != nil {
				return fmt.Errorf("Rename(%q, %q): %w", src, dst, err)
			}
			if i%2 == 0 {
				return tk.Rename(ctx, "/b/"+name, "/a/"+name)
			}
			return nil
		})
		g.Go(func() error {
			// Lookups race with the renames; missing entries are expected.
			for _, p := range []string{"/a", "/b", fmt.Sprintf("/a/f%d", i), fmt.Sprintf("/b/f%d", i)} {
				if _, err := tk.Stat(ctx, p); err != nil && err != linuxerr.ENOENT {
					return fmt.Errorf("Stat(%q): %w", p, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("%v", err)
	}
	for i := 0; i < workers; i++ {
		want := fmt.Sprintf("/b/f%d", i)
		if i%2 == 0 {
			want = fmt.Sprintf("/a/f%d", i)
		}
		if _, err := tk.Stat(ctx, want); err != nil {
			t.Errorf("Stat(%q): %v", want, err)
		}
	}
}

// TestConcurrentNestedRenames moves a directory between two parents while
// a file inside it moves out to one of those parents and back.
func TestConcurrentNestedRenames(t *testing.T) {
	ctx := context.Background()
	_, tk := newRamfsTask(t)
	mustMkdir(t, tk, "/x", "/y", "/x/a")
	writeFile(t, tk, "/x/a/q", "q")

	const iterations = 200
	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < iterations; i++ {
			if err := tk.Rename(ctx, "/x/a", "/y/a"); err != nil {
				return fmt.Errorf("Rename(/x/a, /y/a): %w", err)
			}
			if err := tk.Rename(ctx, "/y/a", "/x/a"); err != nil {
				return fmt.Errorf("Rename(/y/a, /x/a): %w", err)
			}
		}
		return nil
	})
	g.Go(func() error {
		// These fail with ENOENT while a is at /y/a.
		for i := 0; i < iterations; i++ {
			for _, p := range [][2]string{{"/x/a/q", "/y/q"}, {"/y/q", "/x/a/q"}} {
				if err := tk.Rename(ctx, p[0], p[1]); err != nil && err != linuxerr.ENOENT {
					return fmt.Errorf("Rename(%s, %s): %w", p[0], p[1], err)
				}
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("%v", err)
	}

	found := 0
	for _, p := range []string{"/x/a/q", "/y/q"} {
		switch _, err := tk.Stat(ctx, p); err {
		case nil:
			found++
		case linuxerr.ENOENT:
		default:
			t.Errorf("Stat(%q): %v", p, err)
		}
	}
	if found != 1 {
		t.Errorf("copies of q: got %d, want 1", found)
	}
	if _, err := tk.Stat(ctx, "/y/a"); err != linuxerr.ENOENT {
		t.Errorf("Stat(/y/a): got %v, want %v", err, linuxerr.ENOENT)
	}
}

func TestAutomount(t *testing.T) {
	ctx := context.Background()
	v, err := vfs.New(vfs.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v.MustRegisterFilesystem(ramfs.Name, ramfs.FilesystemType{})

	var vols []vfs.Volume
	for _, entry := range []string{
		"tmp:/tmp:ramfs:0::mkmp",
		"data:/srv/data:ramfs:0x1:size=65536:mkmp",
	} {
		vol, err := vfs.ParseVolume(entry)
		if err != nil {
			t.Fatalf("ParseVolume(%q): %v", entry, err)
		}
		vols = append(vols, vol)
	}
	rootfs := vfs.Volume{Device: "root", Path: "/", Driver: ramfs.Name}
	if err := v.Automount(ctx, rootfs, vols); err != nil {
		t.Fatalf("Automount: %v", err)
	}

	var got []string
	for _, m := range v.Mounts().Mounts() {
		got = append(got, fmt.Sprintf("%s %s ro=%t", m.Device(), m.Path(), m.ReadOnly()))
	}
	want := []string{"root / ro=false", "tmp /tmp ro=false", "data /srv/data ro=true"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mounts mismatch (-want +got):\n%s", diff)
	}

	tk := v.NewTask()
	if err := tk.Mkdir(ctx, "/srv/data/x", 0755); err != linuxerr.EROFS {
		t.Errorf("Mkdir on read-only volume: got %v, want %v", err, linuxerr.EROFS)
	}
	if err := v.Unmount(ctx, "/srv", 0); err != linuxerr.EINVAL {
		t.Errorf("Unmount of a plain directory: got %v, want %v", err, linuxerr.EINVAL)
	}

	bad := []vfs.Volume{{Device: "x", Path: "/x", Driver: "nosuchfs"}}
	err = v.Automount(ctx, vfs.Volume{}, bad)
	if !errors.Is(err, linuxerr.ENODEV) {
		t.Errorf("Automount with unknown driver: got %v, want %v", err, linuxerr.ENODEV)
	}
	missing := []vfs.Volume{{Device: "y", Path: "/no/such/dir", Driver: ramfs.Name}}
	if err := v.Automount(ctx, vfs.Volume{}, missing); !errors.Is(err, linuxerr.ENOENT) {
		t.Errorf("Automount without mkmp: got %v, want %v", err, linuxerr.ENOENT)
	}

	tk.Release(ctx)
	if err := v.UnmountAll(ctx); err != nil {
		t.Fatalf("UnmountAll: %v", err)
	}
	if n := v.Mounts().Len(); n != 0 {
		t.Errorf("mounts after UnmountAll: got %d, want 0", n)
	}
	if n := v.Vnodes().Len(); n != 0 {
		t.Errorf("active vnodes after UnmountAll: got %d, want 0", n)
	}
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := metric.NewRegistry()
	v, err := vfs.New(vfs.Options{Metrics: reg, MaxSymlinks: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := vfs.New(vfs.Options{Metrics: reg}); err == nil {
		t.Errorf("second VFS on the same registry: got nil error, want a duplicate metric error")
	}
	v.MustRegisterFilesystem(ramfs.Name, ramfs.FilesystemType{})
	if err := v.Mount(ctx, "", "/", ramfs.Name, 0, ""); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	tk := v.NewTask()
	writeFile(t, tk, "/f", "")
	if err := tk.Symlink(ctx, "/f", "/l"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if _, err := tk.Stat(ctx, "/l"); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := tk.Symlink(ctx, "/loop", "/loop"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if _, err := tk.Stat(ctx, "/loop"); err != linuxerr.ELOOP {
		t.Errorf("Stat(/loop): got %v, want %v", err, linuxerr.ELOOP)
	}

	vals := reg.Values()
	for name, want := range map[string]uint64{
		"vfs_mounts":             1,
		"vfs_unmounts":           0,
		"vfs_active_mounts":      1,
		"vfs_active_vnodes":      1,
		"vfs_hashed_dentries":    1,
		"vfs_symlink_traversals": 1 + 4,
	} {
		if got := vals[name]; got != want {
			t.Errorf("%s: got %d, want %d", name, got, want)
		}
	}
	if vals["vfs_vnode_cache_misses"] == 0 {
		t.Errorf("vfs_vnode_cache_misses: got 0, want > 0")
	}

	var sb strings.Builder
	if _, err := reg.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	if !strings.Contains(sb.String(), "vfs_active_mounts 1") {
		t.Errorf("WritePrometheus output lacks vfs_active_mounts:\n%s", sb.String())
	}

	tk.Release(ctx)
	if err := v.UnmountAll(ctx); err != nil {
		t.Fatalf("UnmountAll: %v", err)
	}
	if got := reg.Values()["vfs_unmounts"]; got != 1 {
		t.Errorf("vfs_unmounts after UnmountAll: got %d, want 1", got)
	}
}
