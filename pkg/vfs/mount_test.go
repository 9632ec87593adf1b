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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"vfscore.dev/vfscore/pkg/errors/linuxerr"
)

func TestFindRoot(t *testing.T) {
	ctx := context.Background()
	v, fs, _ := newStubVFS(t)
	fs.add("mnt", 1, Directory)
	fs.add("mntx", 2, Directory)
	if err := v.Mount(ctx, "dev1", "/mnt", "stub", 0, ""); err != nil {
		t.Fatalf("Mount(/mnt): %v", err)
	}
	if err := v.Mount(ctx, "dev2", "/mnt/mnt", "stub", 0, ""); err != nil {
		t.Fatalf("Mount(/mnt/mnt): %v", err)
	}

	for _, tc := range []struct {
		path      string
		wantMount string
		wantRest  string
	}{
		{"/", "/", ""},
		{"/a/b", "/", "a/b"},
		{"/mnt", "/mnt", ""},
		{"/mnt/a", "/mnt", "a"},
		{"/mntx/a", "/", "mntx/a"},
		{"/mnt/mnt/a/b", "/mnt/mnt", "a/b"},
	} {
		mnt, rest, err := v.Mounts().FindRoot(tc.path)
		if err != nil {
			t.Errorf("FindRoot(%q): %v", tc.path, err)
			continue
		}
		if mnt.Path() != tc.wantMount || rest != tc.wantRest {
			t.Errorf("FindRoot(%q): got (%q, %q), want (%q, %q)", tc.path, mnt.Path(), rest, tc.wantMount, tc.wantRest)
		}
	}
}

func TestFindRootNoMounts(t *testing.T) {
	v, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := v.Mounts().FindRoot("/a"); err != linuxerr.ENOTDIR {
		t.Errorf("FindRoot with no mounts: got %v, want %v", err, linuxerr.ENOTDIR)
	}
}

func TestMountErrors(t *testing.T) {
	ctx := context.Background()
	v, fs, _ := newStubVFS(t)
	fs.add("mnt", 1, Directory)
	fs.add("file", 2, RegularFile)
	if err := v.Mount(ctx, "dev1", "/mnt", "stub", 0, ""); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	for _, tc := range []struct {
		name   string
		device string
		dir    string
		fsName string
		want   error
	}{
		{"unknown type", "", "/mnt", "nope", linuxerr.ENODEV},
		{"empty dir", "", "", "stub", linuxerr.ENOENT},
		{"dir in use", "", "/mnt", "stub", linuxerr.EBUSY},
		{"root in use", "", "/", "stub", linuxerr.EBUSY},
		{"device in use", "dev1", "/other", "stub", linuxerr.EBUSY},
		{"missing dir", "", "/missing", "stub", linuxerr.ENOENT},
		{"not a dir", "", "/file", "stub", linuxerr.ENOTDIR},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := v.Mount(ctx, tc.device, tc.dir, tc.fsName, 0, ""); err != tc.want {
				t.Errorf("Mount(%q, %q, %q): got %v, want %v", tc.device, tc.dir, tc.fsName, err, tc.want)
			}
		})
	}
	if got := v.Mounts().Len(); got != 2 {
		t.Errorf("mounts: got %d, want 2", got)
	}
}

func TestMountDriverFailureUnwinds(t *testing.T) {
	ctx := context.Background()
	v, fs, _ := newStubVFS(t)
	fs.add("mnt", 1, Directory)
	bad := newStubFS()
	bad.mountErr = linuxerr.EIO
	v.MustRegisterFilesystem("bad", stubType{bad})

	vnodes, dentries := v.Vnodes().Len(), v.Dentries().Len()
	if err := v.Mount(ctx, "", "/mnt", "bad", 0, ""); err != linuxerr.EIO {
		t.Fatalf("Mount: got %v, want %v", err, linuxerr.EIO)
	}
	if got := v.Mounts().Len(); got != 1 {
		t.Errorf("mounts: got %d, want 1", got)
	}
	if got := v.Vnodes().Len(); got != vnodes {
		t.Errorf("active vnodes: got %d, want %d", got, vnodes)
	}
	if got := v.Dentries().Len(); got != dentries {
		t.Errorf("hashed dentries: got %d, want %d", got, dentries)
	}
	if vgets, inactives := bad.counts(0); vgets != 1 || inactives != 1 {
		t.Errorf("root vnode driver calls: got vget=%d inactive=%d, want 1 and 1", vgets, inactives)
	}
}

func TestUnmount(t *testing.T) {
	logToTest(t)
	ctx := context.Background()
	v, fs, _ := newStubVFS(t)
	fs.add("mnt", 1, Directory)
	if err := v.Mount(ctx, "dev1", "/mnt", "stub", 0, ""); err != nil {
		t.Fatalf("Mount(/mnt): %v", err)
	}
	if err := v.Mount(ctx, "dev2", "/mnt/mnt", "stub", 0, ""); err != nil {
		t.Fatalf("Mount(/mnt/mnt): %v", err)
	}

	if err := v.Unmount(ctx, "/", 0); err != linuxerr.EINVAL {
		t.Errorf("Unmount(/): got %v, want %v", err, linuxerr.EINVAL)
	}
	if err := v.Unmount(ctx, "/nothing", 0); err != linuxerr.EINVAL {
		t.Errorf("Unmount(/nothing): got %v, want %v", err, linuxerr.EINVAL)
	}
	if err := v.Unmount(ctx, "/mnt", 0); err != linuxerr.EBUSY {
		t.Errorf("Unmount(/mnt) with a submount: got %v, want %v", err, linuxerr.EBUSY)
	}
	if err := v.Unmount(ctx, "/mnt/mnt", 0); err != nil {
		t.Errorf("Unmount(/mnt/mnt): %v", err)
	}
	if err := v.Unmount(ctx, "/mnt/", 0); err != nil {
		t.Errorf("Unmount(/mnt/): %v", err)
	}

	var paths []string
	for _, m := range v.Mounts().Mounts() {
		paths = append(paths, m.Path())
	}
	if diff := cmp.Diff([]string{"/"}, paths); diff != "" {
		t.Errorf("mounts mismatch (-want +got):\n%s", diff)
	}
	if got := v.Metrics().Values()["vfs_unmounts"]; got != 2 {
		t.Errorf("vfs_unmounts: got %d, want 2", got)
	}
}

func TestMountDump(t *testing.T) {
	v, _, _ := newStubVFS(t)
	want := []string{` on / type stub flags=0x0 busy=1`}
	if diff := cmp.Diff(want, v.Mounts().Dump()); diff != "" {
		t.Errorf("Dump mismatch (-want +got):\n%s", diff)
	}
}

func TestParseVolume(t *testing.T) {
	for _, tc := range []struct {
		entry string
		want  Volume
	}{
		{"none:/:ramfs", Volume{Device: "none", Path: "/", Driver: "ramfs"}},
		{"tmp:/tmp:ramfs:0x1:size=4096:mkmp", Volume{Device: "tmp", Path: "/tmp", Driver: "ramfs", Flags: MountReadOnly, Options: "size=4096", VFSOptions: "mkmp"}},
		{"d:/a/b:drv:010::", Volume{Device: "d", Path: "/a/b", Driver: "drv", Flags: 8}},
		{"d:/a:drv::opt", Volume{Device: "d", Path: "/a", Driver: "drv", Options: "opt"}},
	} {
		got, err := ParseVolume(tc.entry)
		if err != nil {
			t.Errorf("ParseVolume(%q): %v", tc.entry, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseVolume(%q) mismatch (-want +got):\n%s", tc.entry, diff)
		}
	}
}

func TestParseVolumeErrors(t *testing.T) {
	for _, entry := range []string{
		"",
		"dev",
		"dev:/a",
		":/a:drv",
		"dev::drv",
		"dev:relative:drv",
		"dev:/a:drv:notanumber",
	} {
		if _, err := ParseVolume(entry); !errors.Is(err, linuxerr.EINVAL) {
			t.Errorf("ParseVolume(%q): got %v, want %v", entry, err, linuxerr.EINVAL)
		}
	}
}

func TestVolumeString(t *testing.T) {
	vol := Volume{Device: "tmp", Path: "/tmp", Driver: "ramfs", Flags: MountReadOnly, VFSOptions: "mkmp"}
	got, err := ParseVolume(vol.String())
	if err != nil {
		t.Fatalf("ParseVolume(%q): %v", vol.String(), err)
	}
	if diff := cmp.Diff(vol, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
