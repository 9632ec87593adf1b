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

package linuxerr

import (
	goerrors "errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestErrorFromUnix(t *testing.T) {
	for _, tc := range []struct {
		errno unix.Errno
		want  error
	}{
		{unix.ENOENT, ENOENT},
		{unix.ELOOP, ELOOP},
		{unix.EXDEV, EXDEV},
		{0, nil},
	} {
		if got := ErrorFromUnix(tc.errno); got != tc.want {
			t.Errorf("ErrorFromUnix(%v): got %v, want %v", tc.errno, got, tc.want)
		}
	}
}

func TestErrorFromUnixUnknown(t *testing.T) {
	err := ErrorFromUnix(unix.ECHILD)
	if err == nil {
		t.Fatalf("ErrorFromUnix(ECHILD) returned nil")
	}
	if !goerrors.Is(err, unix.ECHILD) {
		t.Errorf("errors.Is(%v, ECHILD): got false, want true", err)
	}
}

func TestEquals(t *testing.T) {
	if !Equals(ENOENT, ENOENT) {
		t.Errorf("Equals(ENOENT, ENOENT): got false, want true")
	}
	if !Equals(ENOENT, unix.ENOENT) {
		t.Errorf("Equals(ENOENT, unix.ENOENT): got false, want true")
	}
	if Equals(ENOENT, EEXIST) {
		t.Errorf("Equals(ENOENT, EEXIST): got true, want false")
	}
	if !Equals(nil, nil) {
		t.Errorf("Equals(nil, nil): got false, want true")
	}
}

func TestErrorsIsThroughWrap(t *testing.T) {
	wrapped := fmt.Errorf("mounting /data: %w", EBUSY)
	if !goerrors.Is(wrapped, EBUSY) {
		t.Errorf("errors.Is(wrapped, EBUSY): got false, want true")
	}
	if !goerrors.Is(wrapped, unix.EBUSY) {
		t.Errorf("errors.Is(wrapped, unix.EBUSY): got false, want true")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(unix.ENOTEMPTY); got != ENOTEMPTY {
		t.Errorf("Normalize(unix.ENOTEMPTY): got %v, want %v", got, ENOTEMPTY)
	}
	other := goerrors.New("driver exploded")
	if got := Normalize(other); got != other {
		t.Errorf("Normalize(other): got %v, want %v", got, other)
	}
	if got := Normalize(nil); got != nil {
		t.Errorf("Normalize(nil): got %v, want nil", got)
	}
}

func TestName(t *testing.T) {
	if got, want := Name(ELOOP), "ELOOP"; got != want {
		t.Errorf("Name(ELOOP): got %q, want %q", got, want)
	}
	if got, want := Name(goerrors.New("boom")), "boom"; got != want {
		t.Errorf("Name(boom): got %q, want %q", got, want)
	}
}

func TestCategoryOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want Category
	}{
		{ENOENT, NotFound},
		{ENOTDIR, WrongType},
		{EISDIR, WrongType},
		{EEXIST, AlreadyExists},
		{ENOTEMPTY, NotEmpty},
		{EBUSY, Busy},
		{ELOOP, Loop},
		{EXDEV, CrossDevice},
		{EACCES, PermissionOrReadOnly},
		{EROFS, PermissionOrReadOnly},
		{ENOMEM, OutOfMemory},
		{EINVAL, InvalidArgument},
		{unix.ELOOP, Loop},
		{EIO, Other},
		{nil, Other},
	} {
		if got := CategoryOf(tc.err); got != tc.want {
			t.Errorf("CategoryOf(%v): got %v, want %v", tc.err, got, tc.want)
		}
	}
}
