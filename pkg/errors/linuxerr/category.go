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
	"golang.org/x/sys/unix"
)

// Category is a coarse classification of the errors surfaced by the VFS.
type Category int

// Error categories.
const (
	Other Category = iota
	NotFound
	WrongType
	AlreadyExists
	NotEmpty
	Busy
	Loop
	CrossDevice
	PermissionOrReadOnly
	OutOfMemory
	InvalidArgument
)

var categoryNames = [...]string{
	Other:                "Other",
	NotFound:             "NotFound",
	WrongType:            "WrongType",
	AlreadyExists:        "AlreadyExists",
	NotEmpty:             "NotEmpty",
	Busy:                 "Busy",
	Loop:                 "Loop",
	CrossDevice:          "CrossDevice",
	PermissionOrReadOnly: "PermissionOrReadOnly",
	OutOfMemory:          "OutOfMemory",
	InvalidArgument:      "InvalidArgument",
}

// String implements fmt.Stringer.
func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "Unknown"
	}
	return categoryNames[c]
}

// CategoryOf classifies err. A nil error is Other.
func CategoryOf(err error) Category {
	e, ok := TranslateError(err)
	if !ok {
		return Other
	}
	switch e.Errno() {
	case unix.ENOENT:
		return NotFound
	case unix.ENOTDIR, unix.EISDIR:
		return WrongType
	case unix.EEXIST:
		return AlreadyExists
	case unix.ENOTEMPTY:
		return NotEmpty
	case unix.EBUSY:
		return Busy
	case unix.ELOOP:
		return Loop
	case unix.EXDEV:
		return CrossDevice
	case unix.EPERM, unix.EACCES, unix.EROFS:
		return PermissionOrReadOnly
	case unix.ENOMEM:
		return OutOfMemory
	case unix.EINVAL, unix.ENAMETOOLONG:
		return InvalidArgument
	default:
		return Other
	}
}
