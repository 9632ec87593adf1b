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
	"fmt"

	"golang.org/x/sys/unix"
)

// VnodeType is the type of file a vnode represents.
type VnodeType uint8

// Vnode types.
const (
	// Unknown is a vnode whose type has not been set by the driver.
	Unknown VnodeType = iota
	RegularFile
	Directory
	BlockDevice
	CharacterDevice
	Symlink
	Socket
	Pipe
	// Bad marks a vnode that must not be used.
	Bad
)

var vnodeTypeNames = [...]string{
	Unknown:         "VNON",
	RegularFile:     "VREG",
	Directory:       "VDIR",
	BlockDevice:     "VBLK",
	CharacterDevice: "VCHR",
	Symlink:         "VLNK",
	Socket:          "VSOCK",
	Pipe:            "VFIFO",
	Bad:             "VBAD",
}

// String implements fmt.Stringer.
func (t VnodeType) String() string {
	if int(t) < len(vnodeTypeNames) {
		return vnodeTypeNames[t]
	}
	return fmt.Sprintf("VnodeType(%d)", t)
}

// ModeType returns the S_IFMT bits for t, or 0 if t has none.
func (t VnodeType) ModeType() uint32 {
	switch t {
	case RegularFile:
		return unix.S_IFREG
	case Directory:
		return unix.S_IFDIR
	case BlockDevice:
		return unix.S_IFBLK
	case CharacterDevice:
		return unix.S_IFCHR
	case Symlink:
		return unix.S_IFLNK
	case Socket:
		return unix.S_IFSOCK
	case Pipe:
		return unix.S_IFIFO
	default:
		return 0
	}
}

// DirentType returns the DT_* value for t.
func (t VnodeType) DirentType() uint8 {
	switch t {
	case RegularFile:
		return unix.DT_REG
	case Directory:
		return unix.DT_DIR
	case BlockDevice:
		return unix.DT_BLK
	case CharacterDevice:
		return unix.DT_CHR
	case Symlink:
		return unix.DT_LNK
	case Socket:
		return unix.DT_SOCK
	case Pipe:
		return unix.DT_FIFO
	default:
		return unix.DT_UNKNOWN
	}
}

// VnodeTypeFromMode returns the vnode type encoded in the S_IFMT bits of
// mode. Modes without type bits are regular files.
func VnodeTypeFromMode(mode uint32) VnodeType {
	switch mode & unix.S_IFMT {
	case 0, unix.S_IFREG:
		return RegularFile
	case unix.S_IFDIR:
		return Directory
	case unix.S_IFBLK:
		return BlockDevice
	case unix.S_IFCHR:
		return CharacterDevice
	case unix.S_IFLNK:
		return Symlink
	case unix.S_IFSOCK:
		return Socket
	case unix.S_IFIFO:
		return Pipe
	default:
		return Bad
	}
}

// VnodeFlags are per-vnode flags.
type VnodeFlags uint32

const (
	// VnodeRoot marks the root vnode of a mount.
	VnodeRoot VnodeFlags = 1 << iota
)

// AccessTypes is a bitmask of Unix file permissions.
type AccessTypes uint16

// Bits in AccessTypes.
const (
	MayExec  AccessTypes = 1
	MayWrite AccessTypes = 2
	MayRead  AccessTypes = 4
)

// MountFlags are the flags passed to Mount.
type MountFlags uint64

const (
	// MountReadOnly mounts the filesystem read-only.
	MountReadOnly MountFlags = unix.MS_RDONLY
)

// UnmountFlags are the flags passed to Unmount.
type UnmountFlags uint32

const (
	// UnmountForce allows unmounting the root mount.
	UnmountForce UnmountFlags = unix.MNT_FORCE
)

// AttrMask selects the Vattr fields a Setattr call changes.
type AttrMask uint32

// Bits in AttrMask.
const (
	AttrMode AttrMask = 1 << iota
	AttrSize
	AttrAtime
	AttrMtime
	AttrCtime
	AttrUID
	AttrGID
)

// Vattr holds the attributes exchanged with drivers by Getattr and Setattr.
type Vattr struct {
	Mask   AttrMask
	Type   VnodeType
	Mode   uint32
	Nlink  uint64
	UID    uint32
	GID    uint32
	Fsid   uint64
	NodeID uint64
	Size   int64
	Rdev   uint64
	Atime  unix.Timespec
	Mtime  unix.Timespec
	Ctime  unix.Timespec
}

// Stat is the result of stat(2) and friends.
type Stat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint64
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   unix.Timespec
	Mtime   unix.Timespec
	Ctime   unix.Timespec
}

// Statfs is the result of statfs(2).
type Statfs struct {
	Type    uint64
	Bsize   int64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Namelen uint64
	Flags   uint64
}

// Dirent is one directory entry returned by Readdir.
type Dirent struct {
	Ino  uint64
	Off  int64
	Type uint8
	Name string
}

const (
	// blockSize is the st_blksize reported by Stat.
	blockSize = 4096

	// statBlockSize is the unit of st_blocks.
	statBlockSize = 512
)
