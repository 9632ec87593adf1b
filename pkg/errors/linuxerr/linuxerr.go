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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	"fmt"

	"golang.org/x/sys/unix"
	"vfscore.dev/vfscore/pkg/errors"
)

// The following errors are semantically identical to Errno of type
// unix.Errno. The types are distinct (these are *errors.Error), so they are
// not directly comparable; use Equals or errors.Is instead.
var (
	noError      *errors.Error = nil
	EPERM                      = errors.New(unix.EPERM, "operation not permitted")
	ENOENT                     = errors.New(unix.ENOENT, "no such file or directory")
	EINTR                      = errors.New(unix.EINTR, "interrupted system call")
	EIO                        = errors.New(unix.EIO, "I/O error")
	ENXIO                      = errors.New(unix.ENXIO, "no such device or address")
	EBADF                      = errors.New(unix.EBADF, "bad file number")
	EAGAIN                     = errors.New(unix.EAGAIN, "try again")
	ENOMEM                     = errors.New(unix.ENOMEM, "out of memory")
	EACCES                     = errors.New(unix.EACCES, "permission denied")
	EFAULT                     = errors.New(unix.EFAULT, "bad address")
	EBUSY                      = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST                     = errors.New(unix.EEXIST, "file exists")
	EXDEV                      = errors.New(unix.EXDEV, "cross-device link")
	ENODEV                     = errors.New(unix.ENODEV, "no such device")
	ENOTDIR                    = errors.New(unix.ENOTDIR, "not a directory")
	EISDIR                     = errors.New(unix.EISDIR, "is a directory")
	EINVAL                     = errors.New(unix.EINVAL, "invalid argument")
	ENFILE                     = errors.New(unix.ENFILE, "file table overflow")
	EMFILE                     = errors.New(unix.EMFILE, "too many open files")
	ENOTTY                     = errors.New(unix.ENOTTY, "not a typewriter")
	EFBIG                      = errors.New(unix.EFBIG, "file too large")
	ENOSPC                     = errors.New(unix.ENOSPC, "no space left on device")
	ESPIPE                     = errors.New(unix.ESPIPE, "illegal seek")
	EROFS                      = errors.New(unix.EROFS, "read-only file system")
	EMLINK                     = errors.New(unix.EMLINK, "too many links")
	ERANGE                     = errors.New(unix.ERANGE, "math result not representable")
	ENAMETOOLONG               = errors.New(unix.ENAMETOOLONG, "file name too long")
	ENOSYS                     = errors.New(unix.ENOSYS, "invalid system call number")
	ENOTEMPTY                  = errors.New(unix.ENOTEMPTY, "directory not empty")
	ELOOP                      = errors.New(unix.ELOOP, "too many symbolic links encountered")
	ENODATA                    = errors.New(unix.ENODATA, "no data available")
	EOVERFLOW                  = errors.New(unix.EOVERFLOW, "value too large for defined data type")
	EOPNOTSUPP                 = errors.New(unix.EOPNOTSUPP, "operation not supported on transport endpoint")
	ESTALE                     = errors.New(unix.ESTALE, "stale file handle")
	EDQUOT                     = errors.New(unix.EDQUOT, "quota exceeded")
)

// errorMap is the map used to convert generic errors into errors by which
// they are referenced (e.g. unix.ENOENT -> ENOENT).
var errorMap = func() map[unix.Errno]*errors.Error {
	m := make(map[unix.Errno]*errors.Error)
	for _, e := range []*errors.Error{
		EPERM, ENOENT, EINTR, EIO, ENXIO, EBADF, EAGAIN, ENOMEM, EACCES,
		EFAULT, EBUSY, EEXIST, EXDEV, ENODEV, ENOTDIR, EISDIR, EINVAL,
		ENFILE, EMFILE, ENOTTY, EFBIG, ENOSPC, ESPIPE, EROFS, EMLINK,
		ERANGE, ENAMETOOLONG, ENOSYS, ENOTEMPTY, ELOOP, ENODATA,
		EOVERFLOW, EOPNOTSUPP, ESTALE, EDQUOT,
	} {
		m[e.Errno()] = e
	}
	return m
}()

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos without a
// sentinel are wrapped in a fresh *errors.Error.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := errorMap[err]; ok {
		return e
	}
	return errors.New(err, err.Error())
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}

// TranslateError converts from to an *errors.Error if it is one already or
// is a raw unix.Errno. Any other error is returned unchanged with ok false.
func TranslateError(from error) (*errors.Error, bool) {
	switch e := from.(type) {
	case *errors.Error:
		return e, true
	case unix.Errno:
		if e == 0 {
			return nil, false
		}
		if le, ok := errorMap[e]; ok {
			return le, true
		}
		return errors.New(e, e.Error()), true
	}
	return nil, false
}

// Normalize returns err as a linuxerr when it can be translated, otherwise
// err itself. Filesystem drivers may return either form.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := TranslateError(err); ok {
		return e
	}
	return err
}

// Name returns the symbolic errno name of err (e.g. "ENOENT"), or the error
// text when err carries no errno.
func Name(err error) string {
	e, ok := TranslateError(err)
	if !ok {
		return err.Error()
	}
	if n := unix.ErrnoName(e.Errno()); n != "" {
		return n
	}
	return fmt.Sprintf("errno %d", int(e.Errno()))
}
