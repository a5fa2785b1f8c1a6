// Copyright 2019 The Go Authors. All rights reserved.  Use of this source code
// is governed by a BSD-style license that can be found at
// https://go.googlesource.com/go/+/refs/heads/master/LICENSE.

// Based on https://go.googlesource.com/go/+/refs/heads/master/src/internal/poll/errno_unix.go.

package syscallabi

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Do the interface allocations only once for common
// Errno values.
var (
	errEAGAIN error = unix.EAGAIN
	errEINVAL error = unix.EINVAL
	errENOENT error = unix.ENOENT
	errEBADF  error = unix.EBADF
)

// ErrnoErr returns common boxed Errno values, to prevent
// allocations at runtime.
func ErrnoErr(e unix.Errno) error {
	switch e {
	case 0:
		return nil
	case unix.EAGAIN:
		return errEAGAIN
	case unix.EINVAL:
		return errEINVAL
	case unix.ENOENT:
		return errENOENT
	case unix.EBADF:
		return errEBADF
	}
	return e
}

// An Errnoer is an error that knows which errno a simulated process should
// see for it.
type Errnoer interface {
	Errno() unix.Errno
}

// ErrErrno converts an error produced while handling a syscall into the errno
// returned to the simulated process. Errors that carry no errno are a bug in
// the syscall implementation.
func ErrErrno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	var errnoer Errnoer
	if errors.As(err, &errnoer) {
		return errnoer.Errno()
	}
	panic(err)
}
