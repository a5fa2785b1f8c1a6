package syscall

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
)

// A ProtocolViolation is raised with panic when a handler is driven in a way
// the blocking protocol forbids. It means a bug in a syscall implementation
// or in the thread loop, never a failed call.
type ProtocolViolation struct {
	Op     string
	Reason string
}

func (p *ProtocolViolation) Error() string {
	return fmt.Sprintf("syscall protocol violation in %s: %s", p.Op, p.Reason)
}

// ErrBadDescriptor is returned for a missing or closed descriptor.
var ErrBadDescriptor error = badDescriptorError{}

type badDescriptorError struct{}

func (badDescriptorError) Error() string { return "bad file descriptor" }
func (badDescriptorError) Errno() unix.Errno { return unix.EBADF }

// A TypeMismatchError reports a descriptor of the wrong type.
type TypeMismatchError struct {
	Want, Got descriptor.Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("descriptor is a %s, want %s", e.Got, e.Want)
}

func (e *TypeMismatchError) Errno() unix.Errno {
	return unix.EINVAL
}

// IsTypeMismatch reports whether err is a TypeMismatchError.
func IsTypeMismatch(err error) bool {
	var tm *TypeMismatchError
	return errors.As(err, &tm)
}
