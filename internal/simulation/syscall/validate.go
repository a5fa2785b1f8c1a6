package syscall

import (
	"github.com/kmrgirish/simcall/internal/simulation/descriptor"
)

// ValidateDescriptor checks that d is open and, unless expected is
// descriptor.TypeNone, of the expected type. It only reads d.
func ValidateDescriptor(d descriptor.Descriptor, expected descriptor.Type) error {
	if d == nil || d.Status()&descriptor.StatusClosed != 0 {
		return ErrBadDescriptor
	}
	if expected != descriptor.TypeNone && d.Type() != expected {
		return &TypeMismatchError{Want: expected, Got: d.Type()}
	}
	return nil
}

// Descriptor looks up fd in the process's table and validates it.
func (h *Handler) Descriptor(fd int, expected descriptor.Type) (descriptor.Descriptor, error) {
	h.check("Descriptor")
	d := h.process.Descriptors().Get(fd)
	if err := ValidateDescriptor(d, expected); err != nil {
		return nil, err
	}
	return d, nil
}
