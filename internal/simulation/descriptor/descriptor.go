// Package descriptor implements the resources a simulated process reaches
// through file descriptors: pipes, sockets, regular files and timers.
//
// Every descriptor carries a Type tag and a Status bit set. Blocked threads
// register a Listener on the descriptors they wait for and are notified when
// a status bit they care about turns on.
package descriptor

import (
	"strings"
)

// Type tags what kind of resource a descriptor is.
type Type int

const (
	// TypeNone matches any descriptor when used as an expected type.
	TypeNone Type = iota
	TypeFile
	TypePipe
	TypeSocket
	TypeTimer
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeFile:
		return "file"
	case TypePipe:
		return "pipe"
	case TypeSocket:
		return "socket"
	case TypeTimer:
		return "timer"
	default:
		return "unknown"
	}
}

type Status uint32

const (
	StatusActive Status = 1 << iota
	StatusReadable
	StatusWritable
	StatusClosed
	// StatusHangup means the other end of a pipe or socket has closed.
	StatusHangup
)

func (s Status) String() string {
	var parts []string
	for _, bit := range []struct {
		s    Status
		name string
	}{
		{StatusActive, "active"},
		{StatusReadable, "readable"},
		{StatusWritable, "writable"},
		{StatusClosed, "closed"},
		{StatusHangup, "hangup"},
	} {
		if s&bit.s != 0 {
			parts = append(parts, bit.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// A Descriptor is a resource in a process's descriptor table.
type Descriptor interface {
	Type() Type
	Status() Status
	AddListener(l *Listener)
	RemoveListener(l *Listener)
	Close() error
}

// A Listener is notified when any bit in Mask turns on in the status of the
// descriptor it is registered with. A Listener can be registered with at most
// one descriptor at a time.
type Listener struct {
	Mask   Status
	Notify func(d Descriptor, status Status)

	owner           *Base
	registeredIndex int
}

// Registered reports whether l is currently attached to a descriptor.
func (l *Listener) Registered() bool {
	return l.owner != nil
}

// Base tracks status and listeners. Descriptor implementations embed it and
// call adjustStatus whenever their state changes.
type Base struct {
	self      Descriptor
	typ       Type
	status    Status
	listeners []*Listener
}

func (b *Base) init(self Descriptor, typ Type, status Status) {
	b.self = self
	b.typ = typ
	b.status = status
}

func (b *Base) Type() Type { return b.typ }

func (b *Base) Status() Status { return b.status }

func (b *Base) AddListener(l *Listener) {
	if l.owner != nil {
		panic("listener already registered")
	}
	l.owner = b
	l.registeredIndex = len(b.listeners)
	b.listeners = append(b.listeners, l)
}

func (b *Base) RemoveListener(l *Listener) {
	if l.owner != b || b.listeners[l.registeredIndex] != l {
		panic("listener not registered here")
	}
	last := len(b.listeners) - 1
	if last != l.registeredIndex {
		b.listeners[l.registeredIndex] = b.listeners[last]
		b.listeners[l.registeredIndex].registeredIndex = l.registeredIndex
	}
	b.listeners[last] = nil
	b.listeners = b.listeners[:last]
	l.owner = nil
	l.registeredIndex = 0
}

// adjustStatus sets and clears status bits and notifies listeners about bits
// that turned on.
func (b *Base) adjustStatus(set, clear Status) {
	old := b.status
	b.status = (b.status &^ clear) | set
	turnedOn := b.status &^ old
	if turnedOn == 0 || len(b.listeners) == 0 {
		return
	}
	// Notify may remove listeners.
	listeners := append([]*Listener(nil), b.listeners...)
	for _, l := range listeners {
		if l.owner == b && l.Mask&turnedOn != 0 {
			l.Notify(b.self, b.status)
		}
	}
}

func (b *Base) isClosed() bool {
	return b.status&StatusClosed != 0
}
