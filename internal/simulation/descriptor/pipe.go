package descriptor

import (
	"golang.org/x/sys/unix"
)

// DefaultPipeCapacity matches the Linux default pipe buffer.
const DefaultPipeCapacity = 65536

type pipeBuffer struct {
	data     []byte
	capacity int

	reader, writer *PipeEnd
}

// A PipeEnd is one side of a unidirectional pipe.
type PipeEnd struct {
	Base
	buf   *pipeBuffer
	write bool
}

// NewPipe returns the read and write ends of a new pipe holding at most
// capacity unread bytes.
func NewPipe(capacity int) (r, w *PipeEnd) {
	if capacity <= 0 {
		capacity = DefaultPipeCapacity
	}
	buf := &pipeBuffer{capacity: capacity}
	r = &PipeEnd{buf: buf}
	r.init(r, TypePipe, StatusActive)
	w = &PipeEnd{buf: buf, write: true}
	w.init(w, TypePipe, StatusActive|StatusWritable)
	buf.reader, buf.writer = r, w
	return r, w
}

func (b *pipeBuffer) update() {
	if !b.reader.isClosed() {
		if len(b.data) > 0 || b.writer.isClosed() {
			b.reader.adjustStatus(StatusReadable, 0)
		} else {
			b.reader.adjustStatus(0, StatusReadable)
		}
		if b.writer.isClosed() {
			b.reader.adjustStatus(StatusHangup, 0)
		}
	}
	if !b.writer.isClosed() {
		if len(b.data) < b.capacity || b.reader.isClosed() {
			b.writer.adjustStatus(StatusWritable, 0)
		} else {
			b.writer.adjustStatus(0, StatusWritable)
		}
	}
}

// Read returns buffered bytes, 0 at end of stream once the write end is
// closed, and EAGAIN if the pipe is empty but still open.
func (p *PipeEnd) Read(into []byte) (int, error) {
	if p.isClosed() || p.write {
		return 0, unix.EBADF
	}
	if len(p.buf.data) == 0 {
		if p.buf.writer.isClosed() {
			return 0, nil
		}
		return 0, unix.EAGAIN
	}
	n := copy(into, p.buf.data)
	p.buf.data = p.buf.data[n:]
	p.buf.update()
	return n, nil
}

// Write appends as much of from as fits, EAGAIN if the pipe is full, and EPIPE
// once the read end is closed.
func (p *PipeEnd) Write(from []byte) (int, error) {
	if p.isClosed() || !p.write {
		return 0, unix.EBADF
	}
	if p.buf.reader.isClosed() {
		return 0, unix.EPIPE
	}
	space := p.buf.capacity - len(p.buf.data)
	if space == 0 {
		return 0, unix.EAGAIN
	}
	n := min(space, len(from))
	p.buf.data = append(p.buf.data, from[:n]...)
	p.buf.update()
	return n, nil
}

// Buffered returns the number of unread bytes.
func (p *PipeEnd) Buffered() int {
	return len(p.buf.data)
}

func (p *PipeEnd) Close() error {
	if p.isClosed() {
		return unix.EBADF
	}
	p.adjustStatus(StatusClosed, StatusActive|StatusReadable|StatusWritable|StatusHangup)
	p.buf.update()
	return nil
}
