package descriptor

import (
	"golang.org/x/sys/unix"
)

// A File is an in-memory regular file with its own offset. Regular files are
// always ready, so operations on them never block.
type File struct {
	Base
	name   string
	data   []byte
	offset int
}

func NewFile(name string, contents []byte) *File {
	f := &File{
		name: name,
		data: append([]byte(nil), contents...),
	}
	f.init(f, TypeFile, StatusActive|StatusReadable|StatusWritable)
	return f
}

func (f *File) Name() string { return f.name }

func (f *File) Read(into []byte) (int, error) {
	if f.isClosed() {
		return 0, unix.EBADF
	}
	n := copy(into, f.data[min(f.offset, len(f.data)):])
	f.offset += n
	return n, nil
}

func (f *File) Write(from []byte) (int, error) {
	if f.isClosed() {
		return 0, unix.EBADF
	}
	if end := f.offset + len(from); end > len(f.data) {
		f.data = append(f.data, make([]byte, end-len(f.data))...)
	}
	n := copy(f.data[f.offset:], from)
	f.offset += n
	return n, nil
}

// Contents returns a copy of the file's bytes.
func (f *File) Contents() []byte {
	return append([]byte(nil), f.data...)
}

func (f *File) Close() error {
	if f.isClosed() {
		return unix.EBADF
	}
	f.adjustStatus(StatusClosed, StatusActive|StatusReadable|StatusWritable)
	return nil
}
