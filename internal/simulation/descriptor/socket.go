package descriptor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/kmrgirish/simcall/simruntime"
)

// DefaultSocketBuffer is the receive buffer size of a new socket.
const DefaultSocketBuffer = 16384

// A circularBuffer holds received stream bytes until the process reads them.
type circularBuffer struct {
	data        []byte
	read, write int
	used        int
}

func newCircularBuffer(n int) *circularBuffer {
	return &circularBuffer{
		data: make([]byte, n),
	}
}

func (c *circularBuffer) free() int {
	return len(c.data) - c.used
}

func (c *circularBuffer) Write(data []byte) int {
	if free := c.free(); free < len(data) {
		data = data[:free]
	}
	n := copy(c.data[c.write:], data)
	c.write += n
	c.used += n
	if c.write == len(c.data) {
		c.write = 0
		m := copy(c.data, data[n:])
		c.write += m
		c.used += m
		n += m
	}
	return n
}

func (c *circularBuffer) Read(into []byte) int {
	if c.used < len(into) {
		into = into[:c.used]
	}
	n := copy(into, c.data[c.read:min(len(c.data), c.read+len(into))])
	c.read += n
	c.used -= n
	if c.read == len(c.data) {
		c.read = 0
		m := copy(into[n:], c.data)
		c.read += m
		c.used -= m
		n += m
	}
	return n
}

// A link carries segments between the two ends of a socket pair.
type link struct {
	sched     *simruntime.Scheduler
	latency   time.Duration
	connected bool
	// segments sent while disconnected, delivered in order on reconnect
	held []func()
}

// A Socket is one end of a connected stream socket pair. Bytes written to one
// end arrive at the other after the link latency in simulated time, in order.
type Socket struct {
	Base

	link *link
	peer *Socket

	in          *circularBuffer
	incoming    int // bytes in flight towards this end, reserved in in
	peerClosed  bool
	lastArrival int64

	// RecvTimeout bounds blocking receives, like SO_RCVTIMEO. Zero waits
	// forever.
	RecvTimeout time.Duration
}

// NewSocketPair returns two connected sockets with the given one-way latency
// and receive buffer size.
func NewSocketPair(sched *simruntime.Scheduler, latency time.Duration, bufferSize int) (a, b *Socket) {
	if bufferSize <= 0 {
		bufferSize = DefaultSocketBuffer
	}
	l := &link{sched: sched, latency: latency, connected: true}
	a = &Socket{link: l, in: newCircularBuffer(bufferSize)}
	b = &Socket{link: l, in: newCircularBuffer(bufferSize)}
	a.peer, b.peer = b, a
	a.init(a, TypeSocket, StatusActive|StatusWritable)
	b.init(b, TypeSocket, StatusActive|StatusWritable)
	return a, b
}

// SetLatency changes the one-way latency of the link in both directions.
// Segments already in flight keep their arrival time.
func (s *Socket) SetLatency(d time.Duration) {
	s.link.latency = d
}

func (s *Socket) Latency() time.Duration {
	return s.link.latency
}

// SetConnected partitions or heals the link. Segments sent during a partition
// are held and delivered in order once the link heals.
func (s *Socket) SetConnected(connected bool) {
	l := s.link
	if l.connected == connected {
		return
	}
	l.connected = connected
	if connected {
		held := l.held
		l.held = nil
		for _, send := range held {
			send()
		}
	}
}

func (s *Socket) updateStatus() {
	if s.isClosed() {
		return
	}
	if s.in.used > 0 || s.peerClosed {
		s.adjustStatus(StatusReadable, 0)
	} else {
		s.adjustStatus(0, StatusReadable)
	}
	if s.peerClosed {
		s.adjustStatus(StatusHangup, 0)
	}
	if s.peerClosed || s.peer.in.free()-s.peer.incoming > 0 {
		s.adjustStatus(StatusWritable, 0)
	} else {
		s.adjustStatus(0, StatusWritable)
	}
}

// transmit delivers fn at the peer after the link latency, after everything
// sent earlier in the same direction.
func (s *Socket) transmit(fn func()) {
	send := func() {
		arrival := max(s.link.sched.Now()+int64(s.link.latency), s.lastArrival)
		s.lastArrival = arrival
		s.link.sched.NewTimer(func(*simruntime.Timer) { fn() }, nil, s.link, arrival)
	}
	if !s.link.connected {
		s.link.held = append(s.link.held, send)
		return
	}
	send()
}

// Send queues as much of from as the peer has buffer space for. It returns
// EAGAIN when the peer's buffer is full and EPIPE once the peer has closed.
func (s *Socket) Send(from []byte) (int, error) {
	if s.isClosed() {
		return 0, unix.EBADF
	}
	if s.peerClosed {
		return 0, unix.EPIPE
	}
	peer := s.peer
	space := peer.in.free() - peer.incoming
	if space <= 0 {
		return 0, unix.EAGAIN
	}
	n := min(space, len(from))
	segment := append([]byte(nil), from[:n]...)
	peer.incoming += n
	s.transmit(func() {
		peer.incoming -= len(segment)
		if peer.isClosed() {
			return
		}
		peer.in.Write(segment)
		peer.updateStatus()
	})
	s.updateStatus()
	return n, nil
}

// Recv reads delivered bytes. It returns 0 at end of stream once the peer's
// close has arrived and EAGAIN if nothing is available yet.
func (s *Socket) Recv(into []byte) (int, error) {
	if s.isClosed() {
		return 0, unix.EBADF
	}
	if s.in.used == 0 {
		if s.peerClosed {
			return 0, nil
		}
		return 0, unix.EAGAIN
	}
	n := s.in.Read(into)
	s.updateStatus()
	s.peer.updateStatus()
	return n, nil
}

// Read and Write let sockets serve read(2) and write(2).
func (s *Socket) Read(into []byte) (int, error) { return s.Recv(into) }

func (s *Socket) Write(from []byte) (int, error) { return s.Send(from) }

// Buffered returns the number of delivered, unread bytes.
func (s *Socket) Buffered() int {
	return s.in.used
}

func (s *Socket) Close() error {
	if s.isClosed() {
		return unix.EBADF
	}
	s.adjustStatus(StatusClosed, StatusActive|StatusReadable|StatusWritable|StatusHangup)
	peer := s.peer
	s.transmit(func() {
		if peer.isClosed() {
			return
		}
		peer.peerClosed = true
		peer.updateStatus()
	})
	return nil
}
