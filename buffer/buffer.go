package buffer

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout is returned by ReadTimeout when no bytes arrived within
// the deadline while the buffer was still open.
var ErrTimeout = errors.New("buffer read timed out")

// Buffer is a bounded byte FIFO shared between the writer pool and the
// reader. Writers block while the buffer is full, readers block while
// it is empty. After Close, pending bytes stay readable; further
// writes fail and a drained read returns io.EOF.
type Buffer struct {
	maxSize int

	lock     sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf    []byte
	head   int
	closed bool
}

func New(maxSize int) *Buffer {
	b := &Buffer{
		maxSize: maxSize,
		buf:     make([]byte, 0, maxSize),
	}
	b.notFull = sync.NewCond(&b.lock)
	b.notEmpty = sync.NewCond(&b.lock)
	return b
}

func (b *Buffer) pending() int {
	return len(b.buf) - b.head
}

// Len returns the number of buffered, unread bytes.
func (b *Buffer) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.pending()
}

func (b *Buffer) Write(data []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	written := 0
	for written < len(data) {
		if b.closed {
			return written, errors.New("buffer already closed")
		}
		free := b.maxSize - b.pending()
		if free == 0 {
			b.notFull.Wait()
			continue
		}
		n := len(data) - written
		if n > free {
			n = free
		}
		b.compact()
		b.buf = append(b.buf, data[written:written+n]...)
		written += n
		b.notEmpty.Broadcast()
	}
	return written, nil
}

// compact drops consumed bytes once they dominate the backing slice.
func (b *Buffer) compact() {
	if b.head > b.maxSize || b.head > len(b.buf)/2 {
		b.buf = append(b.buf[:0], b.buf[b.head:]...)
		b.head = 0
	}
}

func (b *Buffer) Read(out []byte) (int, error) {
	return b.read(out, nil)
}

// ReadTimeout behaves like Read but gives up after d without a single
// byte becoming available.
func (b *Buffer) ReadTimeout(out []byte, d time.Duration) (int, error) {
	deadline := time.Now().Add(d)
	return b.read(out, &deadline)
}

func (b *Buffer) read(out []byte, deadline *time.Time) (n int, err error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	var timer *time.Timer
	if deadline != nil {
		timer = time.AfterFunc(time.Until(*deadline), func() {
			b.lock.Lock()
			b.notEmpty.Broadcast()
			b.lock.Unlock()
		})
		defer timer.Stop()
	}

	for {
		if b.pending() > 0 {
			n = copy(out, b.buf[b.head:])
			b.head += n
			b.notFull.Broadcast()
			return n, nil
		}
		if b.closed {
			return 0, io.EOF
		}
		if deadline != nil && !time.Now().Before(*deadline) {
			return 0, ErrTimeout
		}
		b.notEmpty.Wait()
	}
}

// Close is idempotent. It rejects further writes, wakes all waiters
// and leaves already buffered bytes readable.
func (b *Buffer) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.closed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
	return nil
}
