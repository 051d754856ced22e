package worker

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/buffer"
	"github.com/hlsget/hlsget/htypes"
)

// Reader is the blocking byte-stream facade over one stream. It is
// the sole consumer of the buffer; closing it propagates upstream and
// cancels the worker and the writer pool.
type Reader struct {
	buf    *buffer.Buffer
	cancel context.CancelFunc

	closeOnce sync.Once

	m         sync.Mutex
	timeout   time.Duration
	closed    bool
	fatalErr  error
	delivered bool
}

func newReader(config Config, buf *buffer.Buffer, cancel context.CancelFunc) *Reader {
	return &Reader{
		buf:     buf,
		cancel:  cancel,
		timeout: config.Timeout.Duration,
	}
}

// SetReadTimeout replaces the stall timeout for subsequent reads.
func (r *Reader) SetReadTimeout(d time.Duration) {
	r.m.Lock()
	defer r.m.Unlock()
	r.timeout = d
}

// setFatal records the error a later Read will surface once the
// buffered bytes are drained.
func (r *Reader) setFatal(err error) {
	r.m.Lock()
	defer r.m.Unlock()
	if r.fatalErr == nil {
		r.fatalErr = err
	}
}

// Read returns up to len(out) bytes, blocking until data, EOF, or the
// stall timeout. A clean end of stream is io.EOF; a stalled stream
// surfaces ErrStreamTimeout once and reads as EOF afterwards.
func (r *Reader) Read(out []byte) (int, error) {
	r.m.Lock()
	if r.closed {
		r.m.Unlock()
		return 0, io.EOF
	}
	timeout := r.timeout
	r.m.Unlock()

	n, err := r.buf.ReadTimeout(out, timeout)
	switch err {
	case nil:
		return n, nil
	case buffer.ErrTimeout:
		htypes.Stat(true, "stream_read", "stall", htypes.TimeToStat(timeout))
		r.Close()
		return 0, errors.Wrapf(htypes.ErrStreamTimeout, "no data for %s", timeout)
	case io.EOF:
		r.m.Lock()
		fatal := r.fatalErr
		delivered := r.delivered
		r.delivered = true
		r.m.Unlock()

		if fatal != nil && !delivered {
			return 0, errors.Wrap(fatal, "stream failed")
		}
		return 0, io.EOF
	default:
		return n, err
	}
}

// Close stops the stream. Safe to call any number of times from any
// goroutine; pending reads are unblocked with EOF.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		logrus.Debug("Closing stream reader")
		r.m.Lock()
		r.closed = true
		r.m.Unlock()
		r.cancel()
		r.buf.Close()
	})
	return nil
}
