// Package device exposes a msgchan.Channel through a file-like endpoint:
// open handles that read, write and control the shared channel, with
// reference counting of users and POSIX-style status translation. It is the
// glue a host would register as a character device.
package device

import (
	"context"
	"errors"
	"sync"

	"github.com/osmsg/GoMsgChan/pkg/msgchan"
)

// POSIX-style status codes returned by Errno for callers that speak errno.
const (
	OK     = 0
	EINTR  = 4
	EBADF  = 9
	EAGAIN = 11
	EFAULT = 14
	EINVAL = 22
)

// Control operation codes. OpSetCapacity adjusts the aggregate byte limit
// of the underlying channel.
const (
	OpSetCapacity = iota
)

var (
	// ErrTornDown reports an Open against a device that has been torn down.
	ErrTornDown = errors.New("device: device has been torn down")

	// ErrClosedHandle reports an operation on a closed handle.
	ErrClosedHandle = errors.New("device: handle is closed")

	// ErrBadControlOp reports an unknown control operation code.
	ErrBadControlOp = errors.New("device: unknown control operation")
)

// Device wraps one shared channel and tracks how many handles are open
// against it.
type Device struct {
	ch *msgchan.Channel

	mu       sync.Mutex
	users    int
	tornDown bool
}

// New creates a device around a fresh channel configured by opts.
func New(opts ...msgchan.Option) *Device {
	return &Device{ch: msgchan.New(opts...)}
}

// Open registers a new user and returns a handle to the shared channel.
// Opening a torn-down device fails, the same way a module that is unloading
// refuses new references.
func (d *Device) Open() (*Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tornDown {
		return nil, ErrTornDown
	}
	d.users++
	return &Handle{dev: d}, nil
}

// Users returns how many handles are currently open.
func (d *Device) Users() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users
}

// Teardown closes the shared channel and refuses further opens. Pending
// blocked operations on open handles are woken and fail. Teardown does not
// wait for open handles to be closed.
func (d *Device) Teardown() error {
	d.mu.Lock()
	d.tornDown = true
	d.mu.Unlock()
	return d.ch.Close()
}

// release drops one user reference.
func (d *Device) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.users > 0 {
		d.users--
	}
}

// Handle is one opened endpoint of a Device. It implements
// io.ReadWriteCloser; the context-taking variants allow interruptible
// blocking calls.
type Handle struct {
	dev *Device

	mu     sync.Mutex
	closed bool
}

// Write sends p as one message, blocking while the channel is full.
// Oversize messages are rejected immediately with msgchan.ErrTooLarge.
func (h *Handle) Write(p []byte) (int, error) {
	return h.WriteContext(context.Background(), p)
}

// WriteContext is Write with an interruptible wait.
func (h *Handle) WriteContext(ctx context.Context, p []byte) (int, error) {
	if h.isClosed() {
		return 0, ErrClosedHandle
	}
	if err := h.dev.ch.Send(ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read blocks until a message is available, then delivers it into p under
// the legacy rule: at most len(p) bytes, the remainder of the message
// discarded, delivery stopping at the first zero byte. It returns the
// number of bytes delivered.
func (h *Handle) Read(p []byte) (int, error) {
	return h.ReadContext(context.Background(), p)
}

// ReadContext is Read with an interruptible wait.
func (h *Handle) ReadContext(ctx context.Context, p []byte) (int, error) {
	if h.isClosed() {
		return 0, ErrClosedHandle
	}
	msg, err := h.dev.ch.ReceiveLimit(ctx, len(p))
	if err != nil {
		return 0, err
	}
	copy(p, msg)
	return len(msg), nil
}

// Control performs a control operation against the shared channel, the
// ioctl surface of the endpoint.
func (h *Handle) Control(op int, arg uint64) error {
	if h.isClosed() {
		return ErrClosedHandle
	}
	switch op {
	case OpSetCapacity:
		return h.dev.ch.SetCapacity(arg)
	default:
		return ErrBadControlOp
	}
}

// Close drops this handle's user reference. Close is idempotent; only the
// first call releases the reference.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.dev.release()
	return nil
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Errno translates an error from this package or from msgchan into a
// POSIX-style status code. nil maps to OK.
func Errno(err error) int {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, msgchan.ErrTooLarge),
		errors.Is(err, msgchan.ErrRejected),
		errors.Is(err, ErrBadControlOp):
		return EINVAL
	case errors.Is(err, msgchan.ErrExhausted):
		return EAGAIN
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return EINTR
	case errors.Is(err, msgchan.ErrClosed),
		errors.Is(err, ErrTornDown),
		errors.Is(err, ErrClosedHandle):
		return EBADF
	default:
		return EFAULT
	}
}
