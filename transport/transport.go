// Package transport defines the abstract bidirectional byte stream that the
// protocol runtime drives: handshake, read-some, write-all (including the
// 2-buffer scatter form line framing needs for delimiter-without-copy
// sends), is-open and close. Two implementations are provided: plain TCP
// and TLS; both share the context-cancellable suspension-point plumbing in
// this file.
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	twerr "github.com/twisted-go/twisted/errors"
)

// Transport is the capability set the protocol runtime requires from a
// connection. Handshake, ReadSome and WriteAll are suspension points: they
// may block until data is available, until the peer accepts written bytes,
// or until ctx is cancelled.
type Transport interface {
	// Handshake performs any protocol-level handshake (a no-op for plain
	// TCP, the TLS server handshake for TLS). Idempotent.
	Handshake(ctx context.Context) error

	// ReadSome reads at least one byte into buf, or fails with a
	// transport error.
	ReadSome(ctx context.Context, buf []byte) (int, error)

	// WriteAll writes every byte of bufs, in order, or fails. Passing two
	// slices lets a caller (e.g. LineReceiver.SendLine) append a
	// delimiter without copying the payload first.
	WriteAll(ctx context.Context, bufs ...[]byte) error

	IsOpen() bool
	// Close is idempotent.
	Close() error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Option configures a Transport at construction time.
type Option func(*baseTransport)

// WithIdleTimeout bounds each Handshake, ReadSome and WriteAll call to d: a
// call that has not completed within d fails with a transport error (the
// transport itself is not closed). When the context carries an earlier
// deadline, that deadline applies instead. Zero (the default) disables the
// idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(b *baseTransport) { b.idleTimeout = d }
}

// baseTransport implements the suspension-point plumbing shared by the TCP
// and TLS transports: context-driven cancellation of a blocking net.Conn
// call, an idle-timeout deadline independent of that context, a write
// mutex (so Conn.Forward can safely write from a different goroutine's
// strand while this connection's own strand is also writing), and an
// idempotent Close.
type baseTransport struct {
	conn        net.Conn
	writeMu     sync.Mutex
	closed      atomic.Bool
	closeOnce   sync.Once
	idleTimeout time.Duration
}

func newBaseTransport(conn net.Conn, opts []Option) baseTransport {
	b := baseTransport{conn: conn}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (t *baseTransport) IsOpen() bool {
	return !t.closed.Load()
}

func (t *baseTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = t.conn.Close()
	})
	return err
}

func (t *baseTransport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *baseTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// runCancellable runs fn while a deadline derived from ctx is installed on
// the connection. If ctx carries a Done channel, a watcher goroutine forces
// the in-flight operation to unblock by setting a deadline in the past the
// moment ctx is cancelled, and the returned error is reclassified as a
// cancellation rather than a generic transport fault.
func (t *baseTransport) runCancellable(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	deadline, hasDeadline := ctx.Deadline()
	if t.idleTimeout > 0 {
		idleDeadline := time.Now().Add(t.idleTimeout)
		if !hasDeadline || idleDeadline.Before(deadline) {
			deadline, hasDeadline = idleDeadline, true
		}
	}
	if hasDeadline {
		_ = t.conn.SetDeadline(deadline)
		defer func() { _ = t.conn.SetDeadline(time.Time{}) }()
	}

	if ctx.Done() == nil {
		return fn()
	}

	done := make(chan struct{})
	var cancelled atomic.Bool
	go func() {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			_ = t.conn.SetDeadline(time.Unix(1, 0))
		case <-done:
		}
	}()

	err := fn()
	close(done)

	if err != nil && cancelled.Load() {
		return twerr.Cancelled(err)
	}
	return err
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*twerr.ConnError); ok {
		return ce
	}
	return twerr.Transport(err)
}
