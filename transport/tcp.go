package transport

import (
	"context"
	"net"

	twerr "github.com/twisted-go/twisted/errors"
)

// tcpTransport is the plain-TCP Transport: handshake is a no-op.
type tcpTransport struct {
	base baseTransport
}

// NewTCP wraps an already-accepted connection as a plain Transport.
func NewTCP(conn net.Conn, opts ...Option) Transport {
	return &tcpTransport{base: newBaseTransport(conn, opts)}
}

func (t *tcpTransport) Handshake(ctx context.Context) error {
	return nil
}

func (t *tcpTransport) ReadSome(ctx context.Context, buf []byte) (int, error) {
	if !t.base.IsOpen() {
		return 0, twerr.Transport(net.ErrClosed)
	}

	var n int
	err := t.base.runCancellable(ctx, func() error {
		var e error
		n, e = t.base.conn.Read(buf)
		return e
	})
	if err != nil {
		return n, classify(err)
	}
	return n, nil
}

func (t *tcpTransport) WriteAll(ctx context.Context, bufs ...[]byte) error {
	t.base.writeMu.Lock()
	defer t.base.writeMu.Unlock()

	if !t.base.IsOpen() {
		return twerr.Transport(net.ErrClosed)
	}

	nb := make(net.Buffers, len(bufs))
	copy(nb, bufs)

	err := t.base.runCancellable(ctx, func() error {
		_, e := nb.WriteTo(t.base.conn)
		return e
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (t *tcpTransport) IsOpen() bool            { return t.base.IsOpen() }
func (t *tcpTransport) Close() error            { return t.base.Close() }
func (t *tcpTransport) LocalAddr() net.Addr     { return t.base.LocalAddr() }
func (t *tcpTransport) RemoteAddr() net.Addr    { return t.base.RemoteAddr() }
