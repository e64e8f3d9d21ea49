// Package lineframe implements delimiter-based line framing: OnLine fires
// once per delimiter-terminated line, with the delimiter itself stripped.
// It is grounded on line_receiver.hpp / detail/line_receiver_parser.hpp: a
// growable buffer is searched for the delimiter on every arrival, and
// doubled in size whenever it fills up without one being found.
package lineframe

import (
	"bytes"

	"github.com/twisted-go/twisted/protocol"
)

// DefaultInitialBufferSize is the starting buffer capacity before any
// doubling.
const DefaultInitialBufferSize = 4096

// DefaultDelimiter is CRLF, the conventional line-oriented protocol
// terminator (telnet, SMTP, HTTP headers, ...).
var DefaultDelimiter = []byte("\r\n")

// Handler receives one delimiter-stripped line per call. line aliases the
// engine's internal buffer and is only valid for the duration of the call.
type Handler interface {
	OnLine(c *protocol.Conn, line []byte)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(c *protocol.Conn, line []byte)

func (f HandlerFunc) OnLine(c *protocol.Conn, line []byte) { f(c, line) }

// Option configures a Protocol at construction time.
type Option func(*Protocol)

// WithDelimiter overrides the line terminator (default CRLF).
func WithDelimiter(delim []byte) Option {
	return func(p *Protocol) { p.delim = append([]byte(nil), delim...) }
}

// WithInitialBufferSize overrides the starting buffer capacity.
func WithInitialBufferSize(n int) Option {
	return func(p *Protocol) { p.initial = n }
}

// Protocol is the line-framing engine.
type Protocol struct {
	handler Handler
	delim   []byte
	initial int

	buf   []byte
	begin int
	count int
}

// New returns a Protocol splitting on opts' delimiter (CRLF by default).
func New(h Handler, opts ...Option) *Protocol {
	p := &Protocol{
		handler: h,
		delim:   DefaultDelimiter,
		initial: DefaultInitialBufferSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.buf = make([]byte, p.initial)
	return p
}

func (p *Protocol) ReadBuffer() []byte {
	return p.buf[p.begin+p.count:]
}

func (p *Protocol) OnMessage(c *protocol.Conn, chunk []byte) {
	p.count += len(chunk)

	for {
		window := p.buf[p.begin : p.begin+p.count]
		idx := bytes.Index(window, p.delim)
		if idx < 0 {
			break
		}
		line := p.buf[p.begin : p.begin+idx]
		p.handler.OnLine(c, line)

		consumed := idx + len(p.delim)
		p.begin += consumed
		p.count -= consumed
	}

	p.compactOrGrow()
}

func (p *Protocol) compactOrGrow() {
	if p.count == 0 {
		p.begin = 0
		return
	}
	if p.begin+p.count == len(p.buf) {
		copy(p.buf, p.buf[p.begin:p.begin+p.count])
		p.begin = 0
	}
	if p.begin+p.count == len(p.buf) {
		// Still no room after compaction: a full buffer with no delimiter
		// found means the line is longer than capacity. Double it, the
		// same growth detail/line_receiver_parser.hpp uses rather than
		// failing the connection outright.
		grown := make([]byte, len(p.buf)*2)
		copy(grown, p.buf[p.begin:p.begin+p.count])
		p.buf = grown
		p.begin = 0
	}
}

// SendLine writes line followed by the configured delimiter as a single
// scatter write, so the delimiter need not be appended to the caller's
// slice first.
func (p *Protocol) SendLine(c *protocol.Conn, line []byte) error {
	return c.SendBuffers(line, p.delim)
}
