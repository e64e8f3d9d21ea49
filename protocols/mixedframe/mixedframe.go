// Package mixedframe implements a framing engine whose mode can be
// switched at runtime between fixed-size blocks and delimited lines while
// sharing one underlying buffer, grounded on mixed_receiver.hpp: a single
// is_byte_mode flag selects which drain loop runs, so a protocol can e.g.
// read a line header and then switch to consuming a byte-counted body
// announced by that header, all on one connection.
package mixedframe

import (
	"bytes"

	"github.com/twisted-go/twisted/protocol"
)

// Mode selects which framing rule the engine currently drains with.
type Mode int

const (
	ByteMode Mode = iota
	LineMode
)

// DefaultInitialBufferSize is the starting buffer capacity before any
// doubling (relevant in LineMode; ByteMode grows to 3*N like byteframe).
const DefaultInitialBufferSize = 4096

// DefaultDelimiter is CRLF.
var DefaultDelimiter = []byte("\r\n")

// Handler receives whichever framing unit the engine is currently
// configured to drain. Only the method matching the active Mode at the
// time of delivery is called.
type Handler interface {
	OnBlock(c *protocol.Conn, block []byte)
	OnLine(c *protocol.Conn, line []byte)
}

// Option configures a Protocol at construction time.
type Option func(*Protocol)

// WithDelimiter overrides the line terminator used in LineMode.
func WithDelimiter(delim []byte) Option {
	return func(p *Protocol) { p.delim = append([]byte(nil), delim...) }
}

// WithInitialMode sets the engine's starting mode (LineMode by default).
func WithInitialMode(m Mode, n int) Option {
	return func(p *Protocol) {
		p.mode = m
		p.n = n
	}
}

// Protocol is the mode-switching framing engine.
type Protocol struct {
	handler Handler
	mode    Mode
	n       int
	delim   []byte

	buf   []byte
	begin int
	count int
}

// New returns a Protocol starting in LineMode with the default delimiter,
// unless overridden by WithInitialMode/WithDelimiter.
func New(h Handler, opts ...Option) *Protocol {
	p := &Protocol{
		handler: h,
		mode:    LineMode,
		delim:   DefaultDelimiter,
	}
	for _, opt := range opts {
		opt(p)
	}
	size := DefaultInitialBufferSize
	if p.mode == ByteMode && p.n > 0 {
		size = 3 * p.n
	}
	p.buf = make([]byte, size)
	return p
}

func (p *Protocol) ReadBuffer() []byte {
	return p.buf[p.begin+p.count:]
}

func (p *Protocol) OnMessage(c *protocol.Conn, chunk []byte) {
	p.count += len(chunk)
	p.drain(c)
	p.compactOrGrow()
}

func (p *Protocol) drain(c *protocol.Conn) {
	for {
		switch p.mode {
		case ByteMode:
			if p.n <= 0 || p.count < p.n {
				return
			}
			block := p.buf[p.begin : p.begin+p.n]
			p.begin += p.n
			p.count -= p.n
			p.handler.OnBlock(c, block)

		case LineMode:
			window := p.buf[p.begin : p.begin+p.count]
			idx := bytes.Index(window, p.delim)
			if idx < 0 {
				return
			}
			line := p.buf[p.begin : p.begin+idx]
			consumed := idx + len(p.delim)
			p.begin += consumed
			p.count -= consumed
			p.handler.OnLine(c, line)
		}
	}
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
	if p.begin+p.count != len(p.buf) {
		return
	}

	var want int
	if p.mode == ByteMode && p.n > 0 {
		if want = 3 * p.n; want <= len(p.buf) {
			want = len(p.buf) * 2
		}
	} else {
		want = len(p.buf) * 2
	}
	grown := make([]byte, want)
	copy(grown, p.buf[p.begin:p.begin+p.count])
	p.buf = grown
	p.begin = 0
}

// SetByteMode switches to ByteMode with block size n, growing the buffer
// to 3*n if it is currently smaller.
func (p *Protocol) SetByteMode(n int) {
	p.ensureCapacity(3 * n)
	p.mode = ByteMode
	p.n = n
}

// SetLineMode switches to LineMode; the delimiter set at construction (or
// via WithDelimiter) keeps applying.
func (p *Protocol) SetLineMode() {
	p.mode = LineMode
}

// SetPackageSize changes the ByteMode block size, growing the buffer if
// needed. Calling it while in LineMode does not switch modes; a later
// SetByteMode(n) replaces the size with its own n.
func (p *Protocol) SetPackageSize(n int) {
	p.ensureCapacity(3 * n)
	p.n = n
}

func (p *Protocol) ensureCapacity(want int) {
	if want <= len(p.buf) {
		return
	}
	grown := make([]byte, want)
	copy(grown, p.buf[p.begin:p.begin+p.count])
	p.buf = grown
	p.begin = 0
}

// Mode returns the engine's current framing mode.
func (p *Protocol) Mode() Mode { return p.mode }
