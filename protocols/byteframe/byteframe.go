// Package byteframe implements fixed-size block framing: OnBlock fires once
// per N-byte block, where N can be changed at runtime via SetPackageSize.
// It is grounded on byte_receiver.hpp / detail/byte_receiver_parser.hpp:
// a ring-like buffer of capacity 3*N is filled by ReadSome, drained into
// N-byte blocks, and compacted back toward the front of the buffer once
// drained, so the buffer never has to grow on the common path.
package byteframe

import "github.com/twisted-go/twisted/protocol"

// Handler receives one fixed-size block per call. block aliases the
// engine's internal buffer and is only valid for the duration of the call.
type Handler interface {
	OnBlock(c *protocol.Conn, block []byte)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(c *protocol.Conn, block []byte)

func (f HandlerFunc) OnBlock(c *protocol.Conn, block []byte) { f(c, block) }

// Protocol is the block-framing engine.
type Protocol struct {
	handler Handler
	n       int
	buf     []byte
	begin   int
	count   int
}

// New returns a Protocol delivering n-byte blocks.
func New(h Handler, n int) *Protocol {
	return &Protocol{
		handler: h,
		n:       n,
		buf:     make([]byte, bufferSizeFor(n)),
	}
}

// bufferSizeFor mirrors calculate_buffer_size: 3*N gives room for one
// complete trailing partial block plus one full incoming read without
// needing to compact on every single message.
func bufferSizeFor(n int) int { return 3 * n }

// ReadBuffer exposes the writable tail of the internal buffer, i.e. the
// region after the bytes already buffered for the in-progress block.
func (p *Protocol) ReadBuffer() []byte {
	return p.buf[p.begin+p.count:]
}

// OnMessage is called by the protocol runtime with the tail slice it just
// filled via ReadSome; chunk aliases p.buf[p.begin+p.count:p.begin+p.count+n].
func (p *Protocol) OnMessage(c *protocol.Conn, chunk []byte) {
	p.count += len(chunk)
	p.drain(c)
	p.compact()
}

func (p *Protocol) drain(c *protocol.Conn) {
	for p.count >= p.n {
		block := p.buf[p.begin : p.begin+p.n]
		p.begin += p.n
		p.count -= p.n
		p.handler.OnBlock(c, block)
	}
}

// compact resets begin to 0 once the buffer is fully drained, or slides the
// remaining partial block to the front once it has reached the end of the
// buffer's capacity — the two cases detail/byte_receiver_parser.hpp
// special-cases rather than compacting unconditionally on every message.
func (p *Protocol) compact() {
	if p.count == 0 {
		p.begin = 0
		return
	}
	if p.begin+p.count == len(p.buf) {
		copy(p.buf, p.buf[p.begin:p.begin+p.count])
		p.begin = 0
	}
}

// SetPackageSize changes the block size for blocks delivered from now on.
// The buffer only ever grows (to 3*n) when n increases; shrinking n keeps
// the existing, larger buffer rather than reallocating down, matching
// set_package_size's "resize only if new N is bigger" rule.
func (p *Protocol) SetPackageSize(n int) {
	if want := bufferSizeFor(n); want > len(p.buf) {
		grown := make([]byte, want)
		copy(grown, p.buf[p.begin:p.begin+p.count])
		p.buf = grown
		p.begin = 0
	}
	p.n = n
}

// PackageSize returns the current block size.
func (p *Protocol) PackageSize() int { return p.n }

// NextPacket synchronously completes and returns the next full block,
// blocking on the connection's strand (via Conn.ReadMore) if the buffered
// bytes do not yet form a complete block. Call only from within OnBlock,
// on the strand that owns this connection.
func (p *Protocol) NextPacket(c *protocol.Conn) ([]byte, error) {
	for p.count < p.n {
		if p.begin+p.n > len(p.buf) {
			copy(p.buf, p.buf[p.begin:p.begin+p.count])
			p.begin = 0
		}
		need := p.n - p.count
		tail := p.buf[p.begin+p.count : p.begin+p.count+need]
		n, err := c.ReadMore(tail)
		p.count += n
		if err != nil {
			return nil, err
		}
	}
	block := p.buf[p.begin : p.begin+p.n]
	p.begin += p.n
	p.count -= p.n
	p.compact()
	return block, nil
}
