// Package basic implements the simplest framing engine: a fixed-size
// buffer delivered to the user handler exactly as it arrives, with no
// message boundary detection. It mirrors basic_protocol.hpp, whose
// buffer_type is a plain std::array<char, 1024>.
package basic

import "github.com/twisted-go/twisted/protocol"

// DefaultBufferSize matches the original's fixed 1024-byte buffer.
const DefaultBufferSize = 1024

// Handler receives raw chunks exactly as ReadSome delivered them, with no
// framing applied — the Go analogue of deriving straight from
// twisted::basic_protocol.
type Handler interface {
	OnChunk(c *protocol.Conn, p []byte)
}

// Protocol adapts a Handler into protocol.BufferedHandler using a single
// reused buffer of Size bytes.
type Protocol struct {
	Size    int
	handler Handler
	buf     []byte
}

// New returns a Protocol with the default 1024-byte buffer.
func New(h Handler) *Protocol {
	return &Protocol{Size: DefaultBufferSize, handler: h}
}

// NewSized returns a Protocol whose read buffer is size bytes.
func NewSized(h Handler, size int) *Protocol {
	return &Protocol{Size: size, handler: h}
}

func (p *Protocol) ReadBuffer() []byte {
	if p.buf == nil {
		p.buf = make([]byte, p.Size)
	}
	return p.buf
}

func (p *Protocol) OnMessage(c *protocol.Conn, chunk []byte) {
	p.handler.OnChunk(c, chunk)
}
