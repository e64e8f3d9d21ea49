package lineframe_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/twisted-go/twisted/protocol"
	"github.com/twisted-go/twisted/protocols/lineframe"
	"github.com/twisted-go/twisted/transport"
)

func TestCRLFSplitAcrossWrites(t *testing.T) {
	g := NewWithT(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	lines := make(chan string, 8)
	engine := lineframe.New(lineframe.HandlerFunc(func(c *protocol.Conn, line []byte) {
		lines <- string(line)
	}))

	tr := transport.NewTCP(a)
	conn := protocol.New(context.Background(), "l1", tr, engine, nil)
	go conn.Run()

	for _, chunk := range []string{"hel", "lo\r", "\nworld\r\n"} {
		_, err := b.Write([]byte(chunk))
		g.Expect(err).NotTo(HaveOccurred())
	}

	g.Expect(<-lines).To(Equal("hello"))
	g.Expect(<-lines).To(Equal("world"))
}

func TestLineLongerThanInitialBufferGrows(t *testing.T) {
	g := NewWithT(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	lines := make(chan string, 2)
	engine := lineframe.New(
		lineframe.HandlerFunc(func(c *protocol.Conn, line []byte) { lines <- string(line) }),
		lineframe.WithInitialBufferSize(8),
	)

	tr := transport.NewTCP(a)
	conn := protocol.New(context.Background(), "l2", tr, engine, nil)
	go conn.Run()

	long := "a very long line that exceeds the initial buffer capacity"
	go func() {
		_, _ = b.Write([]byte(long + "\r\n"))
	}()

	select {
	case got := <-lines:
		g.Expect(got).To(Equal(long))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for grown-buffer line")
	}
}

func TestSendLineScatterWrite(t *testing.T) {
	g := NewWithT(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ready := make(chan *protocol.Conn, 1)
	engine := lineframe.New(lineframe.HandlerFunc(func(c *protocol.Conn, line []byte) {
		select {
		case ready <- c:
		default:
		}
	}))

	tr := transport.NewTCP(a)
	conn := protocol.New(context.Background(), "l3", tr, engine, nil)
	go conn.Run()

	_, err := b.Write([]byte("ping\r\n"))
	g.Expect(err).NotTo(HaveOccurred())

	c := <-ready
	done := make(chan struct{})
	c.CallFromThread(func(c *protocol.Conn) {
		g.Expect(engine.SendLine(c, []byte("pong"))).To(Succeed())
		close(done)
	})

	out := make([]byte, 6)
	_, err = io.ReadFull(b, out)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(out)).To(Equal("pong\r\n"))
	<-done
}
