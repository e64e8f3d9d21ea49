package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/twisted-go/twisted/transport"
)

func TestTCPReadWrite(t *testing.T) {
	g := NewWithT(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ta := transport.NewTCP(a)
	tb := transport.NewTCP(b)

	g.Expect(ta.Handshake(context.Background())).To(Succeed())

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 16)
		n, err := tb.ReadSome(context.Background(), buf)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(string(buf[:n])).To(Equal("hello"))
	}()

	g.Expect(ta.WriteAll(context.Background(), []byte("hello"))).To(Succeed())
	<-done
}

func TestScatterWrite(t *testing.T) {
	g := NewWithT(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ta := transport.NewTCP(a)
	tb := transport.NewTCP(b)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 16)
		got := 0
		for got < len("line\r\n") {
			n, err := tb.ReadSome(context.Background(), buf[got:])
			g.Expect(err).NotTo(HaveOccurred())
			got += n
		}
		g.Expect(string(buf[:got])).To(Equal("line\r\n"))
	}()

	g.Expect(ta.WriteAll(context.Background(), []byte("line"), []byte("\r\n"))).To(Succeed())
	<-done
}

func TestCloseIsIdempotent(t *testing.T) {
	g := NewWithT(t)

	a, b := net.Pipe()
	defer b.Close()

	ta := transport.NewTCP(a)
	g.Expect(ta.Close()).To(Succeed())
	g.Expect(ta.Close()).To(Succeed())
	g.Expect(ta.IsOpen()).To(BeFalse())
}

func TestReadCancellation(t *testing.T) {
	g := NewWithT(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ta := transport.NewTCP(a)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	buf := make([]byte, 16)
	_, err := ta.ReadSome(ctx, buf)
	g.Expect(err).To(HaveOccurred())
}
