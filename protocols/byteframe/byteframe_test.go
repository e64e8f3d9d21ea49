package byteframe_test

import (
	"context"
	"net"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/twisted-go/twisted/protocol"
	"github.com/twisted-go/twisted/protocols/byteframe"
	"github.com/twisted-go/twisted/transport"
)

type collector struct {
	blocks chan string
}

func (c *collector) OnBlock(conn *protocol.Conn, block []byte) {
	c.blocks <- string(block)
}

func newHarness(t *testing.T, n int) (*collector, *byteframe.Protocol, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	col := &collector{blocks: make(chan string, 16)}
	engine := byteframe.New(col, n)

	tr := transport.NewTCP(a)
	conn := protocol.New(context.Background(), "t", tr, engine, nil)
	go conn.Run()

	return col, engine, b
}

func TestUnevenWrapAroundChunking(t *testing.T) {
	g := NewWithT(t)
	col, _, peer := newHarness(t, 3)

	chunks := []string{"AAA", "BBB", "C", "CCD", "DDE", "EE"}
	for _, c := range chunks {
		_, err := peer.Write([]byte(c))
		g.Expect(err).NotTo(HaveOccurred())
	}

	expected := []string{"AAA", "BBB", "CCC", "DDD", "EEE"}
	for _, want := range expected {
		select {
		case got := <-col.blocks:
			g.Expect(got).To(Equal(want))
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for block %q", want)
		}
	}
}

func TestSetPackageSizeGrows(t *testing.T) {
	g := NewWithT(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	blocks := make(chan string, 4)
	var engine *byteframe.Protocol
	engine = byteframe.New(byteframe.HandlerFunc(func(conn *protocol.Conn, block []byte) {
		if len(block) == 3 {
			engine.SetPackageSize(5)
		}
		blocks <- string(block)
	}), 3)

	tr := transport.NewTCP(a)
	conn := protocol.New(context.Background(), "t1", tr, engine, nil)
	go conn.Run()

	_, err := b.Write([]byte("AAA"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(<-blocks).To(Equal("AAA"))
	g.Expect(engine.PackageSize()).To(Equal(5))

	_, err = b.Write([]byte("BBBBB"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(<-blocks).To(Equal("BBBBB"))
}

func TestNextPacketAfterShrinkDrainsBufferedRemainder(t *testing.T) {
	g := NewWithT(t)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	results := make(chan string, 4)
	var engine *byteframe.Protocol
	col := byteframe.HandlerFunc(func(conn *protocol.Conn, block []byte) {
		results <- string(block)
		if len(block) == 4 {
			engine.SetPackageSize(2)
			next, err := engine.NextPacket(conn)
			g.Expect(err).NotTo(HaveOccurred())
			results <- string(next)
		}
	})
	engine = byteframe.New(col, 4)

	tr := transport.NewTCP(a)
	conn := protocol.New(context.Background(), "t2", tr, engine, nil)
	go conn.Run()

	_, err := b.Write([]byte("AAAABB"))
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(<-results).To(Equal("AAAA"))
	g.Expect(<-results).To(Equal("BB"))
}

func TestSetPackageSizeShrinkKeepsBuffer(t *testing.T) {
	g := NewWithT(t)
	col, engine, peer := newHarness(t, 6)

	engine.SetPackageSize(2)
	g.Expect(engine.PackageSize()).To(Equal(2))

	_, err := peer.Write([]byte("ABCD"))
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(<-col.blocks).To(Equal("AB"))
	g.Expect(<-col.blocks).To(Equal("CD"))
}
