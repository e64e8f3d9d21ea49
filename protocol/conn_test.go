package protocol_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/twisted-go/twisted/protocol"
	"github.com/twisted-go/twisted/transport"
)

func pipeConns() (transport.Transport, net.Conn) {
	a, b := net.Pipe()
	return transport.NewTCP(a), b
}

func TestOnDisconnectCalledExactlyOnce(t *testing.T) {
	g := NewWithT(t)

	tr, peer := pipeConns()
	defer peer.Close()

	var count int
	var mu sync.Mutex
	done := make(chan struct{})

	h := &recordingHandler{
		onMessage: func(c *protocol.Conn, p []byte) {},
		onDisconnect: func(c *protocol.Conn) {
			mu.Lock()
			count++
			mu.Unlock()
			close(done)
		},
	}

	conn := protocol.New(context.Background(), "c1", tr, h, nil)
	go conn.Run()

	peer.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect")
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	g.Expect(count).To(Equal(1))
}

func TestOnErrorSwallowedByDefaultPolicy(t *testing.T) {
	g := NewWithT(t)

	tr, peer := pipeConns()
	defer peer.Close()
	defer tr.Close()

	var calls int
	var mu sync.Mutex
	seen := make(chan struct{}, 4)

	// HandlerFunc implements no OnError, so the default policy applies.
	h := protocol.HandlerFunc(func(c *protocol.Conn, p []byte) {
		mu.Lock()
		calls++
		mu.Unlock()
		seen <- struct{}{}
		panic("boom")
	})

	conn := protocol.New(context.Background(), "c2", tr, h, nil)
	go conn.Run()

	_, err := peer.Write([]byte("a"))
	g.Expect(err).NotTo(HaveOccurred())
	<-seen

	_, err = peer.Write([]byte("b"))
	g.Expect(err).NotTo(HaveOccurred())
	<-seen

	mu.Lock()
	defer mu.Unlock()
	g.Expect(calls).To(Equal(2))
}

func TestOnErrorFailureForcesDisconnect(t *testing.T) {
	g := NewWithT(t)

	tr, peer := pipeConns()
	defer peer.Close()

	disconnected := make(chan struct{})

	h := &recordingHandler{
		onMessage: func(c *protocol.Conn, p []byte) {
			panic("primary failure")
		},
		onError: func(c *protocol.Conn, err error) {
			panic("secondary failure")
		},
		onDisconnect: func(c *protocol.Conn) {
			close(disconnected)
		},
	}

	conn := protocol.New(context.Background(), "c3", tr, h, nil)
	go conn.Run()

	_, err := peer.Write([]byte("x"))
	g.Expect(err).NotTo(HaveOccurred())

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("expected forced disconnect after on_error failure")
	}
}

func TestCallFromThreadRunsOnStrand(t *testing.T) {
	g := NewWithT(t)

	tr, peer := pipeConns()
	defer peer.Close()
	defer tr.Close()

	h := &recordingHandler{onMessage: func(c *protocol.Conn, p []byte) {}}
	conn := protocol.New(context.Background(), "c4", tr, h, nil)
	go conn.Run()

	result := make(chan bool, 1)
	conn.CallFromThread(func(c *protocol.Conn) {
		result <- c.IsConnected()
	})

	select {
	case ok := <-result:
		g.Expect(ok).To(BeTrue())
	case <-time.After(time.Second):
		t.Fatal("CallFromThread body never ran")
	}
}

type recordingHandler struct {
	onMessage    func(c *protocol.Conn, p []byte)
	onError      func(c *protocol.Conn, err error)
	onDisconnect func(c *protocol.Conn)
}

func (h *recordingHandler) OnMessage(c *protocol.Conn, p []byte) {
	if h.onMessage != nil {
		h.onMessage(c, p)
	}
}

func (h *recordingHandler) OnError(c *protocol.Conn, err error) {
	if h.onError != nil {
		h.onError(c, err)
	}
}

func (h *recordingHandler) OnDisconnect(c *protocol.Conn) {
	if h.onDisconnect != nil {
		h.onDisconnect(c)
	}
}
