package reactor_test

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/twisted-go/twisted/protocol"
	"github.com/twisted-go/twisted/reactor"
)

var _ = Describe("Listener lifecycle", func() {
	var (
		r    *reactor.Reactor
		ln   *reactor.Listener
		stop context.CancelFunc
	)

	BeforeEach(func() {
		r = reactor.New()
		var err error
		ln, err = r.ListenTCP("life", reactor.Config{Address: "127.0.0.1:0"}, func() protocol.Handler {
			return echoHandler{}
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		var ctx context.Context
		ctx, stop = context.WithCancel(context.Background())
		go func() { _ = r.Run(ctx) }()
		Eventually(ln.IsRunning).Should(BeTrue())
	})

	AfterEach(func() {
		stop()
		Eventually(ln.IsGone).Should(BeTrue())
	})

	It("reports IsRunning while servicing connections", func() {
		Expect(ln.IsRunning()).To(BeTrue())
		Expect(ln.IsGone()).To(BeFalse())
	})

	It("tracks OpenConnections across an accepted connection", func() {
		Expect(ln.OpenConnections()).To(Equal(0))

		conn, err := net.Dial("tcp", ln.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Eventually(ln.OpenConnections).Should(Equal(1))

		Expect(conn.Close()).To(Succeed())
		Eventually(ln.OpenConnections, time.Second).Should(Equal(0))
	})

	It("becomes gone after the reactor context is cancelled", func() {
		stop()
		Eventually(ln.IsGone).Should(BeTrue())
		Expect(ln.IsRunning()).To(BeFalse())
	})
})
