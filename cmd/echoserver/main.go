// Command echoserver runs a TCP listener that echoes every chunk it reads
// (up to the 1024-byte buffer) back to the sender, exercising
// protocols/basic end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twisted-go/twisted/protocol"
	"github.com/twisted-go/twisted/protocols/basic"
	"github.com/twisted-go/twisted/reactor"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "echoserver",
		Short: "Echo every chunk received back to the sender",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr)
		},
	}
	root.Flags().StringVar(&addr, "addr", "127.0.0.1:9000", "address to listen on")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(addr string) error {
	logger := logrus.NewEntry(logrus.StandardLogger())

	r := reactor.New(reactor.WithLogger(logger))
	ln, err := r.ListenTCP("echo", reactor.Config{Address: addr}, func() protocol.Handler {
		return basic.New(echoChunk{})
	}, nil)
	if err != nil {
		return err
	}
	logger.WithField("addr", ln.Addr().String()).Info("echoserver listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return r.Run(ctx)
}

type echoChunk struct{}

func (echoChunk) OnChunk(c *protocol.Conn, p []byte) {
	_ = c.Send(append([]byte(nil), p...))
}
