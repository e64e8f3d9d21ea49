// Command lineserver runs a CRLF line-oriented echo server, exercising
// protocols/lineframe end to end.
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
	"github.com/twisted-go/twisted/protocols/lineframe"
	"github.com/twisted-go/twisted/reactor"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "lineserver",
		Short: "Echo each CRLF-terminated line received back to the sender",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr)
		},
	}
	root.Flags().StringVar(&addr, "addr", "127.0.0.1:9001", "address to listen on")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(addr string) error {
	logger := logrus.NewEntry(logrus.StandardLogger())

	r := reactor.New(reactor.WithLogger(logger))
	ln, err := r.ListenTCP("lines", reactor.Config{Address: addr}, func() protocol.Handler {
		var engine *lineframe.Protocol
		engine = lineframe.New(lineframe.HandlerFunc(func(c *protocol.Conn, line []byte) {
			_ = engine.SendLine(c, line)
		}))
		return engine
	}, nil)
	if err != nil {
		return err
	}
	logger.WithField("addr", ln.Addr().String()).Info("lineserver listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return r.Run(ctx)
}
