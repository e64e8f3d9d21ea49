// Package reactor implements the accept loop and connection lifecycle
// described by reactor.hpp: listen_tcp/listen_ssl bind sockets, run starts
// servicing them, and every accepted connection is handed to a factory
// and driven by protocol.Conn until it disconnects. Where the original
// spins a fixed pool of io_service worker threads, this package bounds
// concurrent connection handling with golang.org/x/sync/errgroup.SetLimit
// per listener instead: Go's scheduler already multiplexes goroutines
// across OS threads, so the knob that matters here is "how many
// connections run at once", not "how many threads run them".
package reactor

import (
	"fmt"
	"time"

	"github.com/twisted-go/twisted/tlsconfig"
)

// Config describes one listening socket, modeled after the teacher's
// socket/config.Server: a network+address pair, an idle timeout applied
// per accepted connection, and an optional TLS configuration.
type Config struct {
	Network string // "tcp" if empty
	Address string

	// ConIdleTimeout bounds how long an accepted connection may sit with
	// no read progress before being closed; zero disables the timeout.
	ConIdleTimeout time.Duration

	// MaxConnections bounds how many connections this listener services
	// concurrently; zero means unbounded.
	MaxConnections int

	TLS *tlsconfig.Config
}

// ErrInvalidAddress is returned by Validate when Address is empty.
var ErrInvalidAddress = fmt.Errorf("reactor: invalid address")

// Validate checks c is well-formed before a Listener is built from it.
func (c *Config) Validate() error {
	if c.Address == "" {
		return ErrInvalidAddress
	}
	if c.Network == "" {
		c.Network = "tcp"
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// resolvedNetwork returns the effective network, defaulting to "tcp".
func (c *Config) resolvedNetwork() string {
	if c.Network == "" {
		return "tcp"
	}
	return c.Network
}
