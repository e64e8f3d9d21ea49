package reactor

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/twisted-go/twisted/protocol"
	"github.com/twisted-go/twisted/transport"
)

// HandlerFactory mints a fresh protocol.Handler for each accepted
// connection, the Go stand-in for the original's default_factory.hpp
// (a zero-argument factory rebound per connection).
type HandlerFactory func() protocol.Handler

// UpdateConn lets a caller customize an accepted net.Conn (e.g. tune
// keepalive, wrap it in an instrumented net.Conn) before it is handed to
// the Transport. Grounded on the teacher's tcp.New(upd, handler, cfg)
// constructor signature, whose first argument plays the same role.
type UpdateConn func(net.Conn) (net.Conn, error)

// Listener owns one bound socket and the accept loop servicing it.
type Listener struct {
	name    string
	cfg     Config
	ln      net.Listener
	tlsCfg  *tls.Config
	factory HandlerFactory
	update  UpdateConn
	logger  *logrus.Entry
	metrics *Metrics

	group   *errgroup.Group
	groupCtx context.Context

	running atomic.Bool
	gone    atomic.Bool
	active  atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newListener(name string, cfg Config, ln net.Listener, tlsCfg *tls.Config, factory HandlerFactory, update UpdateConn, logger *logrus.Entry, metrics *Metrics) *Listener {
	return &Listener{
		name:    name,
		cfg:     cfg,
		ln:      ln,
		tlsCfg:  tlsCfg,
		factory: factory,
		update:  update,
		logger:  logger.WithField("listener", name),
		metrics: metrics,
	}
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// IsRunning reports whether the accept loop is currently servicing
// connections.
func (l *Listener) IsRunning() bool { return l.running.Load() }

// IsGone reports whether the listener has been shut down and will not
// accept any further connections.
func (l *Listener) IsGone() bool { return l.gone.Load() }

// OpenConnections returns the number of connections currently being
// serviced by this listener.
func (l *Listener) OpenConnections() int { return int(l.active.Load()) }

// listen runs the accept loop until ctx is cancelled or Close/Shutdown is
// called. Connection handling is bounded by cfg.MaxConnections through an
// errgroup, the per-listener analogue of the original's worker-thread pool.
func (l *Listener) listen(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	group, gctx := errgroup.WithContext(ctx)
	if l.cfg.MaxConnections > 0 {
		group.SetLimit(l.cfg.MaxConnections)
	}
	l.group = group
	l.groupCtx = gctx

	l.running.Store(true)
	defer func() {
		l.running.Store(false)
		l.gone.Store(true)
	}()

	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.logger.WithError(err).Warn("accept failed")
			continue
		}

		if l.cfg.MaxConnections > 0 && l.OpenConnections() >= l.cfg.MaxConnections {
			l.metrics.onRejected(l.name)
			_ = conn.Close()
			continue
		}

		group.Go(func() error {
			l.serve(ctx, conn)
			return nil
		})
	}

	_ = group.Wait()
	return nil
}

func (l *Listener) serve(ctx context.Context, raw net.Conn) {
	if l.update != nil {
		updated, err := l.update(raw)
		if err != nil {
			l.logger.WithError(err).Warn("UpdateConn rejected connection")
			_ = raw.Close()
			return
		}
		raw = updated
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		id = l.name + "-anon"
	}

	var tr transport.Transport
	var opts []transport.Option
	if l.cfg.ConIdleTimeout > 0 {
		opts = append(opts, transport.WithIdleTimeout(l.cfg.ConIdleTimeout))
	}
	if l.tlsCfg != nil {
		tr = transport.NewTLS(raw, l.tlsCfg, opts...)
	} else {
		tr = transport.NewTCP(raw, opts...)
	}

	l.metrics.onAccept(l.name)
	l.active.Add(1)
	defer func() {
		l.active.Add(-1)
		l.metrics.onClose(l.name)
	}()

	if l.tlsCfg != nil {
		// Handshake here so a failure is counted; Conn.Run's own Handshake
		// call then returns the cached result without renegotiating.
		if err := tr.Handshake(ctx); err != nil {
			l.metrics.onHandshakeFailure(l.name)
		}
	}

	handler := l.factory()
	conn := protocol.New(ctx, id, tr, handler, l.logger)
	conn.Run()
}

// Shutdown stops the accept loop and cancels every connection it started
// (each still runs its OnDisconnect), then waits for those connections to
// return, or for ctx to expire. Open connections are not drained.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		if l.group != nil {
			_ = l.group.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the listener immediately; its connections are cancelled as
// with Shutdown, but Close does not wait for them to return.
func (l *Listener) Close() error {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return l.ln.Close()
}
