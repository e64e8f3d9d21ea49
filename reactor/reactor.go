package reactor

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Reactor owns a set of Listeners and runs their accept loops together,
// the Go counterpart of reactor.hpp's io_service plus worker thread pool.
type Reactor struct {
	logger  *logrus.Entry
	metrics *Metrics

	mu        sync.Mutex
	listeners []*Listener
}

// Option configures a Reactor at construction time.
type Option func(*Reactor)

// WithLogger overrides the base logger every Listener derives its
// per-connection logger from.
func WithLogger(logger *logrus.Entry) Option {
	return func(r *Reactor) { r.logger = logger }
}

// WithMetrics attaches prometheus instrumentation, shared across every
// Listener this Reactor creates.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Reactor) {
		m, err := NewMetrics(reg)
		if err == nil {
			r.metrics = m
		}
	}
}

// New constructs a Reactor.
func New(opts ...Option) *Reactor {
	r := &Reactor{logger: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListenTCP binds a plain TCP listener and registers it with the reactor.
// factory mints a fresh Handler per accepted connection; update, if
// non-nil, may customize the raw net.Conn before any framing runs.
func (r *Reactor) ListenTCP(name string, cfg Config, factory HandlerFactory, update UpdateConn) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ln, err := net.Listen(cfg.resolvedNetwork(), cfg.Address)
	if err != nil {
		return nil, err
	}

	l := newListener(name, cfg, ln, nil, factory, update, r.logger, r.metrics)
	r.register(l)
	return l, nil
}

// ListenTLS binds a TLS listener built from cfg.TLS (or an explicit
// tlsCfg override) and registers it with the reactor.
func (r *Reactor) ListenTLS(name string, cfg Config, tlsCfg *tls.Config, factory HandlerFactory, update UpdateConn) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if tlsCfg == nil {
		if cfg.TLS == nil {
			return nil, ErrInvalidAddress
		}
		built, err := cfg.TLS.Build()
		if err != nil {
			return nil, err
		}
		tlsCfg = built
	}

	ln, err := net.Listen(cfg.resolvedNetwork(), cfg.Address)
	if err != nil {
		return nil, err
	}

	l := newListener(name, cfg, ln, tlsCfg, factory, update, r.logger, r.metrics)
	r.register(l)
	return l, nil
}

func (r *Reactor) register(l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Listeners returns every listener registered so far.
func (r *Reactor) Listeners() []*Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Listener(nil), r.listeners...)
}

// Run services every registered listener's accept loop until ctx is
// cancelled or Stop is called on each listener. It returns once every
// listener's loop has exited.
func (r *Reactor) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	for _, l := range r.Listeners() {
		l := l
		group.Go(func() error {
			return l.listen(gctx)
		})
	}
	return group.Wait()
}

// Stop shuts down every listener (see Listener.Shutdown): open connections
// are cancelled rather than drained, and Stop waits up to the deadline
// carried by ctx for their tasks to return.
func (r *Reactor) Stop(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(r.Listeners()))

	for _, l := range r.Listeners() {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Shutdown(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
