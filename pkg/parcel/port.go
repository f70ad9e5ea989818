package parcel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hpcgrid/meridian/pkg/log"
	"github.com/hpcgrid/meridian/pkg/metrics"
)

// Handler consumes inbound parcels. It is invoked on the receiving
// connection's goroutine, before the cooperative scheduler exists, so it must
// not block indefinitely.
type Handler func(*Parcel)

// Parcelport is the message transport between localities: a TCP listener for
// inbound parcels plus pooled outbound connections. Frames are
// length-prefixed msgpack (see codec.go).
type Parcelport struct {
	bindAddr string
	cache    *Cache
	logger   zerolog.Logger

	mu      sync.Mutex
	ln      net.Listener
	handler Handler
	closed  bool

	wg sync.WaitGroup
}

// NewParcelport creates a parcelport bound to bindAddr, sending through the
// given connection cache.
func NewParcelport(bindAddr string, cache *Cache) *Parcelport {
	return &Parcelport{
		bindAddr: bindAddr,
		cache:    cache,
		logger:   log.WithComponent("parcelport"),
	}
}

// Handle registers the receive callback. It must be set before Serve.
func (pp *Parcelport) Handle(h Handler) {
	pp.mu.Lock()
	pp.handler = h
	pp.mu.Unlock()
}

// Listen binds the listener. Addr reports the bound address afterwards,
// which matters when the configured port is 0.
func (pp *Parcelport) Listen() error {
	ln, err := net.Listen("tcp", pp.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", pp.bindAddr, err)
	}

	pp.mu.Lock()
	pp.ln = ln
	pp.mu.Unlock()

	pp.logger.Info().Str("addr", ln.Addr().String()).Msg("parcelport listening")
	return nil
}

// Addr returns the bound listen address. Empty before Listen.
func (pp *Parcelport) Addr() string {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.ln == nil {
		return ""
	}
	return pp.ln.Addr().String()
}

// Serve accepts connections and dispatches inbound parcels to the registered
// handler until Close. It blocks; run it on its own goroutine.
func (pp *Parcelport) Serve() error {
	pp.mu.Lock()
	ln := pp.ln
	pp.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("parcelport is not listening, call Listen first")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			pp.mu.Lock()
			closed := pp.closed
			pp.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		pp.wg.Add(1)
		go pp.serveConn(conn)
	}
}

func (pp *Parcelport) serveConn(conn net.Conn) {
	defer pp.wg.Done()
	defer conn.Close()

	for {
		p, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				pp.logger.Debug().Err(err).
					Str("remote", conn.RemoteAddr().String()).
					Msg("dropping connection")
			}
			return
		}

		metrics.ParcelsReceived.WithLabelValues(string(p.Type)).Inc()

		pp.mu.Lock()
		handler := pp.handler
		pp.mu.Unlock()

		if handler == nil {
			pp.logger.Warn().Str("type", string(p.Type)).Msg("no handler registered, parcel dropped")
			continue
		}
		handler(p)
	}
}

// Send borrows a connection from the cache, writes one parcel frame and
// releases the connection. The connection is held only for the span of the
// send. Failures are reported as a SendError.
func (pp *Parcelport) Send(endpoint string, p *Parcel) error {
	conn, err := pp.cache.Acquire(endpoint)
	if err != nil {
		return &SendError{Endpoint: endpoint, Err: err}
	}

	if err := WriteFrame(conn.nc, p); err != nil {
		pp.cache.Discard(conn)
		return &SendError{Endpoint: endpoint, Err: err}
	}

	pp.cache.Release(conn)
	metrics.ParcelsSent.WithLabelValues(string(p.Type)).Inc()
	return nil
}

// Close stops the listener and waits for in-flight connection handlers.
func (pp *Parcelport) Close() error {
	pp.mu.Lock()
	if pp.closed {
		pp.mu.Unlock()
		return nil
	}
	pp.closed = true
	ln := pp.ln
	pp.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	pp.wg.Wait()
	return err
}
