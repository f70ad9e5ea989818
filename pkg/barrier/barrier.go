package barrier

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpcgrid/meridian/pkg/executor"
	"github.com/hpcgrid/meridian/pkg/log"
	"github.com/hpcgrid/meridian/pkg/metrics"
	"github.com/hpcgrid/meridian/pkg/naming"
	"github.com/hpcgrid/meridian/pkg/parcel"
	"github.com/hpcgrid/meridian/pkg/types"
)

// ErrBootstrapTimeout is returned by Wait when the configured bootstrap
// timeout elapses before the cluster connects. Fatal to locality startup.
var ErrBootstrapTimeout = errors.New("bootstrap timeout elapsed before cluster connected")

// State is the observable barrier state.
type State string

const (
	StateWaiting   State = "waiting"
	StateConnected State = "connected"
)

// Sender submits one encoded parcel to the transport.
type Sender interface {
	Send(endpoint string, p *parcel.Parcel) error
}

// Config holds construction-time barrier parameters.
type Config struct {
	Mode     types.RouterMode
	Locality types.LocalityID

	// Expected is the registration count, the root included, at which the
	// root's barrier connects. Ignored on subordinates.
	Expected int

	// Timeout bounds Wait. Zero or negative means wait forever.
	Timeout time.Duration
}

// BootBarrier gates the transition from bootstrapping to ready. One instance
// exists per process, created at runtime start and torn down at shutdown.
//
// The connected flag transitions false to true exactly once per process
// lifetime. Wait blocks a physical OS thread on the condition variable; this
// is the single place in the runtime where a real blocking wait is correct,
// because the cooperative scheduler that would otherwise suspend the caller
// does not exist yet.
type BootBarrier struct {
	expected int
	timeout  time.Duration

	sender Sender
	pool   *executor.Pool
	logger zerolog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	connected bool
	fatal     error
	arrived   int
}

// New creates the process's boot barrier. The executor pool carries the
// sends issued by Apply.
func New(cfg Config, sender Sender, pool *executor.Pool) *BootBarrier {
	b := &BootBarrier{
		expected: cfg.Expected,
		timeout:  cfg.Timeout,
		sender:   sender,
		pool:     pool,
		logger: log.WithComponent("barrier").With().
			Str("mode", string(cfg.Mode)).
			Uint32("locality", uint32(cfg.Locality)).Logger(),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Apply serializes the registration parcel against the target address and
// submits the send on the dedicated I/O pool. It returns as soon as the work
// is handed off; it never waits for a reply.
//
// A synchronous failure to submit is returned as a SendError. A transport
// failure after handoff is recorded and surfaces from Wait, since the
// locality cannot bootstrap once its registration is lost.
func (b *BootBarrier) Apply(p *parcel.Parcel, target naming.GlobalAddress, endpoint string) error {
	p.Target = target.Encode()

	err := b.pool.Submit(func() {
		if err := b.sender.Send(endpoint, p); err != nil {
			b.logger.Error().Err(err).Str("endpoint", endpoint).Msg("registration send failed")
			b.Fail(err)
		}
	})
	if err != nil {
		return &parcel.SendError{Endpoint: endpoint, Err: err}
	}

	b.logger.Debug().
		Str("type", string(p.Type)).
		Str("target", target.String()).
		Msg("registration submitted")
	return nil
}

// Wait blocks the calling thread until the barrier is CONNECTED, a fatal
// bootstrap error is recorded, or the configured timeout elapses. It never
// returns before one of the three.
func (b *BootBarrier) Wait() error {
	start := time.Now()
	defer func() {
		metrics.BarrierWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	var deadline time.Time
	if b.timeout > 0 {
		deadline = start.Add(b.timeout)

		// cond.Wait has no deadline form; a timer wakes all waiters so the
		// loop below can observe expiry.
		t := time.AfterFunc(b.timeout, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		defer t.Stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if b.connected {
			return nil
		}
		if b.fatal != nil {
			return b.fatal
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return ErrBootstrapTimeout
		}
		b.cond.Wait()
	}
}

// Notify sets the connected flag and releases every waiter. Idempotent:
// calling it again after CONNECTED is a no-op. On subordinates this is driven
// by the root's acknowledgement; the root's own transition goes through
// RegisterArrival instead.
func (b *BootBarrier) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connect()
}

// RegisterArrival counts one successful registration on the root and
// connects the barrier exactly when the expected count is reached. The
// return value reports whether this arrival completed the cluster, so the
// caller can push acknowledgements to the subordinates.
func (b *BootBarrier) RegisterArrival() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.arrived++
	b.logger.Info().
		Int("arrived", b.arrived).
		Int("expected", b.expected).
		Msg("locality registered")

	if b.connected || b.arrived < b.expected {
		return false
	}
	b.connect()
	return true
}

// Fail records a fatal bootstrap error and releases every waiter. The first
// recorded error wins; a barrier that already connected ignores failures.
func (b *BootBarrier) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected || b.fatal != nil {
		return
	}
	b.fatal = err
	b.cond.Broadcast()
}

// connect transitions to CONNECTED under b.mu.
func (b *BootBarrier) connect() {
	if b.connected {
		return
	}
	b.connected = true
	b.cond.Broadcast()
	b.logger.Info().Msg("boot barrier connected")
}

// Connected reports whether the barrier has reached CONNECTED.
func (b *BootBarrier) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// State returns the observable barrier state.
func (b *BootBarrier) State() State {
	if b.Connected() {
		return StateConnected
	}
	return StateWaiting
}

// Arrived reports the registrations counted so far (root only).
func (b *BootBarrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}
