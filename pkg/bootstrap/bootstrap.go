package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hpcgrid/meridian/pkg/barrier"
	"github.com/hpcgrid/meridian/pkg/config"
	"github.com/hpcgrid/meridian/pkg/events"
	"github.com/hpcgrid/meridian/pkg/executor"
	"github.com/hpcgrid/meridian/pkg/log"
	"github.com/hpcgrid/meridian/pkg/metrics"
	"github.com/hpcgrid/meridian/pkg/naming"
	"github.com/hpcgrid/meridian/pkg/parcel"
	"github.com/hpcgrid/meridian/pkg/router"
	"github.com/hpcgrid/meridian/pkg/types"
)

const (
	// agasHandle is the well-known handle of the AGAS service hosted at the
	// root locality. Registration parcels target it before any resolution is
	// possible.
	agasHandle uint64 = 1

	// runtimeHandle is the handle each locality registers its runtime
	// component under. Handles are scoped per locality, so every locality
	// uses the same one.
	runtimeHandle uint64 = 1

	ioWorkers = 2
)

// Root probe retry schedule. The root may come up after its subordinates.
var (
	probeAttempts = 20
	probeBackoff  = 250 * time.Millisecond
)

// rootAGASAddress is the fixed target of every registration parcel.
func rootAGASAddress() naming.GlobalAddress {
	return naming.New(types.RootLocality, agasHandle, types.ComponentAGAS)
}

// Bootstrap owns one locality's cluster formation: the parcelport, the AGAS
// router, the boot barrier and the lifecycle events around them. Construct it
// with New, call Start to bring the transport up, then Bootstrap to run the
// registration protocol to completion.
type Bootstrap struct {
	cfg    *config.Config
	logger zerolog.Logger

	cache   *parcel.Cache
	port    *parcel.Parcelport
	pool    *executor.Pool
	barrier *barrier.BootBarrier
	router  *router.Router

	broker    *events.Broker
	collector *metrics.Collector

	serve errgroup.Group
}

// New wires a locality's bootstrap subsystem from its resolved configuration.
// Nothing touches the network until Start.
func New(cfg *config.Config) *Bootstrap {
	cache := parcel.NewCache(cfg.MaxConnsPerEndpoint)
	port := parcel.NewParcelport(cfg.BindAddr, cache)
	pool := executor.NewPool(ioWorkers)

	bb := barrier.New(barrier.Config{
		Mode:     cfg.RouterMode,
		Locality: cfg.Locality,
		Expected: cfg.ExpectedLocalities,
		Timeout:  cfg.BootstrapTimeout,
	}, port, pool)

	var arrivals router.Arrivals
	if cfg.IsRoot() {
		arrivals = bb
	}
	rt := router.New(router.Config{
		Mode:           cfg.RouterMode,
		Local:          cfg.Locality,
		RootEndpoint:   cfg.RootAddr,
		ResolveTimeout: cfg.ResolveTimeout,
	}, port, arrivals, pool)

	broker := events.NewBroker()

	b := &Bootstrap{
		cfg: cfg,
		logger: log.WithComponent("bootstrap").With().
			Str("mode", string(cfg.RouterMode)).
			Uint32("locality", uint32(cfg.Locality)).Logger(),
		cache:     cache,
		port:      port,
		pool:      pool,
		barrier:   bb,
		router:    rt,
		broker:    broker,
		collector: metrics.NewCollector(broker),
	}
	port.Handle(b.handleParcel)
	return b
}

// Start binds the parcelport and begins serving inbound parcels. The locality
// is not ready until Bootstrap completes; Start only brings the transport up.
func (b *Bootstrap) Start() error {
	if err := b.port.Listen(); err != nil {
		metrics.UpdateComponent("parcelport", false, err.Error())
		return err
	}
	b.router.SetLocalEndpoint(b.port.Addr())

	b.broker.Start()
	b.collector.Start()
	b.serve.Go(b.port.Serve)

	metrics.UpdateComponent("parcelport", true, "")
	metrics.UpdateComponent("router", true, "")
	metrics.UpdateComponent("barrier", false, "waiting for cluster formation")
	return nil
}

// Bootstrap runs the registration protocol for this locality and blocks until
// the cluster is formed, a fatal protocol error occurs, or the bootstrap
// timeout expires. The calling thread parks in the boot barrier; there is no
// cooperative scheduler to yield to at this point in startup.
func (b *Bootstrap) Bootstrap(ctx context.Context) error {
	b.broker.Publish(&events.Event{
		Type:     events.EventBootstrapStarted,
		Locality: b.cfg.Locality,
		Message:  "cluster formation started",
	})

	var err error
	if b.cfg.IsRoot() {
		err = b.bootstrapRoot()
	} else {
		err = b.bootstrapSubordinate(ctx)
	}
	if err != nil {
		metrics.UpdateComponent("barrier", false, err.Error())
		b.broker.Publish(&events.Event{
			Type:     events.EventBootstrapFailed,
			Locality: b.cfg.Locality,
			Message:  err.Error(),
		})
		return err
	}

	metrics.UpdateComponent("barrier", true, "")
	if b.barrier.Connected() {
		b.broker.Publish(&events.Event{
			Type:     events.EventClusterConnected,
			Locality: b.cfg.Locality,
		})
		b.logger.Info().Msg("locality bootstrapped, cluster connected")
	} else {
		// Root with root_waits=false: up, but formation is still in flight.
		b.logger.Info().Msg("locality bootstrapped, cluster formation pending")
	}
	return nil
}

// bootstrapRoot registers the root's own runtime component, which counts as
// the first arrival, then optionally parks until the remaining localities
// have registered.
func (b *Bootstrap) bootstrapRoot() error {
	reg := types.Registration{
		Locality:  b.cfg.Locality,
		Handle:    runtimeHandle,
		Component: types.ComponentRuntime,
		Endpoint:  b.port.Addr(),
	}
	if err := b.router.Register(reg); err != nil {
		return fmt.Errorf("failed to register root locality: %w", err)
	}
	b.broker.Publish(&events.Event{
		Type:     events.EventLocalityRegistered,
		Locality: reg.Locality,
	})

	if !b.cfg.RootWaits {
		b.logger.Info().Msg("root configured not to wait for cluster formation")
		return nil
	}
	return b.barrier.Wait()
}

// bootstrapSubordinate probes the root's parcelport, submits the registration
// and parks until the root's acknowledgement or the bootstrap timeout.
func (b *Bootstrap) bootstrapSubordinate(ctx context.Context) error {
	if err := b.probeRoot(ctx); err != nil {
		return fmt.Errorf("root locality unreachable at %s: %w", b.cfg.RootAddr, err)
	}

	target := rootAGASAddress()
	p := parcel.NewParcel(parcel.TypeRegister, b.cfg.Locality, target)
	p.Endpoint = b.port.Addr()
	p.Handle = runtimeHandle
	p.Component = uint32(types.ComponentRuntime)

	if err := b.barrier.Apply(p, target, b.cfg.RootAddr); err != nil {
		return err
	}
	return b.barrier.Wait()
}

// probeRoot verifies the root's parcelport accepts connections before the
// registration is committed to the wire. The root may come up after its
// subordinates, so refusals are retried with a fixed backoff. The probe
// connection lands in the cache for the registration send to reuse.
func (b *Bootstrap) probeRoot(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= probeAttempts; attempt++ {
		conn, err := b.cache.Acquire(b.cfg.RootAddr)
		if err == nil {
			b.cache.Release(conn)
			return nil
		}
		lastErr = err
		b.logger.Debug().Err(err).Int("attempt", attempt).Msg("root probe failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(probeBackoff):
		}
	}
	return lastErr
}

// handleParcel dispatches one inbound parcel. It runs on the receiving
// connection's goroutine; anything that needs the transport again is pushed
// onto the I/O pool.
func (b *Bootstrap) handleParcel(p *parcel.Parcel) {
	switch p.Type {
	case parcel.TypeRegister:
		b.handleRegister(p)
	case parcel.TypeRegisterAck:
		b.barrier.Notify()
	case parcel.TypeRegisterNack:
		b.barrier.Fail(fmt.Errorf("registration rejected by root: %s", p.Err))
	case parcel.TypeResolveRequest:
		b.handleResolveRequest(p)
	case parcel.TypeResolveReply:
		b.router.CompleteResolve(p.ID, p.Handle, p.Found)
	default:
		b.logger.Warn().Str("type", string(p.Type)).Msg("unknown parcel type dropped")
	}
}

func (b *Bootstrap) handleRegister(p *parcel.Parcel) {
	reg := types.Registration{
		Locality:  p.Source,
		Handle:    p.Handle,
		Component: types.ComponentType(p.Component),
		Endpoint:  p.Endpoint,
	}

	if err := b.router.Register(reg); err != nil {
		b.logger.Warn().Err(err).
			Uint32("locality", uint32(p.Source)).
			Msg("registration rejected")
		b.sendAsync(p.Endpoint, b.nack(p, err))
		return
	}

	b.broker.Publish(&events.Event{
		Type:     events.EventLocalityRegistered,
		Locality: p.Source,
	})
}

func (b *Bootstrap) handleResolveRequest(p *parcel.Parcel) {
	addr, err := naming.Decode(p.Query)
	if err != nil {
		b.logger.Warn().Err(err).Msg("malformed resolve query dropped")
		return
	}

	reply := &parcel.Parcel{
		ID:     p.ID,
		Type:   parcel.TypeResolveReply,
		Source: b.cfg.Locality,
		Target: p.Query,
	}
	handle, err := b.router.ResolveLocal(addr)
	if err != nil {
		b.broker.Publish(&events.Event{
			Type:     events.EventResolveMiss,
			Locality: p.Source,
			Message:  addr.String(),
		})
	} else {
		reply.Handle = handle
		reply.Found = true
	}

	b.sendAsync(p.Endpoint, reply)
}

// nack builds the rejection reply for a failed registration. It reuses the
// request's ID so the subordinate can correlate it.
func (b *Bootstrap) nack(p *parcel.Parcel, cause error) *parcel.Parcel {
	return &parcel.Parcel{
		ID:     p.ID,
		Type:   parcel.TypeRegisterNack,
		Source: b.cfg.Locality,
		Target: naming.New(p.Source, p.Handle, types.ComponentType(p.Component)).Encode(),
		Err:    cause.Error(),
	}
}

func (b *Bootstrap) sendAsync(endpoint string, p *parcel.Parcel) {
	err := b.pool.Submit(func() {
		if err := b.port.Send(endpoint, p); err != nil {
			b.logger.Error().Err(err).
				Str("endpoint", endpoint).
				Str("type", string(p.Type)).
				Msg("failed to send parcel")
		}
	})
	if err != nil {
		b.logger.Error().Err(err).
			Str("type", string(p.Type)).
			Msg("failed to schedule parcel send")
	}
}

// Resolve maps a global address to its local handle through this locality's
// router.
func (b *Bootstrap) Resolve(ctx context.Context, addr naming.GlobalAddress) (uint64, error) {
	return b.router.Resolve(ctx, addr)
}

// Router exposes the locality's AGAS router.
func (b *Bootstrap) Router() *router.Router {
	return b.router
}

// Barrier exposes the locality's boot barrier.
func (b *Bootstrap) Barrier() *barrier.BootBarrier {
	return b.barrier
}

// Events exposes the lifecycle event broker.
func (b *Bootstrap) Events() *events.Broker {
	return b.broker
}

// Addr returns the parcelport's bound address. Empty before Start.
func (b *Bootstrap) Addr() string {
	return b.port.Addr()
}

// Shutdown tears the subsystem down: inbound transport first, then the
// outbound I/O pool so queued sends drain, then the connection cache.
func (b *Bootstrap) Shutdown() error {
	err := b.port.Close()
	serveErr := b.serve.Wait()
	b.pool.Stop()
	b.cache.Close()
	b.collector.Stop()
	b.broker.Stop()

	metrics.UpdateComponent("parcelport", false, "shut down")
	metrics.UpdateComponent("barrier", false, "shut down")

	if err == nil {
		err = serveErr
	}
	b.logger.Info().Msg("bootstrap subsystem stopped")
	return err
}
