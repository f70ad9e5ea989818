package router

import (
	"context"
	"errors"
	"sort"
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

var (
	// ErrNotRoot is returned when a root-only operation runs on a
	// subordinate.
	ErrNotRoot = errors.New("router: operation requires the bootstrap root")

	// ErrDuplicateRegistration rejects a second registration for a locality
	// ID. The first registration wins; the table is never overwritten.
	ErrDuplicateRegistration = errors.New("router: locality is already registered")

	// ErrNotFound reports an address absent from the authoritative table.
	ErrNotFound = errors.New("router: address not found")

	// ErrResolutionTimeout reports that the root did not answer a fallback
	// lookup within the configured resolve timeout.
	ErrResolutionTimeout = errors.New("router: resolution timed out")
)

// Arrivals is the barrier-side counter the root's router drives on each
// successful registration.
type Arrivals interface {
	RegisterArrival() bool
}

// Sender submits one parcel to the transport.
type Sender interface {
	Send(endpoint string, p *parcel.Parcel) error
}

// Config holds construction-time router parameters.
type Config struct {
	Mode  types.RouterMode
	Local types.LocalityID

	// RootEndpoint is the root's parcelport, used by subordinates for
	// fallback lookups.
	RootEndpoint string

	// ResolveTimeout bounds one fallback lookup to the root.
	ResolveTimeout time.Duration
}

type resolveResult struct {
	handle uint64
	found  bool
}

// Router maintains the mapping between global addresses and (locality, local
// handle) pairs. On the root it is authoritative; on subordinates it is a
// lazily populated cache with fallback lookups to the root. Entries never
// expire during bootstrap.
type Router struct {
	mode           types.RouterMode
	local          types.LocalityID
	rootEndpoint   string
	resolveTimeout time.Duration

	sender   Sender
	arrivals Arrivals
	pool     *executor.Pool
	logger   zerolog.Logger

	mu            sync.RWMutex
	localEndpoint string
	byLocality    map[types.LocalityID]types.Registration
	byAddress     map[naming.Key]types.Registration
	cache         map[naming.Key]uint64
	pending       map[string]chan resolveResult
}

// New creates a router. arrivals is the root barrier's counter and may be nil
// on subordinates; pool carries acknowledgement sends and may be nil, in
// which case acks go out inline.
func New(cfg Config, sender Sender, arrivals Arrivals, pool *executor.Pool) *Router {
	return &Router{
		mode:           cfg.Mode,
		local:          cfg.Local,
		rootEndpoint:   cfg.RootEndpoint,
		resolveTimeout: cfg.ResolveTimeout,
		sender:         sender,
		arrivals:       arrivals,
		pool:           pool,
		logger: log.WithComponent("router").With().
			Str("mode", string(cfg.Mode)).Logger(),
		byLocality: make(map[types.LocalityID]types.Registration),
		byAddress:  make(map[naming.Key]types.Registration),
		cache:      make(map[naming.Key]uint64),
		pending:    make(map[string]chan resolveResult),
	}
}

// SetLocalEndpoint records the bound parcelport endpoint once it is known.
// Subordinates put it on resolve requests so the root can answer back.
func (r *Router) SetLocalEndpoint(endpoint string) {
	r.mu.Lock()
	r.localEndpoint = endpoint
	r.mu.Unlock()
}

// IsRoot reports whether this router is the bootstrap root.
func (r *Router) IsRoot() bool {
	return r.mode == types.RouterModeBootstrapRoot
}

// Register inserts a locality's registration into the authoritative table.
// Root only. Registrations are processed in receipt order: the first one for
// a locality ID wins and every later attempt fails with
// ErrDuplicateRegistration, so a slow duplicate can never clobber an
// already-acknowledged entry.
//
// When the arrival completes the expected count, acknowledgement parcels are
// scheduled to every registered subordinate.
func (r *Router) Register(reg types.Registration) error {
	if !r.IsRoot() {
		return ErrNotRoot
	}

	r.mu.Lock()
	if _, exists := r.byLocality[reg.Locality]; exists {
		r.mu.Unlock()
		metrics.RegistrationsRejected.Inc()
		return ErrDuplicateRegistration
	}
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now()
	}
	addr := naming.New(reg.Locality, reg.Handle, reg.Component)
	r.byLocality[reg.Locality] = reg
	r.byAddress[addr.Key()] = reg
	r.mu.Unlock()

	metrics.RegistrationsTotal.Inc()
	r.logger.Info().
		Uint32("locality", uint32(reg.Locality)).
		Str("address", addr.String()).
		Str("endpoint", reg.Endpoint).
		Msg("locality registered")

	if r.arrivals != nil && r.arrivals.RegisterArrival() {
		r.broadcastAcks()
	}
	return nil
}

// broadcastAcks pushes the root's acknowledgement to every registered
// subordinate, releasing their barriers.
func (r *Router) broadcastAcks() {
	r.mu.RLock()
	regs := make([]types.Registration, 0, len(r.byLocality))
	for _, reg := range r.byLocality {
		if reg.Locality != r.local {
			regs = append(regs, reg)
		}
	}
	r.mu.RUnlock()

	for _, reg := range regs {
		reg := reg
		target := naming.New(reg.Locality, reg.Handle, reg.Component)
		p := parcel.NewParcel(parcel.TypeRegisterAck, r.local, target)

		send := func() {
			if err := r.sender.Send(reg.Endpoint, p); err != nil {
				// The subordinate's own bootstrap timeout handles the loss.
				r.logger.Error().Err(err).
					Uint32("locality", uint32(reg.Locality)).
					Msg("failed to deliver registration ack")
			}
		}

		if r.pool != nil {
			if err := r.pool.Submit(send); err != nil {
				r.logger.Error().Err(err).
					Uint32("locality", uint32(reg.Locality)).
					Msg("failed to schedule registration ack")
			}
			continue
		}
		send()
	}
}

// Resolve maps a global address to its local handle. On the root this is an
// authoritative lookup. On a subordinate the local cache is consulted first;
// a miss issues a request to the root and blocks the calling context until
// the reply arrives or the resolve timeout elapses.
func (r *Router) Resolve(ctx context.Context, addr naming.GlobalAddress) (uint64, error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.ResolveDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if r.IsRoot() {
		handle, err := r.ResolveLocal(addr)
		if err != nil {
			outcome = "not_found"
		}
		return handle, err
	}

	r.mu.RLock()
	handle, hit := r.cache[addr.Key()]
	localEndpoint := r.localEndpoint
	r.mu.RUnlock()
	if hit {
		metrics.ResolveCacheHits.Inc()
		return handle, nil
	}

	p := parcel.NewParcel(parcel.TypeResolveRequest, r.local, addr)
	p.Query = addr.Encode()
	p.Endpoint = localEndpoint

	ch := make(chan resolveResult, 1)
	r.mu.Lock()
	r.pending[p.ID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, p.ID)
		r.mu.Unlock()
	}()

	if err := r.sender.Send(r.rootEndpoint, p); err != nil {
		outcome = "send_failed"
		return 0, err
	}

	select {
	case res := <-ch:
		if !res.found {
			outcome = "not_found"
			return 0, ErrNotFound
		}
		r.mu.Lock()
		r.cache[addr.Key()] = res.handle
		r.mu.Unlock()
		return res.handle, nil
	case <-time.After(r.resolveTimeout):
		outcome = "timeout"
		return 0, ErrResolutionTimeout
	case <-ctx.Done():
		outcome = "canceled"
		return 0, ctx.Err()
	}
}

// ResolveLocal looks an address up in the authoritative table without any
// network fallback. Root only.
func (r *Router) ResolveLocal(addr naming.GlobalAddress) (uint64, error) {
	if !r.IsRoot() {
		return 0, ErrNotRoot
	}

	r.mu.RLock()
	reg, ok := r.byAddress[addr.Key()]
	r.mu.RUnlock()
	if !ok {
		return 0, ErrNotFound
	}
	return reg.Handle, nil
}

// CompleteResolve delivers a resolve reply to the waiter identified by the
// request's parcel ID. Unknown IDs (late replies after timeout) are dropped.
func (r *Router) CompleteResolve(parcelID string, handle uint64, found bool) {
	r.mu.RLock()
	ch, ok := r.pending[parcelID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case ch <- resolveResult{handle: handle, found: found}:
	default:
	}
}

// EndpointOf returns the registered parcelport endpoint of a locality. Root
// only.
func (r *Router) EndpointOf(id types.LocalityID) (string, error) {
	if !r.IsRoot() {
		return "", ErrNotRoot
	}

	r.mu.RLock()
	reg, ok := r.byLocality[id]
	r.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return reg.Endpoint, nil
}

// Unregister removes a mapping. On the root it deletes the authoritative
// entry; on a subordinate it evicts the cached one. Needed so the table does
// not leak entries for registrations abandoned by a higher layer.
func (r *Router) Unregister(addr naming.GlobalAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.IsRoot() {
		reg, ok := r.byAddress[addr.Key()]
		if !ok {
			return ErrNotFound
		}
		delete(r.byAddress, addr.Key())
		delete(r.byLocality, reg.Locality)
		return nil
	}

	if _, ok := r.cache[addr.Key()]; !ok {
		return ErrNotFound
	}
	delete(r.cache, addr.Key())
	return nil
}

// Snapshot returns the registrations in the table, ordered by locality ID.
func (r *Router) Snapshot() []types.Registration {
	r.mu.RLock()
	regs := make([]types.Registration, 0, len(r.byLocality))
	for _, reg := range r.byLocality {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	sort.Slice(regs, func(i, j int) bool { return regs[i].Locality < regs[j].Locality })
	return regs
}

// Count reports the number of registered localities.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byLocality)
}
