package bootstrap

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hpcgrid/meridian/pkg/barrier"
	"github.com/hpcgrid/meridian/pkg/config"
	"github.com/hpcgrid/meridian/pkg/events"
	"github.com/hpcgrid/meridian/pkg/naming"
	"github.com/hpcgrid/meridian/pkg/types"
)

func rootLocality(t *testing.T, expected int) *Bootstrap {
	t.Helper()
	cfg := config.Default()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	cfg.ExpectedLocalities = expected
	cfg.BootstrapTimeout = 10 * time.Second
	require.NoError(t, cfg.Validate())

	b := New(cfg)
	require.NoError(t, b.Start())
	t.Cleanup(func() { b.Shutdown() })
	return b
}

func subordinateLocality(t *testing.T, id types.LocalityID, rootAddr string) *Bootstrap {
	t.Helper()
	cfg := config.Default()
	cfg.SetRuntimeMode(types.RuntimeModeWorker)
	cfg.Locality = id
	cfg.BindAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	cfg.RootAddr = rootAddr
	cfg.BootstrapTimeout = 10 * time.Second
	cfg.ResolveTimeout = 5 * time.Second
	require.NoError(t, cfg.Validate())

	b := New(cfg)
	require.NoError(t, b.Start())
	t.Cleanup(func() { b.Shutdown() })
	return b
}

func TestClusterFormation(t *testing.T) {
	root := rootLocality(t, 3)
	sub1 := subordinateLocality(t, 1, root.Addr())
	sub2 := subordinateLocality(t, 2, root.Addr())

	connected := root.Events().Subscribe()

	var g errgroup.Group
	ctx := context.Background()
	for _, b := range []*Bootstrap{root, sub1, sub2} {
		b := b
		g.Go(func() error { return b.Bootstrap(ctx) })
	}
	require.NoError(t, g.Wait())

	for _, b := range []*Bootstrap{root, sub1, sub2} {
		assert.True(t, b.Barrier().Connected())
		assert.Equal(t, barrier.StateConnected, b.Barrier().State())
	}

	// The root's table holds every locality, resolvable locally.
	assert.Equal(t, 3, root.Router().Count())
	for _, id := range []types.LocalityID{0, 1, 2} {
		addr := naming.New(id, runtimeHandle, types.ComponentRuntime)
		handle, err := root.Resolve(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, runtimeHandle, handle)
	}

	// A subordinate resolves a peer's address through the root, then serves
	// the repeat lookup from its cache.
	peer := naming.New(2, runtimeHandle, types.ComponentRuntime)
	handle, err := sub1.Resolve(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, runtimeHandle, handle)

	handle, err = sub1.Resolve(ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, runtimeHandle, handle)

	// An address nobody registered is a miss even through the fallback.
	_, err = sub1.Resolve(ctx, naming.New(9, 9, types.ComponentUser))
	assert.Error(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-connected:
			if event.Type == events.EventClusterConnected {
				return
			}
		case <-deadline:
			t.Fatal("cluster.connected event never published on the root")
		}
	}
}

func TestDuplicateLocalityNacked(t *testing.T) {
	cfg := config.Default()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	cfg.ExpectedLocalities = 3
	cfg.RootWaits = false
	require.NoError(t, cfg.Validate())

	root := New(cfg)
	require.NoError(t, root.Start())
	t.Cleanup(func() { root.Shutdown() })
	require.NoError(t, root.Bootstrap(context.Background()))

	first := subordinateLocality(t, 1, root.Addr())
	firstDone := make(chan error, 1)
	go func() { firstDone <- first.Bootstrap(context.Background()) }()

	// The impostor claims the same locality ID once the original is in the
	// table.
	require.Eventually(t, func() bool { return root.Router().Count() == 2 },
		5*time.Second, 10*time.Millisecond)

	impostor := subordinateLocality(t, 1, root.Addr())
	err := impostor.Bootstrap(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")

	// The original registration is untouched and still pending the third
	// locality.
	assert.Equal(t, 2, root.Router().Count())
	assert.False(t, first.Barrier().Connected())

	// A legitimate third locality completes the cluster for the survivor.
	third := subordinateLocality(t, 2, root.Addr())
	require.NoError(t, third.Bootstrap(context.Background()))

	select {
	case err := <-firstDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("surviving subordinate never released")
	}
}

func TestSubordinateTimesOutWithoutAck(t *testing.T) {
	cfg := config.Default()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	cfg.ExpectedLocalities = 3
	cfg.RootWaits = false
	require.NoError(t, cfg.Validate())

	root := New(cfg)
	require.NoError(t, root.Start())
	t.Cleanup(func() { root.Shutdown() })
	require.NoError(t, root.Bootstrap(context.Background()))

	sub := subordinateLocality(t, 1, root.Addr())
	sub.cfg.BootstrapTimeout = 300 * time.Millisecond
	sub.barrier = barrier.New(barrier.Config{
		Mode:     sub.cfg.RouterMode,
		Locality: sub.cfg.Locality,
		Timeout:  sub.cfg.BootstrapTimeout,
	}, sub.port, sub.pool)

	err := sub.Bootstrap(context.Background())
	assert.ErrorIs(t, err, barrier.ErrBootstrapTimeout)
}

func TestSubordinateFailsWhenRootUnreachable(t *testing.T) {
	prevAttempts, prevBackoff := probeAttempts, probeBackoff
	probeAttempts, probeBackoff = 2, 20*time.Millisecond
	defer func() { probeAttempts, probeBackoff = prevAttempts, prevBackoff }()

	// A listener closed before the test guarantees a refused port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	ln.Close()

	sub := subordinateLocality(t, 1, deadAddr)
	err = sub.Bootstrap(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestProbeRootHonorsContext(t *testing.T) {
	prevAttempts, prevBackoff := probeAttempts, probeBackoff
	probeAttempts, probeBackoff = 50, time.Second
	defer func() { probeAttempts, probeBackoff = prevAttempts, prevBackoff }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	ln.Close()

	sub := subordinateLocality(t, 1, deadAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = sub.Bootstrap(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSingleLocalityCluster(t *testing.T) {
	root := rootLocality(t, 1)
	require.NoError(t, root.Bootstrap(context.Background()))

	assert.True(t, root.Barrier().Connected())
	assert.Equal(t, 1, root.Router().Count())

	addr := naming.New(types.RootLocality, runtimeHandle, types.ComponentRuntime)
	handle, err := root.Resolve(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, runtimeHandle, handle)
}
