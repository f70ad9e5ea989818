package parcel

import (
	"fmt"
	"net"
	"sync"
	"time"
)

const defaultDialTimeout = 5 * time.Second

// Conn is one pooled connection to a peer parcelport.
type Conn struct {
	endpoint string
	nc       net.Conn
}

// Cache pools reusable connections to peer parcelports. Acquire hands out an
// idle connection or dials a new one; Release returns it for reuse up to the
// configured per-endpoint cap. Callers hold a connection only for the span of
// a single send.
type Cache struct {
	mu          sync.Mutex
	idle        map[string][]*Conn
	max         int
	dialTimeout time.Duration
	closed      bool
}

// NewCache creates a connection cache keeping at most maxPerEndpoint idle
// connections per peer.
func NewCache(maxPerEndpoint int) *Cache {
	if maxPerEndpoint < 1 {
		maxPerEndpoint = 1
	}
	return &Cache{
		idle:        make(map[string][]*Conn),
		max:         maxPerEndpoint,
		dialTimeout: defaultDialTimeout,
	}
}

// Acquire returns a connection to the endpoint, reusing an idle one when
// available.
func (c *Cache) Acquire(endpoint string) (*Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection cache is closed")
	}
	if conns := c.idle[endpoint]; len(conns) > 0 {
		conn := conns[len(conns)-1]
		c.idle[endpoint] = conns[:len(conns)-1]
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	nc, err := net.DialTimeout("tcp", endpoint, c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return &Conn{endpoint: endpoint, nc: nc}, nil
}

// Release returns a healthy connection to the pool. Connections over the
// per-endpoint cap, or released after Close, are discarded.
func (c *Cache) Release(conn *Conn) {
	if conn == nil {
		return
	}

	c.mu.Lock()
	if !c.closed && len(c.idle[conn.endpoint]) < c.max {
		c.idle[conn.endpoint] = append(c.idle[conn.endpoint], conn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	conn.nc.Close()
}

// Discard closes a connection that failed mid-send instead of pooling it.
func (c *Cache) Discard(conn *Conn) {
	if conn != nil {
		conn.nc.Close()
	}
}

// Close discards every idle connection. In-flight connections are closed on
// their next Release.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for _, conns := range c.idle {
		for _, conn := range conns {
			conn.nc.Close()
		}
	}
	c.idle = nil
}

// IdleCount reports pooled connections for an endpoint.
func (c *Cache) IdleCount(endpoint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.idle[endpoint])
}
