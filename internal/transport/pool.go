package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// pooledConn tags a net.Conn with the address it was dialed for and when
// it was last returned to the pool, so the reaper can expire it.
type pooledConn struct {
	net.Conn
	addr     string
	lastUsed time.Time
}

// Pool manages reusable TCP connections keyed by "host:port", the
// connection-reuse-by-address scheme spec.md §4.4 requires. Grounded on
// the teacher's core/connection_pool.go ConnPool, carried over nearly
// unchanged: the pooling policy (idle cap, TTL reaper) is domain-agnostic
// and CA3 needs exactly the same shape.
type Pool struct {
	dialer    *Dialer
	mu        sync.Mutex
	conns     map[string][]*pooledConn
	maxIdle   int
	idleTTL   time.Duration
	closing   chan struct{}
	closeOnce sync.Once
}

// NewPool returns a Pool dialing through d, keeping at most maxIdle idle
// connections per address for up to idleTTL before the reaper closes them.
func NewPool(d *Dialer, maxIdle int, idleTTL time.Duration) *Pool {
	p := &Pool{
		dialer:  d,
		conns:   make(map[string][]*pooledConn),
		maxIdle: maxIdle,
		idleTTL: idleTTL,
		closing: make(chan struct{}),
	}
	go p.reaper()
	return p
}

// Acquire returns a pooled connection for addr, or dials a fresh one.
func (p *Pool) Acquire(ctx context.Context, addr string) (net.Conn, error) {
	p.mu.Lock()
	list := p.conns[addr]
	n := len(list)
	if n > 0 {
		c := list[n-1]
		p.conns[addr] = list[:n-1]
		p.mu.Unlock()
		c.lastUsed = time.Now()
		return c, nil
	}
	p.mu.Unlock()

	if p.dialer == nil {
		return nil, errors.New("transport: pool has no dialer configured")
	}
	conn, err := p.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &pooledConn{Conn: conn, addr: addr, lastUsed: time.Now()}, nil
}

// Release returns conn to the pool for reuse, or closes it if the pool is
// already at capacity for that address. Callers that know the connection
// is broken should use Purge instead.
func (p *Pool) Release(conn net.Conn) {
	pc, ok := conn.(*pooledConn)
	if !ok {
		_ = conn.Close()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxIdle > 0 && len(p.conns[pc.addr]) < p.maxIdle {
		pc.lastUsed = time.Now()
		p.conns[pc.addr] = append(p.conns[pc.addr], pc)
		return
	}
	_ = pc.Close()
}

// Purge drops every idle connection cached for addr and closes conn
// without returning it to the pool — used when a dispatch attempt fails
// with an I/O error, so the next attempt to that peer dials fresh rather
// than reusing a connection the peer may have already torn down.
func (p *Pool) Purge(addr string, conn net.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns[addr] {
		_ = c.Close()
	}
	delete(p.conns, addr)
}

// Close closes every pooled connection and stops the reaper.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, list := range p.conns {
			for _, c := range list {
				_ = c.Close()
			}
		}
		p.conns = make(map[string][]*pooledConn)
	})
}

// Stats returns the total number of idle pooled connections.
func (p *Pool) Stats() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, list := range p.conns {
		n += len(list)
	}
	return n
}

func (p *Pool) reaper() {
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.idleTTL)
			p.mu.Lock()
			for addr, list := range p.conns {
				i := 0
				for _, c := range list {
					if c.lastUsed.Before(cutoff) {
						_ = c.Close()
						continue
					}
					list[i] = c
					i++
				}
				p.conns[addr] = list[:i]
			}
			p.mu.Unlock()
		case <-p.closing:
			return
		}
	}
}
