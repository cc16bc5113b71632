// Package transport implements the Peer Dispatcher's wire layer (C4,
// spec.md §4.4): a connection-pooled TCP dialer, length-prefixed JSON
// framing for wire.GeneralPacket, and the random-dispatch retry loop over
// a roster.Roster. Grounded on the teacher's core/network.go Dialer and
// core/connection_pool.go ConnPool.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Dialer opens plain TCP connections, mirroring the teacher's
// core/network.go Dialer (the libp2p multiplexed-stream variant the
// teacher also exposes is not applicable here: CA3 peers speak a direct
// unary request/response protocol, not a pubsub mesh).
type Dialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

// NewDialer returns a Dialer with the given connect timeout and TCP
// keepalive interval.
func NewDialer(timeout, keepAlive time.Duration) *Dialer {
	return &Dialer{Timeout: timeout, KeepAlive: keepAlive}
}

// Dial connects to address ("host:port") over TCP.
func (d *Dialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}
	return conn, nil
}
