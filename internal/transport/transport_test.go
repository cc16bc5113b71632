package transport

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"synnergy-ca3/internal/roster"
	"synnergy-ca3/internal/wire"
)

func TestCodecRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	pkt, err := wire.NewRequest("nodeA", "nodeB", wire.Ping, map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- WritePacket(client, pkt) }()

	got, err := ReadPacket(bufio.NewReader(server))
	if err != nil {
		t.Fatalf("read packet: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("write packet: %v", err)
	}
	if got.Sender != "nodeA" || got.Receiver != "nodeB" || got.Payload.Request != wire.Ping {
		t.Fatalf("unexpected roundtrip result: %+v", got)
	}
}

type echoHandler struct{}

func (echoHandler) Handle(ctx context.Context, req wire.GeneralPacket) wire.GeneralPacket {
	return req.Reply(true, map[string]string{"echo": "ok"}, "")
}

func TestServerRoundTripOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := NewServer(addr, echoHandler{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)

	dialer := NewDialer(time.Second, 0)
	pool := NewPool(dialer, 2, time.Minute)
	defer pool.Close()

	rost := roster.New("nodeA", 3)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	rost.Add(roster.Entry{Name: "nodeB", Host: host, Port: port, AllowOutgoing: true})

	peer := NewPeer(pool, rost, nil)
	req, err := wire.NewRequest("nodeA", "nodeB", wire.Ping, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	reply, err := peer.Unary(context.Background(), "nodeB", req)
	if err != nil {
		t.Fatalf("unary: %v", err)
	}
	if reply.Payload.PayloadType != wire.ResultSuccess {
		t.Fatalf("expected success reply, got %+v", reply)
	}

	cancel()
}

func TestPoolAcquireReleaseReusesConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go drainConn(c)
		}
	}()

	dialer := NewDialer(time.Second, 0)
	pool := NewPool(dialer, 2, time.Minute)
	defer pool.Close()

	addr := ln.Addr().String()
	c1, err := pool.Acquire(context.Background(), addr)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pool.Release(c1)
	if pool.Stats() != 1 {
		t.Fatalf("expected 1 idle conn after release, got %d", pool.Stats())
	}

	c2, err := pool.Acquire(context.Background(), addr)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if c2 != c1 {
		t.Fatalf("expected reused connection to be returned")
	}
	pool.Release(c2)
}

func drainConn(c net.Conn) {
	buf := make([]byte, 1024)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}
