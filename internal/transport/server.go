package transport

import (
	"bufio"
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"synnergy-ca3/internal/wire"
)

// Handler processes one inbound request packet and returns the reply to
// send back. It is implemented by internal/protocol.Receiver.
type Handler interface {
	Handle(ctx context.Context, req wire.GeneralPacket) wire.GeneralPacket
}

// Server is the inbound side of the Peer Dispatcher: it listens on a TCP
// address, reads one length-prefixed packet per connection, hands it to
// Handler, and writes back the reply. Shutdown follows the teacher's
// context-cancellation idiom in core/network.go's ListenAndServe.
type Server struct {
	Addr    string
	Handler Handler
	Log     *logrus.Logger

	listener net.Listener
}

// NewServer returns a Server bound to addr ("host:port") that will dispatch
// inbound packets to handler.
func NewServer(addr string, handler Handler, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{Addr: addr, Handler: handler, Log: log}
}

// ListenAndServe opens the listener and serves connections until ctx is
// canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.Log.Info("ca3 transport server shutting down")
				return nil
			default:
				s.Log.WithError(err).Warn("ca3 transport server: accept failed")
				continue
			}
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	req, err := ReadPacket(bufio.NewReader(conn))
	if err != nil {
		s.Log.WithError(err).Debug("ca3 transport server: read failed")
		return
	}
	reply := s.Handler.Handle(ctx, req)
	if err := WritePacket(conn, reply); err != nil {
		s.Log.WithError(err).Warn("ca3 transport server: write reply failed")
	}
}
