package transport

import (
	"bufio"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"synnergy-ca3/internal/errs"
	"synnergy-ca3/internal/roster"
	"synnergy-ca3/internal/wire"
)

// maxConnectRetries is the number of additional dial attempts Unary makes
// against the same peer after a "connection unavailable" failure, spec.md
// §4.4.
const maxConnectRetries = 10

// Peer is the Peer Dispatcher, C4: it turns a roster of candidates into
// wire-level request/response exchanges, retrying and penalizing peers
// that misbehave.
type Peer struct {
	Pool   *Pool
	Roster *roster.Roster
	Log    *logrus.Logger
}

// NewPeer returns a Peer Dispatcher backed by pool and roster.
func NewPeer(pool *Pool, rost *roster.Roster, log *logrus.Logger) *Peer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Peer{Pool: pool, Roster: rost, Log: log}
}

// Unary sends req to the named peer and returns its reply, retrying up to
// maxConnectRetries times on connection failure before recording an
// abnormal_count strike and giving up. Each retry purges the pooled
// connection for addr so the next dial is fresh rather than reusing
// whatever the peer may have already torn down.
func (p *Peer) Unary(ctx context.Context, peerName string, req wire.GeneralPacket) (wire.GeneralPacket, error) {
	entry, ok := p.Roster.Get(peerName)
	if !ok {
		return wire.GeneralPacket{}, errs.New(errs.KindPeerUnreachable, fmt.Sprintf("unknown peer %q", peerName))
	}
	addr := entry.Addr()

	var lastErr error
	for attempt := 0; attempt <= maxConnectRetries; attempt++ {
		reply, err := p.roundTrip(ctx, addr, req)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		p.Log.WithFields(logrus.Fields{
			"peer":    peerName,
			"addr":    addr,
			"attempt": attempt,
		}).Warn("ca3 dispatch attempt failed")
	}

	p.Roster.RecordAbnormal(peerName)
	return wire.GeneralPacket{}, errs.Wrap(errs.KindPeerUnreachable, fmt.Sprintf("peer %q unreachable after %d attempts", peerName, maxConnectRetries+1), lastErr)
}

func (p *Peer) roundTrip(ctx context.Context, addr string, req wire.GeneralPacket) (wire.GeneralPacket, error) {
	conn, err := p.Pool.Acquire(ctx, addr)
	if err != nil {
		return wire.GeneralPacket{}, err
	}
	if err := WritePacket(conn, req); err != nil {
		p.Pool.Purge(addr, conn)
		return wire.GeneralPacket{}, err
	}
	reply, err := ReadPacket(bufio.NewReader(conn))
	if err != nil {
		p.Pool.Purge(addr, conn)
		return wire.GeneralPacket{}, err
	}
	p.Pool.Release(conn)
	return reply, nil
}

// RandomDispatch tries every currently eligible peer, in the randomized
// order roster.Candidates returns, until one answers successfully or the
// candidate list is exhausted ("save-prompted" in spec.md §4.4 terms: the
// round is saved/terminated for lack of a willing collaborator). exclude
// carries the peers that have already signed the block being dispatched,
// per spec.md §4.5 step 3a — they're dropped from consideration up front
// rather than re-selected and rejected. It returns the first successful
// reply along with the peer name that gave it, or the last error seen if
// every candidate failed.
func (p *Peer) RandomDispatch(ctx context.Context, req wire.GeneralPacket, exclude []string) (string, wire.GeneralPacket, error) {
	candidates, err := p.Roster.Candidates(exclude)
	if err != nil {
		return "", wire.GeneralPacket{}, fmt.Errorf("transport: random dispatch: %w", err)
	}
	if len(candidates) == 0 {
		return "", wire.GeneralPacket{}, errs.New(errs.KindDispatchExhausted, "no eligible peers to dispatch to")
	}

	var lastErr error
	for _, c := range candidates {
		attempt := req
		attempt.Receiver = c.Name
		reply, err := p.Unary(ctx, c.Name, attempt)
		if err == nil && reply.Payload.PayloadType == wire.ResultSuccess {
			return c.Name, reply, nil
		}
		if err == nil {
			err = errs.New(errs.KindDispatchExhausted, reply.Payload.GErrorAsString)
		}
		lastErr = err
	}
	return "", wire.GeneralPacket{}, errs.Wrap(errs.KindDispatchExhausted, "every candidate peer failed", lastErr)
}

// Broadcast sends req to every currently eligible peer and collects
// whichever replies arrive, continuing past individual peer failures. Used
// by the state machine to announce a trip (DeclareBlockCreation) and to
// push a terminal-stored block (AddBlockCa3) to every peer; signature
// requests go through RandomDispatch one peer at a time.
func (p *Peer) Broadcast(ctx context.Context, req wire.GeneralPacket) map[string]wire.GeneralPacket {
	candidates, err := p.Roster.Candidates(nil)
	if err != nil {
		p.Log.WithError(err).Warn("ca3 broadcast: could not list candidates")
		return nil
	}
	out := make(map[string]wire.GeneralPacket, len(candidates))
	for _, c := range candidates {
		reply, err := p.Unary(ctx, c.Name, req)
		if err != nil {
			p.Log.WithFields(logrus.Fields{"peer": c.Name}).WithError(err).Warn("ca3 broadcast: peer failed")
			continue
		}
		out[c.Name] = reply
	}
	return out
}
