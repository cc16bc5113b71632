package transport

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"synnergy-ca3/internal/wire"
)

// maxFrameBytes bounds a single packet's wire size to guard against a
// malformed or hostile length prefix causing an unbounded allocation.
const maxFrameBytes = 16 << 20 // 16 MiB

// WritePacket frames p as a 4-byte big-endian length prefix followed by its
// JSON encoding, and writes it to conn.
func WritePacket(conn net.Conn, p wire.GeneralPacket) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("transport: marshal packet: %w", err)
	}
	if len(body) > maxFrameBytes {
		return fmt.Errorf("transport: packet too large: %d bytes", len(body))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := conn.Write(prefix[:]); err != nil {
		return fmt.Errorf("transport: write length prefix: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("transport: write packet body: %w", err)
	}
	return nil
}

// ReadPacket reads one length-prefixed JSON packet from r.
func ReadPacket(r *bufio.Reader) (wire.GeneralPacket, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return wire.GeneralPacket{}, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameBytes {
		return wire.GeneralPacket{}, fmt.Errorf("transport: peer announced oversized packet: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return wire.GeneralPacket{}, fmt.Errorf("transport: read packet body: %w", err)
	}
	var p wire.GeneralPacket
	if err := json.Unmarshal(body, &p); err != nil {
		return wire.GeneralPacket{}, fmt.Errorf("transport: unmarshal packet: %w", err)
	}
	return p, nil
}
