// Package udp sends the monitor status as periodic UDP datagrams.
package udp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
)

// MaxDatagram is the largest UDP payload over IPv4.
const MaxDatagram = 65507

var ErrTooLarge = errors.New("datagram too large")

type udpConn interface {
	io.Writer
	io.Closer
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Broadcaster writes datagrams to one destination. Send is safe for
// concurrent use when the underlying connection is.
type Broadcaster struct {
	dest string
	conn udpConn

	sent   atomic.Uint64
	failed atomic.Uint64
	closed atomic.Bool
}

// Stats are the datagram counters.
type Stats struct {
	Dest   string `json:"dest"`
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("udp dest %q: %w", dest, err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp dial %s: %w", addr, err)
	}
	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

// Send writes payload as one datagram. Empty payloads are skipped.
func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if len(payload) > MaxDatagram {
		b.failed.Add(1)
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}
	if b.closed.Load() {
		b.failed.Add(1)
		return net.ErrClosed
	}
	if _, err := b.conn.Write(payload); err != nil {
		b.failed.Add(1)
		return err
	}
	b.sent.Add(1)
	return nil
}

// SendJSON sends the JSON encoding of v.
func (b *Broadcaster) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		b.failed.Add(1)
		return fmt.Errorf("encode status: %w", err)
	}
	return b.Send(payload)
}

func (b *Broadcaster) Stats() Stats {
	return Stats{Dest: b.dest, Sent: b.sent.Load(), Failed: b.failed.Load()}
}

// Close is idempotent.
func (b *Broadcaster) Close() error {
	if b.conn == nil || b.closed.Swap(true) {
		return nil
	}
	return b.conn.Close()
}
