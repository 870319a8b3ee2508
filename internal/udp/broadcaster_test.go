package udp

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
	closes int
}

func (c *recordingConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *recordingConn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *recordingConn) datagrams() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

func dialTo(conn udpConn, got **net.UDPAddr) dialFunc {
	return func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		if got != nil {
			*got = raddr
		}
		return conn, nil
	}
}

func TestNewBroadcaster_DialsResolvedAddr(t *testing.T) {
	var raddr *net.UDPAddr
	b, err := newBroadcaster("192.168.10.255:4000", net.ResolveUDPAddr, dialTo(&recordingConn{}, &raddr))
	require.NoError(t, err)
	defer b.Close()

	require.NotNil(t, raddr)
	assert.Equal(t, 4000, raddr.Port)
	assert.True(t, raddr.IP.Equal(net.IPv4(192, 168, 10, 255)))
	assert.Equal(t, "192.168.10.255:4000", b.Dest())
}

func TestNewBroadcaster_Errors(t *testing.T) {
	resolveErr := errors.New("no such host")
	_, err := newBroadcaster("nowhere:4000", func(string, string) (*net.UDPAddr, error) {
		return nil, resolveErr
	}, dialTo(&recordingConn{}, nil))
	assert.ErrorIs(t, err, resolveErr)

	dialErr := errors.New("network unreachable")
	_, err = newBroadcaster("127.0.0.1:4000", net.ResolveUDPAddr, func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) {
		return nil, dialErr
	})
	assert.ErrorIs(t, err, dialErr)
}

func TestBroadcaster_Send(t *testing.T) {
	conn := &recordingConn{}
	b := &Broadcaster{dest: "x", conn: conn}

	require.NoError(t, b.Send(nil))
	require.NoError(t, b.Send([]byte(`{"jamming":"ok"}`)))
	assert.Equal(t, []string{`{"jamming":"ok"}`}, conn.datagrams())

	err := b.Send(make([]byte, MaxDatagram+1))
	assert.ErrorIs(t, err, ErrTooLarge)

	boom := errors.New("boom")
	conn.setErr(boom)
	assert.ErrorIs(t, b.Send([]byte{1}), boom)

	assert.Equal(t, Stats{Dest: "x", Sent: 1, Failed: 2}, b.Stats())
}

func TestBroadcaster_SendJSON(t *testing.T) {
	conn := &recordingConn{}
	b := &Broadcaster{dest: "x", conn: conn}

	require.NoError(t, b.SendJSON(map[string]any{"num_sv": 11}))
	assert.Equal(t, []string{`{"num_sv":11}`}, conn.datagrams())

	err := b.SendJSON(func() {})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "encode status"))
}

func TestBroadcaster_CloseIdempotent(t *testing.T) {
	assert.NoError(t, (&Broadcaster{}).Close())

	conn := &recordingConn{}
	b := &Broadcaster{dest: "x", conn: conn}
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, conn.closes)
	assert.ErrorIs(t, b.Send([]byte{1}), net.ErrClosed)
}

func TestBeacon_SendsSnapshotUntilCanceled(t *testing.T) {
	conn := &recordingConn{}
	b := &Broadcaster{dest: "x", conn: conn}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Beacon(ctx, b, 5*time.Millisecond, func() any {
			return map[string]any{"jamming": "warning", "num_sv": 11}
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return len(conn.datagrams()) >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, `{"jamming":"warning","num_sv":11}`, conn.datagrams()[0])
}

func TestBeacon_KeepsGoingAfterFailure(t *testing.T) {
	conn := &recordingConn{err: errors.New("down")}
	b := &Broadcaster{dest: "x", conn: conn}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Beacon(ctx, b, 2*time.Millisecond, func() any { return "ok" })
		close(done)
	}()

	require.Eventually(t, func() bool { return b.Stats().Failed >= 2 }, 2*time.Second, time.Millisecond)
	conn.setErr(nil)
	require.Eventually(t, func() bool { return len(conn.datagrams()) >= 1 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
}
