package receiver

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gnssmon/internal/device"
	"gnssmon/internal/ubx"
)

// fakeReceiver answers configuration requests like an F9 receiver and
// interleaves a MON-HW frame before every answer.
type fakeReceiver struct {
	mu      sync.Mutex
	ram     map[uint32]uint64
	version ubx.Version
	nakSet  bool
	silent  bool
	sets    int
	pending []byte
	dec     *ubx.Decoder
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{
		ram: map[uint32]uint64{
			ubx.KeyMsgOutNavPVTUART1:    0,
			ubx.KeyMsgOutNavStatusUART1: 0,
			ubx.KeyMsgOutMonRFUART1:     0,
			ubx.KeyMsgOutMonHWUART1:     4,
			ubx.KeyMsgOutRxmRAWXUART1:   0,
			ubx.KeyMsgOutRxmSFRBXUART1:  0,
			ubx.KeyItfmEnable:           0,
		},
		version: ubx.Version{SW: TestedSW, HW: TestedHW},
		dec:     ubx.NewDecoder(),
	}
}

func (f *fakeReceiver) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fr := range f.dec.Feed(p) {
		if f.silent {
			continue
		}
		f.pending = append(f.pending, ubx.EncodeMonHW(ubx.JammingReport{JammingState: ubx.JammingOK})...)
		switch {
		case fr.Class == ubx.ClassMON && fr.ID == ubx.IDMonVer:
			f.pending = append(f.pending, ubx.EncodeMonVer(f.version)...)
		case fr.Class == ubx.ClassCFG && fr.ID == ubx.IDCfgValGet:
			vals := ubx.ConfigValues{Values: map[uint32]uint64{}}
			for off := 4; off+4 <= len(fr.Payload); off += 4 {
				k := binary.LittleEndian.Uint32(fr.Payload[off:])
				vals.Values[k] = f.ram[k]
			}
			f.pending = append(f.pending, ubx.EncodeValGetResponse(vals)...)
			f.pending = append(f.pending, ubx.EncodeAck(ubx.Ack{OK: true, Class: ubx.ClassCFG, ID: ubx.IDCfgValGet})...)
		case fr.Class == ubx.ClassCFG && fr.ID == ubx.IDCfgValSet:
			f.sets++
			if f.nakSet {
				f.pending = append(f.pending, ubx.EncodeAck(ubx.Ack{OK: false, Class: ubx.ClassCFG, ID: ubx.IDCfgValSet})...)
				continue
			}
			for off := 4; off+4 <= len(fr.Payload); {
				k := binary.LittleEndian.Uint32(fr.Payload[off:])
				size := ubx.KeySize(k)
				var v uint64
				for i := 0; i < size; i++ {
					v |= uint64(fr.Payload[off+4+i]) << (8 * i)
				}
				f.ram[k] = v
				off += 4 + size
			}
			f.pending = append(f.pending, ubx.EncodeAck(ubx.Ack{OK: true, Class: ubx.ClassCFG, ID: ubx.IDCfgValSet})...)
		}
	}
	return nil
}

func (f *fakeReceiver) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, device.ErrTimeout
	}
	// Deliver in small pieces to exercise reassembly.
	n := copy(p[:min(len(p), 7)], f.pending)
	f.pending = f.pending[n:]
	f.mu.Unlock()
	return n, nil
}

func newTestReceiver(port Port, persist bool, passed *[]ubx.Frame) *Receiver {
	return New(port, ubx.NewDecoder(), Config{Persist: persist, Timeout: 200 * time.Millisecond, Logf: func(string, ...any) {}},
		func(f ubx.Frame) { *passed = append(*passed, f) })
}

func TestReceiver_ConfigureAndRestore(t *testing.T) {
	fake := newFakeReceiver()
	var passed []ubx.Frame
	r := newTestReceiver(fake, false, &passed)
	ctx := context.Background()

	ver, err := r.CheckVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, TestedSW, ver.SW)

	require.NoError(t, r.Configure(ctx))
	assert.Equal(t, uint64(1), fake.ram[ubx.KeyMsgOutMonRFUART1])
	assert.Equal(t, uint64(1), fake.ram[ubx.KeyItfmEnable])
	assert.Equal(t, uint64(0), fake.ram[ubx.KeyMsgOutRxmRAWXUART1], "raw output needs persistence")
	assert.Len(t, r.Saved(), 5)

	require.NoError(t, r.Restore(ctx))
	assert.Equal(t, uint64(0), fake.ram[ubx.KeyMsgOutMonRFUART1])
	assert.Equal(t, uint64(4), fake.ram[ubx.KeyMsgOutMonHWUART1])
	assert.Equal(t, uint64(0), fake.ram[ubx.KeyItfmEnable])

	// Restore twice is a no-op.
	sets := fake.sets
	require.NoError(t, r.Restore(ctx))
	assert.Equal(t, sets, fake.sets)

	// Monitoring frames seen during the exchanges were handed on.
	require.NotEmpty(t, passed)
	for _, f := range passed {
		assert.Equal(t, byte(ubx.IDMonHW), f.ID)
	}
}

func TestReceiver_PersistEnablesRawOutput(t *testing.T) {
	fake := newFakeReceiver()
	var passed []ubx.Frame
	r := newTestReceiver(fake, true, &passed)
	require.NoError(t, r.Configure(context.Background()))
	assert.Equal(t, uint64(1), fake.ram[ubx.KeyMsgOutRxmRAWXUART1])
	assert.Equal(t, uint64(1), fake.ram[ubx.KeyMsgOutRxmSFRBXUART1])
	assert.Len(t, Items(true), 7)
}

func TestReceiver_Nak(t *testing.T) {
	fake := newFakeReceiver()
	fake.nakSet = true
	var passed []ubx.Frame
	r := newTestReceiver(fake, false, &passed)

	err := r.Configure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNak), "err=%v", err)
	// Nothing was applied, so nothing is restored.
	assert.NoError(t, r.Restore(context.Background()))
	assert.Equal(t, 1, fake.sets)
}

func TestReceiver_Timeout(t *testing.T) {
	fake := newFakeReceiver()
	fake.silent = true
	var passed []ubx.Frame
	r := newTestReceiver(fake, false, &passed)

	start := time.Now()
	_, err := r.CheckVersion(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReceiver_VersionMismatchWarns(t *testing.T) {
	fake := newFakeReceiver()
	fake.version = ubx.Version{SW: "ROM CORE 1.00", HW: "00190000"}
	var lines []string
	r := New(fake, ubx.NewDecoder(), Config{Timeout: 200 * time.Millisecond, Logf: func(format string, args ...any) {
		lines = append(lines, format)
	}}, nil)

	_, err := r.CheckVersion(context.Background())
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "software version")
}

func TestReceiver_CanceledContext(t *testing.T) {
	fake := newFakeReceiver()
	fake.silent = true
	var passed []ubx.Frame
	r := newTestReceiver(fake, false, &passed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Configure(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}
