// Package receiver configures the receiver's message output for monitoring
// and restores the previous configuration afterwards.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gnssmon/internal/device"
	"gnssmon/internal/ubx"
)

var (
	// ErrNak reports an ACK-NAK for a configuration request.
	ErrNak = errors.New("receiver answered ACK-NAK")
	// ErrTimeout reports that no answer arrived within the receiver timeout.
	ErrTimeout = errors.New("receiver response timeout")
)

// Firmware and hardware the monitor was tested against.
const (
	TestedSW = "EXT CORE 1.00 (71b20c)"
	TestedHW = "00190000"
)

// Port is the command channel to the receiver.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) error
}

type Config struct {
	// Persist adds raw observation and subframe output.
	Persist bool
	// Timeout bounds each request/response exchange. Default 5s.
	Timeout time.Duration
	Logf    func(format string, args ...any)
}

// Receiver runs configuration exchanges over a port. Frames that are not
// part of an exchange are handed to the pass-through callback so that no
// monitoring data is lost while waiting.
type Receiver struct {
	port Port
	dec  *ubx.Decoder
	cfg  Config
	pass func(ubx.Frame)

	saved   []ubx.KeyValue
	applied bool
	buf     []byte
}

// New uses dec to frame the port's bytes. pass may be nil.
func New(port Port, dec *ubx.Decoder, cfg Config, pass func(ubx.Frame)) *Receiver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	if pass == nil {
		pass = func(ubx.Frame) {}
	}
	return &Receiver{port: port, dec: dec, cfg: cfg, pass: pass, buf: make([]byte, 4096)}
}

// Items returns the configuration the monitor needs.
func Items(persist bool) []ubx.KeyValue {
	items := []ubx.KeyValue{
		{Key: ubx.KeyMsgOutNavPVTUART1, Value: 1},
		{Key: ubx.KeyMsgOutNavStatusUART1, Value: 1},
		{Key: ubx.KeyMsgOutMonRFUART1, Value: 1},
		{Key: ubx.KeyMsgOutMonHWUART1, Value: 1},
		{Key: ubx.KeyItfmEnable, Value: 1},
	}
	if persist {
		items = append(items,
			ubx.KeyValue{Key: ubx.KeyMsgOutRxmRAWXUART1, Value: 1},
			ubx.KeyValue{Key: ubx.KeyMsgOutRxmSFRBXUART1, Value: 1},
		)
	}
	return items
}

// CheckVersion polls MON-VER and warns when the receiver differs from the
// tested one.
func (r *Receiver) CheckVersion(ctx context.Context) (ubx.Version, error) {
	var ver ubx.Version
	err := r.exchange(ctx, "MON-VER", ubx.Poll(ubx.ClassMON, ubx.IDMonVer), func(m ubx.Message) (bool, error) {
		v, ok := m.(ubx.Version)
		if ok {
			ver = v
		}
		return ok, nil
	})
	if err != nil {
		return ver, err
	}
	if ver.SW != TestedSW {
		r.cfg.Logf("receiver: WARNING software version %q differs from tested %q", ver.SW, TestedSW)
	}
	if ver.HW != TestedHW {
		r.cfg.Logf("receiver: WARNING hardware version %q differs from tested %q", ver.HW, TestedHW)
	}
	return ver, nil
}

// Configure saves the current RAM values of the needed keys and then enables
// them in RAM.
func (r *Receiver) Configure(ctx context.Context) error {
	want := Items(r.cfg.Persist)
	keys := make([]uint32, len(want))
	for i, kv := range want {
		keys[i] = kv.Key
	}

	saved, err := r.valGet(ctx, keys)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	r.saved = saved
	r.cfg.Logf("receiver: saved RAM config (%d items)", len(saved))

	if err := r.valSet(ctx, want); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	r.applied = true
	r.cfg.Logf("receiver: RAM config changed (%d items)", len(want))
	return nil
}

// Restore writes the saved values back. It is a no-op when Configure did
// not change anything.
func (r *Receiver) Restore(ctx context.Context) error {
	if !r.applied || len(r.saved) == 0 {
		return nil
	}
	if err := r.valSet(ctx, r.saved); err != nil {
		return fmt.Errorf("restore config: %w", err)
	}
	r.applied = false
	r.cfg.Logf("receiver: previous RAM config restored")
	return nil
}

// Saved returns the values read before Configure changed them.
func (r *Receiver) Saved() []ubx.KeyValue {
	return append([]ubx.KeyValue(nil), r.saved...)
}

func (r *Receiver) valGet(ctx context.Context, keys []uint32) ([]ubx.KeyValue, error) {
	var values *ubx.ConfigValues
	acked := false
	err := r.exchange(ctx, "CFG-VALGET", ubx.ValGet(keys), func(m ubx.Message) (bool, error) {
		switch v := m.(type) {
		case ubx.ConfigValues:
			values = &v
		case ubx.Ack:
			if v.Class != ubx.ClassCFG || v.ID != ubx.IDCfgValGet {
				return false, nil
			}
			if !v.OK {
				return true, ErrNak
			}
			acked = true
		default:
			return false, nil
		}
		return values != nil && acked, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ubx.KeyValue, 0, len(keys))
	for _, k := range keys {
		v, ok := values.Values[k]
		if !ok {
			return nil, fmt.Errorf("CFG-VALGET: no value for %s", ubx.KeyName(k))
		}
		out = append(out, ubx.KeyValue{Key: k, Value: v})
	}
	return out, nil
}

func (r *Receiver) valSet(ctx context.Context, items []ubx.KeyValue) error {
	cmd, err := ubx.ValSet(ubx.LayerRAM, items)
	if err != nil {
		return err
	}
	return r.exchange(ctx, "CFG-VALSET", cmd, func(m ubx.Message) (bool, error) {
		a, ok := m.(ubx.Ack)
		if !ok || a.Class != ubx.ClassCFG || a.ID != ubx.IDCfgValSet {
			return false, nil
		}
		if !a.OK {
			return true, ErrNak
		}
		return true, nil
	})
}

// exchange writes cmd and reads frames until match reports done. Frames that
// arrive in the same read after the answer are passed through as well.
func (r *Receiver) exchange(ctx context.Context, what string, cmd []byte, match func(ubx.Message) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if err := r.port.Write(cmd); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%s: %w after %s", what, ErrTimeout, r.cfg.Timeout)
			}
			return err
		}

		n, err := r.port.Read(r.buf)
		if err != nil {
			if errors.Is(err, device.ErrTimeout) {
				continue
			}
			return fmt.Errorf("%s: %w", what, err)
		}

		var (
			done     bool
			matchErr error
		)
		for _, f := range r.dec.Feed(r.buf[:n]) {
			if done || !isControl(f) {
				r.pass(f)
				continue
			}
			for _, m := range ubx.Interpret(f) {
				ok, err := match(m)
				if ok || err != nil {
					done, matchErr = true, err
					break
				}
			}
		}
		if done {
			if matchErr != nil {
				return fmt.Errorf("%s: %w", what, matchErr)
			}
			return nil
		}
	}
}

// isControl reports frames that only answer configuration requests.
func isControl(f ubx.Frame) bool {
	switch {
	case f.Class == ubx.ClassACK, f.Class == ubx.ClassCFG:
		return true
	case f.Class == ubx.ClassMON && f.ID == ubx.IDMonVer:
		return true
	}
	return false
}
