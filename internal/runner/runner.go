// Package runner owns the read loop: it connects to the receiver, feeds
// decoded messages to the monitor, the log sink and the publishers, and
// reconnects with backoff when the device goes away.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gnssmon/internal/device"
	"gnssmon/internal/monitor"
	"gnssmon/internal/publish"
	"gnssmon/internal/receiver"
	"gnssmon/internal/replay"
	"gnssmon/internal/rfstats"
	"gnssmon/internal/sink"
	"gnssmon/internal/ubx"
)

// ErrFaulted reports that the device could not be (re)opened within the
// configured number of attempts.
var ErrFaulted = errors.New("device faulted")

const (
	StateConnecting  = "connecting"
	StateConfiguring = "configuring"
	StateRunning     = "running"
	StateBackoff     = "backoff"
	StateFaulted     = "faulted"
	StateStopped     = "stopped"
)

// Publisher receives monitor events. Event must not block.
type Publisher interface {
	Event(ev monitor.Event) bool
	Stats() publish.Stats
}

type Config struct {
	Open    device.Opener
	Session string

	// Configure runs the receiver setup on every connection.
	Configure       bool
	ReceiverTimeout time.Duration

	Monitor  monitor.Config
	RFWindow int

	// Sink and Capture may be nil. Run closes them on return.
	Sink          *sink.Sink
	SinkGrace     time.Duration
	Capture       *replay.Writer
	Publisher     Publisher
	ReadBufferLen int

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// MaxRetries is the number of consecutive failed attempts before Run
	// returns ErrFaulted. Zero retries forever.
	MaxRetries int

	Now  func() time.Time
	Logf func(format string, args ...any)
}

// NewSessionID returns a random id naming one monitoring session.
func NewSessionID() string {
	return uuid.NewString()
}

type Runner struct {
	cfg Config
	dec *ubx.Decoder
	mon *monitor.Monitor
	rf  *rfstats.Tracker

	state    atomic.Value // string
	device   atomic.Value // string
	decStats atomic.Value // ubx.Stats

	messages   atomic.Uint64
	malformed  atomic.Uint64
	unknown    atomic.Uint64
	events     atomic.Uint64
	reconnects atomic.Uint64

	lastCorrupt   uint64
	lastMalformed uint64
	captureFailed bool
	healthy       bool
}

func New(cfg Config) (*Runner, error) {
	if cfg.Open == nil {
		return nil, fmt.Errorf("runner: device opener is nil")
	}
	if cfg.Session == "" {
		cfg.Session = NewSessionID()
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	if cfg.SinkGrace <= 0 {
		cfg.SinkGrace = 5 * time.Second
	}
	if cfg.ReadBufferLen <= 0 {
		cfg.ReadBufferLen = 4096
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	if cfg.Monitor.Logf == nil {
		cfg.Monitor.Logf = cfg.Logf
	}

	r := &Runner{
		cfg: cfg,
		dec: ubx.NewDecoder(),
		mon: monitor.New(cfg.Monitor),
		rf:  rfstats.New(cfg.RFWindow),
	}
	r.state.Store(StateStopped)
	r.device.Store("")
	r.decStats.Store(ubx.Stats{})
	return r, nil
}

func (r *Runner) Session() string           { return r.cfg.Session }
func (r *Runner) Monitor() *monitor.Monitor { return r.mon }
func (r *Runner) RFStats() *rfstats.Tracker { return r.rf }
func (r *Runner) State() string             { return r.state.Load().(string) }
func (r *Runner) DecoderStats() ubx.Stats   { return r.decStats.Load().(ubx.Stats) }
func (r *Runner) setState(s string)         { r.state.Store(s) }

// Run reads until ctx is done, the source ends (replay) or the device
// faults. It returns nil on a clean stop and ErrFaulted (wrapped) when the
// retry budget is exhausted. Sink and Capture are closed before it returns.
func (r *Runner) Run(ctx context.Context) error {
	backoff := r.cfg.BackoffInitial
	failures := 0

	for ctx.Err() == nil {
		r.setState(StateConnecting)
		err := r.connect(ctx)
		if err == nil || errors.Is(err, io.EOF) || ctx.Err() != nil {
			if errors.Is(err, io.EOF) {
				r.cfg.Logf("runner: end of input")
			}
			break
		}

		if r.healthy {
			r.healthy = false
			failures = 0
			backoff = r.cfg.BackoffInitial
		}
		failures++
		r.reconnects.Add(1)

		if r.cfg.MaxRetries > 0 && failures >= r.cfg.MaxRetries {
			r.setState(StateFaulted)
			r.cfg.Logf("runner: giving up after %d consecutive failures: %v", failures, err)
			r.finish()
			return fmt.Errorf("%w: %d consecutive failures: %v", ErrFaulted, failures, err)
		}

		r.setState(StateBackoff)
		r.cfg.Logf("runner: %v; retrying in %s (attempt %d)", err, backoff, failures)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
		backoff *= 2
		if backoff > r.cfg.BackoffMax {
			backoff = r.cfg.BackoffMax
		}
	}

	r.setState(StateStopped)
	r.finish()
	return nil
}

// connect opens the device and runs one session on it.
func (r *Runner) connect(ctx context.Context) error {
	src, err := r.cfg.Open()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer src.Close()

	r.device.Store(src.Name())
	r.dec.Reset()
	r.cfg.Logf("runner: connected device=%s session=%s", src.Name(), r.cfg.Session)

	var rcv *receiver.Receiver
	if r.cfg.Configure {
		r.setState(StateConfiguring)
		rcv = receiver.New(src, r.dec, receiver.Config{
			Persist: r.cfg.Sink != nil,
			Timeout: r.cfg.ReceiverTimeout,
			Logf:    r.cfg.Logf,
		}, func(f ubx.Frame) {
			r.noteDecoder()
			r.handleFrame(ctx, f)
		})

		err := r.setup(ctx, rcv)
		r.noteDecoder()
		if err != nil {
			return err
		}
	}

	r.setState(StateRunning)
	err = r.readLoop(ctx, src)

	if rcv != nil && !errors.Is(err, device.ErrDisconnected) {
		rctx, cancel := context.WithTimeout(context.Background(), r.receiverTimeout())
		if rerr := rcv.Restore(rctx); rerr != nil {
			r.cfg.Logf("receiver: %v", rerr)
		}
		cancel()
	}
	return err
}

// setup checks and configures the receiver. Only a lost device is returned
// as an error; anything else is logged and monitoring continues.
func (r *Runner) setup(ctx context.Context, rcv *receiver.Receiver) error {
	if ver, err := rcv.CheckVersion(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, device.ErrDisconnected) {
			return err
		}
		r.cfg.Logf("receiver: version check failed: %v", err)
	} else {
		r.cfg.Logf("receiver: sw=%q hw=%q", ver.SW, ver.HW)
	}

	if err := rcv.Configure(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, device.ErrDisconnected) {
			return err
		}
		r.cfg.Logf("receiver: setup failed, monitoring continues: %v", err)
	}
	return nil
}

func (r *Runner) receiverTimeout() time.Duration {
	if r.cfg.ReceiverTimeout > 0 {
		return r.cfg.ReceiverTimeout
	}
	return 5 * time.Second
}

func (r *Runner) readLoop(ctx context.Context, src device.Source) error {
	buf := make([]byte, r.cfg.ReadBufferLen)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := src.Read(buf)
		if err != nil {
			if errors.Is(err, device.ErrTimeout) {
				continue
			}
			return err
		}
		r.healthy = true
		r.Feed(ctx, buf[:n])
	}
}

// Feed decodes p and dispatches every complete frame. It is the single
// writer of the monitor state and must only be called from one goroutine.
func (r *Runner) Feed(ctx context.Context, p []byte) {
	for _, f := range r.dec.Feed(p) {
		r.handleFrame(ctx, f)
	}
	r.noteDecoder()
}

func (r *Runner) noteDecoder() {
	st := r.dec.Stats()
	r.decStats.Store(st)
	if c := st.Corrupt(); c > r.lastCorrupt {
		r.cfg.Logf("ubx: corrupt frames=%d (checksum=%d length=%d sync_slips=%d)",
			c, st.ChecksumErrors, st.LengthErrors, st.SyncSlips)
		r.lastCorrupt = c
	}
	if m := r.malformed.Load(); m > r.lastMalformed {
		r.cfg.Logf("ubx: malformed messages=%d", m)
		r.lastMalformed = m
	}
}

func (r *Runner) handleFrame(ctx context.Context, f ubx.Frame) {
	now := r.cfg.Now()

	if r.cfg.Capture != nil && !r.captureFailed {
		if err := r.cfg.Capture.WriteFrame(now, f); err != nil {
			r.captureFailed = true
			r.cfg.Logf("capture: %s stopped: %v", r.cfg.Capture.Path(), err)
		}
	}

	for _, msg := range ubx.Interpret(f) {
		if u, ok := msg.(ubx.Unknown); ok {
			if u.Malformed {
				r.malformed.Add(1)
			} else {
				r.unknown.Add(1)
			}
			continue
		}
		r.messages.Add(1)
		r.dispatch(ctx, now, msg)
	}
}

func (r *Runner) dispatch(ctx context.Context, now time.Time, msg ubx.Message) {
	r.rf.Observe(msg)

	for _, ev := range r.mon.Apply(now, msg) {
		r.events.Add(1)
		if r.cfg.Publisher != nil {
			r.cfg.Publisher.Event(ev)
		}
	}

	if r.cfg.Sink == nil {
		return
	}
	stream, ok := sink.StreamFor(msg)
	if !ok {
		return
	}
	snap := r.mon.Snapshot()
	err := r.cfg.Sink.Append(ctx, sink.LogRecord{
		Stream:       stream,
		ReceiverTime: snap.LastUTC,
		Spoofing:     snap.Spoofing,
		Message:      msg,
	})
	if err != nil && ctx.Err() == nil {
		r.cfg.Logf("sink: %s: %v", stream, err)
	}
}

// finish flushes and closes the outputs and logs the session summary.
func (r *Runner) finish() {
	if r.cfg.Capture != nil {
		if err := r.cfg.Capture.Close(); err != nil {
			r.cfg.Logf("capture: close %s: %v", r.cfg.Capture.Path(), err)
		}
	}
	if r.cfg.Sink != nil {
		if err := r.cfg.Sink.Close(r.cfg.SinkGrace); err != nil {
			r.cfg.Logf("sink: close: %v", err)
		}
	}
	r.logSummary()
}

func (r *Runner) logSummary() {
	st := r.DecoderStats()
	r.cfg.Logf("summary: session=%s frames=%d bytes=%d corrupt=%d sync_slips=%d messages=%d malformed=%d unknown=%d events=%d reconnects=%d",
		r.cfg.Session, st.Frames, st.Bytes, st.Corrupt(), st.SyncSlips,
		r.messages.Load(), r.malformed.Load(), r.unknown.Load(), r.events.Load(), r.reconnects.Load())

	snap := r.mon.Snapshot()
	r.cfg.Logf("summary: jamming=%s spoofing=%s fix=%s last_utc=%q",
		snap.Jamming, snap.Spoofing, snap.FixString(), snap.LastUTC)

	for _, b := range r.rf.Blocks() {
		r.cfg.Logf("summary: rf block=%d band=%q samples=%d noise_mean=%.1f noise_p95=%.1f agc_mean=%.1f jam_ind_mean=%.1f jam_ind_max=%.0f",
			b.BlockID, b.Band, b.Samples, b.NoisePerMS.Mean, b.NoisePerMS.P95, b.AGCCnt.Mean, b.JamInd.Mean, b.JamInd.Max)
	}

	if r.cfg.Sink != nil {
		for _, s := range r.cfg.Sink.Stats() {
			r.cfg.Logf("summary: log %s written=%d discarded=%d stalls=%d", s.Name, s.Written, s.Discarded, s.Stalls)
		}
	}
}
