package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("sink: stream closed")

// StreamConfig tunes one stream.
type StreamConfig struct {
	// QueueSize bounds the number of records waiting to be written.
	QueueSize int
	// FlushEvery flushes after this many records.
	FlushEvery int
	// FlushInterval flushes pending rows at least this often.
	FlushInterval time.Duration
	Logf          func(format string, args ...any)
}

func (c *StreamConfig) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.Logf == nil {
		c.Logf = log.Printf
	}
}

// StreamStats are the counters of one stream.
type StreamStats struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Written   uint64 `json:"written"`
	Discarded uint64 `json:"discarded"`
	Stalls    uint64 `json:"stalls"`
	Queued    int    `json:"queued"`
	Err       string `json:"error,omitempty"`
}

// Stream writes records of one kind to a CSV file from its own goroutine.
//
// Append and Close must be called from the same producer goroutine. A write
// error is fatal for the stream: it is logged once and later records are
// discarded.
type Stream struct {
	name string
	path string
	cfg  StreamConfig
	out  io.WriteCloser
	w    *csv.Writer

	ch   chan LogRecord
	done chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	stalled   bool

	written   atomic.Uint64
	discarded atomic.Uint64
	stalls    atomic.Uint64

	mu  sync.Mutex
	err error
}

// NewStream writes the header row to out and starts the writer goroutine.
func NewStream(name, path string, out io.WriteCloser, cfg StreamConfig) (*Stream, error) {
	cfg.defaults()
	s := &Stream{
		name: name,
		path: path,
		cfg:  cfg,
		out:  out,
		w:    csv.NewWriter(out),
		ch:   make(chan LogRecord, cfg.QueueSize),
		done: make(chan struct{}),
	}
	if h := Header(name); h != nil {
		_ = s.w.Write(h)
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("sink %s: write header: %w", name, err)
		}
	}
	go s.run()
	return s, nil
}

func (s *Stream) Name() string { return s.name }

// Err returns the error that made the stream fatal, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Append queues rec. When the queue is full it blocks until there is room or
// ctx is done, logging a warning once per stall.
func (s *Stream) Append(ctx context.Context, rec LogRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.Err() != nil {
		s.discarded.Add(1)
		return nil
	}
	select {
	case s.ch <- rec:
		s.stalled = false
		return nil
	default:
	}

	if !s.stalled {
		s.stalled = true
		s.stalls.Add(1)
		s.cfg.Logf("sink: %s queue full (%d); waiting for writer", s.name, cap(s.ch))
	}
	select {
	case s.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records, writes what is queued and closes the file.
// It gives up waiting after grace; zero waits indefinitely.
func (s *Stream) Close(grace time.Duration) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.ch)
	})

	if grace > 0 {
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-s.done:
		case <-t.C:
			return fmt.Errorf("sink %s: drain did not finish within %s", s.name, grace)
		}
	} else {
		<-s.done
	}
	return s.Err()
}

func (s *Stream) Stats() StreamStats {
	st := StreamStats{
		Name:      s.name,
		Path:      s.path,
		Written:   s.written.Load(),
		Discarded: s.discarded.Load(),
		Stalls:    s.stalls.Load(),
		Queued:    len(s.ch),
	}
	if err := s.Err(); err != nil {
		st.Err = err.Error()
	}
	return st
}

func (s *Stream) run() {
	defer close(s.done)
	defer func() {
		if err := s.out.Close(); err != nil {
			s.fail(fmt.Errorf("close: %w", err))
		}
	}()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	pending := 0
	for {
		select {
		case rec, ok := <-s.ch:
			if !ok {
				if pending > 0 {
					s.flush()
				}
				return
			}
			if s.Err() != nil {
				s.discarded.Add(1)
				continue
			}
			row, err := Row(rec)
			if err != nil {
				s.discarded.Add(1)
				continue
			}
			if err := s.write(row); err != nil {
				s.fail(err)
				s.discarded.Add(1)
				continue
			}
			pending++
			if pending >= s.cfg.FlushEvery {
				s.flush()
				pending = 0
			}
		case <-ticker.C:
			if pending > 0 {
				s.flush()
				pending = 0
			}
		}
	}
}

func (s *Stream) write(row []string) error {
	if err := s.w.Write(row); err != nil {
		return err
	}
	if err := s.w.Error(); err != nil {
		return err
	}
	s.written.Add(1)
	return nil
}

func (s *Stream) flush() {
	if s.Err() != nil {
		return
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.fail(fmt.Errorf("flush: %w", err))
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	first := s.err == nil
	if first {
		s.err = err
	}
	s.mu.Unlock()
	if first {
		s.cfg.Logf("sink: %s stopped: %v", s.name, err)
	}
}
