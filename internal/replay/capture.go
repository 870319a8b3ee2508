// Package replay records decoded UBX frames to a capture log and plays
// capture logs back through the pipeline.
package replay

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gnssmon/internal/ubx"
)

// Capture format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<hex>
//   where t_ns is nanoseconds since START (monotonic), and hex is one complete
//   UBX frame including sync bytes and checksum.

type Record struct {
	At    time.Duration
	Frame []byte
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	// A maximum size UBX frame is 8200 bytes, 16400 hex digits.
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{At: 0, Frame: nil})
			continue
		}

		comma := strings.IndexByte(line, ',')
		if comma < 0 {
			return nil, fmt.Errorf("capture line %d: missing comma", lineNo)
		}
		tsStr := strings.TrimSpace(line[:comma])
		hexStr := strings.TrimSpace(line[comma+1:])
		if tsStr == "" || hexStr == "" {
			return nil, fmt.Errorf("capture line %d: empty field", lineNo)
		}

		tsNs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("capture line %d: timestamp %q: %w", lineNo, tsStr, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("capture line %d: negative timestamp %d", lineNo, tsNs)
		}

		b, err := hex.DecodeString(strings.ReplaceAll(hexStr, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("capture line %d: %w", lineNo, err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("capture line %d: empty frame", lineNo)
		}

		recs = append(recs, Record{At: time.Duration(tsNs), Frame: b})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// ReadFile reads a whole capture file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// Writer appends frames to a capture file. It is not safe for concurrent use.
type Writer struct {
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	frames uint64
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) Path() string { return ww.f.Name() }

// WriteFrame appends f re-encoded as wire bytes.
func (ww *Writer) WriteFrame(now time.Time, f ubx.Frame) error {
	if ww.closed {
		return errors.New("capture writer is closed")
	}

	// Use monotonic component of time when available.
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	if _, err := fmt.Fprintf(ww.w, "%d,%s\n", d.Nanoseconds(), hex.EncodeToString(f.Bytes())); err != nil {
		return err
	}
	ww.frames++
	return nil
}

// Frames is the number of frames written.
func (ww *Writer) Frames() uint64 { return ww.frames }

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play replays records with their relative timing.
//
// The provided callback is invoked for each record that contains a frame (Record.Frame != nil).
// START markers are honored by resetting the origin.
//
// speed: 1.0 = real time, 2.0 = 2x speed (half waits), 0 = no waiting at all.
func Play(ctx context.Context, records []Record, speed float64, sleeper Sleeper, cb func(frame []byte) error) error {
	if speed < 0 {
		return fmt.Errorf("speed must be >= 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}

	var origin time.Duration
	var lastAt time.Duration
	var haveLast bool

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Frame == nil {
			// START marker.
			origin = r.At
			lastAt = 0
			haveLast = false
			continue
		}

		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if haveLast && speed > 0 {
			wait := at - lastAt
			if wait < 0 {
				wait = 0
			}
			wait = time.Duration(float64(wait) / speed)
			if wait > 0 {
				if err := sleeper.Sleep(ctx, wait); err != nil {
					return err
				}
			}
		}

		if err := cb(r.Frame); err != nil {
			return err
		}

		lastAt = at
		haveLast = true
	}
	return nil
}
