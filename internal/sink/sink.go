// Package sink persists decoded receiver data as CSV files, one file and one
// writer goroutine per stream.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config describes the set of log files of one session.
type Config struct {
	Dir string
	// Start names the files: <stream>_dump_<2006-01-02_15-04-05>.csv.
	Start   time.Time
	Streams []string
	Stream  StreamConfig

	// Create opens a file for writing. Defaults to os.Create.
	Create func(path string) (io.WriteCloser, error)
}

// Sink routes records to their streams.
type Sink struct {
	streams map[string]*Stream
	order   []string
}

// FileName returns the log file name for a stream.
func FileName(stream string, start time.Time) string {
	return fmt.Sprintf("%s_dump_%s.csv", stream, start.Format("2006-01-02_15-04-05"))
}

// Open creates the output directory and one file per stream with its header.
func Open(cfg Config) (*Sink, error) {
	if cfg.Dir == "" {
		return nil, errors.New("sink: output directory is empty")
	}
	if len(cfg.Streams) == 0 {
		cfg.Streams = AllStreams
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	create := cfg.Create
	if create == nil {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: create output dir: %w", err)
		}
		create = func(path string) (io.WriteCloser, error) { return os.Create(path) }
	}

	s := &Sink{streams: make(map[string]*Stream, len(cfg.Streams))}
	for _, name := range cfg.Streams {
		if Header(name) == nil {
			s.Close(0)
			return nil, fmt.Errorf("sink: unknown stream %q", name)
		}
		path := filepath.Join(cfg.Dir, FileName(name, cfg.Start))
		f, err := create(path)
		if err != nil {
			s.Close(0)
			return nil, fmt.Errorf("sink: %w", err)
		}
		st, err := NewStream(name, path, f, cfg.Stream)
		if err != nil {
			s.Close(0)
			return nil, err
		}
		s.streams[name] = st
		s.order = append(s.order, name)
	}
	return s, nil
}

// Append routes rec to its stream. Records for streams that are not open are
// ignored.
func (s *Sink) Append(ctx context.Context, rec LogRecord) error {
	st, ok := s.streams[rec.Stream]
	if !ok {
		return nil
	}
	return st.Append(ctx, rec)
}

// Stream returns the named stream or nil.
func (s *Sink) Stream(name string) *Stream {
	return s.streams[name]
}

// Close drains and closes every stream, each within grace.
func (s *Sink) Close(grace time.Duration) error {
	var errs []error
	for _, name := range s.order {
		if err := s.streams[name].Close(grace); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) Stats() []StreamStats {
	out := make([]StreamStats, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.streams[name].Stats())
	}
	return out
}
