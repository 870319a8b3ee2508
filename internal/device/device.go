package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

var (
	// ErrTimeout reports that no byte arrived within the read timeout.
	ErrTimeout = errors.New("device read timeout")
	// ErrDisconnected reports a device I/O failure. The source must be
	// reopened.
	ErrDisconnected = errors.New("device disconnected")
	// ErrNoDevice reports a device path that does not exist.
	ErrNoDevice = errors.New("device not found")
)

// Source is a byte stream from the receiver.
//
// Read returns at least one byte, ErrTimeout, ErrDisconnected (possibly
// wrapped), or io.EOF when a finite source (capture replay) is exhausted.
type Source interface {
	Read(p []byte) (int, error)
	Write(p []byte) error
	Close() error
	Name() string
}

// Opener opens a Source. The runner calls it again after a disconnect.
type Opener func() (Source, error)

type Config struct {
	Path        string
	Baud        int
	ReadTimeout time.Duration
}

var supportedBauds = []int{4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800}

// ValidBaud reports whether baud is one of the rates the receiver supports.
func ValidBaud(baud int) bool {
	for _, b := range supportedBauds {
		if b == baud {
			return true
		}
	}
	return false
}

// Validate checks the device path without opening it.
func Validate(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrNoDevice)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoDevice, path)
		}
		return err
	}
	return nil
}

// Serial is a receiver attached to a serial port.
type Serial struct {
	cfg  Config
	port port
}

// port is the platform serial handle. Read returns (0, nil) on timeout.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenSerial opens cfg.Path in raw 8N1 mode.
func OpenSerial(cfg Config) (*Serial, error) {
	if err := Validate(cfg.Path); err != nil {
		return nil, err
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if !ValidBaud(cfg.Baud) {
		return nil, fmt.Errorf("unsupported baud %d", cfg.Baud)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	p, err := openPort(cfg.Path, cfg.Baud, cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDisconnected, cfg.Path, err)
	}
	return &Serial{cfg: cfg, port: p}, nil
}

// SerialOpener returns an Opener for cfg.
func SerialOpener(cfg Config) Opener {
	return func() (Source, error) {
		s, err := OpenSerial(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (s *Serial) Name() string { return s.cfg.Path }

func (s *Serial) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		return 0, ErrTimeout
	}
	return 0, fmt.Errorf("%w: %s: %v", ErrDisconnected, s.cfg.Path, err)
}

func (s *Serial) Write(p []byte) error {
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDisconnected, s.cfg.Path, err)
		}
		p = p[n:]
	}
	return nil
}

func (s *Serial) Close() error { return s.port.Close() }

// Stream adapts an io.Reader (a file or pipe of raw UBX bytes) to a Source.
// Writes are discarded.
type Stream struct {
	name string
	r    io.Reader
	c    io.Closer
}

func NewStream(name string, r io.Reader) *Stream {
	s := &Stream{name: name, r: r}
	if c, ok := r.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		return 0, ErrTimeout
	}
	if errors.Is(err, io.EOF) {
		return 0, io.EOF
	}
	return 0, fmt.Errorf("%w: %s: %v", ErrDisconnected, s.name, err)
}

func (s *Stream) Write(p []byte) error { return nil }

func (s *Stream) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
