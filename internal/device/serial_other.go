//go:build !linux

package device

import (
	"errors"
	"io"
	"time"

	"github.com/jacobsa/go-serial/serial"
)

type filePort struct {
	rwc io.ReadWriteCloser
}

func openPort(path string, baud int, timeout time.Duration) (port, error) {
	// go-serial accepts multiples of 100ms up to 25.5s.
	ms := uint(timeout / time.Millisecond)
	ms = (ms + 99) / 100 * 100
	if ms == 0 {
		ms = 100
	}
	if ms > 25500 {
		ms = 25500
	}
	rwc, err := serial.Open(serial.OpenOptions{
		PortName:              path,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: ms,
	})
	if err != nil {
		return nil, err
	}
	return &filePort{rwc: rwc}, nil
}

// Read maps the EOF returned by an expired inter-character timeout to a
// plain timeout. Unplug detection relies on the other I/O errors here.
func (p *filePort) Read(b []byte) (int, error) {
	n, err := p.rwc.Read(b)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

func (p *filePort) Write(b []byte) (int, error) { return p.rwc.Write(b) }

func (p *filePort) Close() error { return p.rwc.Close() }
