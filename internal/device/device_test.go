package device

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

type fakePort struct {
	reads    [][]byte
	readErr  error
	writes   [][]byte
	maxWrite int
	closed   bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.reads) == 0 {
		return 0, p.readErr
	}
	n := copy(b, p.reads[0])
	p.reads = p.reads[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	n := len(b)
	if p.maxWrite > 0 && n > p.maxWrite {
		n = p.maxWrite
	}
	p.writes = append(p.writes, append([]byte(nil), b[:n]...))
	return n, nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestValidate_MissingPath(t *testing.T) {
	err := Validate(filepath.Join(t.TempDir(), "ttyNOPE"))
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err=%v want ErrNoDevice", err)
	}
	if err := Validate("  "); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("empty path err=%v want ErrNoDevice", err)
	}
}

func TestOpenSerial_MissingDeviceIsConfigFault(t *testing.T) {
	_, err := OpenSerial(Config{Path: "/dev/does-not-exist-gnssmon"})
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err=%v want ErrNoDevice", err)
	}
}

func TestOpenSerial_RejectsBaud(t *testing.T) {
	_, err := OpenSerial(Config{Path: t.TempDir(), Baud: 1234})
	if err == nil || !strings.Contains(err.Error(), "unsupported baud") {
		t.Fatalf("err=%v", err)
	}
}

func TestSerial_ReadMapsTimeoutAndDisconnect(t *testing.T) {
	fp := &fakePort{reads: [][]byte{{0xB5, 0x62}}}
	s := &Serial{cfg: Config{Path: "/dev/ttyTEST"}, port: fp}

	buf := make([]byte, 16)
	n, err := s.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}

	_, err = s.Read(buf)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v want ErrTimeout", err)
	}

	fp.readErr = errors.New("input/output error")
	_, err = s.Read(buf)
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("err=%v want ErrDisconnected", err)
	}
}

func TestSerial_WriteLoopsOnShortWrites(t *testing.T) {
	fp := &fakePort{maxWrite: 3}
	s := &Serial{cfg: Config{Path: "/dev/ttyTEST"}, port: fp}
	if err := s.Write([]byte{1, 2, 3, 4, 5, 6, 7}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if len(fp.writes) != 3 {
		t.Fatalf("writes=%d want 3", len(fp.writes))
	}
}

func TestStream_EOFAndErrors(t *testing.T) {
	s := NewStream("mem", strings.NewReader("ab"))
	buf := make([]byte, 8)
	n, err := s.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if _, err := s.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v want EOF", err)
	}
	if err := s.Write([]byte{1}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	pr, pw := io.Pipe()
	_ = pw.CloseWithError(errors.New("broken"))
	s = NewStream("pipe", pr)
	if _, err := s.Read(buf); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("err=%v want ErrDisconnected", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestValidBaud(t *testing.T) {
	for _, b := range []int{4800, 115200, 460800} {
		if !ValidBaud(b) {
			t.Fatalf("baud %d should be valid", b)
		}
	}
	if ValidBaud(0) || ValidBaud(250000) {
		t.Fatalf("unexpected valid baud")
	}
}
