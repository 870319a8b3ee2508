package replay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gnssmon/internal/ubx"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	fs.slept = append(fs.slept, d)
	return nil
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0, b562
10, 0a 0b
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Frame != nil {
		t.Fatalf("expected START marker (nil frame), got %v", recs[0].Frame)
	}
	if !reflect.DeepEqual(recs[1].Frame, []byte{0xb5, 0x62}) {
		t.Fatalf("unexpected frame 1: %x", recs[1].Frame)
	}
	if recs[2].At != 10*time.Nanosecond {
		t.Fatalf("expected At=10ns, got %s", recs[2].At)
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	for _, in := range []string{
		"not-a-valid-line\n",
		"-5,b562\n",
		"5,zz\n",
		"5,\n",
	} {
		if _, err := NewReader(strings.NewReader(in)).ReadAll(); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	var frames [][]byte
	fs := &fakeSleeper{}

	recs := []Record{
		{At: 1 * time.Second, Frame: nil},
		{At: 1 * time.Second, Frame: []byte{0xAA}},
		{At: 1*time.Second + 100*time.Nanosecond, Frame: []byte{0xBB}},
		{At: 2 * time.Second, Frame: nil},
		{At: 2*time.Second + 50*time.Nanosecond, Frame: []byte{0xCC}},
	}

	err := Play(context.Background(), recs, 1.0, fs, func(frame []byte) error {
		frames = append(frames, append([]byte(nil), frame...))
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	want := [][]byte{{0xAA}, {0xBB}, {0xCC}}
	if !reflect.DeepEqual(frames, want) {
		t.Fatalf("frames = %x, want %x", frames, want)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [100ns]", fs.slept)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	recs := []Record{
		{At: 0, Frame: []byte{0x01}},
		{At: 100 * time.Nanosecond, Frame: []byte{0x02}},
	}

	fs := &fakeSleeper{}
	if err := Play(context.Background(), recs, 2.0, fs, func([]byte) error { return nil }); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [50ns]", fs.slept)
	}

	fs = &fakeSleeper{}
	if err := Play(context.Background(), recs, 0, fs, func([]byte) error { return nil }); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if len(fs.slept) != 0 {
		t.Fatalf("speed 0 slept %v", fs.slept)
	}
}

func TestPlay_InvalidSpeed(t *testing.T) {
	recs := []Record{{At: 0, Frame: []byte{0x01}}}
	if err := Play(context.Background(), recs, -1, nil, func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPlay_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	recs := []Record{
		{At: 0, Frame: []byte{0x01}},
		{At: time.Hour, Frame: []byte{0x02}},
	}
	n := 0
	err := Play(ctx, recs, 1, nil, func([]byte) error {
		n++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want canceled", err)
	}
	if n != 1 {
		t.Fatalf("callbacks=%d want 1", n)
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ubxlog")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	f := ubx.Frame{Class: ubx.ClassMON, ID: ubx.IDMonVer}
	f.CkA, f.CkB = ubx.Checksum(f.Class, f.ID, nil)
	if err := w.WriteFrame(time.Unix(0, 20), f); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	if w.Frames() != 1 {
		t.Fatalf("frames=%d", w.Frames())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteFrame(time.Unix(0, 30), f); err == nil {
		t.Fatalf("expected error after Close")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(b) != "START\n20,b5620a0400000e34\n" {
		t.Fatalf("unexpected file contents: %q", string(b))
	}
}

func TestCapture_RoundTripThroughSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.ubxlog")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}

	in := [][]byte{
		ubx.EncodeMonHW(ubx.JammingReport{JammingState: ubx.JammingWarning}),
		ubx.EncodeNavStatus(ubx.SpoofingReport{SpoofState: ubx.SpoofNone}),
		ubx.EncodeNavPVT(ubx.FixReport{FixType: ubx.Fix3D, GNSSFixOK: true}),
	}
	now := time.Now()
	for _, raw := range in {
		frames := ubx.NewDecoder().Feed(raw)
		if len(frames) != 1 {
			t.Fatalf("fixture did not decode")
		}
		if err := w.WriteFrame(now, frames[0]); err != nil {
			t.Fatalf("WriteFrame() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	src := NewSource(context.Background(), "capture", recs, 0, nil)
	defer src.Close()

	var got []byte
	buf := make([]byte, 256)
	for {
		n, err := src.Read(buf)
		got = append(got, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
	}
	if want := bytes.Join(in, nil); !bytes.Equal(got, want) {
		t.Fatalf("replayed bytes differ\n got: %x\nwant: %x", got, want)
	}
}
