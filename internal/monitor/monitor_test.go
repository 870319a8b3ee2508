package monitor

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"gnssmon/internal/ubx"
)

type captureLog struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLog) logf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func (c *captureLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func TestMonitor_InitialSnapshot(t *testing.T) {
	m := New(Config{Logf: func(string, ...any) {}})
	s := m.Snapshot()
	if s.Jamming != ubx.JammingUnknown || s.Spoofing != ubx.SpoofUnknown {
		t.Fatalf("unexpected initial state %+v", s)
	}
	if s.FixString() != "unknown" {
		t.Fatalf("fix=%q want unknown", s.FixString())
	}
	if m.LastUTC() != "no_valid_date no_valid_time" {
		t.Fatalf("lastUTC=%q", m.LastUTC())
	}
}

func TestMonitor_ApplyIsIdempotent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	msgs := []ubx.Message{
		ubx.JammingReport{JammingState: ubx.JammingWarning},
		ubx.RfMeasurement{BlockID: 1, JammingState: ubx.JammingCritical},
		ubx.SpoofingReport{SpoofState: ubx.SpoofIndicated},
		ubx.FixReport{FixType: ubx.Fix3D, GNSSFixOK: true, NumSV: 9, ConfirmedDate: true, ConfirmedTime: true, Year: 2024, Month: 3, Day: 1, Hour: 12},
	}
	for _, msg := range msgs {
		log := &captureLog{}
		m := New(Config{Logf: log.logf})
		if evs := m.Apply(now, msg); len(evs) != 1 {
			t.Fatalf("%T: first apply events=%d want 1", msg, len(evs))
		}
		before := m.Snapshot()
		lines := log.count()

		if evs := m.Apply(now, msg); len(evs) != 0 {
			t.Fatalf("%T: second apply events=%v want none", msg, evs)
		}
		if after := m.Snapshot(); !reflect.DeepEqual(before, after) {
			t.Fatalf("%T: snapshot changed\nbefore=%+v\nafter=%+v", msg, before, after)
		}
		if log.count() != lines {
			t.Fatalf("%T: non-verbose repeat was logged", msg)
		}
	}
}

func TestMonitor_VerboseEchoesRepeats(t *testing.T) {
	log := &captureLog{}
	m := New(Config{Verbose: true, Logf: log.logf})
	msg := ubx.SpoofingReport{SpoofState: ubx.SpoofNone}
	m.Apply(time.Now(), msg)
	m.Apply(time.Now(), msg)
	if log.count() != 2 {
		t.Fatalf("lines=%d want 2 (%v)", log.count(), log.lines)
	}
}

func TestMonitor_FixOrdering(t *testing.T) {
	m := New(Config{Logf: func(string, ...any) {}})
	t0 := time.Unix(1700000000, 0)

	evs := m.Apply(t0, ubx.FixReport{FixType: ubx.FixNone})
	if len(evs) != 1 || evs[0].From != "unknown" || evs[0].To != "no_fix" || !evs[0].Alert {
		t.Fatalf("unexpected first event %+v", evs)
	}
	evs = m.Apply(t0.Add(time.Second), ubx.FixReport{FixType: ubx.Fix3D, GNSSFixOK: true, NumSV: 12})
	if len(evs) != 1 || evs[0].From != "no_fix" || evs[0].To != "3d" || evs[0].Alert {
		t.Fatalf("unexpected second event %+v", evs)
	}

	s := m.Snapshot()
	if !s.HaveFix || s.Fix != ubx.Fix3D || !s.GNSSFixOK || s.NumSV != 12 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if !s.LastUpdate.Equal(t0.Add(time.Second)) {
		t.Fatalf("lastUpdate=%v", s.LastUpdate)
	}
}

func TestMonitor_LastUTCFormat(t *testing.T) {
	m := New(Config{Logf: func(string, ...any) {}})
	m.Apply(time.Now(), ubx.FixReport{
		Year: 2024, Month: 2, Day: 7, Hour: 13, Min: 5, Sec: 9, Nano: 1234,
		ConfirmedDate: true, ConfirmedTime: true, FixType: ubx.Fix3D,
	})
	if got, want := m.LastUTC(), "2024-02-07 13:05:09 n=1234"; got != want {
		t.Fatalf("lastUTC=%q want %q", got, want)
	}
	if got, want := m.Snapshot().ReceiverTime, time.Date(2024, 2, 7, 13, 5, 9, 1234, time.UTC); !got.Equal(want) {
		t.Fatalf("receiverTime=%v want %v", got, want)
	}

	m.Apply(time.Now(), ubx.FixReport{Year: 2024, Month: 2, Day: 7, ConfirmedDate: true, FixType: ubx.Fix3D})
	if got, want := m.LastUTC(), "2024-02-07 no_valid_time"; got != want {
		t.Fatalf("lastUTC=%q want %q", got, want)
	}
	// Unconfirmed time keeps the last confirmed one.
	if got := m.Snapshot().ReceiverTime; got.Hour() != 13 {
		t.Fatalf("receiverTime=%v was overwritten", got)
	}
}

func TestMonitor_WorstBlockWins(t *testing.T) {
	m := New(Config{Logf: func(string, ...any) {}})
	now := time.Now()

	m.Apply(now, ubx.RfMeasurement{BlockID: 0, JammingState: ubx.JammingOK})
	m.Apply(now, ubx.RfMeasurement{BlockID: 1, JammingState: ubx.JammingCritical})
	if s := m.Snapshot(); s.Jamming != ubx.JammingCritical {
		t.Fatalf("jamming=%v want critical", s.Jamming)
	}

	held := m.Snapshot()
	evs := m.Apply(now, ubx.RfMeasurement{BlockID: 1, JammingState: ubx.JammingOK})
	if len(evs) != 1 || evs[0].Band != "L2 or L5" || evs[0].Alert {
		t.Fatalf("unexpected events %+v", evs)
	}
	if s := m.Snapshot(); s.Jamming != ubx.JammingOK {
		t.Fatalf("jamming=%v want ok", s.Jamming)
	}
	// Earlier snapshots keep their own view.
	if held.Blocks[1] != ubx.JammingCritical {
		t.Fatalf("held snapshot was mutated: %v", held.Blocks)
	}
	if ids := m.Snapshot().SortedBlocks(); !reflect.DeepEqual(ids, []uint8{0, 1}) {
		t.Fatalf("blocks=%v", ids)
	}
}

func TestMonitor_HWAndRFKeptApart(t *testing.T) {
	m := New(Config{Logf: func(string, ...any) {}})
	now := time.Unix(1700000000, 0)

	var evs []Event
	for epoch := 0; epoch < 5; epoch++ {
		at := now.Add(time.Duration(epoch) * time.Second)
		evs = append(evs, m.Apply(at, ubx.RfMeasurement{BlockID: 0, JammingState: ubx.JammingOK})...)
		evs = append(evs, m.Apply(at, ubx.JammingReport{JammingState: ubx.JammingWarning})...)
	}
	if len(evs) != 2 {
		t.Fatalf("events=%d want 2: %+v", len(evs), evs)
	}
	if evs[0].Source != "MON-RF" || evs[0].To != "ok" || evs[1].Source != "MON-HW" || evs[1].To != "warning" {
		t.Fatalf("unexpected events %+v", evs)
	}

	s := m.Snapshot()
	if s.Blocks[0] != ubx.JammingOK || len(s.Blocks) != 1 {
		t.Fatalf("blocks=%v", s.Blocks)
	}
	if !s.HaveHW || s.HW != ubx.JammingWarning || s.Jamming != ubx.JammingWarning {
		t.Fatalf("hw=%v jamming=%v", s.HW, s.Jamming)
	}

	evs = m.Apply(now, ubx.JammingReport{JammingState: ubx.JammingOK})
	if len(evs) != 1 || evs[0].From != "warning" {
		t.Fatalf("unexpected events %+v", evs)
	}
	if s := m.Snapshot(); s.Jamming != ubx.JammingOK {
		t.Fatalf("jamming=%v want ok", s.Jamming)
	}
}

func TestMonitor_JammingTextUsesBand(t *testing.T) {
	log := &captureLog{}
	m := New(Config{Logf: log.logf})
	m.Apply(time.Now(), ubx.JammingReport{JammingState: ubx.JammingCritical})
	if log.count() != 1 || !strings.Contains(log.lines[0], "critical - interference visible on L1 band and no fix") {
		t.Fatalf("unexpected log %v", log.lines)
	}
	if !strings.HasPrefix(log.lines[0], "no_valid_date no_valid_time: ") {
		t.Fatalf("line not stamped with lastUTC: %q", log.lines[0])
	}
}

func TestMonitor_IgnoresOtherMessages(t *testing.T) {
	m := New(Config{Logf: func(string, ...any) {}})
	before := m.Snapshot()
	if evs := m.Apply(time.Now(), ubx.Subframe{SvID: 3}); evs != nil {
		t.Fatalf("events=%v", evs)
	}
	if !reflect.DeepEqual(before, m.Snapshot()) {
		t.Fatalf("snapshot changed")
	}
}

func TestMonitor_RecentEvents(t *testing.T) {
	m := New(Config{RecentEvents: 2, Logf: func(string, ...any) {}})
	now := time.Now()
	for _, st := range []ubx.SpoofState{ubx.SpoofNone, ubx.SpoofIndicated, ubx.SpoofMultiple} {
		m.Apply(now, ubx.SpoofingReport{SpoofState: st})
	}
	evs, total := m.Recent(10)
	if total != 3 || len(evs) != 2 {
		t.Fatalf("total=%d len=%d", total, len(evs))
	}
	if evs[0].To != "indicated" || evs[1].To != "multiple" {
		t.Fatalf("unexpected order %+v", evs)
	}
}
