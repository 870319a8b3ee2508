package monitor

import (
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"gnssmon/internal/ubx"
)

// Config controls console output and event retention.
type Config struct {
	// Verbose echoes every report, not only state transitions.
	Verbose bool
	// RecentEvents is the number of events kept for Recent. Default 256.
	RecentEvents int
	// Logf receives console lines. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

// Event is a discrete state transition.
type Event struct {
	At      time.Time `json:"at"`
	LastUTC string    `json:"last_utc"`
	Kind    string    `json:"kind"`
	Band    string    `json:"band,omitempty"`
	Source  string    `json:"source,omitempty"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Alert   bool      `json:"alert"`
	Text    string    `json:"text"`
}

// Snapshot is a consistent view of the monitored state.
type Snapshot struct {
	// Jamming is the worst of HW and all Blocks.
	Jamming ubx.JammingState
	// Blocks holds the last jamming state per MON-RF block id.
	Blocks map[uint8]ubx.JammingState
	// HW is the last MON-HW verdict, kept apart from the MON-RF blocks.
	HW       ubx.JammingState
	HaveHW   bool
	Spoofing ubx.SpoofState

	HaveFix   bool
	Fix       ubx.FixType
	GNSSFixOK bool
	NumSV     uint8
	HAccMM    uint32

	LastUTC string
	// ReceiverTime is the last confirmed NAV-PVT time, zero until then.
	ReceiverTime time.Time
	LastUpdate   time.Time
}

// FixString renders the fix type, or "unknown" before the first report.
func (s Snapshot) FixString() string {
	if !s.HaveFix {
		return "unknown"
	}
	return s.Fix.String()
}

// Monitor turns decoded messages into jamming, spoofing and fix state.
//
// Apply must only be called from one goroutine. Snapshot, LastUTC and Recent
// are safe from any goroutine.
type Monitor struct {
	cfg Config

	cur  Snapshot
	date string
	tod  string

	snap   atomic.Value // Snapshot
	recent *eventRing
}

func New(cfg Config) *Monitor {
	if cfg.RecentEvents <= 0 {
		cfg.RecentEvents = 256
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	m := &Monitor{
		cfg:    cfg,
		cur:    Snapshot{Blocks: map[uint8]ubx.JammingState{}},
		date:   "no_valid_date",
		tod:    "no_valid_time",
		recent: newEventRing(cfg.RecentEvents),
	}
	m.cur.LastUTC = m.date + " " + m.tod
	m.publish()
	return m
}

// Apply updates the state from msg and returns the transitions it caused.
// Messages that carry no monitored state are ignored.
func (m *Monitor) Apply(now time.Time, msg ubx.Message) []Event {
	var evs []Event
	switch v := msg.(type) {
	case ubx.JammingReport:
		evs = m.applyHW(now, v.JammingState)
	case ubx.RfMeasurement:
		evs = m.applyJamming(now, v.BlockID, v.JammingState)
	case ubx.SpoofingReport:
		evs = m.applySpoofing(now, v.SpoofState)
	case ubx.FixReport:
		evs = m.applyFix(now, v)
	default:
		return nil
	}
	m.cur.LastUpdate = now
	m.publish()
	for _, ev := range evs {
		m.recent.add(ev)
	}
	return evs
}

func (m *Monitor) applyJamming(now time.Time, block uint8, st ubx.JammingState) []Event {
	band := ubx.BandName(block)
	prev, seen := m.cur.Blocks[block]
	if seen && prev == st {
		m.echo(st.Describe(band))
		return nil
	}

	// Blocks is shared with published snapshots, so replace rather than mutate.
	blocks := make(map[uint8]ubx.JammingState, len(m.cur.Blocks)+1)
	for k, v := range m.cur.Blocks {
		blocks[k] = v
	}
	blocks[block] = st
	m.cur.Blocks = blocks
	m.cur.Jamming = m.worst()

	if !seen && st == ubx.JammingUnknown {
		m.echo(st.Describe(band))
		return nil
	}
	return []Event{m.jammingEvent(now, "MON-RF", band, prev, st)}
}

// MON-HW reports on the primary front end.
const hwBand = "L1"

func (m *Monitor) applyHW(now time.Time, st ubx.JammingState) []Event {
	prev, seen := m.cur.HW, m.cur.HaveHW
	if seen && prev == st {
		m.echo(st.Describe(hwBand))
		return nil
	}
	m.cur.HW = st
	m.cur.HaveHW = true
	m.cur.Jamming = m.worst()

	if !seen && st == ubx.JammingUnknown {
		m.echo(st.Describe(hwBand))
		return nil
	}
	return []Event{m.jammingEvent(now, "MON-HW", hwBand, prev, st)}
}

func (m *Monitor) jammingEvent(now time.Time, source, band string, prev, st ubx.JammingState) Event {
	ev := m.event(now, "jamming", band, prev.String(), st.String(), st != ubx.JammingOK, st.Describe(band))
	ev.Source = source
	return ev
}

func (m *Monitor) applySpoofing(now time.Time, st ubx.SpoofState) []Event {
	prev := m.cur.Spoofing
	if prev == st {
		m.echo(st.Describe())
		return nil
	}
	m.cur.Spoofing = st
	return []Event{m.event(now, "spoofing", "", prev.String(), st.String(), st != ubx.SpoofNone, st.Describe())}
}

func (m *Monitor) applyFix(now time.Time, r ubx.FixReport) []Event {
	if r.ConfirmedDate {
		m.date = fmt.Sprintf("%04d-%02d-%02d", r.Year, r.Month, r.Day)
	} else {
		m.date = "no_valid_date"
	}
	if r.ConfirmedTime {
		m.tod = fmt.Sprintf("%02d:%02d:%02d n=%d", r.Hour, r.Min, r.Sec, r.Nano)
	} else {
		m.tod = "no_valid_time"
	}
	m.cur.LastUTC = m.date + " " + m.tod
	if t, ok := r.UTC(); ok {
		m.cur.ReceiverTime = t
	}
	m.cur.NumSV = r.NumSV
	m.cur.HAccMM = r.HAccMM

	prevFix := m.cur.FixString()
	prevOK := m.cur.GNSSFixOK
	changed := !m.cur.HaveFix || m.cur.Fix != r.FixType || prevOK != r.GNSSFixOK
	m.cur.HaveFix = true
	m.cur.Fix = r.FixType
	m.cur.GNSSFixOK = r.GNSSFixOK

	text := "Valid fix"
	if !r.GNSSFixOK {
		text = "No valid fix"
	}
	text = fmt.Sprintf("%s (%s, %d SVs)", text, r.FixType, r.NumSV)
	if !changed {
		m.echo(text)
		return nil
	}
	return []Event{m.event(now, "fix", "", prevFix, r.FixType.String(), !r.GNSSFixOK, text)}
}

func (m *Monitor) event(now time.Time, kind, band, from, to string, alert bool, text string) Event {
	ev := Event{At: now, LastUTC: m.cur.LastUTC, Kind: kind, Band: band, From: from, To: to, Alert: alert, Text: text}
	m.say(text)
	return ev
}

func (m *Monitor) say(text string) {
	m.cfg.Logf("%s: %s", m.cur.LastUTC, text)
}

func (m *Monitor) echo(text string) {
	if m.cfg.Verbose {
		m.say(text)
	}
}

func (m *Monitor) publish() {
	m.snap.Store(m.cur)
}

// Snapshot returns the current state. The Blocks map must not be modified.
func (m *Monitor) Snapshot() Snapshot {
	return m.snap.Load().(Snapshot)
}

// LastUTC is the last receiver-confirmed UTC, used to stamp log rows.
func (m *Monitor) LastUTC() string {
	return m.Snapshot().LastUTC
}

// Recent returns up to n recent events (oldest first) and the total number
// of events emitted since start.
func (m *Monitor) Recent(n int) ([]Event, uint64) {
	return m.recent.tail(n)
}

// SortedBlocks returns block ids in ascending order.
func (s Snapshot) SortedBlocks() []uint8 {
	ids := make([]uint8, 0, len(s.Blocks))
	for id := range s.Blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Monitor) worst() ubx.JammingState {
	w := m.cur.HW
	for _, st := range m.cur.Blocks {
		if st > w {
			w = st
		}
	}
	return w
}
