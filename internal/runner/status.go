package runner

import (
	"strconv"
	"time"

	"gnssmon/internal/publish"
	"gnssmon/internal/rfstats"
	"gnssmon/internal/sink"
	"gnssmon/internal/ubx"
)

// Counters are the runner's message counters.
type Counters struct {
	Messages   uint64 `json:"messages"`
	Malformed  uint64 `json:"malformed"`
	Unknown    uint64 `json:"unknown"`
	Events     uint64 `json:"events"`
	Reconnects uint64 `json:"reconnects"`
}

// Status is the JSON view of a running session used by the status API, the
// UDP beacon and the retained MQTT status message.
type Status struct {
	Session     string            `json:"session"`
	State       string            `json:"state"`
	Device      string            `json:"device"`
	Jamming     string            `json:"jamming"`
	HWJamming   string            `json:"hw_jamming"`
	Blocks      map[string]string `json:"blocks"`
	Spoofing    string            `json:"spoofing"`
	Fix         string            `json:"fix"`
	GNSSFixOK   bool              `json:"gnss_fix_ok"`
	NumSV       uint8             `json:"num_sv"`
	HAccMM      uint32            `json:"hacc_mm"`
	LastUTC     string            `json:"last_utc"`
	ReceiverUTC string            `json:"receiver_utc,omitempty"`
	LastUpdate  string            `json:"last_update,omitempty"`

	Decoder   ubx.Stats          `json:"decoder"`
	Counters  Counters           `json:"counters"`
	RF        []rfstats.Block    `json:"rf"`
	Logs      []sink.StreamStats `json:"logs,omitempty"`
	Publisher *publish.Stats     `json:"mqtt,omitempty"`
}

// Status is safe to call from any goroutine.
func (r *Runner) Status() Status {
	snap := r.mon.Snapshot()

	blocks := make(map[string]string, len(snap.Blocks))
	for _, id := range snap.SortedBlocks() {
		blocks[strconv.Itoa(int(id))] = snap.Blocks[id].String()
	}

	st := Status{
		Session:   r.cfg.Session,
		State:     r.State(),
		Device:    r.device.Load().(string),
		Jamming:   snap.Jamming.String(),
		HWJamming: snap.HW.String(),
		Blocks:    blocks,
		Spoofing:  snap.Spoofing.String(),
		Fix:       snap.FixString(),
		GNSSFixOK: snap.GNSSFixOK,
		NumSV:     snap.NumSV,
		HAccMM:    snap.HAccMM,
		LastUTC:   snap.LastUTC,
		Decoder:   r.DecoderStats(),
		Counters: Counters{
			Messages:   r.messages.Load(),
			Malformed:  r.malformed.Load(),
			Unknown:    r.unknown.Load(),
			Events:     r.events.Load(),
			Reconnects: r.reconnects.Load(),
		},
		RF: r.rf.Blocks(),
	}
	if !snap.ReceiverTime.IsZero() {
		st.ReceiverUTC = snap.ReceiverTime.Format(time.RFC3339Nano)
	}
	if !snap.LastUpdate.IsZero() {
		st.LastUpdate = snap.LastUpdate.UTC().Format(time.RFC3339Nano)
	}
	if r.cfg.Sink != nil {
		st.Logs = r.cfg.Sink.Stats()
	}
	if r.cfg.Publisher != nil {
		ps := r.cfg.Publisher.Stats()
		st.Publisher = &ps
	}
	return st
}
