package web

import (
	"sync/atomic"
	"time"
)

// Status serves the live receiver state. The provider is called on every
// request and must be safe for concurrent use.
type Status struct {
	startUnixNano int64
	session       atomic.Value // string
	device        atomic.Value // string
	provider      atomic.Value // func() any
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.session.Store("")
	s.device.Store("")
	s.provider.Store(func() any { return nil })
	return s
}

func (s *Status) SetStatic(session, device string) {
	if session != "" {
		s.session.Store(session)
	}
	if device != "" {
		s.device.Store(device)
	}
}

// SetProvider installs the function producing the receiver section.
func (s *Status) SetProvider(fn func() any) {
	if fn != nil {
		s.provider.Store(fn)
	}
}

type StatusSnapshot struct {
	Service   string `json:"service"`
	NowUTC    string `json:"now_utc"`
	UptimeSec int64  `json:"uptime_sec"`
	Session   string `json:"session"`
	Device    string `json:"device"`
	Receiver  any    `json:"receiver"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	return StatusSnapshot{
		Service:   "gnssmon",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Session:   s.session.Load().(string),
		Device:    s.device.Load().(string),
		Receiver:  s.provider.Load().(func() any)(),
	}
}
