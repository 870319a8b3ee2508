package ubx

type decodeState int

const (
	stateSync1 decodeState = iota
	stateSync2
	stateHeader
	statePayload
	stateChecksum
)

// Stats counts decoder outcomes since creation. Counters survive Reset.
type Stats struct {
	Frames         uint64 `json:"frames"`
	Bytes          uint64 `json:"bytes"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	LengthErrors   uint64 `json:"length_errors"`
	SyncSlips      uint64 `json:"sync_slips"`
}

// Corrupt is the number of frames discarded after a valid sync pair.
// SyncSlips are not included: a 0xB5 without 0x62 never started a frame and
// is reported on its own.
func (s Stats) Corrupt() uint64 { return s.ChecksumErrors + s.LengthErrors }

// Decoder extracts UBX frames from a byte stream. It keeps partial frames
// between Feed calls, so reads may be split at any byte boundary.
//
// After a checksum mismatch the decoder restarts the sync search at the byte
// following the checksum. Payload bytes of the rejected frame are never
// rescanned, so sync-looking bytes inside payloads cannot start a frame.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	state  decodeState
	header [4]byte
	hdrN   int
	length int
	buf    []byte
	ck     [2]byte
	ckN    int

	stats Stats
}

func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 1024)}
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.state = stateSync1
	d.hdrN = 0
	d.length = 0
	d.buf = d.buf[:0]
	d.ckN = 0
}

func (d *Decoder) Stats() Stats { return d.stats }

// Feed consumes p and returns the frames completed by it, in stream order.
// Returned payloads are owned by the caller.
func (d *Decoder) Feed(p []byte) []Frame {
	var out []Frame
	d.stats.Bytes += uint64(len(p))
	for _, b := range p {
		if f, ok := d.step(b); ok {
			out = append(out, f)
		}
	}
	return out
}

func (d *Decoder) step(b byte) (Frame, bool) {
	switch d.state {
	case stateSync1:
		if b == Sync1 {
			d.state = stateSync2
		}
	case stateSync2:
		switch b {
		case Sync2:
			d.state = stateHeader
			d.hdrN = 0
		case Sync1:
			// B5 B5 62: the second B5 may start the real frame.
			d.stats.SyncSlips++
		default:
			d.stats.SyncSlips++
			d.state = stateSync1
		}
	case stateHeader:
		d.header[d.hdrN] = b
		d.hdrN++
		if d.hdrN < len(d.header) {
			return Frame{}, false
		}
		d.length = int(d.header[2]) | int(d.header[3])<<8
		if d.length > MaxPayload {
			d.stats.LengthErrors++
			d.Reset()
			return Frame{}, false
		}
		d.buf = d.buf[:0]
		d.ckN = 0
		if d.length == 0 {
			d.state = stateChecksum
		} else {
			d.state = statePayload
		}
	case statePayload:
		d.buf = append(d.buf, b)
		if len(d.buf) == d.length {
			d.state = stateChecksum
		}
	case stateChecksum:
		d.ck[d.ckN] = b
		d.ckN++
		if d.ckN < len(d.ck) {
			return Frame{}, false
		}
		class, id := d.header[0], d.header[1]
		a, bb := Checksum(class, id, d.buf)
		if a != d.ck[0] || bb != d.ck[1] {
			d.stats.ChecksumErrors++
			d.Reset()
			return Frame{}, false
		}
		payload := make([]byte, len(d.buf))
		copy(payload, d.buf)
		d.stats.Frames++
		d.Reset()
		return Frame{Class: class, ID: id, Payload: payload, CkA: a, CkB: bb}, true
	}
	return Frame{}, false
}
