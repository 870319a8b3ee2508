package ubx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Payload sizes from the u-blox F9 interface description.
const (
	navPVTLen    = 92
	navStatusLen = 16
	monHWLen     = 60
	monRFHead    = 4
	monRFBlock   = 24
	rawxHead     = 16
	rawxMeas     = 32
	sfrbxHead    = 8
	ackLen       = 2
	valGetHead   = 4
	monVerHead   = 40
	monVerExt    = 30
)

var le = binary.LittleEndian

type interpretFunc func(f Frame) ([]Message, error)

var interpreters = map[uint16]interpretFunc{
	ClassMON<<8 | IDMonHW:     interpretMonHW,
	ClassMON<<8 | IDMonRF:     interpretMonRF,
	ClassNAV<<8 | IDNavStatus: interpretNavStatus,
	ClassNAV<<8 | IDNavPVT:    interpretNavPVT,
	ClassRXM<<8 | IDRxmRAWX:   interpretRawx,
	ClassRXM<<8 | IDRxmSFRBX:  interpretSfrbx,
	ClassACK<<8 | IDAckAck:    interpretAck,
	ClassACK<<8 | IDAckNak:    interpretAck,
	ClassCFG<<8 | IDCfgValGet: interpretValGet,
	ClassMON<<8 | IDMonVer:    interpretMonVer,
}

// Interpret decodes a frame into typed messages. Multi-block messages
// (MON-RF, RXM-RAWX) yield one message per block. Frames without an
// interpreter, or with a payload that does not fit the layout, yield a single
// Unknown.
func Interpret(f Frame) []Message {
	fn, ok := interpreters[f.Key()]
	if !ok {
		return []Message{Unknown{Class: f.Class, ID: f.ID, Length: len(f.Payload)}}
	}
	msgs, err := fn(f)
	if err != nil {
		return []Message{Unknown{Class: f.Class, ID: f.ID, Length: len(f.Payload), Malformed: true, Reason: err.Error()}}
	}
	return msgs
}

func wantLen(f Frame, n int) error {
	if len(f.Payload) != n {
		return fmt.Errorf("%s: payload length %d, want %d", Name(f.Class, f.ID), len(f.Payload), n)
	}
	return nil
}

func interpretMonHW(f Frame) ([]Message, error) {
	if err := wantLen(f, monHWLen); err != nil {
		return nil, err
	}
	p := f.Payload
	return []Message{JammingReport{
		NoisePerMS:   le.Uint16(p[16:]),
		AGCCnt:       le.Uint16(p[18:]),
		JammingState: JammingState((p[22] >> 2) & 0x03),
		JamInd:       p[45],
	}}, nil
}

func interpretMonRF(f Frame) ([]Message, error) {
	p := f.Payload
	if len(p) < monRFHead {
		return nil, fmt.Errorf("MON-RF: payload length %d too short", len(p))
	}
	n := int(p[1])
	if err := wantLen(f, monRFHead+n*monRFBlock); err != nil {
		return nil, err
	}
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		b := p[monRFHead+i*monRFBlock:]
		out = append(out, RfMeasurement{
			BlockID:      b[0],
			JammingState: JammingState(b[1] & 0x03),
			AntStatus:    b[2],
			AntPower:     b[3],
			PostStatus:   le.Uint32(b[4:]),
			NoisePerMS:   le.Uint16(b[12:]),
			AGCCnt:       le.Uint16(b[14:]),
			JamInd:       b[16],
			OfsI:         int8(b[17]),
			MagI:         b[18],
			OfsQ:         int8(b[19]),
			MagQ:         b[20],
		})
	}
	return out, nil
}

func interpretNavStatus(f Frame) ([]Message, error) {
	if err := wantLen(f, navStatusLen); err != nil {
		return nil, err
	}
	p := f.Payload
	return []Message{SpoofingReport{
		ITOW:       le.Uint32(p[0:]),
		GPSFix:     FixType(p[4]),
		GPSFixOK:   p[5]&0x01 != 0,
		SpoofState: SpoofState((p[7] >> 3) & 0x03),
	}}, nil
}

func interpretNavPVT(f Frame) ([]Message, error) {
	if err := wantLen(f, navPVTLen); err != nil {
		return nil, err
	}
	p := f.Payload
	valid := p[11]
	flags := p[21]
	flags2 := p[22]
	flags3 := le.Uint16(p[78:])
	return []Message{FixReport{
		ITOW:          le.Uint32(p[0:]),
		Year:          le.Uint16(p[4:]),
		Month:         p[6],
		Day:           p[7],
		Hour:          p[8],
		Min:           p[9],
		Sec:           p[10],
		ValidDate:     valid&0x01 != 0,
		ValidTime:     valid&0x02 != 0,
		FullyResolved: valid&0x04 != 0,
		ValidMag:      valid&0x08 != 0,
		TAcc:          le.Uint32(p[12:]),
		Nano:          int32(le.Uint32(p[16:])),

		FixType:       FixType(p[20]),
		GNSSFixOK:     flags&0x01 != 0,
		DiffSoln:      flags&0x02 != 0,
		PSMState:      (flags >> 2) & 0x07,
		HeadVehValid:  flags&0x20 != 0,
		CarrSoln:      (flags >> 6) & 0x03,
		ConfirmedAvai: flags2&0x20 != 0,
		ConfirmedDate: flags2&0x40 != 0,
		ConfirmedTime: flags2&0x80 != 0,
		NumSV:         p[23],

		Lon:     int32(le.Uint32(p[24:])),
		Lat:     int32(le.Uint32(p[28:])),
		Height:  int32(le.Uint32(p[32:])),
		HMSL:    int32(le.Uint32(p[36:])),
		HAccMM:  le.Uint32(p[40:]),
		VAccMM:  le.Uint32(p[44:]),
		VelN:    int32(le.Uint32(p[48:])),
		VelE:    int32(le.Uint32(p[52:])),
		VelD:    int32(le.Uint32(p[56:])),
		GSpeed:  int32(le.Uint32(p[60:])),
		HeadMot: int32(le.Uint32(p[64:])),
		SAcc:    le.Uint32(p[68:]),
		HeadAcc: le.Uint32(p[72:]),
		PDOP:    le.Uint16(p[76:]),

		InvalidLLH:        flags3&0x01 != 0,
		LastCorrectionAge: uint8((flags3 >> 1) & 0x0F),
		HeadVeh:           int32(le.Uint32(p[84:])),
		MagDec:            int16(le.Uint16(p[88:])),
		MagAcc:            le.Uint16(p[90:]),
	}}, nil
}

func interpretRawx(f Frame) ([]Message, error) {
	p := f.Payload
	if len(p) < rawxHead {
		return nil, fmt.Errorf("RXM-RAWX: payload length %d too short", len(p))
	}
	n := int(p[11])
	if err := wantLen(f, rawxHead+n*rawxMeas); err != nil {
		return nil, err
	}
	head := RawObservation{
		RcvTow:   math.Float64frombits(le.Uint64(p[0:])),
		Week:     le.Uint16(p[8:]),
		LeapS:    int8(p[10]),
		NumMeas:  p[11],
		LeapSec:  p[12]&0x01 != 0,
		ClkReset: p[12]&0x02 != 0,
	}
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		m := p[rawxHead+i*rawxMeas:]
		obs := head
		obs.PrMes = math.Float64frombits(le.Uint64(m[0:]))
		obs.CpMes = math.Float64frombits(le.Uint64(m[8:]))
		obs.DoMes = math.Float32frombits(le.Uint32(m[16:]))
		obs.GNSSID = m[20]
		obs.SvID = m[21]
		obs.SigID = m[22]
		obs.FreqID = m[23]
		obs.Locktime = le.Uint16(m[24:])
		obs.CNo = m[26]
		obs.PrStd = m[27] & 0x0F
		obs.CpStd = m[28] & 0x0F
		obs.DoStd = m[29] & 0x0F
		trk := m[30]
		obs.PrValid = trk&0x01 != 0
		obs.CpValid = trk&0x02 != 0
		obs.HalfCyc = trk&0x04 != 0
		obs.SubHalfCyc = trk&0x08 != 0
		out = append(out, obs)
	}
	return out, nil
}

func interpretSfrbx(f Frame) ([]Message, error) {
	p := f.Payload
	if len(p) < sfrbxHead {
		return nil, fmt.Errorf("RXM-SFRBX: payload length %d too short", len(p))
	}
	n := int(p[4])
	if err := wantLen(f, sfrbxHead+4*n); err != nil {
		return nil, err
	}
	words := make([]uint32, n)
	for i := range words {
		words[i] = le.Uint32(p[sfrbxHead+4*i:])
	}
	return []Message{Subframe{
		GNSSID:  p[0],
		SvID:    p[1],
		SigID:   p[2],
		FreqID:  p[3],
		Chn:     p[5],
		Version: p[6],
		Words:   words,
	}}, nil
}

func interpretAck(f Frame) ([]Message, error) {
	if err := wantLen(f, ackLen); err != nil {
		return nil, err
	}
	return []Message{Ack{OK: f.ID == IDAckAck, Class: f.Payload[0], ID: f.Payload[1]}}, nil
}

func interpretValGet(f Frame) ([]Message, error) {
	p := f.Payload
	if len(p) < valGetHead {
		return nil, fmt.Errorf("CFG-VALGET: payload length %d too short", len(p))
	}
	cv := ConfigValues{Layer: p[1], Position: le.Uint16(p[2:]), Values: map[uint32]uint64{}}
	rest := p[valGetHead:]
	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, fmt.Errorf("CFG-VALGET: truncated key")
		}
		key := le.Uint32(rest)
		size := KeySize(key)
		if size == 0 || len(rest) < 4+size {
			return nil, fmt.Errorf("CFG-VALGET: bad value for key 0x%08x", key)
		}
		var v uint64
		for i := 0; i < size; i++ {
			v |= uint64(rest[4+i]) << (8 * i)
		}
		cv.Values[key] = v
		rest = rest[4+size:]
	}
	return []Message{cv}, nil
}

func interpretMonVer(f Frame) ([]Message, error) {
	p := f.Payload
	if len(p) < monVerHead || (len(p)-monVerHead)%monVerExt != 0 {
		return nil, fmt.Errorf("MON-VER: payload length %d", len(p))
	}
	v := Version{SW: cstring(p[0:30]), HW: cstring(p[30:40])}
	for off := monVerHead; off < len(p); off += monVerExt {
		v.Extensions = append(v.Extensions, cstring(p[off:off+monVerExt]))
	}
	return []Message{v}, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
