package ubx

import (
	"fmt"
	"math"
)

// The encoders below are the inverse of the interpreters. They are used to
// build receiver simulations and capture fixtures.

func EncodeMonHW(r JammingReport) []byte {
	p := make([]byte, monHWLen)
	le.PutUint16(p[16:], r.NoisePerMS)
	le.PutUint16(p[18:], r.AGCCnt)
	p[22] = byte(r.JammingState&0x03) << 2
	p[45] = r.JamInd
	return Encode(ClassMON, IDMonHW, p)
}

// EncodeMonRF packs all blocks into one MON-RF frame.
func EncodeMonRF(blocks []RfMeasurement) []byte {
	p := make([]byte, monRFHead+len(blocks)*monRFBlock)
	p[1] = byte(len(blocks))
	for i, m := range blocks {
		b := p[monRFHead+i*monRFBlock:]
		b[0] = m.BlockID
		b[1] = byte(m.JammingState & 0x03)
		b[2] = m.AntStatus
		b[3] = m.AntPower
		le.PutUint32(b[4:], m.PostStatus)
		le.PutUint16(b[12:], m.NoisePerMS)
		le.PutUint16(b[14:], m.AGCCnt)
		b[16] = m.JamInd
		b[17] = byte(m.OfsI)
		b[18] = m.MagI
		b[19] = byte(m.OfsQ)
		b[20] = m.MagQ
	}
	return Encode(ClassMON, IDMonRF, p)
}

func EncodeNavStatus(r SpoofingReport) []byte {
	p := make([]byte, navStatusLen)
	le.PutUint32(p[0:], r.ITOW)
	p[4] = byte(r.GPSFix)
	if r.GPSFixOK {
		p[5] |= 0x01
	}
	p[7] = byte(r.SpoofState&0x03) << 3
	return Encode(ClassNAV, IDNavStatus, p)
}

func EncodeNavPVT(r FixReport) []byte {
	p := make([]byte, navPVTLen)
	le.PutUint32(p[0:], r.ITOW)
	le.PutUint16(p[4:], r.Year)
	p[6], p[7], p[8], p[9], p[10] = r.Month, r.Day, r.Hour, r.Min, r.Sec
	p[11] = bits(r.ValidDate, r.ValidTime, r.FullyResolved, r.ValidMag)
	le.PutUint32(p[12:], r.TAcc)
	le.PutUint32(p[16:], uint32(r.Nano))
	p[20] = byte(r.FixType)
	p[21] = bits(r.GNSSFixOK, r.DiffSoln) | (r.PSMState&0x07)<<2 | bits(false, false, false, false, false, r.HeadVehValid) | (r.CarrSoln&0x03)<<6
	p[22] = bits(false, false, false, false, false, r.ConfirmedAvai, r.ConfirmedDate, r.ConfirmedTime)
	p[23] = r.NumSV
	le.PutUint32(p[24:], uint32(r.Lon))
	le.PutUint32(p[28:], uint32(r.Lat))
	le.PutUint32(p[32:], uint32(r.Height))
	le.PutUint32(p[36:], uint32(r.HMSL))
	le.PutUint32(p[40:], r.HAccMM)
	le.PutUint32(p[44:], r.VAccMM)
	le.PutUint32(p[48:], uint32(r.VelN))
	le.PutUint32(p[52:], uint32(r.VelE))
	le.PutUint32(p[56:], uint32(r.VelD))
	le.PutUint32(p[60:], uint32(r.GSpeed))
	le.PutUint32(p[64:], uint32(r.HeadMot))
	le.PutUint32(p[68:], r.SAcc)
	le.PutUint32(p[72:], r.HeadAcc)
	le.PutUint16(p[76:], r.PDOP)
	flags3 := uint16(r.LastCorrectionAge&0x0F) << 1
	if r.InvalidLLH {
		flags3 |= 0x01
	}
	le.PutUint16(p[78:], flags3)
	le.PutUint32(p[84:], uint32(r.HeadVeh))
	le.PutUint16(p[88:], uint16(r.MagDec))
	le.PutUint16(p[90:], r.MagAcc)
	return Encode(ClassNAV, IDNavPVT, p)
}

// EncodeRawx packs observations of one epoch into an RXM-RAWX frame. The
// epoch header is taken from the first observation.
func EncodeRawx(obs []RawObservation) ([]byte, error) {
	if len(obs) == 0 || len(obs) > 255 {
		return nil, fmt.Errorf("rawx: %d measurements", len(obs))
	}
	h := obs[0]
	p := make([]byte, rawxHead+len(obs)*rawxMeas)
	le.PutUint64(p[0:], math.Float64bits(h.RcvTow))
	le.PutUint16(p[8:], h.Week)
	p[10] = byte(h.LeapS)
	p[11] = byte(len(obs))
	p[12] = bits(h.LeapSec, h.ClkReset)
	p[13] = 0x01
	for i, o := range obs {
		m := p[rawxHead+i*rawxMeas:]
		le.PutUint64(m[0:], math.Float64bits(o.PrMes))
		le.PutUint64(m[8:], math.Float64bits(o.CpMes))
		le.PutUint32(m[16:], math.Float32bits(o.DoMes))
		m[20], m[21], m[22], m[23] = o.GNSSID, o.SvID, o.SigID, o.FreqID
		le.PutUint16(m[24:], o.Locktime)
		m[26] = o.CNo
		m[27] = o.PrStd & 0x0F
		m[28] = o.CpStd & 0x0F
		m[29] = o.DoStd & 0x0F
		m[30] = bits(o.PrValid, o.CpValid, o.HalfCyc, o.SubHalfCyc)
	}
	return Encode(ClassRXM, IDRxmRAWX, p), nil
}

func EncodeSfrbx(s Subframe) []byte {
	p := make([]byte, sfrbxHead+4*len(s.Words))
	p[0], p[1], p[2], p[3] = s.GNSSID, s.SvID, s.SigID, s.FreqID
	p[4] = byte(len(s.Words))
	p[5], p[6] = s.Chn, s.Version
	for i, w := range s.Words {
		le.PutUint32(p[sfrbxHead+4*i:], w)
	}
	return Encode(ClassRXM, IDRxmSFRBX, p)
}

func EncodeAck(a Ack) []byte {
	id := byte(IDAckNak)
	if a.OK {
		id = IDAckAck
	}
	return Encode(ClassACK, id, []byte{a.Class, a.ID})
}

// EncodeValGetResponse builds the receiver side of a CFG-VALGET exchange.
func EncodeValGetResponse(c ConfigValues) []byte {
	p := []byte{0x01, c.Layer, 0x00, 0x00}
	le.PutUint16(p[2:], c.Position)
	for _, kv := range c.Items() {
		p = le.AppendUint32(p, kv.Key)
		for i := 0; i < KeySize(kv.Key); i++ {
			p = append(p, byte(kv.Value>>(8*i)))
		}
	}
	return Encode(ClassCFG, IDCfgValGet, p)
}

func EncodeMonVer(v Version) []byte {
	p := make([]byte, monVerHead+len(v.Extensions)*monVerExt)
	copy(p[0:30], v.SW)
	copy(p[30:40], v.HW)
	for i, e := range v.Extensions {
		copy(p[monVerHead+i*monVerExt:monVerHead+(i+1)*monVerExt], e)
	}
	return Encode(ClassMON, IDMonVer, p)
}

func bits(flags ...bool) byte {
	var b byte
	for i, f := range flags {
		if f {
			b |= 1 << i
		}
	}
	return b
}
