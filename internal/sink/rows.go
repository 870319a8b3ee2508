package sink

import (
	"fmt"
	"strconv"

	"gnssmon/internal/ubx"
)

// Stream names. They double as the file name prefix.
const (
	RawObservations = "RXM_RAWX"
	RFMeasurements  = "MON_RF"
	Subframes       = "RXM_SFRBX"
	PVT             = "NAV_PVT"
)

// AllStreams lists every stream in file creation order.
var AllStreams = []string{RawObservations, Subframes, RFMeasurements, PVT}

// sfrbxWords is the number of dwrd_ columns. GPS L1 C/A subframes carry 10
// words; longer subframes are truncated and shorter ones padded.
const sfrbxWords = 10

// LogRecord is one row waiting to be written.
type LogRecord struct {
	Stream       string
	ReceiverTime string
	Spoofing     ubx.SpoofState
	Message      ubx.Message
}

// StreamFor returns the stream a message is logged to.
func StreamFor(msg ubx.Message) (string, bool) {
	switch msg.(type) {
	case ubx.RawObservation:
		return RawObservations, true
	case ubx.RfMeasurement:
		return RFMeasurements, true
	case ubx.Subframe:
		return Subframes, true
	case ubx.FixReport:
		return PVT, true
	default:
		return "", false
	}
}

// Header returns the column names for a stream.
func Header(stream string) []string {
	switch stream {
	case RawObservations:
		return []string{"lastUTC", "rcvTow", "week", "leapS", "leapSec", "clkReset",
			"prMes", "cpMes", "doMes", "gnssId", "svId", "sigId", "freqId", "locktime", "cno",
			"prStd", "cpStd", "doStd", "prValid", "cpValid", "halfCyc", "subHalfCyc"}
	case RFMeasurements:
		return []string{"lastUTC", "blockId", "jammingState", "spoofDetState", "antStatus", "antPower",
			"postStatus", "noisePerMS", "agcCnt", "jamInd", "ofsI", "magI", "ofsQ", "magQ"}
	case Subframes:
		h := []string{"lastUTC", "gnssId", "svId", "sigId", "freqId", "chn", "version"}
		for i := 1; i <= sfrbxWords; i++ {
			h = append(h, fmt.Sprintf("dwrd_%02d", i))
		}
		return h
	case PVT:
		return []string{"lastUTC", "iTOW", "year", "month", "day", "hour", "min", "second",
			"validDate", "validTime", "fullyResolved", "validMag", "tAcc", "nano", "fixType",
			"gnssFixOk", "difSoln", "psmState", "headVehValid", "carrSoln", "confirmedAvai",
			"confirmedDate", "confirmedTime", "numSV", "lon", "lat", "height", "hMSL", "hAcc",
			"vAcc", "velN", "velE", "velD", "gSpeed", "headMot", "sAcc", "headAcc", "pDOP",
			"invalidLlh", "lastCorrectionAge", "headVeh", "magDec", "magAcc"}
	default:
		return nil
	}
}

// Row renders a record as CSV fields matching Header(rec.Stream).
func Row(rec LogRecord) ([]string, error) {
	switch m := rec.Message.(type) {
	case ubx.RawObservation:
		return []string{rec.ReceiverTime,
			f64(m.RcvTow), u(m.Week), i(m.LeapS), b(m.LeapSec), b(m.ClkReset),
			f64(m.PrMes), f64(m.CpMes), strconv.FormatFloat(float64(m.DoMes), 'g', -1, 32),
			u(m.GNSSID), u(m.SvID), u(m.SigID), u(m.FreqID), u(m.Locktime), u(m.CNo),
			u(m.PrStd), u(m.CpStd), u(m.DoStd),
			b(m.PrValid), b(m.CpValid), b(m.HalfCyc), b(m.SubHalfCyc),
		}, nil
	case ubx.RfMeasurement:
		return []string{rec.ReceiverTime,
			u(m.BlockID), u(m.JammingState), u(rec.Spoofing), u(m.AntStatus), u(m.AntPower),
			u(m.PostStatus), u(m.NoisePerMS), u(m.AGCCnt), u(m.JamInd),
			i(m.OfsI), u(m.MagI), i(m.OfsQ), u(m.MagQ),
		}, nil
	case ubx.Subframe:
		row := []string{rec.ReceiverTime, u(m.GNSSID), u(m.SvID), u(m.SigID), u(m.FreqID), u(m.Chn), u(m.Version)}
		for n := 0; n < sfrbxWords; n++ {
			if n < len(m.Words) {
				row = append(row, u(m.Words[n]))
			} else {
				row = append(row, "")
			}
		}
		return row, nil
	case ubx.FixReport:
		return []string{rec.ReceiverTime,
			u(m.ITOW), u(m.Year), u(m.Month), u(m.Day), u(m.Hour), u(m.Min), u(m.Sec),
			b(m.ValidDate), b(m.ValidTime), b(m.FullyResolved), b(m.ValidMag), u(m.TAcc), i(m.Nano),
			u(m.FixType), b(m.GNSSFixOK), b(m.DiffSoln), u(m.PSMState), b(m.HeadVehValid), u(m.CarrSoln),
			b(m.ConfirmedAvai), b(m.ConfirmedDate), b(m.ConfirmedTime), u(m.NumSV),
			i(m.Lon), i(m.Lat), i(m.Height), i(m.HMSL), u(m.HAccMM), u(m.VAccMM),
			i(m.VelN), i(m.VelE), i(m.VelD), i(m.GSpeed), i(m.HeadMot), u(m.SAcc), u(m.HeadAcc), u(m.PDOP),
			b(m.InvalidLLH), u(m.LastCorrectionAge), i(m.HeadVeh), i(m.MagDec), u(m.MagAcc),
		}, nil
	default:
		return nil, fmt.Errorf("no row layout for %T", rec.Message)
	}
}

type unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

type signed interface {
	~int8 | ~int16 | ~int32 | ~int64
}

func u[T unsigned](v T) string { return strconv.FormatUint(uint64(v), 10) }
func i[T signed](v T) string   { return strconv.FormatInt(int64(v), 10) }
func f64(v float64) string     { return strconv.FormatFloat(v, 'g', -1, 64) }

func b(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
