package ubx

import (
	"fmt"
	"time"
)

// Kind tags the concrete type behind a Message.
type Kind int

const (
	KindUnknown Kind = iota
	KindJamming
	KindSpoofing
	KindFix
	KindRawObservation
	KindRfMeasurement
	KindSubframe
	KindAck
	KindConfigValues
	KindVersion
)

func (k Kind) String() string {
	switch k {
	case KindJamming:
		return "jamming"
	case KindSpoofing:
		return "spoofing"
	case KindFix:
		return "fix"
	case KindRawObservation:
		return "raw_observation"
	case KindRfMeasurement:
		return "rf_measurement"
	case KindSubframe:
		return "subframe"
	case KindAck:
		return "ack"
	case KindConfigValues:
		return "config_values"
	case KindVersion:
		return "version"
	default:
		return "unknown"
	}
}

// Message is a decoded UBX message.
type Message interface {
	Kind() Kind
}

// JammingState is the receiver's interference verdict (MON-HW, MON-RF).
type JammingState uint8

const (
	JammingUnknown JammingState = iota
	JammingOK
	JammingWarning
	JammingCritical
)

func (s JammingState) String() string {
	switch s {
	case JammingOK:
		return "ok"
	case JammingWarning:
		return "warning"
	case JammingCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Describe returns the console wording used for a band in this state.
func (s JammingState) Describe(band string) string {
	switch s {
	case JammingOK:
		return "ok - no significant jamming on " + band + " band"
	case JammingWarning:
		return "warning - interference visible on " + band + " band but fix OK"
	case JammingCritical:
		return "critical - interference visible on " + band + " band and no fix"
	default:
		return "jamming state unknown on " + band + " band"
	}
}

// SpoofState is the spoofing detection state from NAV-STATUS.
type SpoofState uint8

const (
	SpoofUnknown SpoofState = iota
	SpoofNone
	SpoofIndicated
	SpoofMultiple
)

func (s SpoofState) String() string {
	switch s {
	case SpoofNone:
		return "none"
	case SpoofIndicated:
		return "indicated"
	case SpoofMultiple:
		return "multiple"
	default:
		return "unknown"
	}
}

func (s SpoofState) Describe() string {
	switch s {
	case SpoofNone:
		return "No spoofing indicated"
	case SpoofIndicated:
		return "Spoofing indicated"
	case SpoofMultiple:
		return "Multiple spoofing indications"
	default:
		return "Unknown spoofing detection state"
	}
}

// FixType is the NAV-PVT / NAV-STATUS fix type.
type FixType uint8

const (
	FixNone FixType = iota
	FixDeadReckoning
	Fix2D
	Fix3D
	FixGNSSDeadReckoning
	FixTimeOnly
)

func (f FixType) String() string {
	switch f {
	case FixNone:
		return "no_fix"
	case FixDeadReckoning:
		return "dead_reckoning"
	case Fix2D:
		return "2d"
	case Fix3D:
		return "3d"
	case FixGNSSDeadReckoning:
		return "gnss_dead_reckoning"
	case FixTimeOnly:
		return "time_only"
	default:
		return fmt.Sprintf("fix_%d", uint8(f))
	}
}

// BandName maps a MON-RF block id to the band it monitors.
func BandName(blockID uint8) string {
	switch blockID {
	case 0:
		return "L1"
	case 1:
		return "L2 or L5"
	default:
		return fmt.Sprintf("block %d", blockID)
	}
}

// JammingReport comes from MON-HW. It is the receiver's overall verdict
// and is not tied to a MON-RF block.
type JammingReport struct {
	NoisePerMS   uint16
	AGCCnt       uint16
	JamInd       uint8
	JammingState JammingState
}

func (JammingReport) Kind() Kind { return KindJamming }

// SpoofingReport comes from NAV-STATUS.
type SpoofingReport struct {
	ITOW       uint32
	GPSFix     FixType
	GPSFixOK   bool
	SpoofState SpoofState
}

func (SpoofingReport) Kind() Kind { return KindSpoofing }

// FixReport carries the NAV-PVT solution.
type FixReport struct {
	ITOW          uint32
	Year          uint16
	Month         uint8
	Day           uint8
	Hour          uint8
	Min           uint8
	Sec           uint8
	ValidDate     bool
	ValidTime     bool
	FullyResolved bool
	ValidMag      bool
	TAcc          uint32
	Nano          int32

	FixType       FixType
	GNSSFixOK     bool
	DiffSoln      bool
	PSMState      uint8
	HeadVehValid  bool
	CarrSoln      uint8
	ConfirmedAvai bool
	ConfirmedDate bool
	ConfirmedTime bool
	NumSV         uint8

	Lon     int32 // 1e-7 deg
	Lat     int32 // 1e-7 deg
	Height  int32 // mm
	HMSL    int32 // mm
	HAccMM  uint32
	VAccMM  uint32
	VelN    int32 // mm/s
	VelE    int32
	VelD    int32
	GSpeed  int32
	HeadMot int32 // 1e-5 deg
	SAcc    uint32
	HeadAcc uint32
	PDOP    uint16 // 0.01

	InvalidLLH        bool
	LastCorrectionAge uint8
	HeadVeh           int32
	MagDec            int16
	MagAcc            uint16
}

func (FixReport) Kind() Kind { return KindFix }

// UTC returns the solution time when the receiver confirmed both date and
// time.
func (r FixReport) UTC() (time.Time, bool) {
	if !r.ConfirmedDate || !r.ConfirmedTime {
		return time.Time{}, false
	}
	t := time.Date(int(r.Year), time.Month(r.Month), int(r.Day), int(r.Hour), int(r.Min), int(r.Sec), 0, time.UTC)
	return t.Add(time.Duration(r.Nano)), true
}

// RawObservation is one RXM-RAWX measurement together with its epoch header.
type RawObservation struct {
	RcvTow   float64
	Week     uint16
	LeapS    int8
	LeapSec  bool
	ClkReset bool
	NumMeas  uint8

	PrMes    float64
	CpMes    float64
	DoMes    float32
	GNSSID   uint8
	SvID     uint8
	SigID    uint8
	FreqID   uint8
	Locktime uint16
	CNo      uint8
	PrStd    uint8
	CpStd    uint8
	DoStd    uint8

	PrValid    bool
	CpValid    bool
	HalfCyc    bool
	SubHalfCyc bool
}

func (RawObservation) Kind() Kind { return KindRawObservation }

// RfMeasurement is one MON-RF block.
type RfMeasurement struct {
	BlockID      uint8
	JammingState JammingState
	AntStatus    uint8
	AntPower     uint8
	PostStatus   uint32
	NoisePerMS   uint16
	AGCCnt       uint16
	JamInd       uint8
	OfsI         int8
	MagI         uint8
	OfsQ         int8
	MagQ         uint8
}

func (RfMeasurement) Kind() Kind { return KindRfMeasurement }

// Subframe is an RXM-SFRBX broadcast navigation subframe.
type Subframe struct {
	GNSSID  uint8
	SvID    uint8
	SigID   uint8
	FreqID  uint8
	Chn     uint8
	Version uint8
	Words   []uint32
}

func (Subframe) Kind() Kind { return KindSubframe }

// Ack is an ACK-ACK or ACK-NAK for the message class/id it names.
type Ack struct {
	OK    bool
	Class byte
	ID    byte
}

func (Ack) Kind() Kind { return KindAck }

// ConfigValues is a CFG-VALGET response.
type ConfigValues struct {
	Layer    uint8
	Position uint16
	Values   map[uint32]uint64
}

func (ConfigValues) Kind() Kind { return KindConfigValues }

// Version is a MON-VER response. Strings are NUL-trimmed.
type Version struct {
	SW         string
	HW         string
	Extensions []string
}

func (Version) Kind() Kind { return KindVersion }

// Unknown is any frame without an interpretation. Malformed is set when the
// class/id is known but the payload shape is not.
type Unknown struct {
	Class     byte
	ID        byte
	Length    int
	Malformed bool
	Reason    string
}

func (Unknown) Kind() Kind { return KindUnknown }
