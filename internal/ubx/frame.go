package ubx

import (
	"encoding/binary"
	"fmt"
)

const (
	Sync1 = 0xB5
	Sync2 = 0x62

	// MaxPayload bounds the length field; anything larger is treated as a
	// corrupted header.
	MaxPayload = 8 * 1024

	headerLen   = 6
	checksumLen = 2
)

// Message classes and ids handled by this package.
const (
	ClassNAV = 0x01
	ClassRXM = 0x02
	ClassACK = 0x05
	ClassCFG = 0x06
	ClassMON = 0x0A

	IDNavStatus = 0x03
	IDNavPVT    = 0x07
	IDRxmSFRBX  = 0x13
	IDRxmRAWX   = 0x15
	IDAckNak    = 0x00
	IDAckAck    = 0x01
	IDCfgValSet = 0x8A
	IDCfgValGet = 0x8B
	IDMonVer    = 0x04
	IDMonHW     = 0x09
	IDMonRF     = 0x38
)

// Frame is one checksum-verified UBX message.
type Frame struct {
	Class   byte
	ID      byte
	Payload []byte
	CkA     byte
	CkB     byte
}

// Key identifies the message type of a frame.
func (f Frame) Key() uint16 { return uint16(f.Class)<<8 | uint16(f.ID) }

func (f Frame) String() string {
	return fmt.Sprintf("%s len=%d", Name(f.Class, f.ID), len(f.Payload))
}

// Bytes re-encodes the frame including sync bytes and checksum.
func (f Frame) Bytes() []byte {
	return Encode(f.Class, f.ID, f.Payload)
}

// Checksum computes the UBX 8-bit Fletcher checksum over class, id, length
// and payload.
func Checksum(class, id byte, payload []byte) (byte, byte) {
	var a, b byte
	add := func(v byte) {
		a += v
		b += a
	}
	add(class)
	add(id)
	add(byte(len(payload)))
	add(byte(len(payload) >> 8))
	for _, v := range payload {
		add(v)
	}
	return a, b
}

// Encode builds a complete UBX frame.
func Encode(class, id byte, payload []byte) []byte {
	out := make([]byte, 0, headerLen+len(payload)+checksumLen)
	out = append(out, Sync1, Sync2, class, id)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	a, b := Checksum(class, id, payload)
	return append(out, a, b)
}

// Poll builds a zero-length poll request for class/id.
func Poll(class, id byte) []byte {
	return Encode(class, id, nil)
}

var names = map[uint16]string{
	ClassNAV<<8 | IDNavStatus: "NAV-STATUS",
	ClassNAV<<8 | IDNavPVT:    "NAV-PVT",
	ClassRXM<<8 | IDRxmSFRBX:  "RXM-SFRBX",
	ClassRXM<<8 | IDRxmRAWX:   "RXM-RAWX",
	ClassACK<<8 | IDAckNak:    "ACK-NAK",
	ClassACK<<8 | IDAckAck:    "ACK-ACK",
	ClassCFG<<8 | IDCfgValSet: "CFG-VALSET",
	ClassCFG<<8 | IDCfgValGet: "CFG-VALGET",
	ClassMON<<8 | IDMonVer:    "MON-VER",
	ClassMON<<8 | IDMonHW:     "MON-HW",
	ClassMON<<8 | IDMonRF:     "MON-RF",
}

// Name returns the UBX name for class/id, or a hex form for unknown types.
func Name(class, id byte) string {
	if n, ok := names[uint16(class)<<8|uint16(id)]; ok {
		return n
	}
	return fmt.Sprintf("UBX-0x%02X-0x%02X", class, id)
}
