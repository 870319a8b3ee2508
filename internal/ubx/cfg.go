package ubx

import (
	"fmt"
	"sort"
)

// Configuration keys (u-blox F9 configuration interface).
const (
	KeyMsgOutNavPVTUART1    uint32 = 0x20910007
	KeyMsgOutNavStatusUART1 uint32 = 0x2091001b
	KeyMsgOutMonRFUART1     uint32 = 0x2091035a
	KeyMsgOutMonHWUART1     uint32 = 0x209101b5
	KeyMsgOutRxmRAWXUART1   uint32 = 0x209102a5
	KeyMsgOutRxmSFRBXUART1  uint32 = 0x20910232
	KeyItfmEnable           uint32 = 0x1041000d
)

// Configuration layers.
const (
	LayerRAM   = 0x01
	LayerBBR   = 0x02
	LayerFlash = 0x04

	// CFG-VALGET addresses layers by index rather than bit.
	getLayerRAM = 0
)

var keyNames = map[uint32]string{
	KeyMsgOutNavPVTUART1:    "CFG-MSGOUT-UBX_NAV_PVT_UART1",
	KeyMsgOutNavStatusUART1: "CFG-MSGOUT-UBX_NAV_STATUS_UART1",
	KeyMsgOutMonRFUART1:     "CFG-MSGOUT-UBX_MON_RF_UART1",
	KeyMsgOutMonHWUART1:     "CFG-MSGOUT-UBX_MON_HW_UART1",
	KeyMsgOutRxmRAWXUART1:   "CFG-MSGOUT-UBX_RXM_RAWX_UART1",
	KeyMsgOutRxmSFRBXUART1:  "CFG-MSGOUT-UBX_RXM_SFRBX_UART1",
	KeyItfmEnable:           "CFG-ITFM-ENABLE",
}

func KeyName(key uint32) string {
	if n, ok := keyNames[key]; ok {
		return n
	}
	return fmt.Sprintf("0x%08x", key)
}

// KeySize returns the value size in bytes encoded in bits 28..30 of key, or 0
// for an invalid size.
func KeySize(key uint32) int {
	switch (key >> 28) & 0x07 {
	case 1, 2:
		return 1
	case 3:
		return 2
	case 4:
		return 4
	case 5:
		return 8
	default:
		return 0
	}
}

// KeyValue is one configuration item.
type KeyValue struct {
	Key   uint32
	Value uint64
}

// ValSet builds a CFG-VALSET frame writing items to the given layers.
func ValSet(layers byte, items []KeyValue) ([]byte, error) {
	p := []byte{0x00, layers, 0x00, 0x00}
	for _, kv := range items {
		size := KeySize(kv.Key)
		if size == 0 {
			return nil, fmt.Errorf("cfg key 0x%08x: invalid size", kv.Key)
		}
		p = le.AppendUint32(p, kv.Key)
		for i := 0; i < size; i++ {
			p = append(p, byte(kv.Value>>(8*i)))
		}
	}
	return Encode(ClassCFG, IDCfgValSet, p), nil
}

// ValGet builds a CFG-VALGET poll for keys in the RAM layer.
func ValGet(keys []uint32) []byte {
	p := []byte{0x00, getLayerRAM, 0x00, 0x00}
	for _, k := range keys {
		p = le.AppendUint32(p, k)
	}
	return Encode(ClassCFG, IDCfgValGet, p)
}

// Items returns the values as KeyValue pairs ordered by key.
func (c ConfigValues) Items() []KeyValue {
	out := make([]KeyValue, 0, len(c.Values))
	for k, v := range c.Values {
		out = append(out, KeyValue{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
