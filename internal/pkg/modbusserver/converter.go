package modbusserver

import (
	"encoding/binary"
	"math"

	"app-fritzbutton-go/internal/pkg/button"
	"app-fritzbutton-go/internal/pkg/config"
	"app-fritzbutton-go/internal/pkg/thingmanager"
)

// ByteOrder is the order of bytes inside a register and of registers inside a value
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

// Converter turns cached channel states into register words
type Converter struct {
	byteOrder ByteOrder
}

func NewConverter(order ByteOrder) *Converter {
	return &Converter{byteOrder: order}
}

// RegisterCount returns how many registers a kind occupies
func RegisterCount(kind string) int {
	if kind == config.RegisterTimestamp {
		return 2
	}
	return 1
}

// ToWords encodes st as kind. Values that do not fit the kind encode as zeros.
func (c *Converter) ToWords(kind string, st thingmanager.CachedState) []uint16 {
	switch kind {
	case config.RegisterTimestamp:
		var v uint32
		if st.State.Kind == button.StateDateTime {
			sec := st.State.Time.Unix()
			if sec > 0 && sec <= math.MaxUint32 {
				v = uint32(sec)
			}
		}
		hi, lo := uint16(v>>16), uint16(v)
		if c.byteOrder == LittleEndian {
			return []uint16{lo, hi}
		}
		return []uint16{hi, lo}
	case config.RegisterCounter:
		if st.Triggers > math.MaxUint16 {
			return []uint16{math.MaxUint16}
		}
		return []uint16{uint16(st.Triggers)}
	case config.RegisterPercent:
		if st.State.Kind != button.StatePercent {
			return []uint16{0}
		}
		return []uint16{uint16(clamp(st.State.Number, 0, 100))}
	default:
		return []uint16{0}
	}
}

// ToBit encodes st as a coil value
func (c *Converter) ToBit(st thingmanager.CachedState) bool {
	return st.State.Kind == button.StateOnOff && st.State.On
}

// putUint16 writes v using the configured byte order
func (c *Converter) putUint16(result []byte, v uint16) {
	if c.byteOrder == BigEndian {
		binary.BigEndian.PutUint16(result, v)
	} else {
		binary.LittleEndian.PutUint16(result, v)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
