package modbusserver

import (
	"fmt"
	"sync/atomic"

	"app-fritzbutton-go/internal/pkg/config"
	"app-fritzbutton-go/internal/pkg/logger"
	"app-fritzbutton-go/internal/pkg/thingmanager"
)

// StateSource provides cached channel states
type StateSource interface {
	GetChannelState(channelUID string) (thingmanager.CachedState, bool)
}

// binding ties an address to a channel
type binding struct {
	channel string
	kind    string
	// word is the register index within a multi-register value
	word int
}

// RegisterMap indexes the configured registers by address
type RegisterMap struct {
	coils     map[uint16]binding
	registers map[uint16]binding
}

// NewRegisterMap builds the address index. Entries are assumed validated
// by config.Validate; a later duplicate replaces an earlier one.
func NewRegisterMap(regs []config.RegisterConfig) *RegisterMap {
	m := &RegisterMap{
		coils:     make(map[uint16]binding),
		registers: make(map[uint16]binding),
	}
	for _, r := range regs {
		if r.Kind == config.RegisterSwitch {
			m.coils[r.Address] = binding{channel: r.Channel, kind: r.Kind}
			continue
		}
		n := RegisterCount(r.Kind)
		// the last word would wrap to address 0
		if int(r.Address)+n > 0x10000 {
			continue
		}
		for w := 0; w < n; w++ {
			m.registers[r.Address+uint16(w)] = binding{channel: r.Channel, kind: r.Kind, word: w}
		}
	}
	return m
}

// Len returns the number of mapped coils and registers
func (m *RegisterMap) Len() (coils int, registers int) {
	return len(m.coils), len(m.registers)
}

// RegisterReader answers Modbus reads from the channel state cache
type RegisterReader struct {
	source    StateSource
	converter *Converter
	regs      atomic.Pointer[RegisterMap]
	lc        logger.LoggingClient
}

func NewRegisterReader(source StateSource, conv *Converter, regs []config.RegisterConfig, lc logger.LoggingClient) *RegisterReader {
	r := &RegisterReader{
		source:    source,
		converter: conv,
		lc:        lc,
	}
	r.SetRegisters(regs)
	return r
}

// SetRegisters swaps the register map; reads in flight keep the old one
func (r *RegisterReader) SetRegisters(regs []config.RegisterConfig) {
	m := NewRegisterMap(regs)
	r.regs.Store(m)
	coils, registers := m.Len()
	r.lc.Debugf("Register map loaded: %d coils, %d registers", coils, registers)
}

// ReadRegisters answers FC 0x03 and 0x04: byte count followed by the register values.
// Unmapped addresses and missing or expired states read as zero.
func (r *RegisterReader) ReadRegisters(startAddr uint16, quantity uint16) ([]byte, error) {
	if err := checkRange(startAddr, quantity); err != nil {
		return nil, err
	}
	m := r.regs.Load()

	data := make([]byte, 1+int(quantity)*2)
	data[0] = byte(quantity * 2)

	// one cache lookup per channel per request keeps multi-register values consistent
	seen := make(map[string][]uint16)
	for i := uint16(0); i < quantity; i++ {
		b, ok := m.registers[startAddr+i]
		if !ok {
			continue
		}
		words, cached := seen[b.channel+"|"+b.kind]
		if !cached {
			if st, ok := r.source.GetChannelState(b.channel); ok {
				words = r.converter.ToWords(b.kind, st)
			}
			seen[b.channel+"|"+b.kind] = words
		}
		if b.word < len(words) {
			off := 1 + int(i)*2
			r.converter.putUint16(data[off:off+2], words[b.word])
		}
	}
	return data, nil
}

// ReadBits answers FC 0x01 and 0x02: byte count followed by packed bits, LSB first
func (r *RegisterReader) ReadBits(startAddr uint16, quantity uint16) ([]byte, error) {
	if err := checkRange(startAddr, quantity); err != nil {
		return nil, err
	}
	m := r.regs.Load()

	byteCount := (quantity + 7) / 8
	data := make([]byte, 1+byteCount)
	data[0] = byte(byteCount)

	for i := uint16(0); i < quantity; i++ {
		b, ok := m.coils[startAddr+i]
		if !ok {
			continue
		}
		st, ok := r.source.GetChannelState(b.channel)
		if ok && r.converter.ToBit(st) {
			data[1+i/8] |= 1 << (i % 8)
		}
	}
	return data, nil
}

func checkRange(startAddr, quantity uint16) error {
	if int(startAddr)+int(quantity) > 0x10000 {
		return fmt.Errorf("address range %d+%d exceeds 65535", startAddr, quantity)
	}
	return nil
}
