package expander

import (
	"fmt"
	"log"

	"github.com/strikelab/pinchime/internal/i2cbus"
)

// DefaultPCF857xAddress is the base address with A0-A2 strapped low.
const DefaultPCF857xAddress = 0x20

// PCF857x drives a PCF8574 (8 pins) or PCF8575 (16 pins) quasi-
// bidirectional expander. The parts have no registers: every write is the
// raw latch value, one byte for the 8-pin part and two bytes LSB first
// for the 16-pin part.
type PCF857x struct {
	bus     i2cbus.Bus
	addr    uint8
	numPins uint8
	state   uint16
}

// NewPCF857x configures a PCF857x driver with 8 or 16 pins. The device
// is probed by writing an all-low latch; a non-responding device is
// logged as a warning but does not fail construction, because the
// expander may legitimately be absent.
func NewPCF857x(bus i2cbus.Bus, addr uint8, pins uint8) (*PCF857x, error) {
	if bus == nil {
		return nil, fmt.Errorf("pcf857x: nil bus")
	}
	if pins != 8 && pins != 16 {
		return nil, fmt.Errorf("pcf857x: unsupported pin count %d", pins)
	}

	p := &PCF857x{bus: bus, addr: addr, numPins: pins}
	if err := p.WriteAll(0); err != nil {
		log.Printf("pcf857x: warning - device at 0x%02X not responding (may not be connected): %v", addr, err)
	}
	return p, nil
}

func (p *PCF857x) MaxPins() uint8      { return p.numPins }
func (p *PCF857x) LastWritten() uint16 { return p.state }

// WriteAll writes the full latch in a single bus transaction.
func (p *PCF857x) WriteAll(value uint16) error {
	var buf []byte
	if p.numPins == 8 {
		buf = []byte{byte(value)}
	} else {
		buf = []byte{byte(value), byte(value >> 8)}
	}
	if err := p.bus.Tx(p.addr, buf, nil); err != nil {
		return fmt.Errorf("pcf857x write failed: %w", err)
	}
	p.state = value
	return nil
}

// Read returns the current port level, LSB first for the 16-pin part.
func (p *PCF857x) Read() (uint16, error) {
	buf := make([]byte, p.numPins/8)
	if err := p.bus.Tx(p.addr, nil, buf); err != nil {
		return 0, fmt.Errorf("pcf857x read failed: %w", err)
	}
	value := uint16(buf[0])
	if len(buf) == 2 {
		value |= uint16(buf[1]) << 8
	}
	return value, nil
}

// SetPin drives one pin, preserving the rest of the latch.
func (p *PCF857x) SetPin(pin uint8, level bool) error {
	if pin >= p.numPins {
		return fmt.Errorf("pcf857x: pin %d out of range (max %d)", pin, p.numPins)
	}
	next := p.state
	if level {
		next |= 1 << pin
	} else {
		next &^= 1 << pin
	}
	return p.WriteAll(next)
}
