package expander

import (
	"fmt"
	"log"

	"github.com/strikelab/pinchime/internal/i2cbus"
)

// DefaultCH423Address is the CH423's fixed command address.
const DefaultCH423Address = 0x24

// CH423 command bytes.
const (
	ch423CmdWriteOC = 0x01 // write open-drain bank OC0-OC7 (low byte)
	ch423CmdWritePP = 0x02 // write push-pull bank PP0-PP7 (high byte)
	ch423CmdReadIO  = 0x03 // read input status, 2 bytes LSB first
	ch423CmdSetIO   = 0x04 // set direction mask, 0=output 1=input
)

// CH423 drives a CH423 16-pin expander. The 16-bit register is split into
// two banks, each written as a distinct command-plus-data transaction:
// the low byte goes to the open-drain outputs, the high byte to the
// push-pull outputs.
type CH423 struct {
	bus       i2cbus.Bus
	addr      uint8
	state     uint16
	direction uint16
}

// NewCH423 configures a CH423 driver. Like the other backends, a probe
// failure at construction time is a logged warning, not an error.
func NewCH423(bus i2cbus.Bus, addr uint8) (*CH423, error) {
	if bus == nil {
		return nil, fmt.Errorf("ch423: nil bus")
	}

	c := &CH423{bus: bus, addr: addr}
	if err := c.WriteAll(0); err != nil {
		log.Printf("ch423: warning - device at 0x%02X not responding (may not be connected): %v", addr, err)
	}
	return c, nil
}

func (c *CH423) MaxPins() uint8      { return 16 }
func (c *CH423) LastWritten() uint16 { return c.state }

// WriteAll writes both banks. The cached state is updated only after
// both transactions succeed; a failure between the banks leaves the cache
// at the previous value.
func (c *CH423) WriteAll(value uint16) error {
	if err := c.bus.Tx(c.addr, []byte{ch423CmdWriteOC, byte(value)}, nil); err != nil {
		return fmt.Errorf("ch423 OC bank write failed: %w", err)
	}
	if err := c.bus.Tx(c.addr, []byte{ch423CmdWritePP, byte(value >> 8)}, nil); err != nil {
		return fmt.Errorf("ch423 PP bank write failed: %w", err)
	}
	c.state = value
	return nil
}

// Read issues the read command and returns the 16-bit input status.
func (c *CH423) Read() (uint16, error) {
	var buf [2]byte
	if err := c.bus.Tx(c.addr, []byte{ch423CmdReadIO}, buf[:]); err != nil {
		return 0, fmt.Errorf("ch423 read failed: %w", err)
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// SetPin drives one pin, preserving the rest of both banks.
func (c *CH423) SetPin(pin uint8, level bool) error {
	if pin >= 16 {
		return fmt.Errorf("ch423: pin %d out of range (max 16)", pin)
	}
	next := c.state
	if level {
		next |= 1 << pin
	} else {
		next &^= 1 << pin
	}
	return c.WriteAll(next)
}

// SetDirection configures one pin as input or output. Direction control
// is CH423-specific and not part of the Expander interface.
func (c *CH423) SetDirection(pin uint8, input bool) error {
	if pin >= 16 {
		return fmt.Errorf("ch423: pin %d out of range (max 16)", pin)
	}
	next := c.direction
	if input {
		next |= 1 << pin
	} else {
		next &^= 1 << pin
	}
	if err := c.bus.Tx(c.addr, []byte{ch423CmdSetIO, byte(next), byte(next >> 8)}, nil); err != nil {
		return fmt.Errorf("ch423 direction write failed: %w", err)
	}
	c.direction = next
	return nil
}
