// Package expander drives I2C output expanders used for pin-level on/off
// signalling. Two wire protocols are supported behind one capability
// interface: the PCF857x parallel-register parts (8 or 16 pins written as
// one raw register) and the CH423 (16 pins split across an open-drain and
// a push-pull bank, each addressed by a command byte).
package expander

import (
	"fmt"

	"github.com/strikelab/pinchime/internal/i2cbus"
)

// Expander is the capability interface shared by all IO backend drivers.
// Implementations cache the last commanded value so that SetPin can do a
// read-modify-write without touching the bus twice.
type Expander interface {
	// WriteAll writes the full pin register in one logical operation.
	// Bits beyond MaxPins are ignored by 8-pin devices.
	WriteAll(value uint16) error
	// SetPin drives a single pin high or low, leaving the others as
	// last commanded. Pin indices at or beyond MaxPins are rejected
	// without any bus traffic.
	SetPin(pin uint8, level bool) error
	// MaxPins returns the number of output pins the device provides.
	MaxPins() uint8
	// LastWritten returns the most recently commanded register value.
	LastWritten() uint16
}

// Type selects a backend driver variant.
type Type uint8

const (
	TypePCF857x Type = 0
	TypeCH423   Type = 1
)

func (t Type) String() string {
	switch t {
	case TypePCF857x:
		return "PCF857x"
	case TypeCH423:
		return "CH423"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Valid reports whether t names a known backend variant.
func (t Type) Valid() bool {
	return t == TypePCF857x || t == TypeCH423
}

// DefaultAddress returns the conventional I2C address for the variant.
func (t Type) DefaultAddress() uint8 {
	switch t {
	case TypeCH423:
		return DefaultCH423Address
	default:
		return DefaultPCF857xAddress
	}
}

// New constructs the driver selected by t at the given bus address.
// Backend selection is a configuration-time choice: switching variants
// means constructing a new driver, not mutating an existing one.
func New(t Type, bus i2cbus.Bus, addr uint8) (Expander, error) {
	switch t {
	case TypePCF857x:
		return NewPCF857x(bus, addr, 16)
	case TypeCH423:
		return NewCH423(bus, addr)
	}
	return nil, fmt.Errorf("expander: unknown backend type %d", uint8(t))
}
