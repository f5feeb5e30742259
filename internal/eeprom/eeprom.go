// Package eeprom drives AT24Cxx-series I2C EEPROMs. It supports the
// 1 KB through 512 KB parts, deriving the addressing width and write-page
// size from the device capacity, and chunks multi-byte writes so that no
// single bus transaction crosses a page boundary.
package eeprom

import (
	"fmt"
	"log"
	"time"

	"github.com/strikelab/pinchime/internal/i2cbus"
)

// DefaultAddress is the base I2C address of an AT24Cxx with A0-A2 low.
const DefaultAddress = 0x50

// writeCycleDelay is the rated internal write-cycle time. The device does
// not acknowledge new transactions while a write cycle is in progress, so
// every page write blocks for this long before the next transaction.
const writeCycleDelay = 5 * time.Millisecond

// Page sizes by capacity tier.
const (
	pageSize8  = 8  // 1KB, 2KB
	pageSize16 = 16 // 4KB, 8KB, 16KB
	pageSize32 = 32 // 32KB
	pageSize64 = 64 // 64KB and above
)

// ErrOutOfRange is returned when an access would fall outside the
// device's capacity.
var ErrOutOfRange = fmt.Errorf("eeprom address out of range")

// Device is an AT24Cxx EEPROM on a shared I2C bus. The bus must already
// be open; Device never initializes or closes it.
type Device struct {
	bus         i2cbus.Bus
	addr        uint8
	capacity    uint32
	pageSize    uint32
	twoByteAddr bool

	sleep func(time.Duration)
}

func validCapacityKB(kb uint16) bool {
	switch kb {
	case 1, 2, 4, 8, 16, 32, 64, 128, 256, 512:
		return true
	}
	return false
}

// New configures a driver for an AT24Cxx of the given capacity in
// kilobytes. The device is probed with a single read; a missing device is
// logged as a warning but does not fail, because the EEPROM may
// legitimately be absent.
func New(bus i2cbus.Bus, addr uint8, capacityKB uint16) (*Device, error) {
	if bus == nil {
		return nil, fmt.Errorf("eeprom: nil bus")
	}
	if !validCapacityKB(capacityKB) {
		return nil, fmt.Errorf("eeprom: invalid capacity %dKB", capacityKB)
	}

	d := &Device{
		bus:         bus,
		addr:        addr,
		capacity:    uint32(capacityKB) * 1024,
		twoByteAddr: capacityKB > 2,
		sleep:       time.Sleep,
	}
	switch {
	case capacityKB <= 2:
		d.pageSize = pageSize8
	case capacityKB <= 16:
		d.pageSize = pageSize16
	case capacityKB == 32:
		d.pageSize = pageSize32
	default:
		d.pageSize = pageSize64
	}

	log.Printf("eeprom: configured %dKB at 0x%02X (page=%d, addr_bytes=%d)",
		capacityKB, addr, d.pageSize, d.addrLen())

	if _, err := d.ReadByte(0); err != nil {
		log.Printf("eeprom: warning - device at 0x%02X not responding (may not be connected): %v", addr, err)
	}
	return d, nil
}

// Capacity returns the device capacity in bytes.
func (d *Device) Capacity() uint32 { return d.capacity }

// PageSize returns the write-page size in bytes.
func (d *Device) PageSize() uint32 { return d.pageSize }

func (d *Device) addrLen() int {
	if d.twoByteAddr {
		return 2
	}
	return 1
}

// memAddr encodes a memory address in the device's addressing width.
func (d *Device) memAddr(addr uint32) []byte {
	if d.twoByteAddr {
		return []byte{byte(addr >> 8), byte(addr)}
	}
	return []byte{byte(addr)}
}

// Read performs a single addressed sequential read into buf.
func (d *Device) Read(addr uint32, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	// Two comparisons so a huge addr cannot wrap the sum past capacity.
	if addr >= d.capacity || uint32(len(buf)) > d.capacity-addr {
		return fmt.Errorf("%w: read of %d bytes at 0x%04X exceeds %d-byte capacity",
			ErrOutOfRange, len(buf), addr, d.capacity)
	}
	if err := d.bus.Tx(d.addr, d.memAddr(addr), buf); err != nil {
		return fmt.Errorf("eeprom read at 0x%04X failed: %w", addr, err)
	}
	return nil
}

// ReadByte reads the single byte at addr.
func (d *Device) ReadByte(addr uint32) (byte, error) {
	var buf [1]byte
	if err := d.Read(addr, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Write writes data starting at addr, splitting the transfer at page
// boundaries and blocking for the write-cycle delay after each chunk. A
// failed chunk aborts the transfer; chunks already written stay written.
func (d *Device) Write(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if addr >= d.capacity || uint32(len(data)) > d.capacity-addr {
		return fmt.Errorf("%w: write of %d bytes at 0x%04X exceeds %d-byte capacity",
			ErrOutOfRange, len(data), addr, d.capacity)
	}

	written := uint32(0)
	for written < uint32(len(data)) {
		current := addr + written
		room := d.pageSize - current%d.pageSize
		chunk := uint32(len(data)) - written
		if chunk > room {
			chunk = room
		}

		buf := append(d.memAddr(current), data[written:written+chunk]...)
		if err := d.bus.Tx(d.addr, buf, nil); err != nil {
			return fmt.Errorf("eeprom page write at 0x%04X failed: %w", current, err)
		}
		d.sleep(writeCycleDelay)
		written += chunk
	}
	return nil
}

// WriteByte writes a single byte at addr.
func (d *Device) WriteByte(addr uint32, value byte) error {
	return d.Write(addr, []byte{value})
}

// Erase fills the entire capacity with 0xFF through the chunked write
// path. This takes on the order of capacity/page * 5ms.
func (d *Device) Erase() error {
	blank := make([]byte, d.pageSize)
	for i := range blank {
		blank[i] = 0xFF
	}

	log.Printf("eeprom: erasing %d bytes", d.capacity)
	for addr := uint32(0); addr < d.capacity; addr += d.pageSize {
		chunk := d.pageSize
		if addr+chunk > d.capacity {
			chunk = d.capacity - addr
		}
		if err := d.Write(addr, blank[:chunk]); err != nil {
			return fmt.Errorf("erase failed at 0x%04X: %w", addr, err)
		}
	}
	return nil
}
