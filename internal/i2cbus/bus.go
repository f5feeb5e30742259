// Package i2cbus provides an abstraction over a shared I2C bus so that
// multiple device drivers (IO expanders, EEPROM, display) can issue
// addressed transactions against a single physical bus. The bus is opened
// exactly once by the composition root and handed to each driver; drivers
// never open or re-initialize the bus themselves, because re-initializing
// a live bus causes already-attached devices to stop responding.
package i2cbus

import "fmt"

var (
	// ErrBusClosed is returned for transactions attempted after Close.
	ErrBusClosed = fmt.Errorf("i2c bus is closed")
	// ErrNack is returned when a device does not acknowledge its address
	// or a data byte.
	ErrNack = fmt.Errorf("device did not acknowledge")
)

// Bus is the minimal interface drivers need for an addressed I2C
// transaction. Tx writes w to the device at addr and, if r is non-empty,
// follows with a read into r on the same transaction. Either slice may be
// empty, but not both. Implementations are synchronous: Tx returns only
// once the transaction has completed or failed.
//
// This abstraction enables unit testing without real bus hardware.
type Bus interface {
	Tx(addr uint8, w, r []byte) error
	Close() error
}
