package i2cbus

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// I2CDriver bridge command bytes. The Excamera I2CDriver is a USB-serial
// adapter speaking a single-byte command protocol at 1 Mbaud: 's' issues a
// start with the shifted address, 'p' a stop, and the 0xC0/0x80 command
// ranges transfer up to 64 data bytes per chunk.
const (
	bridgeCmdStart = 's'
	bridgeCmdStop  = 'p'
	bridgeCmdReset = 'x'
	bridgeCmdEcho  = 'e'

	bridgeWriteChunk = 0xC0 // 0xC0+n-1 writes n bytes (1..64)
	bridgeReadChunk  = 0x80 // 0x80+n-1 reads n bytes (1..64)
	bridgeMaxChunk   = 64
)

// BridgeOptions describes the serial connection parameters used when
// opening a USB-serial I2C bridge. The zero value selects the bridge's
// native defaults.
type BridgeOptions struct {
	BaudRate    int           `json:"baud_rate"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// Normalize applies defaults for any unset values.
func (o BridgeOptions) Normalize() BridgeOptions {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 1000000
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Second
	}
	return opts
}

// bridgeBus drives an I2CDriver-style USB-serial bridge behind the Bus
// interface. The port is held as a plain io.ReadWriteCloser so tests can
// script the bridge's byte protocol without a serial device.
type bridgeBus struct {
	port   io.ReadWriteCloser
	mu     sync.Mutex
	closed bool
}

// OpenBridgeBus opens a USB-serial I2C bridge at the given serial device
// path. The bridge bus is probed with an echo byte so that a wrong or dead
// serial device fails at open time rather than on the first transaction.
func OpenBridgeBus(path string, opts BridgeOptions) (Bus, error) {
	opts = opts.Normalize()

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge serial port %q: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set bridge read timeout: %w", err)
	}

	b := &bridgeBus{port: port}
	if err := b.probe(); err != nil {
		port.Close()
		return nil, fmt.Errorf("bridge at %q not responding: %w", path, err)
	}
	return b, nil
}

// probe resets the bridge's bus state machine and round-trips an echo byte.
func (b *bridgeBus) probe() error {
	if _, err := b.port.Write([]byte{bridgeCmdReset}); err != nil {
		return err
	}
	const marker = 0xA5
	if _, err := b.port.Write([]byte{bridgeCmdEcho, marker}); err != nil {
		return err
	}
	var resp [1]byte
	if _, err := io.ReadFull(b.port, resp[:]); err != nil {
		return err
	}
	if resp[0] != marker {
		return fmt.Errorf("echo mismatch: sent 0x%02X, got 0x%02X", marker, resp[0])
	}
	return nil
}

// start issues a bus start for addr with the given read/write bit and
// checks the returned ACK status byte.
func (b *bridgeBus) start(addr uint8, read bool) error {
	shifted := addr << 1
	if read {
		shifted |= 1
	}
	if _, err := b.port.Write([]byte{bridgeCmdStart, shifted}); err != nil {
		return err
	}
	var ack [1]byte
	if _, err := io.ReadFull(b.port, ack[:]); err != nil {
		return err
	}
	if ack[0]&0x01 == 0 {
		return ErrNack
	}
	return nil
}

func (b *bridgeBus) stop() error {
	_, err := b.port.Write([]byte{bridgeCmdStop})
	return err
}

func (b *bridgeBus) writeChunks(w []byte) error {
	for len(w) > 0 {
		n := len(w)
		if n > bridgeMaxChunk {
			n = bridgeMaxChunk
		}
		buf := make([]byte, 0, n+1)
		buf = append(buf, byte(bridgeWriteChunk+n-1))
		buf = append(buf, w[:n]...)
		if _, err := b.port.Write(buf); err != nil {
			return err
		}
		var ack [1]byte
		if _, err := io.ReadFull(b.port, ack[:]); err != nil {
			return err
		}
		if ack[0]&0x01 == 0 {
			return ErrNack
		}
		w = w[n:]
	}
	return nil
}

func (b *bridgeBus) readChunks(r []byte) error {
	for len(r) > 0 {
		n := len(r)
		if n > bridgeMaxChunk {
			n = bridgeMaxChunk
		}
		if _, err := b.port.Write([]byte{byte(bridgeReadChunk + n - 1)}); err != nil {
			return err
		}
		if _, err := io.ReadFull(b.port, r[:n]); err != nil {
			return err
		}
		r = r[n:]
	}
	return nil
}

func (b *bridgeBus) Tx(addr uint8, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	if len(w) > 0 {
		if err := b.start(addr, false); err != nil {
			b.stop()
			return fmt.Errorf("bridge write to 0x%02X: %w", addr, err)
		}
		if err := b.writeChunks(w); err != nil {
			b.stop()
			return fmt.Errorf("bridge write to 0x%02X: %w", addr, err)
		}
	}
	if len(r) > 0 {
		if err := b.start(addr, true); err != nil {
			b.stop()
			return fmt.Errorf("bridge read from 0x%02X: %w", addr, err)
		}
		if err := b.readChunks(r); err != nil {
			b.stop()
			return fmt.Errorf("bridge read from 0x%02X: %w", addr, err)
		}
	}
	return b.stop()
}

func (b *bridgeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.port.Close()
}
