package i2cbus

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var hostInit sync.Once

// periphBus wraps a periph.io bus handle behind the Bus interface.
type periphBus struct {
	bus    i2c.BusCloser
	mu     sync.Mutex
	closed bool
}

// OpenLinuxBus opens a native I2C bus device (for example "/dev/i2c-1" or
// "1"). An empty name selects the first available bus. The host drivers
// are initialized once per process, no matter how many buses are opened.
func OpenLinuxBus(name string) (Bus, error) {
	var initErr error
	hostInit.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", initErr)
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", name, err)
	}
	return &periphBus{bus: bus}, nil
}

func (p *periphBus) Tx(addr uint8, w, r []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrBusClosed
	}
	if err := p.bus.Tx(uint16(addr), w, r); err != nil {
		return fmt.Errorf("i2c tx to 0x%02X failed: %w", addr, err)
	}
	return nil
}

func (p *periphBus) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.bus.Close()
}
