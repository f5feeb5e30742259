package i2cbus

import (
	"errors"
	"sync"
)

// Transaction records a single Tx call against a TestableBus.
type Transaction struct {
	Addr uint8
	W    []byte
	RLen int
}

// TestableBus implements Bus with configurable behaviour for testing.
// It provides fine-grained control over read responses, per-address
// errors, and transaction capture, so driver tests never need real
// hardware on the bus.
type TestableBus struct {
	mu sync.Mutex

	// Transactions records every Tx call in order.
	Transactions []Transaction

	// TxError is returned by the next Tx call if set, then cleared.
	TxError error

	// Handler, if set, models the addressed device: it observes the
	// written bytes and fills the read buffer. It runs after queued
	// reads and per-address errors have been considered.
	Handler func(addr uint8, w, r []byte) error

	// TxCalls records the number of Tx calls.
	TxCalls int

	// Closed indicates whether Close was called.
	Closed bool

	reads    map[uint8][][]byte
	failAddr map[uint8]error
}

// NewTestableBus creates a TestableBus with no scripted behaviour:
// every transaction succeeds and reads return zero bytes.
func NewTestableBus() *TestableBus {
	return &TestableBus{
		reads:    make(map[uint8][][]byte),
		failAddr: make(map[uint8]error),
	}
}

// QueueRead schedules data to be returned by the next read transaction
// addressed to addr. Multiple queued reads are consumed in order.
func (t *TestableBus) QueueRead(addr uint8, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reads[addr] = append(t.reads[addr], data)
}

// FailAddress makes every transaction addressed to addr return err until
// cleared with a nil err.
func (t *TestableBus) FailAddress(addr uint8, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.failAddr, addr)
		return
	}
	t.failAddr[addr] = err
}

// Writes returns the concatenated payloads of all write transactions
// addressed to addr.
func (t *TestableBus) Writes(addr uint8) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []byte
	for _, tx := range t.Transactions {
		if tx.Addr == addr {
			out = append(out, tx.W...)
		}
	}
	return out
}

// LastWrite returns the payload of the most recent write transaction
// addressed to addr, or nil if there is none.
func (t *TestableBus) LastWrite(addr uint8) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Transactions) - 1; i >= 0; i-- {
		tx := t.Transactions[i]
		if tx.Addr == addr && len(tx.W) > 0 {
			return tx.W
		}
	}
	return nil
}

func (t *TestableBus) Tx(addr uint8, w, r []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.TxCalls++

	if t.Closed {
		return ErrBusClosed
	}
	if t.TxError != nil {
		err := t.TxError
		t.TxError = nil
		return err
	}
	if err, ok := t.failAddr[addr]; ok {
		return err
	}

	wCopy := append([]byte(nil), w...)
	t.Transactions = append(t.Transactions, Transaction{Addr: addr, W: wCopy, RLen: len(r)})

	if len(r) > 0 {
		if queued := t.reads[addr]; len(queued) > 0 {
			copy(r, queued[0])
			t.reads[addr] = queued[1:]
			return nil
		}
	}
	if t.Handler != nil {
		return t.Handler(addr, wCopy, r)
	}
	return nil
}

func (t *TestableBus) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return errors.New("bus already closed")
	}
	t.Closed = true
	return nil
}
