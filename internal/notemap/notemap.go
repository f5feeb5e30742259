// Package notemap translates note-on/note-off events into pin states on
// an IO expander backend. Each mapper instance owns one backend handle
// and one pin-state mask; multiple mappers on different buses can coexist
// because there is no shared state between instances.
package notemap

import (
	"fmt"
	"log"

	"github.com/strikelab/pinchime/internal/expander"
)

// MIDI status nibbles handled by the mapper. Everything else (aftertouch,
// control change, program change...) is passed over.
const (
	statusNoteOff = 0x80
	statusNoteOn  = 0x90
)

// Mode selects how chromatic ("semitone") notes are treated.
type Mode uint8

const (
	// ModePlay maps every note in range directly to a pin.
	ModePlay Mode = 0
	// ModeIgnore drops semitone notes entirely.
	ModeIgnore Mode = 1
	// ModeSkip remaps a semitone forward to the next whole tone.
	ModeSkip Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModePlay:
		return "play"
	case ModeIgnore:
		return "ignore"
	case ModeSkip:
		return "skip"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool { return m <= ModeSkip }

// ChannelOmni makes the mapper respond on every channel.
const ChannelOmni = 0

// Config is the runtime parameter set governing note-to-pin translation.
type Config struct {
	Channel   uint8 // 1-16, or ChannelOmni
	NoteRange uint8 // 1-16
	LowNote   uint8 // 0-127
	Mode      Mode
}

// Validate checks every field against its domain.
func (c Config) Validate() error {
	if c.Channel > 16 {
		return fmt.Errorf("invalid channel %d: must be 0 (omni) or 1-16", c.Channel)
	}
	if c.NoteRange < 1 || c.NoteRange > 16 {
		return fmt.Errorf("invalid note range %d: must be 1-16", c.NoteRange)
	}
	if c.LowNote > 127 {
		return fmt.Errorf("invalid low note %d: must be 0-127", c.LowNote)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid semitone mode %d", uint8(c.Mode))
	}
	return nil
}

// IsSemitone reports whether note is one of the five chromatic scale
// degrees (C#, D#, F#, G#, A#) in its octave.
func IsSemitone(note uint8) bool {
	switch note % 12 {
	case 1, 3, 6, 8, 10:
		return true
	}
	return false
}

// nextWholeTone returns the first non-semitone note at or above note.
func nextWholeTone(note uint8) uint8 {
	for note < 127 && IsSemitone(note) {
		note++
	}
	return note
}

// HighNote derives the top of the playable range from the low note, the
// note range, and the semitone mode. Under ModePlay the range is a plain
// span; under ModeIgnore and ModeSkip the scan walks forward from the low
// note counting only whole tones until the range is filled. The result
// depends only on the three inputs, never on prior state.
func HighNote(lowNote, noteRange uint8, mode Mode) uint8 {
	if mode == ModePlay {
		high := int(lowNote) + int(noteRange) - 1
		if high > 127 {
			return 127
		}
		return uint8(high)
	}

	count := uint8(0)
	note := lowNote
	for count < noteRange && note < 127 {
		if !IsSemitone(note) {
			count++
			if count == noteRange {
				return note
			}
		}
		note++
	}
	return note
}

// Mapper owns the translation state: the mapping config, the derived
// high note, the pin-state mask, and the backend handle. It is
// single-threaded by design, matching the blocking bus underneath.
type Mapper struct {
	cfg      Config
	highNote uint8
	backend  expander.Expander
	pinState uint16
}

// New builds a mapper over an already-constructed backend.
func New(cfg Config, backend expander.Expander) (*Mapper, error) {
	if backend == nil {
		return nil, fmt.Errorf("notemap: nil backend")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("notemap: %w", err)
	}
	m := &Mapper{cfg: cfg, backend: backend}
	m.highNote = HighNote(cfg.LowNote, cfg.NoteRange, cfg.Mode)
	log.Printf("notemap: ch=%d notes=%d-%d mode=%s pins=%d",
		cfg.Channel, cfg.LowNote, m.highNote, cfg.Mode, backend.MaxPins())
	return m, nil
}

// Config returns the active mapping configuration.
func (m *Mapper) Config() Config { return m.cfg }

// HighNote returns the derived top of the playable range.
func (m *Mapper) HighNote() uint8 { return m.highNote }

// PinState returns the last-commanded per-pin mask, exposed for
// diagnostics.
func (m *Mapper) PinState() uint16 { return m.pinState }

// Backend returns the active backend handle.
func (m *Mapper) Backend() expander.Expander { return m.backend }

// Reconfigure replaces the mapping configuration and re-derives the high
// note. The backend is untouched: switching backends means building a new
// mapper.
func (m *Mapper) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("notemap: %w", err)
	}
	m.cfg = cfg
	m.highNote = HighNote(cfg.LowNote, cfg.NoteRange, cfg.Mode)
	return nil
}

// ProcessEvent translates one (status, note, velocity) triple into a pin
// write. It reports whether the event was handled: events on other
// channels, filtered semitones, out-of-range notes, non-note messages,
// and failed backend writes are all unhandled.
func (m *Mapper) ProcessEvent(status, note, velocity uint8) bool {
	messageType := status & 0xF0
	channel := status&0x0F + 1

	if m.cfg.Channel != ChannelOmni && channel != m.cfg.Channel {
		return false
	}

	if IsSemitone(note) {
		switch m.cfg.Mode {
		case ModeIgnore:
			return false
		case ModeSkip:
			note = nextWholeTone(note)
		}
	}

	if note < m.cfg.LowNote || note > m.highNote {
		return false
	}

	var pin uint8
	if m.cfg.Mode == ModePlay {
		pin = note - m.cfg.LowNote
	} else {
		for n := m.cfg.LowNote; n < note; n++ {
			if !IsSemitone(n) {
				pin++
			}
		}
	}
	if pin >= m.backend.MaxPins() {
		log.Printf("notemap: computed pin %d exceeds backend capacity %d, dropping event",
			pin, m.backend.MaxPins())
		return false
	}

	var level bool
	switch {
	case messageType == statusNoteOn && velocity > 0:
		level = true
	case messageType == statusNoteOff, messageType == statusNoteOn && velocity == 0:
		level = false
	default:
		return false
	}

	// The mask is updated before the backend write confirms; on an IO
	// failure the cached state may lead the hardware until the next
	// successful write of that pin.
	if level {
		m.pinState |= 1 << pin
	} else {
		m.pinState &^= 1 << pin
	}
	if err := m.backend.SetPin(pin, level); err != nil {
		log.Printf("notemap: failed to set pin %d: %v", pin, err)
		return false
	}
	return true
}

// AllOff clears the pin-state mask and drives every output low.
func (m *Mapper) AllOff() error {
	m.pinState = 0
	if err := m.backend.WriteAll(0); err != nil {
		return fmt.Errorf("notemap: all-off write failed: %w", err)
	}
	return nil
}
