package settings

import (
	"fmt"
	"log"
)

// Memory is the slice of the NVM driver the store needs. *eeprom.Device
// satisfies it.
type Memory interface {
	Read(addr uint32, buf []byte) error
	Write(addr uint32, data []byte) error
}

// Field identifies a mapping field for UpdateField.
type Field uint8

const (
	FieldChannel Field = iota
	FieldNoteRange
	FieldLowNote
	FieldSemitoneMode
)

func (f Field) String() string {
	switch f {
	case FieldChannel:
		return "channel"
	case FieldNoteRange:
		return "note_range"
	case FieldLowNote:
		return "low_note"
	case FieldSemitoneMode:
		return "semitone_mode"
	}
	return fmt.Sprintf("field(%d)", uint8(f))
}

// ParseField resolves a field name as used by the HTTP API and CLI.
func ParseField(name string) (Field, error) {
	switch name {
	case "channel":
		return FieldChannel, nil
	case "note_range":
		return FieldNoteRange, nil
	case "low_note":
		return FieldLowNote, nil
	case "semitone_mode":
		return FieldSemitoneMode, nil
	}
	return 0, fmt.Errorf("unknown settings field %q", name)
}

// Store owns the persisted settings record: one in-memory copy plus its
// region in non-volatile memory at a fixed offset. Every successful
// mutation is written back immediately so settings survive power loss.
type Store struct {
	mem      Memory
	offset   uint32
	settings Settings
}

// NewStore creates a store over the given memory region. Call Load before
// reading settings.
func NewStore(mem Memory, offset uint32) *Store {
	return &Store{mem: mem, offset: offset, settings: Defaults()}
}

// Settings returns a copy of the current in-memory settings.
func (s *Store) Settings() Settings { return s.settings }

// Load reads and validates the record from non-volatile memory. A read
// failure, bad magic, bad CRC, or out-of-domain field all fall back to
// the factory defaults, which are persisted immediately; this path never
// fails the boot sequence, so Load only logs on the fallback path. A
// version mismatch alone is logged and otherwise accepted.
func (s *Store) Load() {
	buf := make([]byte, RecordSize)
	if err := s.mem.Read(s.offset, buf); err != nil {
		log.Printf("settings: read at 0x%04X failed, using defaults: %v", s.offset, err)
		s.resetToDefaults()
		return
	}

	var loaded Settings
	if err := loaded.UnmarshalBinary(buf); err != nil {
		log.Printf("settings: stored record invalid, using defaults: %v", err)
		s.resetToDefaults()
		return
	}
	if err := loaded.Validate(); err != nil {
		log.Printf("settings: stored record out of domain, using defaults: %v", err)
		s.resetToDefaults()
		return
	}
	if loaded.Version != RecordVersion {
		// No migration logic exists; the version byte is informational.
		log.Printf("settings: record version %d, expected %d", loaded.Version, RecordVersion)
	}

	s.settings = loaded
	log.Printf("settings: loaded ch=%d range=%d low=%d mode=%d backend=%d@0x%02X",
		loaded.Channel, loaded.NoteRange, loaded.LowNote, loaded.SemitoneMode,
		loaded.BackendType, loaded.BackendAddress)
}

func (s *Store) resetToDefaults() {
	s.settings = Defaults()
	if err := s.Save(); err != nil {
		log.Printf("settings: failed to persist defaults: %v", err)
	}
}

// Save recomputes the CRC and writes the whole record to its fixed
// offset. The NVM driver blocks for the device's write-cycle time, so
// Save returns only once the record is durable.
func (s *Store) Save() error {
	record, err := s.settings.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.mem.Write(s.offset, record); err != nil {
		return fmt.Errorf("failed to write settings record: %w", err)
	}
	return nil
}

// UpdateField validates value against the field's domain, then mutates
// and persists. On a validation or persistence failure the in-memory
// record keeps its previous value.
func (s *Store) UpdateField(f Field, value uint8) error {
	updated := s.settings
	switch f {
	case FieldChannel:
		if value > 16 {
			return fmt.Errorf("invalid channel %d: must be 0 (omni) or 1-16", value)
		}
		updated.Channel = value
	case FieldNoteRange:
		if value < 1 || value > 16 {
			return fmt.Errorf("invalid note range %d: must be 1-16", value)
		}
		updated.NoteRange = value
	case FieldLowNote:
		if value > 127 {
			return fmt.Errorf("invalid low note %d: must be 0-127", value)
		}
		updated.LowNote = value
	case FieldSemitoneMode:
		if value > SemitoneSkip {
			return fmt.Errorf("invalid semitone mode %d: must be 0-2", value)
		}
		updated.SemitoneMode = value
	default:
		return fmt.Errorf("unknown field %d", uint8(f))
	}

	return s.commit(updated)
}

// UpdateBackend validates and persists the IO backend selection. The new
// backend takes effect on the next initialization, not as a live swap.
func (s *Store) UpdateBackend(backendType, address uint8) error {
	if backendType > 1 {
		return fmt.Errorf("invalid backend type %d: must be 0 or 1", backendType)
	}
	updated := s.settings
	updated.BackendType = backendType
	updated.BackendAddress = address
	return s.commit(updated)
}

// UpdateDisplay persists the display fields. They are carried for the
// display subsystem; this core only stores them.
func (s *Store) UpdateDisplay(enabled bool, brightness uint8, timeout uint16) error {
	updated := s.settings
	updated.DisplayEnabled = enabled
	updated.DisplayBrightness = brightness
	updated.DisplayTimeout = timeout
	return s.commit(updated)
}

// commit swaps in the updated record and persists it, rolling back the
// in-memory copy if the write fails.
func (s *Store) commit(updated Settings) error {
	previous := s.settings
	s.settings = updated
	if err := s.Save(); err != nil {
		s.settings = previous
		return err
	}
	return nil
}

// Erase overwrites the record region with zero bytes and then writes a
// fresh default record, in two distinct passes.
func (s *Store) Erase() error {
	zero := make([]byte, RecordSize)
	if err := s.mem.Write(s.offset, zero); err != nil {
		return fmt.Errorf("failed to zero settings region: %w", err)
	}
	s.settings = Defaults()
	if err := s.Save(); err != nil {
		return fmt.Errorf("failed to write defaults after erase: %w", err)
	}
	return nil
}
