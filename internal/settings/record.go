// Package settings persists the device configuration in non-volatile
// memory as a fixed 32-byte record with a magic number and CRC16
// integrity check. The byte layout is part of the device's storage
// format and must stay bit-exact across releases.
package settings

import (
	"encoding/binary"
	"fmt"
)

// RecordMagic identifies a valid settings record.
const RecordMagic uint32 = 0x4D53594E

// RecordVersion is the current record schema version. The version byte is
// a reserved extension point: a mismatch on load is logged, never
// migrated.
const RecordVersion = 1

// RecordSize is the fixed on-device size of the settings record.
const RecordSize = 32

// Record byte offsets. Bytes 15-29 are reserved padding.
const (
	offMagic      = 0  // uint32, little endian
	offVersion    = 4  // uint8
	offChannel    = 5  // uint8, 0 = omni, 1-16
	offNoteRange  = 6  // uint8, 1-16
	offLowNote    = 7  // uint8, 0-127
	offSemitone   = 8  // uint8, 0-2
	offBackend    = 9  // uint8, expander.Type
	offBackend2   = 10 // uint8, I2C address
	offDispEnable = 11 // uint8, 0 or 1
	offDispBright = 12 // uint8
	offDispTime   = 13 // uint16, little endian, seconds, 0 = never
	offCRC        = 30 // uint16, little endian, over bytes 0-29
)

// ChannelOmni is the channel sentinel meaning "respond on all channels".
const ChannelOmni = 0

// Semitone handling modes, stored in the record's semitone_mode byte.
const (
	SemitonePlay   = 0
	SemitoneIgnore = 1
	SemitoneSkip   = 2
)

// Settings is the in-memory form of the persisted record.
type Settings struct {
	Version uint8

	// Note mapping
	Channel      uint8 // 0 = omni, otherwise 1-16
	NoteRange    uint8 // 1-16
	LowNote      uint8 // 0-127
	SemitoneMode uint8 // SemitonePlay, SemitoneIgnore, SemitoneSkip

	// IO backend
	BackendType    uint8
	BackendAddress uint8

	// Display
	DisplayEnabled    bool
	DisplayBrightness uint8
	DisplayTimeout    uint16 // seconds, 0 = never
}

// Defaults returns the fixed factory settings: percussion channel,
// an eight-note run up from middle C, semitones played as-is, and the
// parallel-register expander at its conventional address.
func Defaults() Settings {
	return Settings{
		Version:           RecordVersion,
		Channel:           10,
		NoteRange:         8,
		LowNote:           60,
		SemitoneMode:      SemitonePlay,
		BackendType:       0, // expander.TypePCF857x
		BackendAddress:    0x20,
		DisplayEnabled:    true,
		DisplayBrightness: 128,
		DisplayTimeout:    30,
	}
}

// Validate checks every field against its domain.
func (s Settings) Validate() error {
	if s.Channel > 16 {
		return fmt.Errorf("invalid channel %d: must be 0 (omni) or 1-16", s.Channel)
	}
	if s.NoteRange < 1 || s.NoteRange > 16 {
		return fmt.Errorf("invalid note range %d: must be 1-16", s.NoteRange)
	}
	if s.LowNote > 127 {
		return fmt.Errorf("invalid low note %d: must be 0-127", s.LowNote)
	}
	if s.SemitoneMode > SemitoneSkip {
		return fmt.Errorf("invalid semitone mode %d: must be 0-2", s.SemitoneMode)
	}
	if s.BackendType > 1 {
		return fmt.Errorf("invalid backend type %d: must be 0 or 1", s.BackendType)
	}
	return nil
}

// CRC16 computes the reflected CRC-16/ARC (polynomial 0xA001, initial
// value 0xFFFF, LSB first per byte) used to protect the record.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// MarshalBinary encodes the record, computing the trailing CRC over
// every preceding byte.
func (s Settings) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(buf[offMagic:], RecordMagic)
	buf[offVersion] = s.Version
	buf[offChannel] = s.Channel
	buf[offNoteRange] = s.NoteRange
	buf[offLowNote] = s.LowNote
	buf[offSemitone] = s.SemitoneMode
	buf[offBackend] = s.BackendType
	buf[offBackend2] = s.BackendAddress
	if s.DisplayEnabled {
		buf[offDispEnable] = 1
	}
	buf[offDispBright] = s.DisplayBrightness
	binary.LittleEndian.PutUint16(buf[offDispTime:], s.DisplayTimeout)
	binary.LittleEndian.PutUint16(buf[offCRC:], CRC16(buf[:offCRC]))
	return buf, nil
}

// UnmarshalBinary decodes a record, checking its length, magic number and
// CRC but not the field domains; see Validate for those.
func (s *Settings) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("record is %d bytes, want %d", len(data), RecordSize)
	}
	if magic := binary.LittleEndian.Uint32(data[offMagic:]); magic != RecordMagic {
		return fmt.Errorf("invalid magic 0x%08X", magic)
	}
	stored := binary.LittleEndian.Uint16(data[offCRC:])
	if computed := CRC16(data[:offCRC]); computed != stored {
		return fmt.Errorf("CRC mismatch: computed 0x%04X, stored 0x%04X", computed, stored)
	}

	s.Version = data[offVersion]
	s.Channel = data[offChannel]
	s.NoteRange = data[offNoteRange]
	s.LowNote = data[offLowNote]
	s.SemitoneMode = data[offSemitone]
	s.BackendType = data[offBackend]
	s.BackendAddress = data[offBackend2]
	s.DisplayEnabled = data[offDispEnable] != 0
	s.DisplayBrightness = data[offDispBright]
	s.DisplayTimeout = binary.LittleEndian.Uint16(data[offDispTime:])
	return nil
}
