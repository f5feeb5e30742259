// Package config loads the daemon's startup configuration from JSON.
// All fields are optional: anything omitted from the file falls back to
// a sensible default through the Get* accessors, so a partial config is
// always safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path searched when no -config flag is given.
const DefaultConfigPath = "config/pinchime.json"

// Bus kinds accepted by GetBusKind.
const (
	BusKindLinux  = "linux"
	BusKindBridge = "bridge"
)

// Config is the root startup configuration. The schema mirrors the
// /api/config endpoint so the same JSON works for both startup files
// and diagnostics output.
type Config struct {
	// I2C bus selection
	BusKind *string `json:"bus_kind,omitempty"` // "linux" or "bridge"
	BusPath *string `json:"bus_path,omitempty"` // e.g. "/dev/i2c-1" or "/dev/ttyUSB0"

	// Settings EEPROM
	EEPROMAddress    *uint8  `json:"eeprom_address,omitempty"`
	EEPROMCapacityKB *uint16 `json:"eeprom_capacity_kb,omitempty"`
	SettingsOffset   *uint32 `json:"settings_offset,omitempty"`

	// MIDI input
	MIDIPort *string `json:"midi_port,omitempty"` // substring match on port name

	// Event recorder (empty string disables recording)
	RecorderPath *string `json:"recorder_path,omitempty"`

	// HTTP diagnostics server
	ListenAddr  *string `json:"listen_addr,omitempty"`
	HTTPTimeout *string `json:"http_timeout,omitempty"` // duration string like "10s"
}

func ptrString(v string) *string { return &v }
func ptrUint8(v uint8) *uint8    { return &v }
func ptrUint16(v uint16) *uint16 { return &v }
func ptrUint32(v uint32) *uint32 { return &v }

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The path must have a .json
// extension and the file must be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that any fields present hold usable values.
func (c *Config) Validate() error {
	if c.BusKind != nil {
		switch *c.BusKind {
		case BusKindLinux, BusKindBridge:
		default:
			return fmt.Errorf("bus_kind must be %q or %q, got %q", BusKindLinux, BusKindBridge, *c.BusKind)
		}
	}

	if c.EEPROMAddress != nil {
		// 7-bit I2C addresses only.
		if *c.EEPROMAddress > 0x77 {
			return fmt.Errorf("eeprom_address 0x%02X out of 7-bit range", *c.EEPROMAddress)
		}
	}

	if c.EEPROMCapacityKB != nil {
		switch *c.EEPROMCapacityKB {
		case 1, 2, 4, 8, 16, 32, 64, 128, 256, 512:
		default:
			return fmt.Errorf("eeprom_capacity_kb must be a power of two between 1 and 512, got %d", *c.EEPROMCapacityKB)
		}
	}

	if c.HTTPTimeout != nil && *c.HTTPTimeout != "" {
		if _, err := time.ParseDuration(*c.HTTPTimeout); err != nil {
			return fmt.Errorf("invalid http_timeout '%s': %w", *c.HTTPTimeout, err)
		}
	}

	return nil
}

// GetBusKind returns the bus kind or the default.
func (c *Config) GetBusKind() string {
	if c.BusKind == nil || *c.BusKind == "" {
		return BusKindLinux
	}
	return *c.BusKind
}

// GetBusPath returns the bus device path or the default for the
// configured bus kind.
func (c *Config) GetBusPath() string {
	if c.BusPath != nil && *c.BusPath != "" {
		return *c.BusPath
	}
	if c.GetBusKind() == BusKindBridge {
		return "/dev/ttyUSB0"
	}
	return "/dev/i2c-1"
}

// GetEEPROMAddress returns the settings EEPROM address or the default.
func (c *Config) GetEEPROMAddress() uint8 {
	if c.EEPROMAddress == nil {
		return 0x50
	}
	return *c.EEPROMAddress
}

// GetEEPROMCapacityKB returns the EEPROM capacity or the default.
func (c *Config) GetEEPROMCapacityKB() uint16 {
	if c.EEPROMCapacityKB == nil {
		return 4 // AT24C32
	}
	return *c.EEPROMCapacityKB
}

// GetSettingsOffset returns the byte offset of the settings record.
func (c *Config) GetSettingsOffset() uint32 {
	if c.SettingsOffset == nil {
		return 0
	}
	return *c.SettingsOffset
}

// GetMIDIPort returns the MIDI port name filter or "" for the first
// available input.
func (c *Config) GetMIDIPort() string {
	if c.MIDIPort == nil {
		return ""
	}
	return *c.MIDIPort
}

// GetRecorderPath returns the event database path or "" when recording
// is disabled.
func (c *Config) GetRecorderPath() string {
	if c.RecorderPath == nil {
		return ""
	}
	return *c.RecorderPath
}

// GetListenAddr returns the HTTP listen address or the default.
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetHTTPTimeout parses and returns the HTTP timeout as a time.Duration.
func (c *Config) GetHTTPTimeout() time.Duration {
	if c.HTTPTimeout == nil || *c.HTTPTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.HTTPTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
