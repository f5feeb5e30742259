// Command eeprom inspects and maintains the persisted settings record.
// It speaks to the same EEPROM the daemon uses, so run it only while
// the daemon is stopped.
//
// Usage:
//
//	eeprom [flags] dump       hex dump of the raw record region
//	eeprom [flags] show       decode and print the settings record
//	eeprom [flags] defaults   write a fresh default record
//	eeprom [flags] erase      zero the region, then write defaults
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/strikelab/pinchime/internal/eeprom"
	"github.com/strikelab/pinchime/internal/expander"
	"github.com/strikelab/pinchime/internal/i2cbus"
	"github.com/strikelab/pinchime/internal/notemap"
	"github.com/strikelab/pinchime/internal/settings"
)

var (
	busKind    = flag.String("bus", "linux", "Bus kind: linux or bridge")
	busPath    = flag.String("path", "", "Bus device path (default /dev/i2c-1 or /dev/ttyUSB0)")
	address    = flag.Uint("addr", eeprom.DefaultAddress, "EEPROM I2C address")
	capacityKB = flag.Uint("capacity", 4, "EEPROM capacity in KB")
	offset     = flag.Uint("offset", 0, "Byte offset of the settings record")
)

func openBus() (i2cbus.Bus, error) {
	switch *busKind {
	case "bridge":
		path := *busPath
		if path == "" {
			path = "/dev/ttyUSB0"
		}
		return i2cbus.OpenBridgeBus(path, i2cbus.BridgeOptions{})
	case "linux":
		path := *busPath
		if path == "" {
			path = "/dev/i2c-1"
		}
		return i2cbus.OpenLinuxBus(path)
	default:
		return nil, fmt.Errorf("unknown bus kind %q", *busKind)
	}
}

func dump(dev *eeprom.Device) error {
	buf := make([]byte, settings.RecordSize)
	if err := dev.Read(uint32(*offset), buf); err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	for i := 0; i < len(buf); i += 16 {
		fmt.Printf("%04X:", int(*offset)+i)
		for j := i; j < i+16 && j < len(buf); j++ {
			fmt.Printf(" %02X", buf[j])
		}
		fmt.Println()
	}
	return nil
}

func show(dev *eeprom.Device) error {
	buf := make([]byte, settings.RecordSize)
	if err := dev.Read(uint32(*offset), buf); err != nil {
		return fmt.Errorf("read failed: %w", err)
	}

	var st settings.Settings
	if err := st.UnmarshalBinary(buf); err != nil {
		return fmt.Errorf("record invalid: %w", err)
	}

	fmt.Printf("version:     %d\n", st.Version)
	fmt.Printf("channel:     %d", st.Channel)
	if st.Channel == settings.ChannelOmni {
		fmt.Printf(" (omni)")
	}
	fmt.Println()
	fmt.Printf("note range:  %d\n", st.NoteRange)
	fmt.Printf("low note:    %d\n", st.LowNote)
	fmt.Printf("mode:        %s\n", notemap.Mode(st.SemitoneMode))
	fmt.Printf("backend:     %s @ 0x%02X\n", expander.Type(st.BackendType), st.BackendAddress)
	fmt.Printf("display:     enabled=%v brightness=%d timeout=%ds\n",
		st.DisplayEnabled, st.DisplayBrightness, st.DisplayTimeout)
	return nil
}

func writeDefaults(dev *eeprom.Device) error {
	data, err := settings.Defaults().MarshalBinary()
	if err != nil {
		return err
	}
	if err := dev.Write(uint32(*offset), data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	fmt.Println("default record written")
	return nil
}

func eraseRecord(dev *eeprom.Device) error {
	store := settings.NewStore(dev, uint32(*offset))
	if err := store.Erase(); err != nil {
		return err
	}
	fmt.Println("record region zeroed and defaults written")
	return nil
}

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if *address > 0x77 {
		log.Fatalf("address 0x%02X out of 7-bit range", *address)
	}

	bus, err := openBus()
	if err != nil {
		log.Fatalf("failed to open bus: %v", err)
	}
	defer bus.Close()

	dev, err := eeprom.New(bus, uint8(*address), uint16(*capacityKB))
	if err != nil {
		log.Fatalf("failed to initialise EEPROM: %v", err)
	}

	switch cmd := flag.Arg(0); cmd {
	case "dump":
		err = dump(dev)
	case "show":
		err = show(dev)
	case "defaults":
		err = writeDefaults(dev)
	case "erase":
		err = eraseRecord(dev)
	default:
		err = errors.New("unknown command " + cmd)
	}
	if err != nil {
		log.Fatal(err)
	}
}
