// Command pinchimed maps incoming MIDI note events onto I2C actuator
// pins. It loads the persisted settings record from EEPROM, builds the
// configured IO expander backend, and serves diagnostics and settings
// changes over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register rtmidi driver

	"github.com/strikelab/pinchime/internal/api"
	"github.com/strikelab/pinchime/internal/config"
	"github.com/strikelab/pinchime/internal/eeprom"
	"github.com/strikelab/pinchime/internal/expander"
	"github.com/strikelab/pinchime/internal/i2cbus"
	"github.com/strikelab/pinchime/internal/notemap"
	"github.com/strikelab/pinchime/internal/recorder"
	"github.com/strikelab/pinchime/internal/settings"
	"github.com/strikelab/pinchime/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func loadConfig() *config.Config {
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		return cfg
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		cfg, err := config.Load(config.DefaultConfigPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		return cfg
	}
	return config.Empty()
}

func openBus(cfg *config.Config) (i2cbus.Bus, error) {
	switch cfg.GetBusKind() {
	case config.BusKindBridge:
		return i2cbus.OpenBridgeBus(cfg.GetBusPath(), i2cbus.BridgeOptions{})
	default:
		return i2cbus.OpenLinuxBus(cfg.GetBusPath())
	}
}

// findInPort returns the first MIDI input whose name contains filter,
// or the first available input when filter is empty.
func findInPort(filter string) (drivers.In, error) {
	ins := midi.GetInPorts()
	if len(ins) == 0 {
		return nil, fmt.Errorf("no MIDI input ports available")
	}
	if filter == "" {
		return ins[0], nil
	}
	for _, in := range ins {
		if strings.Contains(in.String(), filter) {
			return in, nil
		}
	}
	return nil, fmt.Errorf("no MIDI input port matching %q (available: %v)", filter, ins)
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println("pinchimed", version.String())
		return
	}

	cfg := loadConfig()
	listenAddr := cfg.GetListenAddr()
	if *listen != "" {
		listenAddr = *listen
	}

	bus, err := openBus(cfg)
	if err != nil {
		log.Fatalf("failed to open I2C bus (%s %s): %v", cfg.GetBusKind(), cfg.GetBusPath(), err)
	}
	defer bus.Close()

	mem, err := eeprom.New(bus, cfg.GetEEPROMAddress(), cfg.GetEEPROMCapacityKB())
	if err != nil {
		log.Fatalf("failed to initialise settings EEPROM: %v", err)
	}

	store := settings.NewStore(mem, cfg.GetSettingsOffset())
	store.Load()
	st := store.Settings()
	log.Printf("settings: channel=%d range=%d low=%d mode=%s backend=%s@0x%02X",
		st.Channel, st.NoteRange, st.LowNote,
		notemap.Mode(st.SemitoneMode), expander.Type(st.BackendType), st.BackendAddress)

	backend, err := expander.New(expander.Type(st.BackendType), bus, st.BackendAddress)
	if err != nil {
		log.Fatalf("failed to initialise IO expander: %v", err)
	}

	mapper, err := notemap.New(notemap.Config{
		Channel:   st.Channel,
		NoteRange: st.NoteRange,
		LowNote:   st.LowNote,
		Mode:      notemap.Mode(st.SemitoneMode),
	}, backend)
	if err != nil {
		log.Fatalf("failed to build note mapper: %v", err)
	}

	var rec *recorder.Recorder
	if path := cfg.GetRecorderPath(); path != "" {
		rec, err = recorder.Open(path)
		if err != nil {
			log.Fatalf("failed to open event recorder: %v", err)
		}
		defer rec.Close()
	}

	// One mutex serialises the MIDI event path and the HTTP settings
	// path; neither touches the mapper without it.
	var mu sync.Mutex
	srv := api.NewServer(&mu, mapper, store, rec)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, err := findInPort(cfg.GetMIDIPort())
	if err != nil {
		log.Fatalf("failed to find MIDI input: %v", err)
	}
	log.Printf("listening on MIDI input %q", in.String())
	defer midi.CloseDriver()

	stopListen, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		var channel, key, velocity uint8
		var status uint8
		switch {
		case msg.GetNoteOn(&channel, &key, &velocity):
			status = 0x90 | channel
		case msg.GetNoteOff(&channel, &key, &velocity):
			status = 0x80 | channel
		default:
			return
		}

		mu.Lock()
		handled := mapper.ProcessEvent(status, key, velocity)
		mask := mapper.PinState()
		mu.Unlock()

		if rec != nil {
			if err := rec.RecordEvent(status, key, velocity, handled, mask); err != nil {
				log.Printf("failed to record event: %v", err)
			}
		}
	})
	if err != nil {
		log.Fatalf("failed to listen on MIDI input: %v", err)
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:        listenAddr,
			Handler:     api.LoggingMiddleware(srv.ServeMux()),
			ReadTimeout: cfg.GetHTTPTimeout(),
		}

		go func() {
			log.Printf("pinchimed %s listening on %s", version.Version, listenAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	<-ctx.Done()
	stopListen()

	// Drop every output before exiting so no actuator is left energised.
	mu.Lock()
	if err := mapper.AllOff(); err != nil {
		log.Printf("failed to clear outputs on shutdown: %v", err)
	}
	mu.Unlock()

	wg.Wait()
	log.Println("shutdown complete")
}
