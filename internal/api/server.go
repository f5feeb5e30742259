// Package api exposes the running mapper over HTTP. It is the command
// surface for reading diagnostics and changing persisted settings; note
// events themselves never pass through it.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/strikelab/pinchime/internal/expander"
	"github.com/strikelab/pinchime/internal/notemap"
	"github.com/strikelab/pinchime/internal/recorder"
	"github.com/strikelab/pinchime/internal/settings"
	"github.com/strikelab/pinchime/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server holds the pieces the HTTP handlers operate on. The mutex is
// shared with the note input loop so settings changes never interleave
// with event processing.
type Server struct {
	mu     *sync.Mutex
	mapper *notemap.Mapper
	store  *settings.Store
	rec    *recorder.Recorder // nil when recording is disabled
	start  time.Time
}

func NewServer(mu *sync.Mutex, mapper *notemap.Mapper, store *settings.Store, rec *recorder.Recorder) *Server {
	return &Server{
		mu:     mu,
		mapper: mapper,
		store:  store,
		rec:    rec,
		start:  time.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/pins", s.showPins)
	mux.HandleFunc("/api/settings", s.showSettings)
	mux.HandleFunc("/api/settings/field", s.updateField)
	mux.HandleFunc("/api/settings/backend", s.updateBackend)
	mux.HandleFunc("/api/settings/display", s.updateDisplay)
	mux.HandleFunc("/api/settings/save", s.saveSettings)
	mux.HandleFunc("/api/settings/erase", s.eraseSettings)
	mux.HandleFunc("/api/alloff", s.allOff)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "pinchime %s\n", version.Version)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

type settingsJSON struct {
	Channel           uint8  `json:"channel"`
	NoteRange         uint8  `json:"note_range"`
	LowNote           uint8  `json:"low_note"`
	SemitoneMode      string `json:"semitone_mode"`
	BackendType       string `json:"backend_type"`
	BackendAddress    string `json:"backend_address"`
	DisplayEnabled    bool   `json:"display_enabled"`
	DisplayBrightness uint8  `json:"display_brightness"`
	DisplayTimeout    uint16 `json:"display_timeout"`
}

func settingsToJSON(st settings.Settings) settingsJSON {
	return settingsJSON{
		Channel:           st.Channel,
		NoteRange:         st.NoteRange,
		LowNote:           st.LowNote,
		SemitoneMode:      notemap.Mode(st.SemitoneMode).String(),
		BackendType:       expander.Type(st.BackendType).String(),
		BackendAddress:    fmt.Sprintf("0x%02X", st.BackendAddress),
		DisplayEnabled:    st.DisplayEnabled,
		DisplayBrightness: st.DisplayBrightness,
		DisplayTimeout:    st.DisplayTimeout,
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.mu.Lock()
	status := map[string]any{
		"version":   version.Version,
		"uptime":    time.Since(s.start).Round(time.Second).String(),
		"settings":  settingsToJSON(s.store.Settings()),
		"high_note": s.mapper.HighNote(),
		"pin_mask":  s.mapper.PinState(),
		"max_pins":  s.mapper.Backend().MaxPins(),
		"recording": s.rec != nil,
	}
	s.mu.Unlock()

	if s.rec != nil {
		if n, err := s.rec.SessionEventCount(); err == nil {
			status["session_events"] = n
		}
	}
	s.writeJSON(w, status)
}

func (s *Server) showPins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.mu.Lock()
	mask := s.mapper.PinState()
	maxPins := s.mapper.Backend().MaxPins()
	s.mu.Unlock()

	pins := make([]bool, maxPins)
	for i := range pins {
		pins[i] = mask&(1<<uint(i)) != 0
	}
	s.writeJSON(w, map[string]any{"mask": mask, "pins": pins})
}

func (s *Server) showSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.mu.Lock()
	st := s.store.Settings()
	s.mu.Unlock()
	s.writeJSON(w, settingsToJSON(st))
}

// remapLocked rebuilds the mapper from the store's current record.
// Callers hold s.mu.
func (s *Server) remapLocked() error {
	st := s.store.Settings()
	return s.mapper.Reconfigure(notemap.Config{
		Channel:   st.Channel,
		NoteRange: st.NoteRange,
		LowNote:   st.LowNote,
		Mode:      notemap.Mode(st.SemitoneMode),
	})
}

func (s *Server) updateField(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	field, err := settings.ParseField(r.FormValue("field"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := strconv.ParseUint(r.FormValue("value"), 0, 8)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'value' parameter")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.UpdateField(field, uint8(value)); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.remapLocked(); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Settings saved but remap failed: %v", err))
		return
	}
	s.writeJSON(w, settingsToJSON(s.store.Settings()))
}

func (s *Server) updateBackend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	backendType, err := strconv.ParseUint(r.FormValue("type"), 0, 8)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'type' parameter")
		return
	}
	address, err := strconv.ParseUint(r.FormValue("address"), 0, 8)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'address' parameter")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Persisted only: the new backend is picked up on the next start.
	if err := s.store.UpdateBackend(uint8(backendType), uint8(address)); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, settingsToJSON(s.store.Settings()))
}

func (s *Server) updateDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	enabled, err := strconv.ParseBool(r.FormValue("enabled"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'enabled' parameter")
		return
	}
	brightness, err := strconv.ParseUint(r.FormValue("brightness"), 0, 8)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'brightness' parameter")
		return
	}
	timeout, err := strconv.ParseUint(r.FormValue("timeout"), 0, 16)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'timeout' parameter")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.UpdateDisplay(enabled, uint8(brightness), uint16(timeout)); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, settingsToJSON(s.store.Settings()))
}

// saveSettings rewrites the current record to non-volatile memory. Every
// update endpoint already persists, so this exists to force a rewrite
// after external EEPROM manipulation.
func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Save(); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to save settings: %v", err))
		return
	}
	s.writeJSON(w, settingsToJSON(s.store.Settings()))
}

func (s *Server) eraseSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Erase(); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to erase settings: %v", err))
		return
	}
	if err := s.mapper.AllOff(); err != nil {
		log.Printf("failed to clear outputs after erase: %v", err)
	}
	if err := s.remapLocked(); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Settings erased but remap failed: %v", err))
		return
	}
	s.writeJSON(w, settingsToJSON(s.store.Settings()))
}

func (s *Server) allOff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.mu.Lock()
	err := s.mapper.AllOff()
	s.mu.Unlock()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to clear outputs: %v", err))
		return
	}
	s.writeJSON(w, map[string]any{"mask": uint16(0)})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.rec == nil {
		s.writeJSONError(w, http.StatusNotFound, "Event recording is disabled")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}

	events, err := s.rec.RecentEvents(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	if events == nil {
		events = []recorder.Event{}
	}
	s.writeJSON(w, events)
}
