// Package autopilot exposes the autopilot over HTTP: status, global and
// per-locomotive automode, ghost recovery, power, the journal and a
// websocket stream of bus events.
package autopilot

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	coreap "github.com/kilianp07/trackpilot/core/autopilot"
	"github.com/kilianp07/trackpilot/core/autopilot/journal"
	"github.com/kilianp07/trackpilot/core/commandstation"
	"github.com/kilianp07/trackpilot/core/events"
	corelayout "github.com/kilianp07/trackpilot/core/layout"
	"github.com/kilianp07/trackpilot/core/model"
	"github.com/kilianp07/trackpilot/infra/logger"
	"github.com/kilianp07/trackpilot/internal/eventbus"
)

// Server holds the collaborators of the HTTP handlers.
type Server struct {
	pilot    *coreap.AutoPilot
	journal  journal.Store
	bus      *eventbus.TypedBus[events.Event]
	token    string
	log      logger.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a Server. journal and bus may be nil; the matching
// endpoints then answer with empty results or 503.
func NewServer(pilot *coreap.AutoPilot, j journal.Store, bus *eventbus.TypedBus[events.Event], token string, log logger.Logger) *Server {
	if j == nil {
		j = journal.NopStore{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Server{
		pilot:   pilot,
		journal: j,
		bus:     bus,
		token:   token,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the mux serving every endpoint.
// Requests must include an Authorization header with "Bearer <token>" when token is non-empty.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/autopilot", s.status)
	mux.HandleFunc("POST /api/autopilot/start", s.startAutoMode)
	mux.HandleFunc("POST /api/autopilot/stop", s.stopAutoMode)
	mux.HandleFunc("POST /api/autopilot/ghost/clear", s.clearGhost)
	mux.HandleFunc("GET /api/autopilot/events", s.streamEvents)
	mux.HandleFunc("POST /api/power/{state}", s.power)
	mux.HandleFunc("GET /api/locomotives/{id}", s.locomotive)
	mux.HandleFunc("POST /api/locomotives/{id}/automode/start", s.startLocomotive)
	mux.HandleFunc("POST /api/locomotives/{id}/automode/stop", s.stopLocomotive)
	mux.HandleFunc("POST /api/locomotives/{id}/reset", s.resetLocomotive)
	mux.HandleFunc("POST /api/sensors/{id}/activate", s.activateSensor)
	mux.Handle("GET /api/journal", NewJournalHandler(s.journal, ""))
	return s.auth(mux)
}

func (s *Server) auth(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pilot.Status())
}

func (s *Server) startAutoMode(w http.ResponseWriter, _ *http.Request) {
	if err := s.pilot.StartAutoMode(); err != nil {
		s.log.Errorf("start automode: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.pilot.Status())
}

func (s *Server) stopAutoMode(w http.ResponseWriter, _ *http.Request) {
	s.pilot.StopAutoMode()
	writeJSON(w, http.StatusOK, s.pilot.Status())
}

func (s *Server) clearGhost(w http.ResponseWriter, _ *http.Request) {
	if err := s.pilot.ClearGhost(); err != nil {
		s.log.Errorf("clear ghost: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.pilot.Status())
}

func (s *Server) power(w http.ResponseWriter, r *http.Request) {
	var on bool
	switch r.PathValue("state") {
	case "on":
		on = true
	case "off":
	default:
		http.Error(w, "state must be on or off", http.StatusBadRequest)
		return
	}
	if err := s.pilot.Station().SwitchPower(on); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, commandstation.ErrNotConnected) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, s.pilot.Status())
}

// LocomotiveView describes where a locomotive is and what its dispatcher does.
type LocomotiveView struct {
	Locomotive model.Locomotive         `json:"locomotive"`
	OnTrack    bool                     `json:"on_track"`
	BlockID    string                   `json:"block_id,omitempty"`
	Dispatcher *coreap.DispatcherStatus `json:"dispatcher,omitempty"`
}

func (s *Server) locomotive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	store := s.pilot.Store()
	l, err := store.Locomotive(id)
	if errors.Is(err, corelayout.ErrNotFound) {
		http.Error(w, "unknown locomotive "+id, http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	view := LocomotiveView{Locomotive: l, OnTrack: s.pilot.IsOnTrack(id)}
	b, err := corelayout.BlockOfLocomotive(store, id)
	switch {
	case err == nil:
		view.BlockID = b.ID
	case !errors.Is(err, corelayout.ErrNotFound):
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if d, ok := s.pilot.GetLocomotiveDispatcher(id); ok {
		st := d.Status()
		view.Dispatcher = &st
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) dispatcher(w http.ResponseWriter, r *http.Request) (*coreap.Dispatcher, bool) {
	id := r.PathValue("id")
	d, ok := s.pilot.GetLocomotiveDispatcher(id)
	if !ok {
		http.Error(w, "no dispatcher for locomotive "+id, http.StatusNotFound)
	}
	return d, ok
}

func (s *Server) startLocomotive(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dispatcher(w, r)
	if !ok {
		return
	}
	if !d.StartLocomotiveAutomode() {
		http.Error(w, "global automode is off", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, d.Status())
}

func (s *Server) stopLocomotive(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dispatcher(w, r)
	if !ok {
		return
	}
	d.StopLocomotiveAutomode()
	writeJSON(w, http.StatusOK, d.Status())
}

func (s *Server) resetLocomotive(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dispatcher(w, r)
	if !ok {
		return
	}
	d.ResetStateMachine()
	writeJSON(w, http.StatusOK, d.Status())
}

// activateSensor pulses a sensor: an active event followed by an inactive one.
func (s *Server) activateSensor(w http.ResponseWriter, r *http.Request) {
	inj, ok := s.pilot.Station().(commandstation.SensorInjector)
	if !ok {
		http.Error(w, "command station cannot inject sensor events", http.StatusNotImplemented)
		return
	}
	dev, contact, err := model.ParseSensorID(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	now := time.Now()
	inj.FireSensorEvent(commandstation.SensorEvent{DeviceID: dev, ContactID: contact, Active: true, Time: now})
	inj.FireSensorEvent(commandstation.SensorEvent{DeviceID: dev, ContactID: contact, Active: false, Time: now})
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
