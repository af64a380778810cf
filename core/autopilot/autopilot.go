// Package autopilot runs locomotives automatically. Each locomotive on track
// gets a Dispatcher driving a small state machine through the
// lock-route / depart / enter / arrive cycle; the AutoPilot owns the global
// automode flag, allocates routes under mutual exclusion and stops the layout
// when a sensor fires that no dispatcher expects.
package autopilot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/trackpilot/core/autopilot/journal"
	"github.com/kilianp07/trackpilot/core/commandstation"
	"github.com/kilianp07/trackpilot/core/events"
	"github.com/kilianp07/trackpilot/core/layout"
	"github.com/kilianp07/trackpilot/core/logger"
	"github.com/kilianp07/trackpilot/core/metrics"
	"github.com/kilianp07/trackpilot/core/model"
	"github.com/kilianp07/trackpilot/core/monitoring"
	"github.com/kilianp07/trackpilot/internal/eventbus"
)

// ErrNoLocomotive is returned when a dispatcher is requested for a locomotive
// the layout store does not know.
var ErrNoLocomotive = errors.New("autopilot: no such locomotive")

// AutoPilot coordinates the dispatchers of all locomotives on track.
type AutoPilot struct {
	store   layout.Store
	station commandstation.CommandStation
	cfg     Config
	log     logger.Logger
	now     func() time.Time

	journal journal.Store
	sink    metrics.MetricsSink
	bus     *eventbus.TypedBus[events.Event]

	automode atomic.Bool
	ghost    atomic.Bool

	// layoutMu serializes every read-modify-write of blocks and routes.
	layoutMu sync.Mutex

	mu          sync.Mutex
	dispatchers map[string]*Dispatcher
	runCtx      context.Context

	regMu    sync.Mutex
	handlers map[string]*Dispatcher

	removeListener func()
}

// New creates an AutoPilot and subscribes it to the station's sensor events.
func New(store layout.Store, station commandstation.CommandStation, cfg Config, log logger.Logger) *AutoPilot {
	cfg.SetDefaults()
	ap := &AutoPilot{
		store:       store,
		station:     station,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
		journal:     journal.NopStore{},
		sink:        metrics.NopSink{},
		dispatchers: make(map[string]*Dispatcher),
		handlers:    make(map[string]*Dispatcher),
	}
	ap.removeListener = station.AddSensorEventListener(ap.onSensorEvent)
	return ap
}

// SetJournal configures the store receiving leg, ghost and reset records.
func (ap *AutoPilot) SetJournal(j journal.Store) {
	if j == nil {
		j = journal.NopStore{}
	}
	ap.mu.Lock()
	ap.journal = j
	ap.mu.Unlock()
}

// SetMetricsSink configures the sink receiving completed legs.
func (ap *AutoPilot) SetMetricsSink(s metrics.MetricsSink) {
	if s == nil {
		s = metrics.NopSink{}
	}
	ap.mu.Lock()
	ap.sink = s
	ap.mu.Unlock()
}

// SetEventBus configures the bus state, leg and ghost events are published on.
func (ap *AutoPilot) SetEventBus(bus *eventbus.TypedBus[events.Event]) {
	ap.mu.Lock()
	ap.bus = bus
	ap.mu.Unlock()
}

// Config returns the effective configuration.
func (ap *AutoPilot) Config() Config { return ap.cfg }

// Store returns the layout store the autopilot works on.
func (ap *AutoPilot) Store() layout.Store { return ap.store }

// Station returns the command station the autopilot drives.
func (ap *AutoPilot) Station() commandstation.CommandStation { return ap.station }

// StartAutoMode turns global automode on and creates dispatchers for every
// locomotive on track.
func (ap *AutoPilot) StartAutoMode() error {
	ap.automode.Store(true)
	ap.log.Infof("automode started")
	err := ap.PrepareDispatchers()
	ap.wakeAll()
	return err
}

// StopAutoMode turns global automode off. Dispatchers stay allocated so that
// legs in flight complete; they park in IdleState afterwards.
func (ap *AutoPilot) StopAutoMode() {
	ap.automode.Store(false)
	for _, d := range ap.Dispatchers() {
		d.StopLocomotiveAutomode()
	}
	ap.log.Infof("automode stopped")
	ap.wakeAll()
}

func (ap *AutoPilot) IsAutoModeActive() bool { return ap.automode.Load() }

// StartAllLocomotives enables automode on every dispatcher and returns how
// many accepted.
func (ap *AutoPilot) StartAllLocomotives() int {
	n := 0
	for _, d := range ap.Dispatchers() {
		if d.StartLocomotiveAutomode() {
			n++
		}
	}
	return n
}

// PrepareDispatchers creates a dispatcher for every OCCUPIED block carrying a
// locomotive that has none yet. New dispatchers start running when Run is active.
func (ap *AutoPilot) PrepareDispatchers() error {
	blocks, err := ap.store.Blocks()
	if err != nil {
		return fmt.Errorf("list blocks: %w", err)
	}
	var errs []error
	for _, b := range blocks {
		if b.State != model.BlockOccupied || b.LocomotiveID == "" {
			continue
		}
		ap.mu.Lock()
		_, exists := ap.dispatchers[b.LocomotiveID]
		ap.mu.Unlock()
		if exists {
			continue
		}
		d, err := ap.newDispatcher(b.LocomotiveID, b.ID)
		if err != nil {
			ap.log.Warnf("block %s: %v", b.ID, err)
			errs = append(errs, err)
			continue
		}
		ap.mu.Lock()
		if _, exists := ap.dispatchers[d.locomotiveID]; exists {
			ap.mu.Unlock()
			continue
		}
		ap.dispatchers[d.locomotiveID] = d
		ctx := ap.runCtx
		dispatchersGauge.Set(float64(len(ap.dispatchers)))
		ap.mu.Unlock()
		ap.log.Debugw("dispatcher created", map[string]any{"locomotive": d.locomotiveID, "block": b.ID})
		if ctx != nil {
			d.StartRunning(ctx)
		}
	}
	return errors.Join(errs...)
}

// GetLocomotiveDispatcher returns the dispatcher of the locomotive, if any.
func (ap *AutoPilot) GetLocomotiveDispatcher(locomotiveID string) (*Dispatcher, bool) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	d, ok := ap.dispatchers[locomotiveID]
	return d, ok
}

// Dispatchers returns all dispatchers ordered by locomotive id.
func (ap *AutoPilot) Dispatchers() []*Dispatcher {
	ap.mu.Lock()
	res := make([]*Dispatcher, 0, len(ap.dispatchers))
	for _, d := range ap.dispatchers {
		res = append(res, d)
	}
	ap.mu.Unlock()
	sort.Slice(res, func(i, j int) bool { return res[i].locomotiveID < res[j].locomotiveID })
	return res
}

// ClearDispatchers stops and resets every dispatcher and forgets them.
func (ap *AutoPilot) ClearDispatchers() {
	ap.mu.Lock()
	ds := make([]*Dispatcher, 0, len(ap.dispatchers))
	for _, d := range ap.dispatchers {
		ds = append(ds, d)
	}
	ap.dispatchers = make(map[string]*Dispatcher)
	dispatchersGauge.Set(0)
	ap.mu.Unlock()
	for _, d := range ds {
		d.StopRunning()
	}
}

// IsOnTrack reports whether some block references the locomotive.
func (ap *AutoPilot) IsOnTrack(locomotiveID string) bool {
	blocks, err := ap.store.Blocks()
	if err != nil {
		ap.log.Warnf("list blocks: %v", err)
		return false
	}
	for _, b := range blocks {
		if b.LocomotiveID == locomotiveID {
			return true
		}
	}
	return false
}

// IsGhostDetected reports whether a ghost has been flagged and not cleared.
func (ap *AutoPilot) IsGhostDetected() bool { return ap.ghost.Load() }

// ClearGhost resets the ghost flag and frees GHOST blocks without a
// locomotive claim. Claimed GHOST blocks are released by resetting the
// owning dispatcher. Track power is left as is.
func (ap *AutoPilot) ClearGhost() error {
	ap.layoutMu.Lock()
	blocks, err := ap.store.Blocks()
	if err != nil {
		ap.layoutMu.Unlock()
		return fmt.Errorf("list blocks: %w", err)
	}
	var errs []error
	for _, b := range blocks {
		if b.State != model.BlockGhost || b.Claimed() {
			continue
		}
		b.State = model.BlockFree
		b.ArrivalSuffix = ""
		if err := ap.store.PersistBlock(b); err != nil {
			errs = append(errs, err)
		}
	}
	ap.layoutMu.Unlock()
	if err := errors.Join(errs...); err != nil {
		return err
	}
	ap.ghost.Store(false)
	ap.log.Infof("ghost cleared")
	ap.wakeAll()
	return nil
}

// IsSensorHandlerRegistered reports whether a dispatcher currently expects
// the sensor as its enter or in sensor.
func (ap *AutoPilot) IsSensorHandlerRegistered(sensorID string) bool {
	ap.regMu.Lock()
	defer ap.regMu.Unlock()
	_, ok := ap.handlers[sensorID]
	return ok
}

// Run starts the loop of every dispatcher, including ones created later, and
// blocks until ctx ends. On return every dispatcher has been stopped and reset.
func (ap *AutoPilot) Run(ctx context.Context) error {
	ap.mu.Lock()
	if ap.runCtx != nil {
		ap.mu.Unlock()
		return errors.New("autopilot already running")
	}
	ap.runCtx = ctx
	ap.mu.Unlock()

	for _, d := range ap.Dispatchers() {
		d.StartRunning(ctx)
	}
	<-ctx.Done()

	ap.mu.Lock()
	ap.runCtx = nil
	ap.mu.Unlock()
	for _, d := range ap.Dispatchers() {
		d.StopRunning()
	}
	return nil
}

// Close unsubscribes from the command station.
func (ap *AutoPilot) Close() {
	if ap.removeListener != nil {
		ap.removeListener()
		ap.removeListener = nil
	}
}

// DispatcherStatus is a point-in-time view of a dispatcher.
type DispatcherStatus struct {
	LocomotiveID       string `json:"locomotive_id"`
	State              string `json:"state"`
	RouteID            string `json:"route_id,omitempty"`
	DepartureBlockID   string `json:"departure_block_id,omitempty"`
	DestinationBlockID string `json:"destination_block_id,omitempty"`
	EnterSensorID      string `json:"enter_sensor_id,omitempty"`
	InSensorID         string `json:"in_sensor_id,omitempty"`
	Automode           bool   `json:"automode"`
	Running            bool   `json:"running"`
}

// Status is a point-in-time view of the autopilot.
type Status struct {
	Automode    bool               `json:"automode"`
	Ghost       bool               `json:"ghost"`
	Power       bool               `json:"power"`
	Dispatchers []DispatcherStatus `json:"dispatchers"`
}

func (ap *AutoPilot) Status() Status {
	st := Status{
		Automode:    ap.IsAutoModeActive(),
		Ghost:       ap.IsGhostDetected(),
		Power:       ap.station.IsPowerOn(),
		Dispatchers: []DispatcherStatus{},
	}
	for _, d := range ap.Dispatchers() {
		st.Dispatchers = append(st.Dispatchers, d.Status())
	}
	return st
}

func (ap *AutoPilot) newDispatcher(locomotiveID, blockID string) (*Dispatcher, error) {
	if _, err := ap.store.Locomotive(locomotiveID); err != nil {
		if errors.Is(err, layout.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoLocomotive, locomotiveID)
		}
		return nil, err
	}
	return newDispatcher(ap, locomotiveID, blockID), nil
}

func (ap *AutoPilot) wakeAll() {
	for _, d := range ap.Dispatchers() {
		d.wake()
	}
}

func (ap *AutoPilot) registerSensor(sensorID string, d *Dispatcher) {
	if sensorID == "" {
		return
	}
	ap.regMu.Lock()
	ap.handlers[sensorID] = d
	ap.regMu.Unlock()
}

func (ap *AutoPilot) unregisterSensors(d *Dispatcher) {
	ap.regMu.Lock()
	for id, h := range ap.handlers {
		if h == d {
			delete(ap.handlers, id)
		}
	}
	ap.regMu.Unlock()
}

func (ap *AutoPilot) publish(e events.Event) {
	ap.mu.Lock()
	bus := ap.bus
	ap.mu.Unlock()
	if bus != nil {
		bus.Publish(e)
	}
}

func (ap *AutoPilot) appendJournal(rec journal.Record) {
	ap.mu.Lock()
	j := ap.journal
	ap.mu.Unlock()
	if err := j.Append(context.Background(), rec); err != nil {
		ap.log.Warnf("journal append: %v", err)
	}
}

func (ap *AutoPilot) metricsSink() metrics.MetricsSink {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.sink
}

// onSensorEvent runs on the command station's receiver goroutine.
func (ap *AutoPilot) onSensorEvent(e commandstation.SensorEvent) {
	id := e.SensorID()
	if e.Time.IsZero() {
		e.Time = ap.now()
	}
	ap.recordSensor(id, e)
	if !e.Active {
		return
	}

	ap.regMu.Lock()
	d := ap.handlers[id]
	ap.regMu.Unlock()
	if d != nil {
		d.deliver(id)
		return
	}
	if !ap.automode.Load() && !ap.anyMoving() {
		return
	}
	ap.checkGhost(id, e.Time)
}

// anyMoving reports whether a dispatcher is between departure and arrival.
// Legs in flight finish after automode is stopped and stay guarded.
func (ap *AutoPilot) anyMoving() bool {
	for _, d := range ap.Dispatchers() {
		if d.State().Moving() {
			return true
		}
	}
	return false
}

func (ap *AutoPilot) recordSensor(id string, e commandstation.SensorEvent) {
	s, err := ap.store.Sensor(id)
	if err != nil {
		if !errors.Is(err, layout.ErrNotFound) {
			ap.log.Warnf("sensor %s: %v", id, err)
			return
		}
		s = model.Sensor{ID: id, DeviceID: e.DeviceID, ContactID: e.ContactID}
	}
	s.PreviousActive = s.Active
	s.Active = e.Active
	s.LastChanged = e.Time
	if err := ap.store.PersistSensor(s); err != nil {
		ap.log.Warnf("persist sensor %s: %v", id, err)
	}
}

// checkGhost handles an active sensor no dispatcher expects. Activity in a
// block that should be empty or is reserved for an arriving locomotive stops
// the layout; activity in OCCUPIED or OUTBOUND blocks is the locomotive
// already there.
func (ap *AutoPilot) checkGhost(sensorID string, at time.Time) {
	ap.layoutMu.Lock()
	b, err := layout.BlockForSensor(ap.store, sensorID)
	if err != nil {
		ap.layoutMu.Unlock()
		if !errors.Is(err, layout.ErrNotFound) {
			ap.log.Warnf("block for sensor %s: %v", sensorID, err)
		}
		return
	}
	switch b.State {
	case model.BlockFree, model.BlockLocked, model.BlockInbound:
	default:
		ap.layoutMu.Unlock()
		return
	}

	ap.ghost.Store(true)
	b.State = model.BlockGhost
	if err := ap.store.PersistBlock(b); err != nil {
		ap.log.Errorf("persist ghost block %s: %v", b.ID, err)
	}
	ap.layoutMu.Unlock()

	if err := ap.station.SwitchPower(false); err != nil {
		ap.log.Errorf("power off after ghost: %v", err)
	}

	ap.log.Errorf("ghost detected: sensor %s in block %s", sensorID, b.ID)
	ghostDetections.Inc()
	if gr, ok := ap.metricsSink().(metrics.GhostRecorder); ok {
		if err := gr.RecordGhost(metrics.GhostResult{SensorID: sensorID, BlockID: b.ID, Time: at}); err != nil {
			ap.log.Warnf("record ghost: %v", err)
		}
	}
	ap.appendJournal(journal.Record{
		Timestamp:    at,
		Kind:         journal.KindGhost,
		LocomotiveID: b.LocomotiveID,
		ToBlockID:    b.ID,
		SensorID:     sensorID,
	})
	ap.publish(events.GhostEvent{SensorID: sensorID, BlockID: b.ID, Time: at})
	monitoring.CaptureException(fmt.Errorf("ghost sensor %s in block %s", sensorID, b.ID),
		map[string]string{"sensor_id": sensorID, "block_id": b.ID})
	ap.wakeAll()
}
