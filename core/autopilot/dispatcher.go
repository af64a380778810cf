package autopilot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/trackpilot/core/autopilot/journal"
	"github.com/kilianp07/trackpilot/core/events"
	"github.com/kilianp07/trackpilot/core/layout"
	"github.com/kilianp07/trackpilot/core/metrics"
	"github.com/kilianp07/trackpilot/core/model"
)

// errTrackPowerOff holds a frozen leg until track power is back.
var errTrackPowerOff = errors.New("track power off")

// StateListener is notified after every completed state transition. It runs
// on the goroutine calling HandleState and must not call back into the
// dispatcher's stepping methods.
type StateListener func(from, to State)

type listenerEntry struct {
	id int
	fn StateListener
}

// Dispatcher drives one locomotive through the state machine.
//
// There is no timeout on the enter and in sensors: a dispatcher waits in
// StateStart or StateEnterBlock until the sensor fires or it is reset.
type Dispatcher struct {
	ap           *AutoPilot
	locomotiveID string

	// stepMu serializes HandleState and ResetStateMachine. The fields below
	// are only touched while holding it.
	stepMu     sync.Mutex
	entered    bool
	frozen     bool
	legStarted time.Time
	dwellUntil time.Time

	mu                 sync.Mutex
	state              State
	automode           bool
	route              *model.Route
	departureBlockID   string
	destinationBlockID string
	enterSensorID      string
	inSensorID         string
	enterSeen          bool
	inSeen             bool

	lmu          sync.Mutex
	listeners    []listenerEntry
	nextListener int

	wakeCh chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newDispatcher(ap *AutoPilot, locomotiveID, blockID string) *Dispatcher {
	return &Dispatcher{
		ap:               ap,
		locomotiveID:     locomotiveID,
		departureBlockID: blockID,
		state:            StateIdle,
		wakeCh:           make(chan struct{}, 1),
	}
}

func (d *Dispatcher) LocomotiveID() string { return d.locomotiveID }

// State returns the current state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Route returns a copy of the locked route, or nil.
func (d *Dispatcher) Route() *model.Route {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.route == nil {
		return nil
	}
	r := d.route.Clone()
	return &r
}

func (d *Dispatcher) DepartureBlockID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.departureBlockID
}

func (d *Dispatcher) DestinationBlockID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destinationBlockID
}

func (d *Dispatcher) EnterSensorID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enterSensorID
}

func (d *Dispatcher) InSensorID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inSensorID
}

// Status returns a point-in-time view of the dispatcher.
func (d *Dispatcher) Status() DispatcherStatus {
	d.mu.Lock()
	st := DispatcherStatus{
		LocomotiveID:       d.locomotiveID,
		State:              d.state.String(),
		DepartureBlockID:   d.departureBlockID,
		DestinationBlockID: d.destinationBlockID,
		EnterSensorID:      d.enterSensorID,
		InSensorID:         d.inSensorID,
		Automode:           d.automode,
	}
	if d.route != nil {
		st.RouteID = d.route.ID
	}
	d.mu.Unlock()
	st.Running = d.IsRunning()
	return st
}

// StartLocomotiveAutomode enables automode for this locomotive. It fails and
// returns false while global automode is off.
func (d *Dispatcher) StartLocomotiveAutomode() bool {
	if !d.ap.IsAutoModeActive() {
		return false
	}
	d.mu.Lock()
	d.automode = true
	d.mu.Unlock()
	d.wake()
	return true
}

// StopLocomotiveAutomode disables automode for this locomotive. A leg in
// flight still completes; the dispatcher then parks in IdleState.
func (d *Dispatcher) StopLocomotiveAutomode() {
	d.mu.Lock()
	d.automode = false
	d.mu.Unlock()
	d.wake()
}

func (d *Dispatcher) IsLocomotiveAutomodeOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.automode
}

// AddStateListener registers fn and returns a function removing it.
func (d *Dispatcher) AddStateListener(fn StateListener) (remove func()) {
	d.lmu.Lock()
	id := d.nextListener
	d.nextListener++
	d.listeners = append(d.listeners, listenerEntry{id: id, fn: fn})
	d.lmu.Unlock()
	return func() {
		d.lmu.Lock()
		defer d.lmu.Unlock()
		for i, l := range d.listeners {
			if l.id == id {
				d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

func (d *Dispatcher) notify(from, to State) {
	d.lmu.Lock()
	ls := d.listeners
	d.lmu.Unlock()
	for _, l := range ls {
		l.fn(from, to)
	}
}

// HandleState runs the current state's action and advances to the next
// state when its condition holds. It never blocks on sensor feedback.
func (d *Dispatcher) HandleState() State {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()

	from := d.State()
	if err := d.execute(from); err != nil {
		if errors.Is(err, errTrackPowerOff) {
			return from
		}
		d.ap.log.Warnf("locomotive %s: %s: %v", d.locomotiveID, from, err)
		return from
	}
	to := step(from, d.inputs())
	if to != from {
		if from == StateWait {
			d.dwellUntil = time.Time{}
		}
		d.transition(from, to)
	}
	return to
}

func (d *Dispatcher) inputs() inputs {
	d.mu.Lock()
	defer d.mu.Unlock()
	return inputs{
		automode:    d.ap.automode.Load() && d.automode,
		ghost:       d.ap.ghost.Load(),
		routeLocked: d.route != nil,
		enterSeen:   d.enterSeen,
		inSeen:      d.inSeen,
		dwellOver:   d.dwellUntil.IsZero() || !d.ap.now().Before(d.dwellUntil),
	}
}

// execute runs the action of s. Entry actions that fail are retried on the
// next call.
func (d *Dispatcher) execute(s State) error {
	switch s {
	case StatePrepareRoute:
		return d.prepareRoute()
	case StateStart, StateEnterBlock:
		if d.ap.ghost.Load() {
			return d.freeze()
		}
		if d.frozen {
			if !d.ap.station.IsPowerOn() {
				return errTrackPowerOff
			}
			if err := d.resume(s); err != nil {
				return err
			}
		}
		if d.entered {
			return nil
		}
		var err error
		if s == StateStart {
			err = d.startLeg()
		} else {
			err = d.enterBlock()
		}
		if err != nil {
			return err
		}
	case StateInBlock:
		if d.entered {
			return nil
		}
		if err := d.arrive(); err != nil {
			return err
		}
	case StateWait:
		if d.entered {
			return nil
		}
		if err := d.beginDwell(); err != nil {
			return err
		}
	default:
		return nil
	}
	d.entered = true
	return nil
}

func (d *Dispatcher) prepareRoute() error {
	if !d.ap.automode.Load() || !d.IsLocomotiveAutomodeOn() || d.ap.ghost.Load() {
		return nil
	}
	d.mu.Lock()
	held := d.route != nil
	departure := d.departureBlockID
	d.mu.Unlock()
	if held {
		return nil
	}

	alloc, ok, err := d.ap.allocate(d.locomotiveID, departure)
	if err != nil {
		return err
	}
	if !ok {
		d.ap.log.Debugf("locomotive %s: no free route from %s", d.locomotiveID, departure)
		return nil
	}
	d.mu.Lock()
	r := alloc.route
	d.route = &r
	d.destinationBlockID = alloc.destination.ID
	d.enterSensorID = alloc.enterSensor
	d.inSensorID = alloc.inSensor
	d.enterSeen, d.inSeen = false, false
	d.mu.Unlock()
	d.ap.log.Debugw("route locked", map[string]any{
		"locomotive": d.locomotiveID,
		"route":      r.ID,
		"enter":      alloc.enterSensor,
		"in":         alloc.inSensor,
	})
	return nil
}

func (d *Dispatcher) startLeg() error {
	d.mu.Lock()
	route := d.route.Clone()
	departure := d.departureBlockID
	enter := d.enterSensorID
	d.mu.Unlock()

	// Armed before the locomotive moves so the first contact is not a ghost.
	d.ap.registerSensor(enter, d)
	if err := d.ap.setBlockState(departure, d.locomotiveID, model.BlockOutbound); err != nil {
		return err
	}
	if err := d.setDirection(route.DepartureDirection()); err != nil {
		return err
	}
	if err := d.setVelocity(d.ap.cfg.CruiseVelocity); err != nil {
		return err
	}
	d.legStarted = d.ap.now()
	return nil
}

func (d *Dispatcher) enterBlock() error {
	d.mu.Lock()
	destination := d.destinationBlockID
	in := d.inSensorID
	d.mu.Unlock()

	d.ap.registerSensor(in, d)
	if err := d.setVelocity(d.ap.cfg.SlowVelocity); err != nil {
		return err
	}
	return d.ap.setBlockState(destination, d.locomotiveID, model.BlockInbound)
}

func (d *Dispatcher) arrive() error {
	if err := d.setVelocity(0); err != nil {
		return err
	}
	d.mu.Lock()
	routeID := d.route.ID
	departure := d.departureBlockID
	destination := d.destinationBlockID
	d.mu.Unlock()

	if err := d.ap.completeLeg(d.locomotiveID, routeID, departure, destination); err != nil {
		return err
	}

	d.mu.Lock()
	d.departureBlockID = destination
	d.destinationBlockID = ""
	d.route = nil
	d.enterSensorID, d.inSensorID = "", ""
	d.enterSeen, d.inSeen = false, false
	d.mu.Unlock()
	d.ap.unregisterSensors(d)

	d.recordLeg(metrics.LegResult{
		LocomotiveID: d.locomotiveID,
		RouteID:      routeID,
		FromBlockID:  departure,
		ToBlockID:    destination,
		Started:      d.legStarted,
		Finished:     d.ap.now(),
	})
	d.legStarted = time.Time{}
	return nil
}

func (d *Dispatcher) recordLeg(res metrics.LegResult) {
	if res.Started.IsZero() {
		res.Started = res.Finished
	}
	d.ap.log.Infof("locomotive %s arrived in %s via %s after %s", res.LocomotiveID, res.ToBlockID, res.RouteID, res.Duration())
	if err := d.ap.metricsSink().RecordLeg(res); err != nil {
		d.ap.log.Warnf("record leg: %v", err)
	}
	d.ap.appendJournal(journal.Record{
		Timestamp:    res.Finished,
		Kind:         journal.KindLeg,
		LocomotiveID: res.LocomotiveID,
		RouteID:      res.RouteID,
		FromBlockID:  res.FromBlockID,
		ToBlockID:    res.ToBlockID,
		DurationMS:   res.Duration().Milliseconds(),
	})
	d.ap.publish(events.LegEvent{
		LocomotiveID: res.LocomotiveID,
		RouteID:      res.RouteID,
		FromBlockID:  res.FromBlockID,
		ToBlockID:    res.ToBlockID,
		Duration:     res.Duration(),
		Time:         res.Finished,
	})
}

func (d *Dispatcher) beginDwell() error {
	b, err := d.ap.store.BlockByTileID(d.DepartureBlockID())
	if err != nil {
		return fmt.Errorf("block %s: %w", d.DepartureBlockID(), err)
	}
	d.dwellUntil = time.Time{}
	if b.AlwaysStop && b.MinWaitTime > 0 {
		d.dwellUntil = d.ap.now().Add(time.Duration(b.MinWaitTime) * time.Second)
	}
	return nil
}

// freeze stops a moving locomotive while a ghost is flagged. Its destination
// is marked GHOST; the state is kept until the ghost is cleared or the
// dispatcher is reset.
func (d *Dispatcher) freeze() error {
	if d.frozen {
		return nil
	}
	destination := d.DestinationBlockID()
	if err := d.ap.setBlockState(destination, d.locomotiveID, model.BlockGhost); err != nil {
		return err
	}
	if err := d.setVelocity(0); err != nil {
		d.ap.log.Warnf("locomotive %s: stop after ghost: %v", d.locomotiveID, err)
	}
	d.frozen = true
	d.ap.log.Errorf("locomotive %s frozen on its way to %s", d.locomotiveID, destination)
	return nil
}

// resume continues a frozen leg after the ghost was cleared and track power
// is back.
func (d *Dispatcher) resume(s State) error {
	if !d.entered {
		d.frozen = false
		return d.ap.setBlockState(d.DestinationBlockID(), d.locomotiveID, model.BlockLocked)
	}
	blockState, velocity := model.BlockLocked, d.ap.cfg.CruiseVelocity
	if s == StateEnterBlock {
		blockState, velocity = model.BlockInbound, d.ap.cfg.SlowVelocity
	}
	if err := d.ap.setBlockState(d.DestinationBlockID(), d.locomotiveID, blockState); err != nil {
		return err
	}
	if err := d.setVelocity(velocity); err != nil {
		return err
	}
	d.frozen = false
	d.ap.log.Infof("locomotive %s resumes %s", d.locomotiveID, s)
	return nil
}

// ResetStateMachine releases every claim of the dispatcher, stops the
// locomotive and returns to IdleState with automode off. It is idempotent.
func (d *Dispatcher) ResetStateMachine() {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()

	d.mu.Lock()
	from := d.state
	routeID := ""
	if d.route != nil {
		routeID = d.route.ID
	}
	destination := d.destinationBlockID
	departure := d.departureBlockID
	d.mu.Unlock()

	if err := d.ap.release(d.locomotiveID, routeID, destination, departure); err != nil {
		d.ap.log.Warnf("locomotive %s: release: %v", d.locomotiveID, err)
	}
	if err := d.setVelocity(0); err != nil {
		d.ap.log.Warnf("locomotive %s: stop: %v", d.locomotiveID, err)
	}

	d.mu.Lock()
	d.state = StateIdle
	d.automode = false
	d.route = nil
	d.destinationBlockID = ""
	d.enterSensorID, d.inSensorID = "", ""
	d.enterSeen, d.inSeen = false, false
	d.mu.Unlock()
	// After the ids are cleared deliver can no longer arm a sensor.
	d.ap.unregisterSensors(d)
	d.entered = false
	d.frozen = false
	d.legStarted = time.Time{}
	d.dwellUntil = time.Time{}

	if routeID != "" || destination != "" {
		d.ap.log.Infof("locomotive %s reset, released %s", d.locomotiveID, routeID)
		d.ap.appendJournal(journal.Record{
			Timestamp:    d.ap.now(),
			Kind:         journal.KindReset,
			LocomotiveID: d.locomotiveID,
			RouteID:      routeID,
			FromBlockID:  departure,
			ToBlockID:    destination,
		})
	}
	if from != StateIdle {
		d.transition(from, StateIdle)
	}
}

// transition records a completed transition. Caller holds stepMu.
func (d *Dispatcher) transition(from, to State) {
	d.mu.Lock()
	d.state = to
	routeID := ""
	if d.route != nil {
		routeID = d.route.ID
	}
	d.mu.Unlock()
	d.entered = false

	stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	d.ap.log.Debugw("state transition", map[string]any{
		"locomotive": d.locomotiveID,
		"from":       from.String(),
		"to":         to.String(),
		"route":      routeID,
	})
	d.ap.publish(events.StateEvent{
		LocomotiveID: d.locomotiveID,
		From:         from.String(),
		To:           to.String(),
		RouteID:      routeID,
		Time:         d.ap.now(),
	})
	d.notify(from, to)
}

func (d *Dispatcher) locomotive() (model.Locomotive, error) {
	l, err := d.ap.store.Locomotive(d.locomotiveID)
	if errors.Is(err, layout.ErrNotFound) {
		return model.Locomotive{}, fmt.Errorf("%w: %s", ErrNoLocomotive, d.locomotiveID)
	}
	return l, err
}

func (d *Dispatcher) setVelocity(v int) error {
	l, err := d.locomotive()
	if err != nil {
		return err
	}
	v = model.ClampVelocity(v)
	if err := d.ap.station.ChangeVelocity(l.Address, l.DecoderType, v); err != nil {
		return fmt.Errorf("velocity %d: %w", v, err)
	}
	l.Velocity = v
	return d.ap.store.PersistLocomotive(l)
}

func (d *Dispatcher) setDirection(dir model.Direction) error {
	l, err := d.locomotive()
	if err != nil {
		return err
	}
	if err := d.ap.station.ChangeDirection(l.Address, l.DecoderType, dir); err != nil {
		return fmt.Errorf("direction %s: %w", dir, err)
	}
	l.Direction = dir
	return d.ap.store.PersistLocomotive(l)
}

// deliver hands an expected sensor activation to the dispatcher. The in
// sensor is armed as soon as the enter sensor fires.
func (d *Dispatcher) deliver(sensorID string) {
	d.mu.Lock()
	switch sensorID {
	case d.enterSensorID:
		if !d.enterSeen {
			d.enterSeen = true
			d.ap.registerSensor(d.inSensorID, d)
		}
	case d.inSensorID:
		if d.enterSeen {
			d.inSeen = true
		}
	}
	d.mu.Unlock()
	d.wake()
}

func (d *Dispatcher) wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

// StartRunning starts the polling loop. It returns false if the loop is
// already running.
func (d *Dispatcher) StartRunning(ctx context.Context) bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.done != nil {
		select {
		case <-d.done:
		default:
			return false
		}
		d.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel, d.done = cancel, done
	go d.loop(ctx, done)
	return true
}

func (d *Dispatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.ap.cfg.PollInterval())
	defer ticker.Stop()
	for {
		d.HandleState()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wakeCh:
		}
	}
}

// StopRunning stops the polling loop and resets the state machine so no
// route stays locked and the locomotive is stopped. The dispatcher can be
// started again.
func (d *Dispatcher) StopRunning() {
	d.runMu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.runMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	d.ResetStateMachine()
}

func (d *Dispatcher) IsRunning() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.done == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}
