package autopilot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/trackpilot/core/autopilot/journal"
	cs "github.com/kilianp07/trackpilot/core/commandstation"
	"github.com/kilianp07/trackpilot/core/events"
	"github.com/kilianp07/trackpilot/core/metrics"
	"github.com/kilianp07/trackpilot/core/model"
	"github.com/kilianp07/trackpilot/infra/commandstation"
	"github.com/kilianp07/trackpilot/infra/layout"
	"github.com/kilianp07/trackpilot/infra/logger"
	"github.com/kilianp07/trackpilot/internal/eventbus"
)

const (
	loco     = "NS_DHG_6505"
	locoAddr = 8
)

type memJournal struct {
	mu   sync.Mutex
	recs []journal.Record
}

func (m *memJournal) Append(_ context.Context, r journal.Record) error {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	m.mu.Unlock()
	return nil
}

func (m *memJournal) Query(_ context.Context, q journal.Query) ([]journal.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []journal.Record
	for _, r := range m.recs {
		if q.Match(r) {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *memJournal) Close() error { return nil }

func (m *memJournal) count(k journal.Kind) int {
	out, _ := m.Query(context.Background(), journal.Query{Kind: k})
	return len(out)
}

type recordingSink struct {
	mu     sync.Mutex
	legs   []metrics.LegResult
	ghosts []metrics.GhostResult
}

func (s *recordingSink) RecordLeg(r metrics.LegResult) error {
	s.mu.Lock()
	s.legs = append(s.legs, r)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) RecordGhost(r metrics.GhostResult) error {
	s.mu.Lock()
	s.ghosts = append(s.ghosts, r)
	s.mu.Unlock()
	return nil
}

type harness struct {
	ap      *AutoPilot
	store   *layout.MemoryStore
	cs      *commandstation.VirtualStation
	journal *memJournal
	sink    *recordingSink
	bus     *eventbus.TypedBus[events.Event]
	events  <-chan events.Event
}

// standardLayout is the four block test loop: the locomotive sits in bk-1,
// bk-2 and bk-3 are out of order and bk-4 is free.
func standardLayout(t *testing.T) *layout.MemoryStore {
	t.Helper()
	s := layout.NewMemoryStore()
	must(t, s.PersistLocomotive(model.Locomotive{ID: loco, Name: "NS DHG 6505", Address: locoAddr, DecoderType: model.DecoderDCC, Direction: model.Forwards}))
	must(t, s.PersistBlock(model.Block{ID: "bk-1", State: model.BlockOccupied, LocomotiveID: loco, PlusSensorID: "0-0002", MinSensorID: "0-0001"}))
	must(t, s.PersistBlock(model.Block{ID: "bk-2", State: model.BlockOutOfOrder, PlusSensorID: "0-0004", MinSensorID: "0-0003"}))
	must(t, s.PersistBlock(model.Block{ID: "bk-3", State: model.BlockOutOfOrder, PlusSensorID: "0-0006", MinSensorID: "0-0005"}))
	must(t, s.PersistBlock(model.Block{ID: "bk-4", State: model.BlockFree, PlusSensorID: "0-0013", MinSensorID: "0-0012"}))
	for _, id := range []string{
		"[bk-1-]->[bk-4+]", "[bk-4+]->[bk-1-]",
		"[bk-1+]->[bk-2-]", "[bk-2-]->[bk-1+]",
		"[bk-2+]->[bk-3-]", "[bk-3-]->[bk-2+]",
		"[bk-3+]->[bk-4-]", "[bk-4-]->[bk-3+]",
	} {
		from, fs, to, ts, err := model.ParseRouteID(id)
		must(t, err)
		must(t, s.PersistRoute(model.NewRoute(from, fs, to, ts)))
	}
	return s
}

func newHarness(t *testing.T, s *layout.MemoryStore) *harness {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	cs := commandstation.NewVirtualStation()
	ap := New(s, cs, Config{PollIntervalMS: 5}, logger.NopLogger{})
	h := &harness{
		ap:      ap,
		store:   s,
		cs:      cs,
		journal: &memJournal{},
		sink:    &recordingSink{},
		bus:     eventbus.NewTyped[events.Event](),
	}
	h.events = h.bus.Subscribe()
	ap.SetJournal(h.journal)
	ap.SetMetricsSink(h.sink)
	ap.SetEventBus(h.bus)
	t.Cleanup(func() {
		ap.ClearDispatchers()
		ap.Close()
		h.bus.Close()
	})
	return h
}

// automode turns global automode on and returns the locomotive's dispatcher
// with per-locomotive automode enabled.
func (h *harness) automode(t *testing.T, locomotiveID string) *Dispatcher {
	t.Helper()
	if err := h.ap.StartAutoMode(); err != nil {
		t.Fatalf("start automode: %v", err)
	}
	d, ok := h.ap.GetLocomotiveDispatcher(locomotiveID)
	if !ok {
		t.Fatalf("no dispatcher for %s", locomotiveID)
	}
	if !d.StartLocomotiveAutomode() {
		t.Fatalf("locomotive automode refused")
	}
	return d
}

func (h *harness) block(t *testing.T, id string) model.Block {
	t.Helper()
	b, err := h.store.BlockByTileID(id)
	if err != nil {
		t.Fatalf("block %s: %v", id, err)
	}
	return b
}

func (h *harness) route(t *testing.T, id string) model.Route {
	t.Helper()
	r, err := h.store.Route(id)
	if err != nil {
		t.Fatalf("route %s: %v", id, err)
	}
	return r
}

func (h *harness) locomotive(t *testing.T, id string) model.Locomotive {
	t.Helper()
	l, err := h.store.Locomotive(id)
	if err != nil {
		t.Fatalf("locomotive %s: %v", id, err)
	}
	return l
}

func (h *harness) toggle(t *testing.T, sensorID string) {
	t.Helper()
	dev, contact, err := model.ParseSensorID(sensorID)
	if err != nil {
		t.Fatalf("sensor id: %v", err)
	}
	h.cs.Toggle(dev, contact)
}

// drain returns the events published so far.
func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func expectState(t *testing.T, got, want State) {
	t.Helper()
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func expectBlock(t *testing.T, b model.Block, state model.BlockState, locomotiveID string) {
	t.Helper()
	if b.State != state || b.LocomotiveID != locomotiveID {
		t.Fatalf("block %s: expected %s/%q, got %s/%q", b.ID, state, locomotiveID, b.State, b.LocomotiveID)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func awaitState(t *testing.T, ch <-chan State, want State) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func sensorEvent(device, contact int, active bool, at time.Time) cs.SensorEvent {
	return cs.SensorEvent{DeviceID: device, ContactID: contact, Active: active, Time: at}
}
