package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/trackpilot/core/events"
	coremetrics "github.com/kilianp07/trackpilot/core/metrics"
	"github.com/kilianp07/trackpilot/internal/eventbus"
)

type bodyRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (b *bodyRecorder) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.bodies = append(b.bodies, strings.TrimSpace(string(data)))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (b *bodyRecorder) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bodies...)
}

func TestInfluxSink_RecordLeg(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	leg := coremetrics.LegResult{
		LocomotiveID: "NS_DHG_6505",
		RouteID:      "[bk-1+]->[bk-4-]",
		FromBlockID:  "bk-1",
		ToBlockID:    "bk-4",
		Started:      now.Add(-2500 * time.Millisecond),
		Finished:     now,
	}
	if err := sink.RecordLeg(leg); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("autopilot_leg").
		AddTag("locomotive_id", "NS_DHG_6505").
		AddTag("route_id", "[bk-1+]->[bk-4-]").
		AddTag("from_block", "bk-1").
		AddTag("to_block", "bk-4").
		AddField("duration_s", 2.5).
		SetTime(now)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	if bodies := rec.all(); len(bodies) != 1 || bodies[0] != expected {
		t.Errorf("unexpected bodies: %#v", bodies)
	}
}

func TestInfluxSink_RecordGhost(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)

	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	if err := sink.RecordGhost(coremetrics.GhostResult{SensorID: "0-0004", BlockID: "bk-2", Time: now}); err != nil {
		t.Fatalf("record: %v", err)
	}
	p := write.NewPointWithMeasurement("autopilot_ghost").
		AddTag("block_id", "bk-2").
		AddField("sensor_id", "0-0004").
		SetTime(now)
	exp := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	if bodies := rec.all(); len(bodies) != 1 || bodies[0] != exp {
		t.Errorf("bodies: %#v", bodies)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}

func TestEventCollector(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()

	bus := eventbus.NewTyped[events.Event]()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartEventCollector(ctx, nil, NewMultiSink(sink))
	StartEventCollector(ctx, bus, NewMultiSink(sink))

	deadline := time.Now().Add(time.Second)
	for bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	now := time.Now()
	bus.Publish(events.GhostEvent{SensorID: "0-0004", BlockID: "bk-2", Time: now})
	bus.Publish(events.StateEvent{LocomotiveID: "NS_DHG_6505", From: "IdleState", To: "PrepareRouteState", Time: now})

	for len(rec.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	bodies := rec.all()
	if len(bodies) != 1 || !strings.HasPrefix(bodies[0], "autopilot_transition,locomotive_id=NS_DHG_6505,to=PrepareRouteState") {
		t.Fatalf("unexpected bodies: %#v", bodies)
	}
}
