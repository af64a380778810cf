package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/trackpilot/core/metrics"
)

func TestPromSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	start := time.Now()
	leg := coremetrics.LegResult{LocomotiveID: "8", RouteID: "[bk-1+]->[bk-4-]", Started: start, Finished: start.Add(3 * time.Second)}
	if err := sink.RecordLeg(leg); err != nil {
		t.Fatalf("record leg: %v", err)
	}
	if err := sink.RecordGhost(coremetrics.GhostResult{BlockID: "bk-2", SensorID: "0-0004"}); err != nil {
		t.Fatalf("record ghost: %v", err)
	}
	if v := testutil.ToFloat64(sink.legs.WithLabelValues("8", "[bk-1+]->[bk-4-]")); v != 1 {
		t.Fatalf("legs = %v", v)
	}
	if v := testutil.ToFloat64(sink.ghosts.WithLabelValues("bk-2")); v != 1 {
		t.Fatalf("ghosts = %v", v)
	}
	if n := testutil.CollectAndCount(sink.duration); n != 1 {
		t.Fatalf("duration series = %d", n)
	}

	// a second sink on the same registry reuses the collectors
	again, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	_ = again.RecordLeg(leg)
	if v := testutil.ToFloat64(sink.legs.WithLabelValues("8", "[bk-1+]->[bk-4-]")); v != 2 {
		t.Fatalf("legs after reuse = %v", v)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	_ = sink.RecordGhost(coremetrics.GhostResult{BlockID: "bk-3"})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `autopilot_ghosts_total{block_id="bk-3"} 1`) {
		t.Fatalf("metric not exposed:\n%s", body)
	}
}
