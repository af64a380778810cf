package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/trackpilot/core/metrics"
	"github.com/kilianp07/trackpilot/infra/logger"
)

// InfluxSink writes autopilot events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New(logger.ComponentInflux),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordLeg writes a completed leg.
func (s *InfluxSink) RecordLeg(res coremetrics.LegResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("autopilot_leg").
		AddTag("locomotive_id", res.LocomotiveID).
		AddTag("route_id", res.RouteID).
		AddTag("from_block", res.FromBlockID).
		AddTag("to_block", res.ToBlockID).
		AddField("duration_s", round3(res.Duration().Seconds())).
		SetTime(res.Finished)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordGhost writes a ghost detection.
func (s *InfluxSink) RecordGhost(res coremetrics.GhostResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("autopilot_ghost").
		AddTag("block_id", res.BlockID).
		AddField("sensor_id", res.SensorID).
		SetTime(res.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTransition writes a state machine transition.
func (s *InfluxSink) RecordTransition(res coremetrics.TransitionResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("autopilot_transition").
		AddTag("locomotive_id", res.LocomotiveID).
		AddTag("to", res.To).
		AddField("from", res.From)
	if res.RouteID != "" {
		p = p.AddField("route_id", res.RouteID)
	}
	p = p.SetTime(res.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
