package metrics

import (
	"context"

	"github.com/kilianp07/trackpilot/core/events"
	coremetrics "github.com/kilianp07/trackpilot/core/metrics"
	"github.com/kilianp07/trackpilot/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records state
// transitions on sinks implementing TransitionRecorder.
// It stops when the context is canceled.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.Event], sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	rec, ok := sink.(coremetrics.TransitionRecorder)
	if !ok {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if e, ok := ev.(events.StateEvent); ok {
					_ = rec.RecordTransition(coremetrics.TransitionResult{
						LocomotiveID: e.LocomotiveID,
						From:         e.From,
						To:           e.To,
						RouteID:      e.RouteID,
						Time:         e.Time,
					})
				}
			}
		}
	}()
}
