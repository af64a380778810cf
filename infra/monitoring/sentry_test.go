package monitoring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/trackpilot/config"
	coremon "github.com/kilianp07/trackpilot/core/monitoring"
)

func TestNewSentryMonitorWithoutDSN(t *testing.T) {
	mon, err := NewSentryMonitor(config.SentryConfig{})
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if _, ok := mon.(coremon.NopMonitor); !ok {
		t.Fatalf("expected NopMonitor, got %T", mon)
	}
}

func TestSentryMonitorTags(t *testing.T) {
	var mu sync.Mutex
	var events []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://key@sentry.example/1",
		BeforeSend: func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	mon := &sentryMonitor{hub: sentry.NewHub(client, sentry.NewScope())}

	mon.CaptureException(nil, nil)
	mon.CaptureException(errors.New("ghost train"), map[string]string{"block_id": "bk-2", "sensor_id": "0-0004"})
	mon.Flush(time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Tags["block_id"] != "bk-2" || events[0].Tags["sensor_id"] != "0-0004" {
		t.Fatalf("tags not set: %v", events[0].Tags)
	}
}
