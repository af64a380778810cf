package metrics

import (
	"testing"

	coremetrics "github.com/kilianp07/trackpilot/core/metrics"
)

type recordSink struct {
	count int
}

func (r *recordSink) RecordLeg(coremetrics.LegResult) error {
	r.count++
	return nil
}

func (r *recordSink) RecordGhost(coremetrics.GhostResult) error {
	r.count++
	return nil
}

type legOnlySink struct{ count int }

func (l *legOnlySink) RecordLeg(coremetrics.LegResult) error {
	l.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	s3 := &legOnlySink{}
	m := NewMultiSink(s1, s2, s3)
	if err := m.RecordLeg(coremetrics.LegResult{}); err != nil {
		t.Fatalf("record leg: %v", err)
	}
	if err := m.RecordGhost(coremetrics.GhostResult{}); err != nil {
		t.Fatalf("record ghost: %v", err)
	}
	if err := m.RecordTransition(coremetrics.TransitionResult{}); err != nil {
		t.Fatalf("record transition: %v", err)
	}
	if s1.count != 2 || s2.count != 2 {
		t.Fatalf("results not forwarded")
	}
	if s3.count != 1 {
		t.Fatalf("leg-only sink got %d records", s3.count)
	}
}
