package model

import "testing"

func TestRouteIDRoundTrip(t *testing.T) {
	id := RouteID("bk-1", "-", "bk-4", "+")
	if id != "[bk-1-]->[bk-4+]" {
		t.Fatalf("unexpected id %s", id)
	}
	from, fs, to, ts, err := ParseRouteID(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if from != "bk-1" || fs != "-" || to != "bk-4" || ts != "+" {
		t.Fatalf("bad parts %s %s %s %s", from, fs, to, ts)
	}
	if _, _, _, _, err := ParseRouteID("bk-1->bk-4"); err == nil {
		t.Fatalf("expected error for malformed id")
	}
}

func TestRouteDepartureDirection(t *testing.T) {
	if d := NewRoute("bk-1", "-", "bk-4", "+").DepartureDirection(); d != Backwards {
		t.Fatalf("expected BACKWARDS got %s", d)
	}
	if d := NewRoute("bk-4", "+", "bk-1", "-").DepartureDirection(); d != Forwards {
		t.Fatalf("expected FORWARDS got %s", d)
	}
}

func TestRouteCloneIsDeep(t *testing.T) {
	r := NewRoute("a", "+", "b", "-", RouteElement{TileID: "sw-1", Value: AccessoryCurved})
	c := r.Clone()
	c.Elements[0].Value = AccessoryStraight
	if r.Elements[0].Value != AccessoryCurved {
		t.Fatalf("clone shares elements")
	}
}

func TestSensorID(t *testing.T) {
	if id := SensorID(0, 13); id != "0-0013" {
		t.Fatalf("unexpected sensor id %s", id)
	}
	dev, contact, err := ParseSensorID("1-0042")
	if err != nil || dev != 1 || contact != 42 {
		t.Fatalf("parse: %d %d %v", dev, contact, err)
	}
	if _, _, err := ParseSensorID("x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestArrivalSensors(t *testing.T) {
	b := Block{ID: "bk-4", PlusSensorID: "0-0013", MinSensorID: "0-0012"}
	cases := []struct {
		suffix  string
		reverse bool
		enter   string
		in      string
	}{
		{"+", false, "0-0013", "0-0012"},
		{"-", false, "0-0012", "0-0013"},
		{"+", true, "0-0012", "0-0013"},
		{"-", true, "0-0013", "0-0012"},
	}
	for _, c := range cases {
		b.ReverseArrival = c.reverse
		enter, in := b.ArrivalSensors(c.suffix)
		if enter != c.enter || in != c.in {
			t.Errorf("suffix %s reverse %v: got %s/%s", c.suffix, c.reverse, enter, in)
		}
	}
}

func TestClampVelocity(t *testing.T) {
	for in, want := range map[int]int{-5: 0, 0: 0, 500: 500, 1200: 1000} {
		if got := ClampVelocity(in); got != want {
			t.Errorf("ClampVelocity(%d)=%d want %d", in, got, want)
		}
	}
}

func TestParseDirection(t *testing.T) {
	if d, err := ParseDirection("B"); err != nil || d != Backwards {
		t.Fatalf("got %s %v", d, err)
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatalf("expected error")
	}
	if Forwards.Toggle() != Backwards || Backwards.Toggle() != Forwards {
		t.Fatalf("toggle broken")
	}
}
