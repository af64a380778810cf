package autopilot

import "testing"

func TestStep(t *testing.T) {
	on := inputs{automode: true, dwellOver: true}
	cases := []struct {
		name string
		from State
		in   inputs
		want State
	}{
		{"idle stays without automode", StateIdle, inputs{dwellOver: true}, StateIdle},
		{"idle to prepare", StateIdle, on, StatePrepareRoute},
		{"prepare stalls", StatePrepareRoute, on, StatePrepareRoute},
		{"prepare locked", StatePrepareRoute, inputs{automode: true, routeLocked: true}, StateStart},
		{"prepare back to idle", StatePrepareRoute, inputs{}, StateIdle},
		{"prepare keeps lock without automode", StatePrepareRoute, inputs{routeLocked: true}, StateStart},
		{"start waits", StateStart, on, StateStart},
		{"start entered", StateStart, inputs{enterSeen: true}, StateEnterBlock},
		{"start frozen", StateStart, inputs{enterSeen: true, ghost: true}, StateStart},
		{"enter waits", StateEnterBlock, inputs{enterSeen: true}, StateEnterBlock},
		{"enter arrived", StateEnterBlock, inputs{enterSeen: true, inSeen: true}, StateInBlock},
		{"enter frozen", StateEnterBlock, inputs{inSeen: true, ghost: true}, StateEnterBlock},
		{"in block to wait", StateInBlock, inputs{}, StateWait},
		{"wait dwell", StateWait, inputs{automode: true}, StateWait},
		{"wait loops", StateWait, on, StatePrepareRoute},
		{"wait parks", StateWait, inputs{dwellOver: true}, StateIdle},
	}
	for _, c := range cases {
		if got := step(c.from, c.in); got != c.want {
			t.Errorf("%s: step(%s) = %s, want %s", c.name, c.from, got, c.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateEnterBlock.String() != "EnterBlockState" || State(42).String() != "UnknownState" {
		t.Fatalf("unexpected names")
	}
	if !StateStart.Moving() || StateWait.Moving() {
		t.Fatalf("Moving mismatch")
	}
}

func TestConfig(t *testing.T) {
	var c Config
	c.SetDefaults()
	if c.PollIntervalMS != 50 || c.CruiseVelocity != 750 || c.SlowVelocity != 100 {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := []Config{
		{PollIntervalMS: -1, CruiseVelocity: 750, SlowVelocity: 100},
		{PollIntervalMS: 50, CruiseVelocity: 1200, SlowVelocity: 100},
		{PollIntervalMS: 50, CruiseVelocity: 500, SlowVelocity: 600},
	}
	for _, b := range bad {
		if b.Validate() == nil {
			t.Errorf("expected error for %+v", b)
		}
	}
}
