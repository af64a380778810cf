package layout

import (
	"reflect"
	"testing"

	"github.com/kilianp07/trackpilot/core/model"
)

func TestAnalyze(t *testing.T) {
	blocks := []model.Block{{ID: "bk-1"}, {ID: "bk-2"}, {ID: "bk-3"}, {ID: "bk-4"}, {ID: "siding"}}
	routes := []model.Route{
		model.NewRoute("bk-1", "-", "bk-4", "+"),
		model.NewRoute("bk-4", "+", "bk-1", "-"),
		model.NewRoute("bk-1", "+", "bk-2", "-"),
		model.NewRoute("bk-2", "+", "bk-3", "-"),
		model.NewRoute("bk-3", "+", "bk-1", "+"),
		model.NewRoute("bk-3", "-", "siding", "+"),
		model.NewRoute("bk-9", "+", "bk-1", "+"),
	}
	rep := Analyze(blocks, routes)
	if rep.Blocks != 5 || rep.Routes != 7 {
		t.Fatalf("unexpected counts %+v", rep)
	}
	if !reflect.DeepEqual(rep.DanglingRoutes, []string{"[bk-9+]->[bk-1+]"}) {
		t.Errorf("dangling %v", rep.DanglingRoutes)
	}
	if !reflect.DeepEqual(rep.DeadEnds, []string{"siding"}) {
		t.Errorf("dead ends %v", rep.DeadEnds)
	}
	if len(rep.Unreachable) != 0 {
		t.Errorf("unreachable %v", rep.Unreachable)
	}
	if len(rep.Loops) != 1 || !reflect.DeepEqual(rep.Loops[0], []string{"bk-1", "bk-2", "bk-3", "bk-4"}) {
		t.Errorf("loops %v", rep.Loops)
	}
	if rep.Healthy() {
		t.Errorf("expected unhealthy report")
	}
}

func TestAnalyzeHealthy(t *testing.T) {
	blocks := []model.Block{{ID: "a"}, {ID: "b"}}
	routes := []model.Route{model.NewRoute("a", "+", "b", "-"), model.NewRoute("b", "-", "a", "+")}
	if rep := Analyze(blocks, routes); !rep.Healthy() {
		t.Fatalf("expected healthy report %+v", rep)
	}
}
