package layout

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/kilianp07/trackpilot/core/model"
)

// TopologyReport summarises the block graph formed by the routes.
type TopologyReport struct {
	Blocks int `json:"blocks"`
	Routes int `json:"routes"`
	// DanglingRoutes reference a block that does not exist.
	DanglingRoutes []string `json:"dangling_routes,omitempty"`
	// DeadEnds have no departing route; a locomotive parked there never moves.
	DeadEnds []string `json:"dead_ends,omitempty"`
	// Unreachable have no arriving route.
	Unreachable []string `json:"unreachable,omitempty"`
	// Loops are strongly connected groups of blocks, largest first.
	Loops [][]string `json:"loops,omitempty"`
}

// Healthy reports whether every route resolves and every block can be left
// and entered.
func (r TopologyReport) Healthy() bool {
	return len(r.DanglingRoutes) == 0 && len(r.DeadEnds) == 0 && len(r.Unreachable) == 0
}

// Analyze builds a directed graph with one node per block and one edge per
// route and reports structural problems.
func Analyze(blocks []model.Block, routes []model.Route) TopologyReport {
	rep := TopologyReport{Blocks: len(blocks), Routes: len(routes)}
	g := simple.NewDirectedGraph()
	ids := make(map[string]int64, len(blocks))
	names := make(map[int64]string, len(blocks))
	for i, b := range blocks {
		if _, dup := ids[b.ID]; dup {
			continue
		}
		n := simple.Node(int64(i))
		ids[b.ID] = n.ID()
		names[n.ID()] = b.ID
		g.AddNode(n)
	}
	for _, r := range routes {
		from, okFrom := ids[r.FromTileID]
		to, okTo := ids[r.ToTileID]
		if !okFrom || !okTo {
			rep.DanglingRoutes = append(rep.DanglingRoutes, r.ID)
			continue
		}
		if from == to {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(from), simple.Node(to)))
	}
	for id, n := range ids {
		if g.From(n).Len() == 0 {
			rep.DeadEnds = append(rep.DeadEnds, id)
		}
		if g.To(n).Len() == 0 {
			rep.Unreachable = append(rep.Unreachable, id)
		}
	}
	for _, scc := range topo.TarjanSCC(g) {
		if len(scc) < 2 {
			continue
		}
		rep.Loops = append(rep.Loops, nodeNames(scc, names))
	}
	sort.Strings(rep.DanglingRoutes)
	sort.Strings(rep.DeadEnds)
	sort.Strings(rep.Unreachable)
	sort.SliceStable(rep.Loops, func(i, j int) bool {
		if len(rep.Loops[i]) != len(rep.Loops[j]) {
			return len(rep.Loops[i]) > len(rep.Loops[j])
		}
		return rep.Loops[i][0] < rep.Loops[j][0]
	})
	return rep
}

func nodeNames(nodes []graph.Node, names map[int64]string) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, names[n.ID()])
	}
	sort.Strings(out)
	return out
}
