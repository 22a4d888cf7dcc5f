package sched

import "math"

// slackEpsilon absorbs float64 accumulation noise when testing slack for
// zero; times themselves are never rounded.
const slackEpsilon = 1e-9

// cpmTimes holds per-item CPM results indexed like the graph arena.
type cpmTimes struct {
	ES, EF, LS, LF, Slack []float64
	Critical              []bool
	Horizon               float64
}

// computeCPM runs the forward and backward passes over the given topological
// order. Durations and all derived times are real-valued.
func computeCPM(g *graph, order []int) *cpmTimes {
	n := g.len()
	t := &cpmTimes{
		ES:       make([]float64, n),
		EF:       make([]float64, n),
		LS:       make([]float64, n),
		LF:       make([]float64, n),
		Slack:    make([]float64, n),
		Critical: make([]bool, n),
	}

	for _, i := range order {
		es := 0.0
		for _, d := range g.pred[i] {
			if t.EF[d] > es {
				es = t.EF[d]
			}
		}
		t.ES[i] = es
		t.EF[i] = es + g.items[i].Duration
		if t.EF[i] > t.Horizon {
			t.Horizon = t.EF[i]
		}
	}

	for k := len(order) - 1; k >= 0; k-- {
		i := order[k]
		lf := t.Horizon
		for _, s := range g.succ[i] {
			if t.LS[s] < lf {
				lf = t.LS[s]
			}
		}
		t.LF[i] = lf
		t.LS[i] = lf - g.items[i].Duration
		t.Slack[i] = t.LS[i] - t.ES[i]
		t.Critical[i] = math.Abs(t.Slack[i]) <= slackEpsilon
	}
	return t
}

// criticalItems returns the ids of zero-slack items in topological order.
func criticalItems(g *graph, order []int, t *cpmTimes) []string {
	var ids []string
	for _, i := range order {
		if t.Critical[i] {
			ids = append(ids, g.id(i))
		}
	}
	return ids
}

// criticalChains enumerates every zero-slack chain from a root to a sink
// whose links are tight (predecessor finish equals successor start) and whose
// summed durations reach the horizon. The critical path is not guaranteed
// unique, so all chains are reported; edge lists are id-sorted, making the
// enumeration order deterministic.
func criticalChains(g *graph, t *cpmTimes) [][]string {
	var chains [][]string
	var path []int

	tight := func(from, to int) bool {
		return t.Critical[to] && math.Abs(t.EF[from]-t.ES[to]) <= slackEpsilon
	}

	var walk func(node int)
	walk = func(node int) {
		path = append(path, node)
		extended := false
		for _, s := range g.succ[node] {
			if tight(node, s) {
				extended = true
				walk(s)
			}
		}
		if !extended && math.Abs(t.EF[node]-t.Horizon) <= slackEpsilon {
			chain := make([]string, len(path))
			for k, idx := range path {
				chain[k] = g.id(idx)
			}
			chains = append(chains, chain)
		}
		path = path[:len(path)-1]
	}

	roots := make([]int, 0, g.len())
	for i := 0; i < g.len(); i++ {
		if len(g.pred[i]) == 0 && t.Critical[i] {
			roots = append(roots, i)
		}
	}
	g.sortByID(roots)
	for _, r := range roots {
		walk(r)
	}
	return chains
}
