package sched

import "sort"

// detectCycle runs a three-color DFS over dependency edges and returns one
// cycle in forward order, or nil when the graph is acyclic. Start nodes are
// visited in ascending id order so the reported cycle is stable.
func (g *graph) detectCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, g.len())
	parent := make([]int, g.len())
	for i := range parent {
		parent[i] = -1
	}

	var dfs func(node int) []int
	dfs = func(node int) []int {
		color[node] = gray
		for _, next := range g.succ[node] {
			if color[next] == gray {
				cycle := []int{next, node}
				for cur := node; cur != next; {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
			if color[next] == white {
				parent[next] = node
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		color[node] = black
		return nil
	}

	starts := make([]int, g.len())
	for i := range starts {
		starts[i] = i
	}
	g.sortByID(starts)
	for _, i := range starts {
		if color[i] == white {
			if cycle := dfs(i); cycle != nil {
				ids := make([]string, len(cycle))
				for k, idx := range cycle {
					ids[k] = g.id(idx)
				}
				return ids
			}
		}
	}
	return nil
}

// topoOrder returns item indices in dependency order. Among ready items the
// highest priority goes first, ties broken by ascending id; CPM and leveling
// iterate in exactly this order so results are reproducible.
func (g *graph) topoOrder() ([]int, error) {
	indeg := make([]int, g.len())
	for i := range g.pred {
		indeg[i] = len(g.pred[i])
	}
	var ready []int
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, g.len())
	for len(ready) > 0 {
		sort.Slice(ready, func(a, b int) bool {
			pa, pb := g.items[ready[a]].Priority, g.items[ready[b]].Priority
			if pa != pb {
				return pa > pb
			}
			return g.id(ready[a]) < g.id(ready[b])
		})
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, next := range g.succ[cur] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != g.len() {
		cycle := g.detectCycle()
		return nil, &CyclicDependencyError{Cycle: cycle}
	}
	return order, nil
}
