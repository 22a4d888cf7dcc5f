package sched

import (
	"context"
	"sort"
)

// leveling is the phase partition. Phase is -1 for items the run was
// cancelled before reaching; Phases holds item indices per phase in
// placement order.
type leveling struct {
	Phase  []int
	Phases [][]int
}

// levelResources greedily packs items into sequential phases in topological
// order. An item starts at one past its deepest dependency's phase and
// advances until a phase admits it under the parallelism cap and the
// aggregate per-resource-type caps. Each retry strictly increases the phase
// index, so a feasible leveling is always found once per-item demand is known
// to fit the totals.
//
// The aggregate check is deliberately coarse; the assignment optimizer
// enforces the precise per-site limits.
//
// Returns cancelled=true when ctx fired mid-run; every placement made before
// that is fully committed.
func levelResources(ctx context.Context, g *graph, order []int, totals map[string]float64, maxParallel int) (*leveling, bool, error) {
	lvl := &leveling{Phase: make([]int, g.len())}
	for i := range lvl.Phase {
		lvl.Phase[i] = -1
	}

	var loads []map[string]float64

	ensurePhase := func(p int) {
		for len(lvl.Phases) <= p {
			lvl.Phases = append(lvl.Phases, nil)
			loads = append(loads, make(map[string]float64))
		}
	}

	fits := func(p, i int) bool {
		if maxParallel > 0 && len(lvl.Phases[p]) >= maxParallel {
			return false
		}
		for rt, q := range g.items[i].Requirements {
			if q == 0 {
				continue
			}
			if loads[p][rt]+q > totals[rt]+slackEpsilon {
				return false
			}
		}
		return true
	}

	for _, i := range order {
		if err := ctx.Err(); err != nil {
			return lvl, true, nil
		}

		// A demand exceeding the total capacity for its type could never be
		// admitted by any phase; fail instead of advancing forever.
		rts := make([]string, 0, len(g.items[i].Requirements))
		for rt := range g.items[i].Requirements {
			rts = append(rts, rt)
		}
		sort.Strings(rts)
		for _, rt := range rts {
			q := g.items[i].Requirements[rt]
			if q > totals[rt]+slackEpsilon {
				return nil, false, &UnsatisfiableResourceDemandError{
					ItemID:       g.id(i),
					ResourceType: rt,
					Required:     q,
					Capacity:     totals[rt],
				}
			}
		}

		p := 0
		for _, d := range g.pred[i] {
			if lvl.Phase[d]+1 > p {
				p = lvl.Phase[d] + 1
			}
		}
		for {
			ensurePhase(p)
			if fits(p, i) {
				break
			}
			p++
		}
		lvl.Phase[i] = p
		lvl.Phases[p] = append(lvl.Phases[p], i)
		for rt, q := range g.items[i].Requirements {
			loads[p][rt] += q
		}
	}
	return lvl, false, nil
}

// aggregateCapacities sums per-site capacities per resource type; explicit
// limits override the computed sum for their type.
func aggregateCapacities(snap Snapshot, limits map[string]float64) map[string]float64 {
	totals := make(map[string]float64)
	for _, s := range snap.Sites {
		for rt, cap := range s.Capacities {
			totals[rt] += cap
		}
	}
	for rt, cap := range limits {
		totals[rt] = cap
	}
	return totals
}
