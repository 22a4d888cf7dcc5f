package sched

import (
	"context"
	"sort"

	"planline/internal/domain"
)

// assignment is the per-item site placement. Location is empty for rejected
// or unprocessed items; Processed marks items the optimizer reached before
// any cancellation. Remaining is the private capacity ledger after all
// deductions (the caller's site snapshot is never touched).
type assignment struct {
	Location  []string
	Reason    []string
	Processed []bool
	Remaining map[string]map[string]float64
}

// assignLocations places items at sites greedily, highest priority first
// (ties by ascending id). Each item gets the preferred site when feasible,
// otherwise the cheapest feasible site; cost ties go to the site with the
// most remaining aggregate capacity, then ascending location id. Items with
// no feasible site are rejected and the run continues.
//
// This is a deterministic near-linear heuristic, not a provably optimal
// assignment; an exact solver can replace it behind the same contract.
func assignLocations(ctx context.Context, g *graph, sites []domain.Site) (*assignment, bool) {
	a := &assignment{
		Location:  make([]string, g.len()),
		Reason:    make([]string, g.len()),
		Processed: make([]bool, g.len()),
		Remaining: make(map[string]map[string]float64, len(sites)),
	}
	siteByID := make(map[string]domain.Site, len(sites))
	siteIDs := make([]string, 0, len(sites))
	for _, s := range sites {
		siteByID[s.LocationID] = s
		siteIDs = append(siteIDs, s.LocationID)
		rem := make(map[string]float64, len(s.Capacities))
		for rt, cap := range s.Capacities {
			rem[rt] = cap
		}
		a.Remaining[s.LocationID] = rem
	}
	sort.Strings(siteIDs)

	order := make([]int, g.len())
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(x, y int) bool {
		px, py := g.items[order[x]].Priority, g.items[order[y]].Priority
		if px != py {
			return px > py
		}
		return g.id(order[x]) < g.id(order[y])
	})

	feasible := func(loc string, it domain.Item) bool {
		rem := a.Remaining[loc]
		for rt, q := range it.Requirements {
			if q == 0 {
				continue
			}
			if rem[rt] < q-slackEpsilon {
				return false
			}
		}
		return true
	}

	remainingAggregate := func(loc string) float64 {
		total := 0.0
		for _, v := range a.Remaining[loc] {
			total += v
		}
		return total
	}

	for _, i := range order {
		if ctx.Err() != nil {
			return a, true
		}
		a.Processed[i] = true
		it := g.items[i]

		var candidates []string
		if eligibleAnywhere(it) {
			for _, loc := range siteIDs {
				if feasible(loc, it) {
					candidates = append(candidates, loc)
				}
			}
		} else {
			allowed := append([]string(nil), it.AllowedLocations...)
			sort.Strings(allowed)
			for _, loc := range allowed {
				if _, ok := siteByID[loc]; !ok {
					continue
				}
				if feasible(loc, it) {
					candidates = append(candidates, loc)
				}
			}
		}

		if len(candidates) == 0 {
			a.Reason[i] = RejectionNoEligibleSite
			continue
		}

		chosen := ""
		if it.PreferredLocation != "" {
			for _, loc := range candidates {
				if loc == it.PreferredLocation {
					chosen = loc
					break
				}
			}
		}
		if chosen == "" {
			sort.SliceStable(candidates, func(x, y int) bool {
				cx, cy := siteByID[candidates[x]].CostMultiplier, siteByID[candidates[y]].CostMultiplier
				if cx != cy {
					return cx < cy
				}
				rx, ry := remainingAggregate(candidates[x]), remainingAggregate(candidates[y])
				if rx != ry {
					return rx > ry
				}
				return candidates[x] < candidates[y]
			})
			chosen = candidates[0]
		}

		a.Location[i] = chosen
		rem := a.Remaining[chosen]
		for rt, q := range it.Requirements {
			rem[rt] -= q
		}
	}
	return a, false
}

func eligibleAnywhere(it domain.Item) bool {
	for _, loc := range it.AllowedLocations {
		if loc == domain.AnyLocation {
			return true
		}
	}
	return false
}
