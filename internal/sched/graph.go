package sched

import (
	"fmt"
	"sort"

	"planline/internal/domain"
)

// graph is the indexed arena built from the caller's item list. Items and
// edges are flat slices keyed by position, so nothing aliases the caller's
// structures and the whole thing copies trivially per call.
type graph struct {
	items []domain.Item
	index map[string]int
	pred  [][]int // dependency indices per item
	succ  [][]int // items depending on this item
}

func buildGraph(items []domain.Item) (*graph, error) {
	g := &graph{
		items: items,
		index: make(map[string]int, len(items)),
		pred:  make([][]int, len(items)),
		succ:  make([][]int, len(items)),
	}
	for i, it := range items {
		if _, ok := g.index[it.ID]; ok {
			return nil, &DuplicateItemError{ID: it.ID}
		}
		g.index[it.ID] = i
	}
	for i, it := range items {
		seen := make(map[int]bool, len(it.Dependencies))
		for _, dep := range it.Dependencies {
			j, ok := g.index[dep]
			if !ok {
				return nil, &UnknownDependencyError{ItemID: it.ID, DependencyID: dep}
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			g.pred[i] = append(g.pred[i], j)
			g.succ[j] = append(g.succ[j], i)
		}
	}
	// Sort edge lists by item id so every traversal is deterministic.
	for i := range g.pred {
		g.sortByID(g.pred[i])
		g.sortByID(g.succ[i])
	}
	return g, nil
}

func (g *graph) sortByID(idx []int) {
	sort.Slice(idx, func(a, b int) bool {
		return g.items[idx[a]].ID < g.items[idx[b]].ID
	})
}

func (g *graph) id(i int) string { return g.items[i].ID }

func (g *graph) len() int { return len(g.items) }

// validateSnapshot rejects malformed input before any algorithm runs.
func validateSnapshot(snap Snapshot) error {
	for _, it := range snap.Items {
		if it.ID == "" {
			return fmt.Errorf("item with empty id")
		}
		if it.Duration <= 0 {
			return fmt.Errorf("item %q: duration must be positive, got %g", it.ID, it.Duration)
		}
		for rt, q := range it.Requirements {
			if q < 0 {
				return fmt.Errorf("item %q: negative requirement %g for %q", it.ID, q, rt)
			}
		}
		if len(it.AllowedLocations) == 0 {
			return fmt.Errorf("item %q: allowed_locations must not be empty (use %q for any site)", it.ID, domain.AnyLocation)
		}
	}
	seen := make(map[string]bool, len(snap.Sites))
	for _, s := range snap.Sites {
		if s.LocationID == "" {
			return fmt.Errorf("site with empty location_id")
		}
		if seen[s.LocationID] {
			return fmt.Errorf("duplicate site %q", s.LocationID)
		}
		seen[s.LocationID] = true
		if s.CostMultiplier <= 0 {
			return fmt.Errorf("site %q: cost_multiplier must be positive, got %g", s.LocationID, s.CostMultiplier)
		}
		for rt, cap := range s.Capacities {
			if cap < 0 {
				return fmt.Errorf("site %q: negative capacity %g for %q", s.LocationID, cap, rt)
			}
		}
	}
	return nil
}
