// Package sched is the dependency-aware portfolio scheduling and resource
// allocation engine. One call to Optimize takes an immutable snapshot of
// items and sites and produces critical-path times, a resource-leveled phase
// plan and per-item site assignments in a single report.
//
// Optimize is a pure function of its inputs: it never mutates the snapshot,
// holds no state between calls, and identical inputs yield identical output
// down to the byte once marshaled.
package sched

import (
	"context"
	"fmt"
	"strings"

	"planline/internal/domain"
)

// Objective selects what the assignment stage maximizes. Only one objective
// exists today; the enum keeps the knob explicit in stored configs.
type Objective int

const (
	// MaximizeValue maximizes the aggregate effective value of assigned
	// items, value falling back to priority per item.
	MaximizeValue Objective = iota
)

func (o Objective) String() string {
	switch o {
	case MaximizeValue:
		return "maximize_value"
	default:
		return fmt.Sprintf("objective(%d)", int(o))
	}
}

// ParseObjective maps the config spelling to an Objective.
func ParseObjective(s string) (Objective, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "maximize_value":
		return MaximizeValue, nil
	default:
		return 0, fmt.Errorf("unknown objective %q", s)
	}
}

// Snapshot is the full input to one optimization. Optimize reads it and
// never writes it.
type Snapshot struct {
	Items []domain.Item
	Sites []domain.Site
}

// Options tune one Optimize call.
type Options struct {
	// MaxParallelItems caps how many items share a phase; zero or negative
	// means unbounded.
	MaxParallelItems int
	// PhaseUnitDuration converts a phase index into a leveled start time;
	// zero or negative defaults to 1.
	PhaseUnitDuration float64
	// CapacityLimits override the computed per-resource-type totals used by
	// the leveling stage.
	CapacityLimits map[string]float64
	// Objective selects the assignment goal.
	Objective Objective
}

// Optimize validates the snapshot, builds the dependency graph, computes CPM
// times over the topological order, levels items into phases under aggregate
// capacity, assigns each item a site and returns the merged report.
//
// Cancellation via ctx is honored between items in the leveling and
// assignment stages; a cancelled call still returns a report, with Status
// partial and unreached items marked, alongside a nil error. Structural
// problems (duplicate ids, unknown dependencies, cycles, demand no capacity
// could ever satisfy) return typed errors and no report.
func Optimize(ctx context.Context, snap Snapshot, opts Options) (*domain.Report, error) {
	if opts.Objective != MaximizeValue {
		return nil, fmt.Errorf("unsupported objective %v", opts.Objective)
	}
	if err := validateSnapshot(snap); err != nil {
		return nil, err
	}

	g, err := buildGraph(snap.Items)
	if err != nil {
		return nil, err
	}
	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}

	times := computeCPM(g, order)

	totals := aggregateCapacities(snap, opts.CapacityLimits)
	lvl, lvlCancelled, err := levelResources(ctx, g, order, totals, opts.MaxParallelItems)
	if err != nil {
		return nil, err
	}
	asg, asgCancelled := assignLocations(ctx, g, snap.Sites)

	partial := lvlCancelled || asgCancelled
	rep := buildReport(g, order, times, lvl, asg, snap, opts, partial)
	if !partial {
		if err := verifyInvariants(g, times, lvl, asg, snap); err != nil {
			return nil, err
		}
	}
	return rep, nil
}
