package sched_test

import (
	"testing"

	"planline/internal/domain"
	"planline/internal/sched"
)

func TestRejectionWhenNoSiteFits(t *testing.T) {
	// Total capacity (7) covers the demand, but no single site does, so the
	// item schedules yet cannot be placed.
	snap := sched.Snapshot{
		Items: []domain.Item{reqItem("probe", 2, 1, map[string]float64{"lab": 5})},
		Sites: []domain.Site{
			site("east", map[string]float64{"lab": 3}),
			site("west", map[string]float64{"lab": 4}),
		},
	}
	rep := optimize(t, snap, sched.Options{})

	if rep.Status != domain.ReportComplete {
		t.Fatalf("status = %q", rep.Status)
	}
	res := rep.Result("probe")
	if res.LocationID != "" || res.RejectionReason != sched.RejectionNoEligibleSite {
		t.Fatalf("assignment = %q / %q", res.LocationID, res.RejectionReason)
	}
	if res.PhaseIndex != 0 {
		t.Fatalf("rejected item lost its schedule: phase = %d", res.PhaseIndex)
	}
	if len(rep.Summary.Rejected) != 1 || rep.Summary.Rejected[0].ItemID != "probe" {
		t.Fatalf("rejected = %+v", rep.Summary.Rejected)
	}
	if rep.Summary.AssignedCount != 0 {
		t.Fatalf("assigned count = %d", rep.Summary.AssignedCount)
	}
}

func TestRestrictedItemRejectedWhenOnlySiteLacksCapacity(t *testing.T) {
	// Another site could host the demand, but the item is not allowed there;
	// its only eligible site falls short, so it is rejected.
	it := reqItem("trial", 2, 1, map[string]float64{"lab": 5})
	it.AllowedLocations = []string{"east"}
	snap := sched.Snapshot{
		Items: []domain.Item{it},
		Sites: []domain.Site{
			site("east", map[string]float64{"lab": 3}),
			site("west", map[string]float64{"lab": 10}),
		},
	}
	rep := optimize(t, snap, sched.Options{})

	res := rep.Result("trial")
	if res.LocationID != "" || res.RejectionReason != sched.RejectionNoEligibleSite {
		t.Fatalf("assignment = %q / %q", res.LocationID, res.RejectionReason)
	}
	if res.PhaseIndex != 0 {
		t.Fatalf("rejected item lost its schedule: phase = %d", res.PhaseIndex)
	}
}

func TestEligibilityRestrictsCandidates(t *testing.T) {
	it := reqItem("fixed", 1, 1, map[string]float64{"eng": 1})
	it.AllowedLocations = []string{"west"}
	snap := sched.Snapshot{
		Items: []domain.Item{it},
		Sites: []domain.Site{
			{LocationID: "east", Capacities: map[string]float64{"eng": 10}, CostMultiplier: 0.5},
			{LocationID: "west", Capacities: map[string]float64{"eng": 10}, CostMultiplier: 2.0},
		},
	}
	rep := optimize(t, snap, sched.Options{})

	if got := rep.Result("fixed").LocationID; got != "west" {
		t.Fatalf("location = %q, want the only eligible site", got)
	}
}

func TestPreferredLocationWinsWhenFeasible(t *testing.T) {
	it := reqItem("picky", 1, 1, map[string]float64{"eng": 2})
	it.PreferredLocation = "west"
	snap := sched.Snapshot{
		Items: []domain.Item{it},
		Sites: []domain.Site{
			{LocationID: "east", Capacities: map[string]float64{"eng": 10}, CostMultiplier: 0.5},
			{LocationID: "west", Capacities: map[string]float64{"eng": 10}, CostMultiplier: 2.0},
		},
	}
	rep := optimize(t, snap, sched.Options{})

	if got := rep.Result("picky").LocationID; got != "west" {
		t.Fatalf("location = %q, want preferred site over cheaper one", got)
	}
}

func TestPreferredLocationSkippedWhenFull(t *testing.T) {
	it := reqItem("picky", 1, 1, map[string]float64{"eng": 5})
	it.PreferredLocation = "west"
	snap := sched.Snapshot{
		Items: []domain.Item{it},
		Sites: []domain.Site{
			site("east", map[string]float64{"eng": 10}),
			site("west", map[string]float64{"eng": 2}),
		},
	}
	rep := optimize(t, snap, sched.Options{})

	if got := rep.Result("picky").LocationID; got != "east" {
		t.Fatalf("location = %q, want fallback past full preferred site", got)
	}
}

func TestCostThenCapacityThenIDTieBreak(t *testing.T) {
	snap := sched.Snapshot{
		Items: []domain.Item{reqItem("a", 1, 1, map[string]float64{"eng": 1})},
		Sites: []domain.Site{
			{LocationID: "pricey", Capacities: map[string]float64{"eng": 50}, CostMultiplier: 2.0},
			{LocationID: "cheap", Capacities: map[string]float64{"eng": 5}, CostMultiplier: 1.0},
		},
	}
	rep := optimize(t, snap, sched.Options{})
	if got := rep.Result("a").LocationID; got != "cheap" {
		t.Fatalf("location = %q, want lowest cost multiplier", got)
	}

	snap.Sites = []domain.Site{
		site("small", map[string]float64{"eng": 5}),
		site("big", map[string]float64{"eng": 50}),
	}
	rep = optimize(t, snap, sched.Options{})
	if got := rep.Result("a").LocationID; got != "big" {
		t.Fatalf("location = %q, want most remaining capacity on cost tie", got)
	}

	snap.Sites = []domain.Site{
		site("bravo", map[string]float64{"eng": 5}),
		site("alpha", map[string]float64{"eng": 5}),
	}
	rep = optimize(t, snap, sched.Options{})
	if got := rep.Result("a").LocationID; got != "alpha" {
		t.Fatalf("location = %q, want ascending id on full tie", got)
	}
}

func TestHigherPriorityClaimsCapacityFirst(t *testing.T) {
	snap := sched.Snapshot{
		Items: []domain.Item{
			reqItem("minor", 1, 1, map[string]float64{"lab": 4}),
			reqItem("major", 1, 9, map[string]float64{"lab": 4}),
		},
		Sites: []domain.Site{site("east", map[string]float64{"lab": 6})},
	}
	rep := optimize(t, snap, sched.Options{})

	if got := rep.Result("major").LocationID; got != "east" {
		t.Fatalf("major location = %q", got)
	}
	minor := rep.Result("minor")
	if minor.LocationID != "" || minor.RejectionReason != sched.RejectionNoEligibleSite {
		t.Fatalf("minor assignment = %q / %q, want rejection after capacity taken", minor.LocationID, minor.RejectionReason)
	}
}

func TestUtilizationSummary(t *testing.T) {
	val := 7.0
	it := reqItem("a", 1, 3, map[string]float64{"eng": 4})
	it.Value = &val
	snap := sched.Snapshot{
		Items: []domain.Item{it, reqItem("b", 1, 2, map[string]float64{"eng": 2})},
		Sites: []domain.Site{
			site("east", map[string]float64{"eng": 8}),
			site("west", map[string]float64{"eng": 2}),
		},
	}
	rep := optimize(t, snap, sched.Options{})

	if rep.Summary.AssignedCount != 2 {
		t.Fatalf("assigned count = %d", rep.Summary.AssignedCount)
	}
	// a carries its explicit value, b falls back to its priority.
	if !near(rep.Summary.AssignedValue, 9) {
		t.Fatalf("assigned value = %g, want 9", rep.Summary.AssignedValue)
	}
	// Both land on east: a first (higher priority), then b still fits there
	// with more remaining capacity than west.
	east := rep.Summary.SiteUtilization["east"]["eng"]
	if !near(east.Used, 6) || !near(east.Available, 2) || !near(east.UtilizationPct, 75) {
		t.Fatalf("east eng utilization = %+v", east)
	}
	agg := rep.Summary.ResourceUtilization["eng"]
	if !near(agg.Capacity, 10) || !near(agg.Used, 6) || !near(agg.UtilizationPct, 60) {
		t.Fatalf("aggregate eng utilization = %+v", agg)
	}
}
