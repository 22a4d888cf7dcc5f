package sched_test

import (
	"context"
	"encoding/json"
	"testing"

	"planline/internal/domain"
	"planline/internal/sched"
)

func item(id string, dur, prio float64, deps ...string) domain.Item {
	return domain.Item{
		ID:               id,
		Duration:         dur,
		Priority:         prio,
		Dependencies:     deps,
		AllowedLocations: []string{domain.AnyLocation},
	}
}

func site(id string, caps map[string]float64) domain.Site {
	return domain.Site{LocationID: id, Capacities: caps, CostMultiplier: 1.0}
}

func optimize(t *testing.T, snap sched.Snapshot, opts sched.Options) *domain.Report {
	t.Helper()
	rep, err := sched.Optimize(context.Background(), snap, opts)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	return rep
}

func TestDeterministicOutput(t *testing.T) {
	snap := sched.Snapshot{
		Items: []domain.Item{
			{ID: "gamma", Duration: 3, Priority: 5, Requirements: map[string]float64{"eng": 2, "lab": 1}, AllowedLocations: []string{domain.AnyLocation}},
			{ID: "alpha", Duration: 4, Priority: 5, Dependencies: []string{"gamma"}, Requirements: map[string]float64{"eng": 3}, AllowedLocations: []string{"east", "west"}},
			{ID: "beta", Duration: 2, Priority: 1, Requirements: map[string]float64{"lab": 2}, AllowedLocations: []string{domain.AnyLocation}, PreferredLocation: "west"},
		},
		Sites: []domain.Site{
			site("east", map[string]float64{"eng": 4, "lab": 2}),
			site("west", map[string]float64{"eng": 3, "lab": 3}),
		},
	}
	opts := sched.Options{MaxParallelItems: 2}

	first, err := json.Marshal(optimize(t, snap, opts))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for run := 0; run < 5; run++ {
		next, err := json.Marshal(optimize(t, snap, opts))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(next) != string(first) {
			t.Fatalf("run %d diverged:\n%s\nvs\n%s", run, next, first)
		}
	}
}

func TestSnapshotNotMutated(t *testing.T) {
	snap := sched.Snapshot{
		Items: []domain.Item{
			item("a", 2, 3),
			{ID: "b", Duration: 1, Priority: 1, Dependencies: []string{"a"}, Requirements: map[string]float64{"eng": 2}, AllowedLocations: []string{"east"}},
		},
		Sites: []domain.Site{site("east", map[string]float64{"eng": 5})},
	}
	before, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	optimize(t, snap, sched.Options{})

	after, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(after) != string(before) {
		t.Fatalf("snapshot mutated:\nbefore %s\nafter  %s", before, after)
	}
}

func TestCancellationYieldsPartialReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := sched.Snapshot{
		Items: []domain.Item{item("a", 2, 1), item("b", 3, 2)},
		Sites: []domain.Site{site("east", map[string]float64{"eng": 5})},
	}
	rep, err := sched.Optimize(ctx, snap, sched.Options{})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if rep.Status != domain.ReportPartial {
		t.Fatalf("status = %q, want %q", rep.Status, domain.ReportPartial)
	}
	for _, res := range rep.Items {
		if res.PhaseIndex != -1 {
			t.Fatalf("item %q leveled into phase %d after cancellation", res.ItemID, res.PhaseIndex)
		}
		if res.LocationID != "" || res.RejectionReason != "" {
			t.Fatalf("item %q has assignment output after cancellation", res.ItemID)
		}
	}
}

func TestUnknownObjectiveRejected(t *testing.T) {
	if _, err := sched.ParseObjective("minimize_cost"); err == nil {
		t.Fatal("expected error for unknown objective")
	}
	obj, err := sched.ParseObjective("")
	if err != nil || obj != sched.MaximizeValue {
		t.Fatalf("default objective = %v, %v", obj, err)
	}
}

func TestInputValidation(t *testing.T) {
	cases := []struct {
		name string
		snap sched.Snapshot
	}{
		{"zero duration", sched.Snapshot{Items: []domain.Item{item("a", 0, 1)}}},
		{"negative requirement", sched.Snapshot{Items: []domain.Item{{
			ID: "a", Duration: 1, AllowedLocations: []string{"*"},
			Requirements: map[string]float64{"eng": -1},
		}}}},
		{"no allowed locations", sched.Snapshot{Items: []domain.Item{{ID: "a", Duration: 1}}}},
		{"duplicate site", sched.Snapshot{
			Items: []domain.Item{item("a", 1, 1)},
			Sites: []domain.Site{site("east", nil), site("east", nil)},
		}},
		{"bad cost multiplier", sched.Snapshot{
			Items: []domain.Item{item("a", 1, 1)},
			Sites: []domain.Site{{LocationID: "east"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := sched.Optimize(context.Background(), tc.snap, sched.Options{}); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
