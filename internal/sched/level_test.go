package sched_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"planline/internal/domain"
	"planline/internal/sched"
)

func reqItem(id string, dur, prio float64, reqs map[string]float64, deps ...string) domain.Item {
	it := item(id, dur, prio, deps...)
	it.Requirements = reqs
	return it
}

func TestUnsatisfiableDemandAbortsRun(t *testing.T) {
	snap := sched.Snapshot{
		Items: []domain.Item{reqItem("big", 2, 1, map[string]float64{"engineering": 15})},
		Sites: []domain.Site{site("east", map[string]float64{"engineering": 10})},
	}
	_, err := sched.Optimize(context.Background(), snap, sched.Options{})
	var uns *sched.UnsatisfiableResourceDemandError
	if !errors.As(err, &uns) {
		t.Fatalf("err = %v, want UnsatisfiableResourceDemandError", err)
	}
	if uns.ItemID != "big" || uns.ResourceType != "engineering" || uns.Required != 15 || uns.Capacity != 10 {
		t.Fatalf("unexpected fields: %+v", uns)
	}
}

func TestCapacityForcesSequentialPhases(t *testing.T) {
	// Each item fits alone but the pair exceeds the total, so the second
	// spills into the next phase.
	snap := sched.Snapshot{
		Items: []domain.Item{
			reqItem("a", 1, 2, map[string]float64{"eng": 6}),
			reqItem("b", 1, 1, map[string]float64{"eng": 6}),
		},
		Sites: []domain.Site{site("east", map[string]float64{"eng": 10})},
	}
	rep := optimize(t, snap, sched.Options{})

	if !reflect.DeepEqual(rep.Phases, [][]string{{"a"}, {"b"}}) {
		t.Fatalf("phases = %v", rep.Phases)
	}
	if rep.Summary.PhaseCount != 2 {
		t.Fatalf("phase count = %d", rep.Summary.PhaseCount)
	}
}

func TestDependentsLevelAfterDependencies(t *testing.T) {
	snap := sched.Snapshot{
		Items: []domain.Item{
			reqItem("a", 1, 1, map[string]float64{"eng": 1}),
			reqItem("b", 1, 9, map[string]float64{"eng": 1}, "a"),
			reqItem("c", 1, 1, map[string]float64{"eng": 1}, "b"),
		},
		Sites: []domain.Site{site("east", map[string]float64{"eng": 100})},
	}
	rep := optimize(t, snap, sched.Options{})

	a, b, c := rep.Result("a"), rep.Result("b"), rep.Result("c")
	if !(a.PhaseIndex < b.PhaseIndex && b.PhaseIndex < c.PhaseIndex) {
		t.Fatalf("phases a=%d b=%d c=%d, want strictly increasing",
			a.PhaseIndex, b.PhaseIndex, c.PhaseIndex)
	}
}

func TestMaxParallelItemsCap(t *testing.T) {
	snap := sched.Snapshot{
		Items: []domain.Item{
			item("a", 1, 1), item("b", 1, 1), item("c", 1, 1),
			item("d", 1, 1), item("e", 1, 1),
		},
		Sites: []domain.Site{site("east", nil)},
	}
	rep := optimize(t, snap, sched.Options{MaxParallelItems: 2})

	if rep.Summary.PhaseCount != 3 {
		t.Fatalf("phase count = %d, want 3", rep.Summary.PhaseCount)
	}
	for p, phase := range rep.Phases {
		if len(phase) > 2 {
			t.Fatalf("phase %d holds %d items: %v", p, len(phase), phase)
		}
	}
}

func TestCapacityLimitsOverrideSiteTotals(t *testing.T) {
	// Sites sum to 20 but the explicit limit of 6 forces one item per phase.
	snap := sched.Snapshot{
		Items: []domain.Item{
			reqItem("a", 1, 2, map[string]float64{"eng": 4}),
			reqItem("b", 1, 1, map[string]float64{"eng": 4}),
		},
		Sites: []domain.Site{
			site("east", map[string]float64{"eng": 10}),
			site("west", map[string]float64{"eng": 10}),
		},
	}
	rep := optimize(t, snap, sched.Options{CapacityLimits: map[string]float64{"eng": 6}})

	if !reflect.DeepEqual(rep.Phases, [][]string{{"a"}, {"b"}}) {
		t.Fatalf("phases = %v", rep.Phases)
	}
}

func TestLeveledStartUsesPhaseUnit(t *testing.T) {
	snap := sched.Snapshot{
		Items: []domain.Item{
			item("a", 1, 1),
			item("b", 1, 1, "a"),
		},
		Sites: []domain.Site{site("east", nil)},
	}
	rep := optimize(t, snap, sched.Options{PhaseUnitDuration: 2.5})

	b := rep.Result("b")
	if b.PhaseIndex != 1 || !near(b.LeveledStart, 2.5) {
		t.Fatalf("b phase = %d, leveled start = %g", b.PhaseIndex, b.LeveledStart)
	}
}
