package sched_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"planline/internal/domain"
	"planline/internal/sched"
)

func TestDuplicateItemID(t *testing.T) {
	snap := sched.Snapshot{Items: []domain.Item{item("a", 1, 1), item("a", 2, 2)}}
	_, err := sched.Optimize(context.Background(), snap, sched.Options{})
	var dup *sched.DuplicateItemError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateItemError", err)
	}
	if dup.ID != "a" {
		t.Fatalf("duplicate id = %q", dup.ID)
	}
}

func TestUnknownDependency(t *testing.T) {
	snap := sched.Snapshot{Items: []domain.Item{item("a", 1, 1, "ghost")}}
	_, err := sched.Optimize(context.Background(), snap, sched.Options{})
	var unk *sched.UnknownDependencyError
	if !errors.As(err, &unk) {
		t.Fatalf("err = %v, want UnknownDependencyError", err)
	}
	if unk.ItemID != "a" || unk.DependencyID != "ghost" {
		t.Fatalf("unexpected fields: %+v", unk)
	}
}

func TestCycleDetection(t *testing.T) {
	snap := sched.Snapshot{Items: []domain.Item{
		item("a", 1, 1, "c"),
		item("b", 1, 1, "a"),
		item("c", 1, 1, "b"),
	}}
	_, err := sched.Optimize(context.Background(), snap, sched.Options{})
	var cyc *sched.CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("err = %v, want CyclicDependencyError", err)
	}
	if len(cyc.Cycle) != 4 || cyc.Cycle[0] != cyc.Cycle[len(cyc.Cycle)-1] {
		t.Fatalf("cycle = %v, want closed walk over a, b, c", cyc.Cycle)
	}
	seen := map[string]bool{}
	for _, id := range cyc.Cycle {
		seen[id] = true
	}
	for _, id := range []string{"a", "b", "c"} {
		if !seen[id] {
			t.Fatalf("cycle %v missing %q", cyc.Cycle, id)
		}
	}
}

func TestTwoNodeCycleMessage(t *testing.T) {
	snap := sched.Snapshot{Items: []domain.Item{
		item("x", 1, 1, "y"),
		item("y", 1, 1, "x"),
	}}
	_, err := sched.Optimize(context.Background(), snap, sched.Options{})
	var cyc *sched.CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("err = %v, want CyclicDependencyError", err)
	}
	if got := cyc.Error(); got != "dependency cycle: x -> y -> x" {
		t.Fatalf("message = %q", got)
	}
}

func TestSelfDependencyIsACycle(t *testing.T) {
	snap := sched.Snapshot{Items: []domain.Item{item("a", 1, 1, "a")}}
	_, err := sched.Optimize(context.Background(), snap, sched.Options{})
	var cyc *sched.CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("err = %v, want CyclicDependencyError", err)
	}
}

// With a parallelism cap of one, phase order mirrors the topological order, so
// the priority-first, id-second tie-break is directly observable.
func TestTopoOrderPrefersPriorityThenID(t *testing.T) {
	snap := sched.Snapshot{
		Items: []domain.Item{
			item("low", 1, 1),
			item("zz-high", 1, 9),
			item("aa-high", 1, 9),
			item("mid", 1, 5),
		},
		Sites: []domain.Site{site("east", nil)},
	}
	rep := optimize(t, snap, sched.Options{MaxParallelItems: 1})

	want := [][]string{{"aa-high"}, {"zz-high"}, {"mid"}, {"low"}}
	if !reflect.DeepEqual(rep.Phases, want) {
		t.Fatalf("phases = %v, want %v", rep.Phases, want)
	}
}
