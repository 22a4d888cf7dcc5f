package sched

import (
	"fmt"
	"sort"

	"planline/internal/domain"
)

// buildReport merges CPM, leveling and assignment output into one record per
// item plus the portfolio summary. Items appear in input order; map-valued
// summary fields marshal with sorted keys, so identical inputs produce
// byte-identical reports.
func buildReport(g *graph, order []int, t *cpmTimes, lvl *leveling, asg *assignment, snap Snapshot, opts Options, partial bool) *domain.Report {
	phaseUnit := opts.PhaseUnitDuration
	if phaseUnit <= 0 {
		phaseUnit = 1
	}

	rep := &domain.Report{Status: domain.ReportComplete}
	if partial {
		rep.Status = domain.ReportPartial
	}

	rep.Items = make([]domain.ItemResult, g.len())
	for i := range g.items {
		res := domain.ItemResult{
			ItemID: g.id(i),
			ScheduleEntry: domain.ScheduleEntry{
				EarliestStart:  t.ES[i],
				EarliestFinish: t.EF[i],
				LatestStart:    t.LS[i],
				LatestFinish:   t.LF[i],
				Slack:          t.Slack[i],
				IsCritical:     t.Critical[i],
				PhaseIndex:     lvl.Phase[i],
			},
		}
		if lvl.Phase[i] >= 0 {
			res.LeveledStart = float64(lvl.Phase[i]) * phaseUnit
		}
		if asg.Processed[i] {
			res.LocationID = asg.Location[i]
			res.RejectionReason = asg.Reason[i]
		}
		rep.Items[i] = res
	}

	rep.Phases = make([][]string, len(lvl.Phases))
	for p, members := range lvl.Phases {
		ids := make([]string, len(members))
		for k, i := range members {
			ids[k] = g.id(i)
		}
		rep.Phases[p] = ids
	}

	sum := domain.Summary{
		Horizon:        t.Horizon,
		PhaseCount:     len(lvl.Phases),
		ItemCount:      g.len(),
		CriticalItems:  criticalItems(g, order, t),
		CriticalChains: criticalChains(g, t),
	}

	used := make(map[string]map[string]float64, len(snap.Sites))
	for i := range g.items {
		if asg.Location[i] == "" {
			if asg.Processed[i] && asg.Reason[i] != "" {
				sum.Rejected = append(sum.Rejected, domain.Rejection{ItemID: g.id(i), Reason: asg.Reason[i]})
			}
			continue
		}
		sum.AssignedCount++
		sum.AssignedValue += g.items[i].EffectiveValue()
		loc := asg.Location[i]
		if used[loc] == nil {
			used[loc] = make(map[string]float64)
		}
		for rt, q := range g.items[i].Requirements {
			used[loc][rt] += q
		}
	}
	sort.Slice(sum.Rejected, func(a, b int) bool { return sum.Rejected[a].ItemID < sum.Rejected[b].ItemID })

	sum.SiteUtilization = make(map[string]map[string]domain.Utilization, len(snap.Sites))
	typeCap := make(map[string]float64)
	typeUsed := make(map[string]float64)
	for _, s := range snap.Sites {
		byType := make(map[string]domain.Utilization, len(s.Capacities))
		for rt, cap := range s.Capacities {
			u := used[s.LocationID][rt]
			byType[rt] = utilization(cap, u)
			typeCap[rt] += cap
			typeUsed[rt] += u
		}
		sum.SiteUtilization[s.LocationID] = byType
	}
	sum.ResourceUtilization = make(map[string]domain.Utilization, len(typeCap))
	for rt, cap := range typeCap {
		sum.ResourceUtilization[rt] = utilization(cap, typeUsed[rt])
	}

	rep.Summary = sum
	return rep
}

func utilization(cap, used float64) domain.Utilization {
	u := domain.Utilization{Capacity: cap, Used: used, Available: cap - used}
	if cap > 0 {
		u.UtilizationPct = used / cap * 100
	}
	return u
}

// verifyInvariants re-checks the output against the contract: eligibility of
// every chosen site, per-site capacity, dependency-ordered start times and
// phases. A failure here is a bug in this package, reported loudly rather
// than returned as a plausible-looking schedule.
func verifyInvariants(g *graph, t *cpmTimes, lvl *leveling, asg *assignment, snap Snapshot) error {
	siteCaps := make(map[string]map[string]float64, len(snap.Sites))
	for _, s := range snap.Sites {
		siteCaps[s.LocationID] = s.Capacities
	}

	usage := make(map[string]map[string]float64)
	for i := range g.items {
		loc := asg.Location[i]
		if loc == "" {
			continue
		}
		if !eligibleAnywhere(g.items[i]) {
			ok := false
			for _, allowed := range g.items[i].AllowedLocations {
				if allowed == loc {
					ok = true
					break
				}
			}
			if !ok {
				return &InvariantViolationError{Detail: fmt.Sprintf("item %q assigned to ineligible site %q", g.id(i), loc)}
			}
		}
		if usage[loc] == nil {
			usage[loc] = make(map[string]float64)
		}
		for rt, q := range g.items[i].Requirements {
			usage[loc][rt] += q
		}
	}
	for loc, byType := range usage {
		for rt, u := range byType {
			if u > siteCaps[loc][rt]+slackEpsilon {
				return &InvariantViolationError{Detail: fmt.Sprintf("site %q over capacity for %q: %g > %g", loc, rt, u, siteCaps[loc][rt])}
			}
		}
	}

	for i := range g.items {
		for _, d := range g.pred[i] {
			if t.ES[i] < t.EF[d]-slackEpsilon {
				return &InvariantViolationError{Detail: fmt.Sprintf("item %q starts at %g before dependency %q finishes at %g", g.id(i), t.ES[i], g.id(d), t.EF[d])}
			}
			if lvl.Phase[i] >= 0 && lvl.Phase[d] >= 0 && lvl.Phase[i] <= lvl.Phase[d] {
				return &InvariantViolationError{Detail: fmt.Sprintf("item %q leveled into phase %d not after dependency %q in phase %d", g.id(i), lvl.Phase[i], g.id(d), lvl.Phase[d])}
			}
		}
	}
	return nil
}
