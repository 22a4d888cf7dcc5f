package sched

import (
	"fmt"
	"strings"
)

// RejectionNoEligibleSite is recorded on items no site can host; it is a
// per-item outcome, not an error, and never aborts the call.
const RejectionNoEligibleSite = "NO_ELIGIBLE_SITE_WITH_CAPACITY"

// DuplicateItemError reports two items sharing one id.
type DuplicateItemError struct {
	ID string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("duplicate item id %q", e.ID)
}

// UnknownDependencyError reports a dependency reference to an item that is
// not part of the input set.
type UnknownDependencyError struct {
	ItemID       string
	DependencyID string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("item %q depends on unknown item %q", e.ItemID, e.DependencyID)
}

// CyclicDependencyError carries the full offending cycle in traversal order.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// UnsatisfiableResourceDemandError reports an item whose demand for one
// resource type exceeds the total capacity for that type, so no phase could
// ever admit it.
type UnsatisfiableResourceDemandError struct {
	ItemID       string
	ResourceType string
	Required     float64
	Capacity     float64
}

func (e *UnsatisfiableResourceDemandError) Error() string {
	return fmt.Sprintf("item %q requires %g of %q but total capacity is %g",
		e.ItemID, e.Required, e.ResourceType, e.Capacity)
}

// InvariantViolationError signals that the final defensive re-verification
// failed. It indicates a bug in this package, not bad input.
type InvariantViolationError struct {
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Detail
}
