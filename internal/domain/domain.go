package domain

// Item is one candidate work item in a portfolio. Duration is in abstract
// time units (typically months); resource requirements are constant for the
// item's full duration.
type Item struct {
	ID                string             `json:"id"`
	PortfolioID       string             `json:"portfolio_id,omitempty"`
	Duration          float64            `json:"duration"`
	Priority          float64            `json:"priority"`
	Value             *float64           `json:"value,omitempty"`
	Dependencies      []string           `json:"dependencies,omitempty"`
	Requirements      map[string]float64 `json:"resource_requirements,omitempty"`
	AllowedLocations  []string           `json:"allowed_locations,omitempty"`
	PreferredLocation string             `json:"preferred_location,omitempty"`
}

// EffectiveValue is the figure the assignment optimizer maximizes; it falls
// back to priority when no explicit value is set.
func (i Item) EffectiveValue() float64 {
	if i.Value != nil {
		return *i.Value
	}
	return i.Priority
}

// AnyLocation in an item's allowed_locations makes every site eligible.
const AnyLocation = "*"

// Site is a resource pool at one location. CostMultiplier is relative
// (1.0 = baseline, lower is cheaper) and only breaks ties.
type Site struct {
	LocationID     string             `json:"location_id"`
	PortfolioID    string             `json:"portfolio_id,omitempty"`
	Capacities     map[string]float64 `json:"capacities,omitempty"`
	CostMultiplier float64            `json:"cost_multiplier"`
}

// ScheduleEntry holds the CPM times and the leveled phase for one item.
// Times are real-valued; rounding is the caller's concern.
type ScheduleEntry struct {
	EarliestStart  float64 `json:"earliest_start"`
	EarliestFinish float64 `json:"earliest_finish"`
	LatestStart    float64 `json:"latest_start"`
	LatestFinish   float64 `json:"latest_finish"`
	Slack          float64 `json:"slack"`
	IsCritical     bool    `json:"is_critical"`
	PhaseIndex     int     `json:"phase_index"`
	LeveledStart   float64 `json:"leveled_start"`
}

// AssignmentEntry records the site an item was placed at, or why it wasn't.
type AssignmentEntry struct {
	LocationID      string `json:"location_id,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// ItemResult merges schedule and assignment output for one item.
type ItemResult struct {
	ItemID string `json:"item_id"`
	ScheduleEntry
	AssignmentEntry
}

// Utilization describes capacity consumption for one resource type.
type Utilization struct {
	Capacity       float64 `json:"capacity"`
	Used           float64 `json:"used"`
	Available      float64 `json:"available"`
	UtilizationPct float64 `json:"utilization_pct"`
}

// Rejection names an item the assignment optimizer could not place.
type Rejection struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
}

// Summary is the portfolio-level view of one optimization.
type Summary struct {
	Horizon             float64                           `json:"horizon"`
	PhaseCount          int                               `json:"phase_count"`
	ItemCount           int                               `json:"item_count"`
	AssignedCount       int                               `json:"assigned_count"`
	AssignedValue       float64                           `json:"assigned_value"`
	CriticalItems       []string                          `json:"critical_items"`
	CriticalChains      [][]string                        `json:"critical_chains"`
	SiteUtilization     map[string]map[string]Utilization `json:"site_utilization"`
	ResourceUtilization map[string]Utilization            `json:"resource_utilization"`
	Rejected            []Rejection                       `json:"rejected,omitempty"`
}

// Report statuses.
const (
	ReportComplete = "complete"
	ReportPartial  = "partial"
)

// Report is the unified result of one optimization call. Status is
// ReportPartial only when the call was cancelled mid-run; every decision in a
// partial report was fully committed before the cancellation check tripped.
type Report struct {
	Status  string       `json:"status" enum:"complete,partial"`
	Items   []ItemResult `json:"items"`
	Phases  [][]string   `json:"phases"`
	Summary Summary      `json:"summary"`
}

// Result looks up the record for an item id, nil if absent.
func (r *Report) Result(id string) *ItemResult {
	for i := range r.Items {
		if r.Items[i].ItemID == id {
			return &r.Items[i]
		}
	}
	return nil
}

// Portfolio is a stored snapshot of items and sites.
type Portfolio struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// Run is one persisted optimization invocation.
type Run struct {
	ID          string  `json:"id"`
	PortfolioID string  `json:"portfolio_id"`
	Status      string  `json:"status" enum:"succeeded,partial,failed"`
	Error       string  `json:"error,omitempty"`
	Report      *Report `json:"report,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// Event is one row of the append-only change log.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	PortfolioID string `json:"portfolio_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

// APIKey authenticates HTTP API callers; only the hash is stored.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
