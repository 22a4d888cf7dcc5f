package server

import (
	"encoding/json"

	"planline/internal/config"
	"planline/internal/domain"
)

// PortfolioImportRequest mirrors planline.yml so API imports and file
// imports accept the same structure.
type PortfolioImportRequest struct {
	Portfolio struct {
		ID          string `json:"id"`
		Description string `json:"description,omitempty"`
	} `json:"portfolio"`
	Plan  PlanRequest   `json:"plan,omitempty"`
	Items []ItemRequest `json:"items"`
	Sites []SiteRequest `json:"sites"`
}

type PlanRequest struct {
	Objective         string             `json:"objective,omitempty"`
	MaxParallelItems  int                `json:"max_parallel_items,omitempty"`
	PhaseUnitDuration float64            `json:"phase_unit_duration,omitempty"`
	CapacityLimits    map[string]float64 `json:"capacity_limits,omitempty"`
}

type ItemRequest struct {
	ID                string             `json:"id"`
	Duration          float64            `json:"duration"`
	Priority          float64            `json:"priority"`
	Value             *float64           `json:"value,omitempty"`
	Dependencies      []string           `json:"dependencies,omitempty"`
	Requirements      map[string]float64 `json:"requirements,omitempty"`
	AllowedLocations  []string           `json:"allowed_locations"`
	PreferredLocation string             `json:"preferred_location,omitempty"`
}

type SiteRequest struct {
	LocationID     string             `json:"location_id"`
	Capacities     map[string]float64 `json:"capacities,omitempty"`
	CostMultiplier float64            `json:"cost_multiplier,omitempty"`
}

func (r PortfolioImportRequest) toConfig() *config.Config {
	var cfg config.Config
	cfg.Portfolio.ID = r.Portfolio.ID
	cfg.Portfolio.Description = r.Portfolio.Description
	cfg.Plan = config.PlanConfig{
		Objective:         r.Plan.Objective,
		MaxParallelItems:  r.Plan.MaxParallelItems,
		PhaseUnitDuration: r.Plan.PhaseUnitDuration,
		CapacityLimits:    r.Plan.CapacityLimits,
	}
	for _, it := range r.Items {
		cfg.Items = append(cfg.Items, config.ItemConfig{
			ID:                it.ID,
			Duration:          it.Duration,
			Priority:          it.Priority,
			Value:             it.Value,
			Dependencies:      it.Dependencies,
			Requirements:      it.Requirements,
			AllowedLocations:  it.AllowedLocations,
			PreferredLocation: it.PreferredLocation,
		})
	}
	for _, s := range r.Sites {
		cfg.Sites = append(cfg.Sites, config.SiteConfig{
			LocationID:     s.LocationID,
			Capacities:     s.Capacities,
			CostMultiplier: s.CostMultiplier,
		})
	}
	return &cfg
}

type PortfolioResponse struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type PortfolioDetailResponse struct {
	PortfolioResponse
	Items []domain.Item `json:"items"`
	Sites []domain.Site `json:"sites"`
}

func portfolioResponse(p domain.Portfolio) PortfolioResponse {
	return PortfolioResponse{ID: p.ID, Description: p.Description, CreatedAt: p.CreatedAt}
}

func mapPortfolios(in []domain.Portfolio) []PortfolioResponse {
	res := make([]PortfolioResponse, 0, len(in))
	for _, p := range in {
		res = append(res, portfolioResponse(p))
	}
	return res
}

// CreateRunRequest optionally overrides the stored plan options for one run.
type CreateRunRequest struct {
	MaxParallelItems  *int     `json:"max_parallel_items,omitempty"`
	PhaseUnitDuration *float64 `json:"phase_unit_duration,omitempty"`
}

type RunResponse struct {
	ID          string         `json:"id"`
	PortfolioID string         `json:"portfolio_id"`
	Status      string         `json:"status"`
	Error       string         `json:"error,omitempty"`
	Report      *domain.Report `json:"report,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

func runResponse(r domain.Run) RunResponse {
	return RunResponse{
		ID:          r.ID,
		PortfolioID: r.PortfolioID,
		Status:      r.Status,
		Error:       r.Error,
		Report:      r.Report,
		CreatedAt:   r.CreatedAt,
	}
}

func mapRuns(in []domain.Run) []RunResponse {
	res := make([]RunResponse, 0, len(in))
	for _, r := range in {
		res = append(res, runResponse(r))
	}
	return res
}

type EventResponse struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Type        string         `json:"type"`
	PortfolioID string         `json:"portfolio_id,omitempty"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id,omitempty"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

func mapEvents(in []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(in))
	for _, e := range in {
		// Payload is always written as JSON by the event writer.
		var payload map[string]any
		if e.Payload != "" {
			_ = json.Unmarshal([]byte(e.Payload), &payload)
		}
		res = append(res, EventResponse{
			ID:          e.ID,
			TS:          e.TS,
			Type:        e.Type,
			PortfolioID: e.PortfolioID,
			EntityKind:  e.EntityKind,
			EntityID:    e.EntityID,
			ActorID:     e.ActorID,
			Payload:     payload,
		})
	}
	return res
}
