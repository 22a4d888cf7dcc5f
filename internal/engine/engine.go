package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
	"planline/internal/sched"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ImportPortfolio stores a portfolio definition, replacing any previous items
// and sites under the same id in one transaction.
func (e Engine) ImportPortfolio(ctx context.Context, cfg *config.Config, actorID string) (domain.Portfolio, error) {
	if cfg == nil {
		return domain.Portfolio{}, errors.New("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return domain.Portfolio{}, err
	}

	p := domain.Portfolio{
		ID:          cfg.Portfolio.ID,
		Description: cfg.Portfolio.Description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Portfolio{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpsertPortfolioTx(ctx, tx, p, cfg.Plan); err != nil {
		return domain.Portfolio{}, fmt.Errorf("upsert portfolio: %w", err)
	}
	if err := e.Repo.ReplaceItemsTx(ctx, tx, p.ID, itemsFromConfig(p.ID, cfg.Items)); err != nil {
		return domain.Portfolio{}, err
	}
	if err := e.Repo.ReplaceSitesTx(ctx, tx, p.ID, sitesFromConfig(p.ID, cfg.Sites)); err != nil {
		return domain.Portfolio{}, err
	}
	if err := e.Events.Append(ctx, tx, "portfolio.imported", p.ID, "portfolio", p.ID, actorID, events.EventPayload{
		"items": len(cfg.Items),
		"sites": len(cfg.Sites),
	}); err != nil {
		return domain.Portfolio{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Portfolio{}, err
	}
	return e.Repo.GetPortfolio(ctx, p.ID)
}

// PlanOptions parameterize one run. Overrides beat the stored plan config
// when set.
type PlanOptions struct {
	PortfolioID       string
	ActorID           string
	MaxParallelItems  *int
	PhaseUnitDuration *float64
}

// Plan loads the portfolio snapshot, runs the optimizer and persists the
// outcome as a run. Scheduling failures (cycles, unknown dependencies,
// oversized demand) are recorded as failed runs and returned alongside the
// run record; storage failures return a zero run.
func (e Engine) Plan(ctx context.Context, opts PlanOptions) (domain.Run, error) {
	if opts.PortfolioID == "" {
		return domain.Run{}, errors.New("portfolio is required")
	}
	if _, err := e.Repo.GetPortfolio(ctx, opts.PortfolioID); err != nil {
		return domain.Run{}, err
	}
	items, err := e.Repo.ListItems(ctx, opts.PortfolioID)
	if err != nil {
		return domain.Run{}, err
	}
	sites, err := e.Repo.ListSites(ctx, opts.PortfolioID)
	if err != nil {
		return domain.Run{}, err
	}

	plan, err := e.Repo.GetPlanConfig(ctx, opts.PortfolioID)
	if err != nil {
		return domain.Run{}, err
	}
	schedOpts, err := schedOptions(plan, opts)
	if err != nil {
		return domain.Run{}, err
	}

	run := domain.Run{
		ID:          uuid.NewString(),
		PortfolioID: opts.PortfolioID,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}

	report, optErr := sched.Optimize(ctx, sched.Snapshot{Items: items, Sites: sites}, schedOpts)
	switch {
	case optErr != nil:
		run.Status = domain.RunFailed
		run.Error = optErr.Error()
	case report.Status == domain.ReportPartial:
		run.Status = domain.RunPartial
		run.Report = report
	default:
		run.Status = domain.RunSucceeded
		run.Report = report
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertRunTx(ctx, tx, run); err != nil {
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}
	payload := events.EventPayload{"status": run.Status}
	evtType := "run.completed"
	if run.Status == domain.RunFailed {
		evtType = "run.failed"
		payload["error"] = run.Error
	} else {
		payload["horizon"] = run.Report.Summary.Horizon
		payload["assigned"] = run.Report.Summary.AssignedCount
		payload["rejected"] = len(run.Report.Summary.Rejected)
	}
	if err := e.Events.Append(ctx, tx, evtType, run.PortfolioID, "run", run.ID, opts.ActorID, payload); err != nil {
		return domain.Run{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Run{}, err
	}
	return run, optErr
}

func schedOptions(plan config.PlanConfig, opts PlanOptions) (sched.Options, error) {
	objective, err := sched.ParseObjective(plan.Objective)
	if err != nil {
		return sched.Options{}, err
	}
	out := sched.Options{
		MaxParallelItems:  plan.MaxParallelItems,
		PhaseUnitDuration: plan.PhaseUnitDuration,
		CapacityLimits:    plan.CapacityLimits,
		Objective:         objective,
	}
	if opts.MaxParallelItems != nil {
		out.MaxParallelItems = *opts.MaxParallelItems
	}
	if opts.PhaseUnitDuration != nil {
		out.PhaseUnitDuration = *opts.PhaseUnitDuration
	}
	return out, nil
}

func itemsFromConfig(portfolioID string, items []config.ItemConfig) []domain.Item {
	res := make([]domain.Item, len(items))
	for i, it := range items {
		res[i] = domain.Item{
			ID:                it.ID,
			PortfolioID:       portfolioID,
			Duration:          it.Duration,
			Priority:          it.Priority,
			Value:             it.Value,
			Dependencies:      it.Dependencies,
			Requirements:      it.Requirements,
			AllowedLocations:  it.AllowedLocations,
			PreferredLocation: it.PreferredLocation,
		}
	}
	return res
}

func sitesFromConfig(portfolioID string, sites []config.SiteConfig) []domain.Site {
	res := make([]domain.Site, len(sites))
	for i, s := range sites {
		cost := s.CostMultiplier
		if cost == 0 {
			cost = 1.0
		}
		res[i] = domain.Site{
			LocationID:     s.LocationID,
			PortfolioID:    portfolioID,
			Capacities:     s.Capacities,
			CostMultiplier: cost,
		}
	}
	return res
}
