package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"planline/internal/config"
	"planline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// UpsertPortfolioTx stores the portfolio row with its plan options; an
// existing portfolio keeps its original created_at.
func (r Repo) UpsertPortfolioTx(ctx context.Context, tx *sql.Tx, p domain.Portfolio, plan config.PlanConfig) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO portfolios(id,description,plan_json,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET description=excluded.description, plan_json=excluded.plan_json`,
		p.ID, nullable(p.Description), string(planJSON), p.CreatedAt)
	return err
}

// GetPlanConfig returns the plan options stored with a portfolio.
func (r Repo) GetPlanConfig(ctx context.Context, portfolioID string) (config.PlanConfig, error) {
	var planJSON string
	err := r.DB.QueryRowContext(ctx, `SELECT plan_json FROM portfolios WHERE id=?`, portfolioID).Scan(&planJSON)
	if err == sql.ErrNoRows {
		return config.PlanConfig{}, ErrNotFound
	}
	if err != nil {
		return config.PlanConfig{}, err
	}
	var plan config.PlanConfig
	if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
		return config.PlanConfig{}, fmt.Errorf("portfolio %s plan: %w", portfolioID, err)
	}
	return plan, nil
}

func (r Repo) GetPortfolio(ctx context.Context, id string) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(description,''),created_at FROM portfolios WHERE id=?`, id).
		Scan(&p.ID, &p.Description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) SinglePortfolio(ctx context.Context) (domain.Portfolio, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(description,''),created_at FROM portfolios`)
	if err != nil {
		return domain.Portfolio{}, err
	}
	defer rows.Close()
	var portfolios []domain.Portfolio
	for rows.Next() {
		var p domain.Portfolio
		if err := rows.Scan(&p.ID, &p.Description, &p.CreatedAt); err != nil {
			return domain.Portfolio{}, err
		}
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Portfolio{}, err
	}
	if len(portfolios) == 0 {
		return domain.Portfolio{}, ErrNotFound
	}
	if len(portfolios) > 1 {
		return domain.Portfolio{}, fmt.Errorf("multiple portfolios exist; specify --portfolio")
	}
	return portfolios[0], nil
}

func (r Repo) ListPortfolios(ctx context.Context) ([]domain.Portfolio, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(description,''),created_at FROM portfolios ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Portfolio
	for rows.Next() {
		var p domain.Portfolio
		if err := rows.Scan(&p.ID, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeletePortfolio(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM portfolios WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceItemsTx swaps the full item set of a portfolio. Imports are
// all-or-nothing, so partial updates never exist.
func (r Repo) ReplaceItemsTx(ctx context.Context, tx *sql.Tx, portfolioID string, items []domain.Item) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE portfolio_id=?`, portfolioID); err != nil {
		return err
	}
	for _, it := range items {
		deps, err := marshalList(it.Dependencies)
		if err != nil {
			return err
		}
		reqs, err := marshalMap(it.Requirements)
		if err != nil {
			return err
		}
		allowed, err := marshalList(it.AllowedLocations)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO items(portfolio_id,id,duration,priority,value,dependencies_json,requirements_json,allowed_locations_json,preferred_location)
VALUES (?,?,?,?,?,?,?,?,?)`,
			portfolioID, it.ID, it.Duration, it.Priority, nullableFloatPtr(it.Value), deps, reqs, allowed, nullable(it.PreferredLocation))
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}
	return nil
}

func (r Repo) ListItems(ctx context.Context, portfolioID string) ([]domain.Item, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,duration,priority,value,dependencies_json,requirements_json,allowed_locations_json,COALESCE(preferred_location,'')
FROM items WHERE portfolio_id=? ORDER BY id`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		var it domain.Item
		var value sql.NullFloat64
		var deps, reqs, allowed string
		if err := rows.Scan(&it.ID, &it.Duration, &it.Priority, &value, &deps, &reqs, &allowed, &it.PreferredLocation); err != nil {
			return nil, err
		}
		it.PortfolioID = portfolioID
		if value.Valid {
			v := value.Float64
			it.Value = &v
		}
		if err := json.Unmarshal([]byte(deps), &it.Dependencies); err != nil {
			return nil, fmt.Errorf("item %s dependencies: %w", it.ID, err)
		}
		if err := json.Unmarshal([]byte(reqs), &it.Requirements); err != nil {
			return nil, fmt.Errorf("item %s requirements: %w", it.ID, err)
		}
		if err := json.Unmarshal([]byte(allowed), &it.AllowedLocations); err != nil {
			return nil, fmt.Errorf("item %s allowed locations: %w", it.ID, err)
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ReplaceSitesTx swaps the full site set of a portfolio.
func (r Repo) ReplaceSitesTx(ctx context.Context, tx *sql.Tx, portfolioID string, sites []domain.Site) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM sites WHERE portfolio_id=?`, portfolioID); err != nil {
		return err
	}
	for _, s := range sites {
		caps, err := marshalMap(s.Capacities)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO sites(portfolio_id,location_id,capacities_json,cost_multiplier) VALUES (?,?,?,?)`,
			portfolioID, s.LocationID, caps, s.CostMultiplier)
		if err != nil {
			return fmt.Errorf("insert site %s: %w", s.LocationID, err)
		}
	}
	return nil
}

func (r Repo) ListSites(ctx context.Context, portfolioID string) ([]domain.Site, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT location_id,capacities_json,cost_multiplier FROM sites WHERE portfolio_id=? ORDER BY location_id`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Site
	for rows.Next() {
		var s domain.Site
		var caps string
		if err := rows.Scan(&s.LocationID, &caps, &s.CostMultiplier); err != nil {
			return nil, err
		}
		s.PortfolioID = portfolioID
		if err := json.Unmarshal([]byte(caps), &s.Capacities); err != nil {
			return nil, fmt.Errorf("site %s capacities: %w", s.LocationID, err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	var report any
	if run.Report != nil {
		data, err := json.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		report = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,portfolio_id,status,error,report_json,created_at) VALUES (?,?,?,?,?,?)`,
		run.ID, run.PortfolioID, run.Status, nullable(run.Error), report, run.CreatedAt)
	return err
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	var run domain.Run
	var errMsg, report sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,portfolio_id,status,error,report_json,created_at FROM runs WHERE id=?`, id).
		Scan(&run.ID, &run.PortfolioID, &run.Status, &errMsg, &report, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if report.Valid {
		var rep domain.Report
		if err := json.Unmarshal([]byte(report.String), &rep); err != nil {
			return run, fmt.Errorf("run %s report: %w", run.ID, err)
		}
		run.Report = &rep
	}
	return run, nil
}

// ListRuns returns runs newest first, without report bodies.
func (r Repo) ListRuns(ctx context.Context, portfolioID string, limit int) ([]domain.Run, error) {
	clauses := []string{"1=1"}
	var args []any
	if portfolioID != "" {
		clauses = append(clauses, "portfolio_id=?")
		args = append(args, portfolioID)
	}
	query := `SELECT id,portfolio_id,status,COALESCE(error,''),created_at FROM runs WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		var run domain.Run
		if err := rows.Scan(&run.ID, &run.PortfolioID, &run.Status, &run.Error, &run.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, portfolioID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, portfolioID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, portfolioID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if portfolioID != "" {
		clauses = append(clauses, "portfolio_id=?")
		args = append(args, portfolioID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(portfolio_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.PortfolioID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, portfolioID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if portfolioID != "" {
		clauses = append(clauses, "portfolio_id=?")
		args = append(args, portfolioID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(portfolio_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.PortfolioID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a portfolio.
func (r Repo) LatestEventID(ctx context.Context, portfolioID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE portfolio_id=?`, portfolioID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func marshalList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	return string(data), err
}

func marshalMap(v map[string]float64) (string, error) {
	if v == nil {
		v = map[string]float64{}
	}
	data, err := json.Marshal(v)
	return string(data), err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
