package planlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Planline HTTP API client.
type Client struct {
	BaseURL     string
	PortfolioID string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, portfolioID string) *Client {
	return &Client{
		BaseURL:     baseURL,
		PortfolioID: portfolioID,
		Timeout:     10 * time.Second,
	}
}

// Portfolio represents the API portfolio model.
type Portfolio struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Item is one work item in a portfolio definition.
type Item struct {
	ID                string             `json:"id"`
	Duration          float64            `json:"duration"`
	Priority          float64            `json:"priority"`
	Value             *float64           `json:"value,omitempty"`
	Dependencies      []string           `json:"dependencies,omitempty"`
	Requirements      map[string]float64 `json:"requirements,omitempty"`
	AllowedLocations  []string           `json:"allowed_locations"`
	PreferredLocation string             `json:"preferred_location,omitempty"`
}

// Site is one capacity pool in a portfolio definition.
type Site struct {
	LocationID     string             `json:"location_id"`
	Capacities     map[string]float64 `json:"capacities,omitempty"`
	CostMultiplier float64            `json:"cost_multiplier,omitempty"`
}

// Plan holds portfolio-level scheduling options.
type Plan struct {
	Objective         string             `json:"objective,omitempty"`
	MaxParallelItems  int                `json:"max_parallel_items,omitempty"`
	PhaseUnitDuration float64            `json:"phase_unit_duration,omitempty"`
	CapacityLimits    map[string]float64 `json:"capacity_limits,omitempty"`
}

// PortfolioImport is the full import payload.
type PortfolioImport struct {
	Portfolio struct {
		ID          string `json:"id"`
		Description string `json:"description,omitempty"`
	} `json:"portfolio"`
	Plan  *Plan  `json:"plan,omitempty"`
	Items []Item `json:"items"`
	Sites []Site `json:"sites"`
}

// Run is one optimization invocation; Report is present unless the run failed.
type Run struct {
	ID          string          `json:"id"`
	PortfolioID string          `json:"portfolio_id"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Report      json.RawMessage `json:"report,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// RunOptions override the stored plan config for one run.
type RunOptions struct {
	MaxParallelItems  *int     `json:"max_parallel_items,omitempty"`
	PhaseUnitDuration *float64 `json:"phase_unit_duration,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ImportPortfolio creates or replaces a portfolio definition.
func (c *Client) ImportPortfolio(ctx context.Context, def PortfolioImport) (Portfolio, error) {
	var resp Portfolio
	err := c.do(ctx, http.MethodPost, "v0/portfolios", def, &resp)
	return resp, err
}

// ListPortfolios returns all stored portfolios.
func (c *Client) ListPortfolios(ctx context.Context) ([]Portfolio, error) {
	var resp []Portfolio
	err := c.do(ctx, http.MethodGet, "v0/portfolios", nil, &resp)
	return resp, err
}

// CreateRun starts an optimization run for the client's portfolio.
func (c *Client) CreateRun(ctx context.Context, opts RunOptions) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodPost, c.portfolioPath("runs"), opts, &resp)
	return resp, err
}

// ListRuns returns recent runs for the client's portfolio, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	endpoint := c.portfolioPath("runs")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Run
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetRun fetches one run with its full report.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var resp Run
	endpoint := fmt.Sprintf("v0/runs/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events for the client's portfolio.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.portfolioPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) portfolioPath(p string) string {
	portfolio := url.PathEscape(c.PortfolioID)
	return fmt.Sprintf("v0/portfolios/%s/%s", portfolio, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
