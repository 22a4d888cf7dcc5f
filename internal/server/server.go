package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"planline/internal/engine"
	"planline/internal/repo"
	"planline/internal/sched"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"cyclic_dependency"`
	Message string         `json:"message" example:"dependency cycle: a -> b -> a"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope used by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Planline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Planline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPortfolios(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine and scheduling errors onto the API envelope.
// Structural scheduling problems are client errors against the submitted
// portfolio, so they surface as 422 with a stable code per error type.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var dup *sched.DuplicateItemError
	if errors.As(err, &dup) {
		return newAPIError(http.StatusUnprocessableEntity, "duplicate_item", err.Error(), map[string]any{"item_id": dup.ID})
	}
	var unk *sched.UnknownDependencyError
	if errors.As(err, &unk) {
		return newAPIError(http.StatusUnprocessableEntity, "unknown_dependency", err.Error(), map[string]any{
			"item_id":       unk.ItemID,
			"dependency_id": unk.DependencyID,
		})
	}
	var cyc *sched.CyclicDependencyError
	if errors.As(err, &cyc) {
		return newAPIError(http.StatusUnprocessableEntity, "cyclic_dependency", err.Error(), map[string]any{"cycle": cyc.Cycle})
	}
	var uns *sched.UnsatisfiableResourceDemandError
	if errors.As(err, &uns) {
		return newAPIError(http.StatusUnprocessableEntity, "unsatisfiable_demand", err.Error(), map[string]any{
			"item_id":       uns.ItemID,
			"resource_type": uns.ResourceType,
			"required":      uns.Required,
			"capacity":      uns.Capacity,
		})
	}
	var inv *sched.InvariantViolationError
	if errors.As(err, &inv) {
		return newAPIError(http.StatusInternalServerError, "invariant_violation", "internal error", map[string]any{"detail": inv.Detail})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "duplicate"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerPortfolios(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-portfolio",
		Method:        http.MethodPost,
		Path:          "/portfolios",
		Summary:       "Import portfolio",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body PortfolioImportRequest `json:"body"`
	}) (*struct {
		Body PortfolioResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Portfolio.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "portfolio.id is required", nil)
		}
		p, err := e.ImportPortfolio(ctx, input.Body.toConfig(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PortfolioResponse `json:"body"`
		}{Body: portfolioResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-portfolios",
		Method:      http.MethodGet,
		Path:        "/portfolios",
		Summary:     "List portfolios",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PortfolioResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPortfolios(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PortfolioResponse `json:"body"`
		}{Body: mapPortfolios(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-portfolio",
		Method:      http.MethodGet,
		Path:        "/portfolios/{portfolio_id}",
		Summary:     "Get portfolio with items and sites",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
	}) (*struct {
		Body PortfolioDetailResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPortfolio(ctx, input.PortfolioID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListItems(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		sites, err := e.Repo.ListSites(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PortfolioDetailResponse `json:"body"`
		}{Body: PortfolioDetailResponse{
			PortfolioResponse: portfolioResponse(p),
			Items:             items,
			Sites:             sites,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-portfolio",
		Method:      http.MethodDelete,
		Path:        "/portfolios/{portfolio_id}",
		Summary:     "Delete portfolio",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeletePortfolio(ctx, input.PortfolioID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-run",
		Method:        http.MethodPost,
		Path:          "/portfolios/{portfolio_id}/runs",
		Summary:       "Run the optimizer",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		PortfolioID string           `path:"portfolio_id"`
		Body        CreateRunRequest `json:"body"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.Plan(ctx, engine.PlanOptions{
			PortfolioID:       input.PortfolioID,
			ActorID:           actorID,
			MaxParallelItems:  input.Body.MaxParallelItems,
			PhaseUnitDuration: input.Body.PhaseUnitDuration,
		})
		if err != nil {
			// Scheduling failures are persisted as failed runs before the
			// error code is returned, so the record stays queryable.
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/portfolios/{portfolio_id}/runs",
		Summary:     "List runs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []RunResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPortfolio(ctx, input.PortfolioID); err != nil {
			return nil, handleError(err)
		}
		runs, err := e.Repo.ListRuns(ctx, input.PortfolioID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RunResponse `json:"body"`
		}{Body: mapRuns(runs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get run with full report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		run, err := e.Repo.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: runResponse(run)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/portfolios/{portfolio_id}/events",
		Summary:     "List events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PortfolioID string `path:"portfolio_id"`
		Type        string `query:"type"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPortfolio(ctx, input.PortfolioID); err != nil {
			return nil, handleError(err)
		}
		events, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.PortfolioID, input.Type, "", "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(events)}, nil
	})
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Planline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
