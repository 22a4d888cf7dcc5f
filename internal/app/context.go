package app

import (
	"context"
	"errors"
	"fmt"

	"planline/internal/config"
	"planline/internal/engine"
	"planline/internal/repo"
)

// ResolvePortfolio picks the active portfolio: an explicit override first,
// otherwise the single stored portfolio. When nothing is stored yet but a
// planline.yml exists in the workspace, it is imported on the fly so fresh
// checkouts work without a separate import step.
func ResolvePortfolio(ctx context.Context, workspace, override, actorID string, e engine.Engine) (string, error) {
	if override != "" {
		if _, err := e.Repo.GetPortfolio(ctx, override); err == nil {
			return override, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
		cfg, err := config.LoadOptional(workspace)
		if err != nil {
			return "", err
		}
		if cfg == nil || cfg.Portfolio.ID != override {
			return "", fmt.Errorf("portfolio %s not found; import it with pl portfolio import", override)
		}
		if _, err := e.ImportPortfolio(ctx, cfg, actorID); err != nil {
			return "", err
		}
		return override, nil
	}

	if p, err := e.Repo.SinglePortfolio(ctx); err == nil {
		return p.ID, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}

	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", err
	}
	if cfg == nil {
		return "", fmt.Errorf("no portfolio found; create planline.yml with pl portfolio init")
	}
	if _, err := e.ImportPortfolio(ctx, cfg, actorID); err != nil {
		return "", err
	}
	return cfg.Portfolio.ID, nil
}
