package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/app"
	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/repo"
	"planline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Planline CLI",
	Long: `Planline schedules a portfolio of dependent work items across capacity-limited sites.
Core concepts:
- Workspace: the directory holding planline.yml and the .planline database.
- Portfolio: one named set of items and sites; imported from YAML, stored in the DB.
- Items: work with a duration, priority, optional value, dependencies, and resource needs.
- Sites: locations with per-resource capacities and a relative cost multiplier.
- Run: one optimization pass (critical path, resource leveling, site assignment);
  every run is persisted with its full report, including failed ones.
- Event log: diary of imports and runs, view with 'pl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLANLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("portfolio", "", "portfolio id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("portfolio", rootCmd.PersistentFlags().Lookup("portfolio"))
}

func registerCommands() {
	rootCmd.AddCommand(portfolioCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(serveCmd())
}

func portfolioCmd() *cobra.Command {
	pf := &cobra.Command{Use: "portfolio", Short: "Manage portfolios"}
	pf.AddCommand(portfolioInitCmd())
	pf.AddCommand(portfolioImportCmd())
	pf.AddCommand(portfolioListCmd())
	pf.AddCommand(portfolioShowCmd())
	pf.AddCommand(portfolioDeleteCmd())
	return pf
}

func portfolioInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter planline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s; edit it and run 'pl portfolio import'\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "my-portfolio", "portfolio id")
	return cmd
}

func portfolioImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a portfolio from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if filePath == "" {
				filePath = config.Path(workspace)
			}
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ImportPortfolio(ctx, cfg, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config (defaults to workspace planline.yml)")
	return cmd
}

func portfolioListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List portfolios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPortfolios(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Description", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Description, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func portfolioShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a portfolio with its items and sites",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResolvedPortfolio(cmd.Context(), func(ctx context.Context, e engine.Engine, portfolioID string) error {
				p, err := e.Repo.GetPortfolio(ctx, portfolioID)
				if err != nil {
					return err
				}
				items, err := e.Repo.ListItems(ctx, portfolioID)
				if err != nil {
					return err
				}
				sites, err := e.Repo.ListSites(ctx, portfolioID)
				if err != nil {
					return err
				}
				out := map[string]any{"portfolio": p, "items": items, "sites": sites}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Portfolio: %s", p.ID)
				if p.Description != "" {
					fmt.Printf(" (%s)", p.Description)
				}
				fmt.Println()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Duration", "Priority", "Deps", "Allowed"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Duration, it.Priority, strings.Join(it.Dependencies, ","), strings.Join(it.AllowedLocations, ",")})
				}
				tw.Render()
				sw := table.NewWriter()
				sw.SetOutputMirror(os.Stdout)
				sw.AppendHeader(table.Row{"Site", "Cost", "Capacities"})
				for _, s := range sites {
					sw.AppendRow(table.Row{s.LocationID, s.CostMultiplier, formatCapacities(s.Capacities)})
				}
				sw.Render()
				return nil
			})
		},
	}
	return cmd
}

func portfolioDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a portfolio and its runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResolvedPortfolio(cmd.Context(), func(ctx context.Context, e engine.Engine, portfolioID string) error {
				return e.Repo.DeletePortfolio(ctx, portfolioID)
			})
		},
	}
	return cmd
}

func planCmd() *cobra.Command {
	var maxParallel int
	var phaseUnit float64
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Run the optimizer and store the result",
		Long:  "Builds the dependency graph, computes critical-path times, levels items into capacity-bounded phases, assigns each item to a site, and persists the run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResolvedPortfolio(cmd.Context(), func(ctx context.Context, e engine.Engine, portfolioID string) error {
				opts := engine.PlanOptions{
					PortfolioID: portfolioID,
					ActorID:     viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("max-parallel") {
					opts.MaxParallelItems = &maxParallel
				}
				if cmd.Flags().Changed("phase-unit") {
					opts.PhaseUnitDuration = &phaseUnit
				}
				run, err := e.Plan(ctx, opts)
				if err != nil {
					if run.ID != "" {
						fmt.Printf("run %s failed: %v\n", run.ID, err)
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				printRunReport(run)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "cap items per phase (0 = unlimited)")
	cmd.Flags().Float64Var(&phaseUnit, "phase-unit", 0, "duration of one phase in time units")
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Inspect stored runs"}
	run.AddCommand(runListCmd())
	run.AddCommand(runShowCmd())
	return run
}

func runListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs for a portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResolvedPortfolio(cmd.Context(), func(ctx context.Context, e engine.Engine, portfolioID string) error {
				runs, err := e.Repo.ListRuns(ctx, portfolioID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Created", "Error"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.Status, r.CreatedAt, r.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 20, "number of runs")
	return cmd
}

func runShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run with its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.Repo.GetRun(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				printRunReport(run)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResolvedPortfolio(cmd.Context(), func(ctx context.Context, e engine.Engine, portfolioID string) error {
				events, err := e.Repo.LatestEvents(ctx, n, portfolioID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "Manage API keys for the HTTP server"}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysDeleteCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "plk_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
				}
				fmt.Printf("Created key %s for %s\n", key.ID, key.ActorID)
				fmt.Printf("Secret (save it now, it is not stored): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keysListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &config.Config{}
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PLANLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("PLANLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Planline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id (local use only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withResolvedPortfolio(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		workspace := viper.GetString("workspace")
		portfolioID, err := app.ResolvePortfolio(ctx, workspace, viper.GetString("portfolio"), viper.GetString("actor-id"), e)
		if err != nil {
			return err
		}
		return fn(ctx, e, portfolioID)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printRunReport(run domain.Run) {
	fmt.Printf("Run %s: %s\n", run.ID, run.Status)
	if run.Error != "" {
		fmt.Printf("Error: %s\n", run.Error)
	}
	if run.Report == nil {
		return
	}
	rep := run.Report
	fmt.Printf("Horizon: %.2f  Phases: %d  Assigned: %d/%d  Value: %.2f\n",
		rep.Summary.Horizon, rep.Summary.PhaseCount, rep.Summary.AssignedCount, rep.Summary.ItemCount, rep.Summary.AssignedValue)
	if len(rep.Summary.CriticalItems) > 0 {
		fmt.Printf("Critical: %s\n", strings.Join(rep.Summary.CriticalItems, ", "))
	}
	items := make([]domain.ItemResult, len(rep.Items))
	copy(items, rep.Items)
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].EarliestStart != items[b].EarliestStart {
			return items[a].EarliestStart < items[b].EarliestStart
		}
		return items[a].ItemID < items[b].ItemID
	})
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Item", "ES", "EF", "Slack", "Critical", "Phase", "Site"})
	for _, it := range items {
		site := it.LocationID
		if it.RejectionReason != "" {
			site = "rejected: " + it.RejectionReason
		}
		critical := ""
		if it.IsCritical {
			critical = "*"
		}
		phase := ""
		if it.PhaseIndex >= 0 {
			phase = fmt.Sprintf("%d", it.PhaseIndex)
		}
		tw.AppendRow(table.Row{it.ItemID, fmt.Sprintf("%.2f", it.EarliestStart), fmt.Sprintf("%.2f", it.EarliestFinish),
			fmt.Sprintf("%.2f", it.Slack), critical, phase, site})
	}
	tw.Render()
	for _, rej := range rep.Summary.Rejected {
		fmt.Printf("Rejected %s: %s\n", rej.ItemID, rej.Reason)
	}
}

func formatCapacities(caps map[string]float64) string {
	rts := make([]string, 0, len(caps))
	for rt := range caps {
		rts = append(rts, rt)
	}
	sort.Strings(rts)
	parts := make([]string, 0, len(rts))
	for _, rt := range rts {
		parts = append(parts, fmt.Sprintf("%s=%g", rt, caps[rt]))
	}
	return strings.Join(parts, " ")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
