package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	rootpkg "github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/fleet"
	"github.com/getpup/pupsourcing-migrator/internal/config"
	"github.com/getpup/pupsourcing-migrator/pkg/migrations"
	"github.com/getpup/pupsourcing-migrator/pkg/version"
	"github.com/spf13/cobra"
)

// runFlags are shared by the commands that migrate namespaces.
type runFlags struct {
	target          string
	tenants         string
	createSchemas   bool
	continueOnError bool
	allowEmpty      bool
	workers         int
	lockMode        string
	part            string
}

func (f *runFlags) register(cmd *cobra.Command, withSelection bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.target, "target", "", `Target revision: a token, "head" or "base"`)
	flags.BoolVar(&f.createSchemas, "create-schemas", true, "Create missing namespaces before migrating")
	flags.StringVar(&f.lockMode, "lock-mode", "", "fail_fast or wait (default from config)")
	if withSelection {
		flags.StringVar(&f.tenants, "tenants", "all", `Tenant selector: "all", "a,b,c" or "[start,end)"`)
		flags.BoolVar(&f.continueOnError, "continue-on-error", false, "Keep migrating after a tenant fails")
		flags.BoolVar(&f.allowEmpty, "allow-empty", false, "Succeed when the selection matches no tenants")
		flags.IntVar(&f.workers, "workers", 0, "Tenants migrated concurrently (default from config)")
		flags.StringVar(&f.part, "part", "", `Migrate part i of n equal ranges of the fleet, written "i/n"`)
		cmd.MarkFlagsMutuallyExclusive("tenants", "part")
	}
}

// parsePart parses "i/n" with 1 <= i <= n.
func parsePart(s string) (int, int, error) {
	is, ns, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid --part %q: want i/n", s)
	}
	i, err := strconv.Atoi(strings.TrimSpace(is))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --part %q: %w", s, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(ns))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --part %q: %w", s, err)
	}
	if n < 1 || i < 1 || i > n {
		return 0, 0, fmt.Errorf("invalid --part %q: want 1 <= i <= n", s)
	}
	return i, n, nil
}

// resolve applies config defaults to unset flags.
func (f *runFlags) resolve(cmd *cobra.Command, cfg *config.Config) {
	if !cmd.Flags().Changed("create-schemas") {
		f.createSchemas = cfg.Run.CreateIfMissing
	}
	if f.lockMode == "" {
		f.lockMode = cfg.Run.LockMode
	}
	if f.workers == 0 {
		f.workers = cfg.Run.Workers
	}
}

func (f *runFlags) policy(cfg *config.Config) (rootpkg.ErrorPolicy, error) {
	if f.continueOnError {
		return rootpkg.ContinueOnError, nil
	}
	return rootpkg.ParseErrorPolicy(cfg.Run.ErrorPolicy)
}

// withApp loads config, opens the backend and runs fn.
func withApp(ctx context.Context, configFile string, fn func(a *app) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	return openApp(ctx, cfg, fn)
}

// withRunApp is withApp for commands that migrate. Flags are resolved before
// the backend opens so connection pools are sized for the worker count.
func withRunApp(ctx context.Context, cmd *cobra.Command, configFile string, f *runFlags, fn func(a *app) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	f.resolve(cmd, cfg)
	cfg.Run.Workers = f.workers
	return openApp(ctx, cfg, fn)
}

func openApp(ctx context.Context, cfg *config.Config, fn func(a *app) error) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	return fn(a)
}

func finish(cmd *cobra.Command, report *rootpkg.FleetRunReport) error {
	printReport(cmd.OutOrStdout(), report)
	if report.ExitCode() != 0 {
		return &incompleteError{summary: fleet.Summary(report)}
	}
	return nil
}

func newMigrateCmd(name, short string, configFile *string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Long: short + ". Namespaces are processed in sorted order; each step commits " +
			"together with the namespace's recorded revision.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "downgrade" && f.target == "" {
				return fmt.Errorf("downgrade requires --target")
			}
			ctx := cmd.Context()
			return withRunApp(ctx, cmd, *configFile, &f, func(a *app) error {
				policy, err := f.policy(a.cfg)
				if err != nil {
					return err
				}
				m, err := a.migrator(f.workers, f.lockMode)
				if err != nil {
					return err
				}
				if f.part != "" {
					i, n, err := parsePart(f.part)
					if err != nil {
						return err
					}
					if f.tenants, err = m.Part(ctx, i, n); err != nil {
						return err
					}
				}
				report, err := m.MigrateTenants(ctx, rootpkg.FleetRequest{
					Target:          rootpkg.ParseRevision(f.target),
					Direction:       rootpkg.Direction(name),
					Tenants:         f.tenants,
					ErrorPolicy:     policy,
					CreateIfMissing: f.createSchemas,
					AllowEmpty:      f.allowEmpty,
				})
				if err != nil {
					return err
				}
				return finish(cmd, report)
			})
		},
	}
	f.register(cmd, true)
	return cmd
}

// behind returns the namespaces whose recorded revision is not head.
func behind(records []rootpkg.NamespaceRecord, head rootpkg.Revision) []string {
	var out []string
	for _, r := range records {
		if r.Revision != head {
			out = append(out, r.Namespace)
		}
	}
	return out
}

func checkHead(records []rootpkg.NamespaceRecord, head rootpkg.Revision) error {
	if lagging := behind(records, head); len(lagging) > 0 {
		return &incompleteError{summary: fmt.Sprintf("%d of %d namespaces not at head %s: %s",
			len(lagging), len(records), head, strings.Join(lagging, ", "))}
	}
	return nil
}

func newCurrentCmd(configFile *string) *cobra.Command {
	var (
		tenants string
		check   bool
	)
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Show the recorded revision of each tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, *configFile, func(a *app) error {
				m, err := a.migrator(1, "")
				if err != nil {
					return err
				}
				records, err := m.Current(ctx, tenants)
				if err != nil {
					return err
				}
				printRecords(cmd.OutOrStdout(), records)
				if check {
					return checkHead(records, m.TenantHead())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenants, "tenants", "all", `Tenant selector: "all", "a,b,c" or "[start,end)"`)
	cmd.Flags().BoolVar(&check, "check", false, "Exit with status 1 when a selected tenant is not at head")
	return cmd
}

func newPublicCmd(configFile *string) *cobra.Command {
	public := &cobra.Command{
		Use:   "public",
		Short: "Migrate the shared namespace on its own chain",
	}

	for _, name := range []string{"upgrade", "downgrade"} {
		var f runFlags
		sub := &cobra.Command{
			Use:   name,
			Short: "Run a public " + name,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if name == "downgrade" && f.target == "" {
					return fmt.Errorf("downgrade requires --target")
				}
				ctx := cmd.Context()
				return withRunApp(ctx, cmd, *configFile, &f, func(a *app) error {
					m, err := a.migrator(1, f.lockMode)
					if err != nil {
						return err
					}
					report, err := m.MigratePublic(ctx, rootpkg.ParseRevision(f.target), rootpkg.Direction(name), f.createSchemas)
					if err != nil {
						return err
					}
					return finish(cmd, report)
				})
			},
		}
		f.register(sub, false)
		public.AddCommand(sub)
	}

	var check bool
	current := &cobra.Command{
		Use:   "current",
		Short: "Show the recorded revision of the shared namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, *configFile, func(a *app) error {
				m, err := a.migrator(1, "")
				if err != nil {
					return err
				}
				rec, err := m.PublicRevision(ctx)
				if err != nil {
					return err
				}
				printRecords(cmd.OutOrStdout(), []rootpkg.NamespaceRecord{rec})
				if check {
					return checkHead([]rootpkg.NamespaceRecord{rec}, m.PublicHead())
				}
				return nil
			})
		},
	}
	current.Flags().BoolVar(&check, "check", false, "Exit with status 1 when the shared namespace is not at head")
	public.AddCommand(current)
	return public
}

func newDriftCmd(configFile *string) *cobra.Command {
	var (
		reference string
		tenants   string
	)
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Compare tenant tables against a reference tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, *configFile, func(a *app) error {
				m, err := a.migrator(1, "")
				if err != nil {
					return err
				}
				if reference == "" {
					reference = a.cfg.Drift.Reference
				}
				reports, err := m.Drift(ctx, reference, tenants, a.cfg.Drift.Excluded)
				if err != nil {
					return err
				}
				drifted := printDrift(cmd.OutOrStdout(), reports)
				if drifted > 0 {
					return &incompleteError{summary: fmt.Sprintf("%d of %d namespaces drifted", drifted, len(reports))}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reference, "reference", "", "Reference namespace (default: config, then first tenant)")
	cmd.Flags().StringVar(&tenants, "tenants", "all", "Tenant selector")
	return cmd
}

func newHistoryCmd(configFile *string) *cobra.Command {
	var (
		chainName string
		limit     int
		runID     string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved fleet runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, *configFile, func(a *app) error {
				if runID != "" {
					report, err := a.backend.GetReport(ctx, runID)
					if err != nil {
						return err
					}
					printReport(cmd.OutOrStdout(), report)
					return nil
				}
				reports, err := a.backend.ListReports(ctx, chainName, limit)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), reports)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&chainName, "chain", "", `Filter by chain: "tenant" or "public"`)
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	cmd.Flags().StringVar(&runID, "run", "", "Show one run in detail")
	return cmd
}

func newGenSQLCmd() *cobra.Command {
	var (
		dialect  string
		output   string
		filename string
		schema   string
	)
	cfg := migrations.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "gen-sql",
		Short: "Generate the run history DDL as a migration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := migrations.ParseDialect(dialect)
			if err != nil {
				return err
			}
			cfg.OutputFolder = output
			cfg.SchemaName = schema
			if filename != "" {
				cfg.OutputFilename = filename
			}
			if err := migrations.Generate(d, &cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s migration: %s/%s\n", d, cfg.OutputFolder, cfg.OutputFilename)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&dialect, "dialect", "postgres", "postgres, mysql or sqlite")
	flags.StringVar(&output, "output", "migrations", "Output folder")
	flags.StringVar(&filename, "filename", "", "Output filename (default: timestamp-based)")
	flags.StringVar(&schema, "schema", cfg.SchemaName, "Schema (PostgreSQL) or database (MySQL) holding the history tables")
	flags.StringVar(&cfg.RunsTable, "runs-table", cfg.RunsTable, "Name of the runs table")
	flags.StringVar(&cfg.RunTenantsTable, "run-tenants-table", cfg.RunTenantsTable, "Name of the per-tenant results table")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "migrator %s (commit %s)\n", version.Version, version.GitCommit)
		},
	}
}
