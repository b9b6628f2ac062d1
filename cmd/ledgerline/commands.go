package main

import (
	"context"
	"fmt"

	"github.com/hray3182/ledgerline/internal/logger"
	"github.com/hray3182/ledgerline/internal/recurring"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/spf13/cobra"
)

var (
	accountID    int64
	ruleID       int64
	upcomingDays int
	skipMigrate  bool
	withDeleted  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recurring scheduler loop until interrupted",
	Long: "Runs one pass per owner with due rules every SCHEDULER_INTERVAL, starting\n" +
		"immediately. With --admin --global --owner N an extra pass covers shared rules.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var global *store.Scope
		if globalView {
			sc, err := scope()
			if err != nil {
				return err
			}
			global = &sc
		}

		ctx, a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		log := logger.FromContext(ctx)

		if a.db != nil && !skipMigrate {
			applied, err := a.db.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Strs("applied", applied).Msg("database migrations completed")
		}

		runner := recurring.NewRunner(a.store, a.scheduler, recurring.RunnerOptions{
			Interval:    a.cfg.Scheduler.Interval,
			Concurrency: a.cfg.Scheduler.Concurrency,
			Notifier:    a.notifier,
			Global:      global,
		})
		runner.Start(ctx)
		log.Info().Msg("shutting down")
		return nil
	},
}

var runDueCmd = &cobra.Command{
	Use:   "run-due",
	Short: "Run every due recurring rule of the owner once",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, sc store.Scope) error {
		report := a.scheduler.RunJob(ctx, sc)
		if a.notifier != nil {
			if err := a.notifier.NotifyRun(ctx, report); err != nil {
				logger.FromContext(ctx).Warn().Err(err).Msg("failed to send run notification")
			}
		}
		if err := show(report); err != nil {
			return err
		}
		if report.JobStatus == recurring.JobFailed {
			return fmt.Errorf("%s", report.Result.Message)
		}
		return nil
	}),
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute stored balances from opening balance plus the ledger",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, sc store.Scope) error {
		if accountID != 0 {
			res, err := a.balances.Rebuild(ctx, sc, accountID)
			if err != nil {
				return err
			}
			return show(res)
		}
		report, err := a.balances.RebuildAll(ctx, sc)
		if err != nil {
			return err
		}
		return show(report)
	}),
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report negative balances, drift and unusual deviations",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, sc store.Scope) error {
		report, err := a.balances.HealthCheck(ctx, sc)
		if err != nil {
			return err
		}
		return show(report)
	}),
}

var netWorthCmd = &cobra.Command{
	Use:   "networth",
	Short: "Sum the balances of active accounts",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, sc store.Scope) error {
		nw, err := a.balances.NetWorth(ctx, sc)
		if err != nil {
			return err
		}
		return show(nw)
	}),
}

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "List account balances",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, sc store.Scope) error {
		list, err := a.balances.ListBalances(ctx, sc, withDeleted)
		if err != nil {
			return err
		}
		return show(list)
	}),
}

var upcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "List active rules due within the next days",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, sc store.Scope) error {
		rules, err := a.scheduler.Upcoming(ctx, sc, upcomingDays)
		if err != nil {
			return err
		}
		return show(rules)
	}),
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what the next run of a rule would do",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, sc store.Scope) error {
		p, err := a.scheduler.Preview(ctx, sc, ruleID)
		if err != nil {
			return err
		}
		return show(p)
	}),
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if useMemory {
			return fmt.Errorf("migrate needs a database, not --memory")
		}
		ctx, a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		applied, err := a.db.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return show(map[string]any{"applied": applied})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply migrations on start")
	rebuildCmd.Flags().Int64Var(&accountID, "account", 0, "Rebuild a single account")
	balancesCmd.Flags().BoolVar(&withDeleted, "deleted", false, "Include deleted accounts")
	upcomingCmd.Flags().IntVar(&upcomingDays, "days", recurring.DefaultUpcomingDays, "Horizon in days")
	previewCmd.Flags().Int64Var(&ruleID, "rule", 0, "Rule id")
	_ = previewCmd.MarkFlagRequired("rule")
}
