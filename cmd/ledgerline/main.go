package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	useMemory  bool
	ownerID    int64
	asAdmin    bool
	globalView bool
	outputFmt  string
)

var rootCmd = &cobra.Command{
	Use:           "ledgerline",
	Short:         "Balance reconciliation and recurring transaction scheduler",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "Use an in-memory store instead of PostgreSQL")
	rootCmd.PersistentFlags().Int64Var(&ownerID, "owner", 0, "Acting user id")
	rootCmd.PersistentFlags().BoolVar(&asAdmin, "admin", false, "Act with the admin role")
	rootCmd.PersistentFlags().BoolVar(&globalView, "global", false, "Act on shared rows only instead of the owner's own (requires --admin)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "yaml", "Output format: yaml or json")

	rootCmd.AddCommand(
		serveCmd,
		runDueCmd,
		rebuildCmd,
		healthCmd,
		netWorthCmd,
		balancesCmd,
		upcomingCmd,
		previewCmd,
		migrateCmd,
	)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
