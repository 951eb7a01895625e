// Command reconcilectl inspects and repairs the ledger event reconciler's
// state from the command line.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/MindShield/app/repository"
	"github.com/ManuelReschke/MindShield/internal/pkg/config"
	"github.com/ManuelReschke/MindShield/internal/pkg/database"
	"github.com/ManuelReschke/MindShield/internal/pkg/env"
	"github.com/ManuelReschke/MindShield/internal/pkg/ledger"
	"github.com/ManuelReschke/MindShield/internal/pkg/reconciler"
)

var rootCmd = &cobra.Command{
	Use:   "reconcilectl",
	Short: "Inspect and repair the ledger event reconciler",
	Long:  "reconcilectl reads the reconciler's bookkeeping tables, lists and retries orphaned ledger events, and tails the raw event archive.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		env.SetupEnvFile()
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.HelpFunc()(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(orphansCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(archiveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func reportErrorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepositories() *repository.Repositories {
	if err := database.SetupDatabase(); err != nil {
		reportErrorf("Unable to open database: %v", err)
	}
	return repository.NewRepositories(database.GetDB())
}

// openReconciler builds a reconciler that is never started; it is only used
// to run repairs against the configured ledger.
func openReconciler(ctx context.Context, repos *repository.Repositories) (*reconciler.Reconciler, func()) {
	ledgerCfg := config.LoadLedgerConfig()
	backend, closeFn, err := ledger.OpenBackend(ctx, ledgerCfg)
	if err != nil {
		reportErrorf("Unable to open ledger: %v", err)
	}
	client, err := ledger.NewClient(backend, ledgerCfg)
	if err != nil {
		closeFn()
		reportErrorf("Unable to create ledger client: %v", err)
	}
	return reconciler.New(config.LoadReconcilerConfig(), client, repos, client.Fiat()), closeFn
}
