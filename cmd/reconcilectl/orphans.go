package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var orphanLimit int

func init() {
	orphansCmd.PersistentFlags().IntVarP(&orphanLimit, "limit", "n", 100, "Maximum number of orphaned events to process")
	orphansCmd.AddCommand(orphansListCmd)
	orphansCmd.AddCommand(orphansRetryCmd)
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Work with ledger events that matched no off-chain record",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.HelpFunc()(cmd, args)
	},
}

var orphansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List orphaned events, oldest first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		repos := openRepositories()
		rows, err := repos.LedgerEvent.ListOrphaned(orphanLimit)
		if err != nil {
			reportErrorf("Unable to list orphaned events: %v", err)
		}
		if len(rows) == 0 {
			fmt.Println("No orphaned events.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tUSER\tCOMPANY\tLICENSE\tBLOCK\tATTEMPTS\tERROR")
		for _, row := range rows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				row.ID, row.Kind, row.UserAddress, row.CompanyAddress,
				row.LicenseID, row.BlockNumber, row.Attempts, row.ProcessingError)
		}
		_ = w.Flush()
	},
}

var orphansRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry orphaned events against the current store",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		repos := openRepositories()
		rec, closeFn := openReconciler(ctx, repos)
		defer closeFn()

		report, err := rec.RetryOrphans(ctx, orphanLimit)
		if err != nil {
			reportErrorf("Repair sweep failed: %v", err)
		}
		fmt.Printf("Attempted: %d\n", report.Attempted)
		fmt.Printf("Repaired: %d\n", report.Repaired)
		fmt.Printf("Still orphaned: %d\n", report.Remaining)
		fmt.Printf("Failed: %d\n", report.Failed)
	},
}
