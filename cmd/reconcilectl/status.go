package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/MindShield/internal/pkg/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the replay cursor and ledger event counts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		repos := openRepositories()
		name := config.LoadReconcilerConfig().Name

		cursor, err := repos.LedgerEvent.GetCursor(name)
		if err != nil {
			reportErrorf("Unable to read cursor %q: %v", name, err)
		}
		counts, err := repos.LedgerEvent.CountByStatus()
		if err != nil {
			reportErrorf("Unable to count ledger events: %v", err)
		}

		fmt.Printf("Reconciler: %s\n", name)
		fmt.Printf("Cursor block: %d\n", cursor)
		statuses := make([]string, 0, len(counts))
		for status := range counts {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			fmt.Printf("Events %s: %d\n", status, counts[status])
		}
	},
}
