package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/MindShield/internal/pkg/config"
	"github.com/ManuelReschke/MindShield/internal/pkg/eventarchive"
)

var archiveLimit int64

func init() {
	archiveTailCmd.Flags().Int64VarP(&archiveLimit, "limit", "n", 20, "Number of events to show")
	archiveCmd.AddCommand(archiveTailCmd)
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Read the raw ledger event archive",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.HelpFunc()(cmd, args)
	},
}

var archiveTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the most recent archived events",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		archive, err := eventarchive.Open(ctx, config.LoadArchiveConfig())
		if err != nil {
			reportErrorf("Unable to open archive: %v", err)
		}
		defer archive.Close(ctx)

		records, err := archive.Recent(ctx, archiveLimit)
		if errors.Is(err, eventarchive.ErrDisabled) {
			reportErrorf("The event archive is disabled; set MONGO_URI to enable it.")
		}
		if err != nil {
			reportErrorf("Unable to read archive: %v", err)
		}
		for _, r := range records {
			fmt.Printf("%d\t%s\t%s\t%s\tlicense=%d\tamount=%s\t%s\n",
				r.BlockNumber, r.Kind, r.User, r.Company, r.LicenseID, r.Amount, r.TxHash)
		}
	},
}
