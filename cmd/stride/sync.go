package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/stridehq/stride/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one push/pull cycle against the stride service",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		creds := newCreds(cfg)
		requireIdentity(creds)

		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		engine := newEngine(cfg, st, creds, logger, nil)

		if err := engine.PerformFullSync(ctx); err != nil {
			fatal("sync failed: %v", err)
		}
		fmt.Println(ui.Pass("✓ Sync complete"))
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync state and the unsynced backlog",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		creds := newCreds(cfg)

		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		engine := newEngine(cfg, st, creds, log.New(os.Stderr, "[sync] ", log.LstdFlags), nil)
		status, err := engine.Status(ctx)
		if err != nil {
			fatal("%v", err)
		}

		identity, err := creds.Identity()
		if err != nil {
			fatal("%v", err)
		}
		if identity == nil {
			fmt.Println("Account:    " + ui.Warn("not signed in"))
		} else {
			fmt.Println("Account:    " + identity.Email)
		}
		if status.Watermark.IsZero() {
			fmt.Println("Last sync:  " + ui.Dim("never"))
		} else {
			fmt.Println("Last sync:  " + status.Watermark.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Interval:   %s\n", status.Interval)
		pending := status.UnsyncedGoals + status.UnsyncedActivities
		if pending == 0 {
			fmt.Println("Backlog:    " + ui.Pass("everything synced"))
		} else {
			fmt.Printf("Backlog:    %s\n", ui.Warn(fmt.Sprintf("%d goals, %d activities waiting", status.UnsyncedGoals, status.UnsyncedActivities)))
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, statusCmd)
}
