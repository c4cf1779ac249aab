package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stridehq/stride/internal/config"
	"github.com/stridehq/stride/internal/daemon"
	"github.com/stridehq/stride/internal/dashboard"
	"github.com/stridehq/stride/internal/regen"
	stridesync "github.com/stridehq/stride/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Run the background sync and regeneration daemon",
	Long: `Run stride in the background: auto-sync on the configured interval,
daily activity regeneration at midnight, and a WebSocket dashboard with
live updates.

The config file is watched; changing sync_interval takes effect without a
restart.

Example usage:
  stride daemon                  # Dashboard on the configured address
  stride daemon --no-dashboard   # Sync and regeneration only`,
	Run: func(cmd *cobra.Command, args []string) {
		noDash, _ := cmd.Flags().GetBool("no-dashboard")

		cfg := loadConfig()
		creds := newCreds(cfg)
		requireIdentity(creds)

		var out io.Writer = os.Stderr
		if cfg.LogPath != "" {
			out = &lumberjack.Logger{
				Filename:   cfg.LogPath,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}
		logger := log.New(out, "[daemon] ", log.LstdFlags)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st := openStore(ctx, cfg)
		defer st.Close()

		var dash *dashboard.Server
		if !noDash {
			dash = dashboard.NewServer(&dashboard.Config{
				Addr:   cfg.DashboardAddr,
				Logger: logger,
			})
		}

		var onCycle func(stridesync.CycleResult)
		if dash != nil {
			onCycle = dashboard.NewHandler(dash, logger).OnSyncCycle
		}
		engine := newEngine(cfg, st, creds, logger, onCycle)

		d, err := daemon.New(daemon.Options{
			Store:      st,
			Engine:     engine,
			Regen:      regen.New(st, logger),
			Identity:   identityFromCreds(creds),
			ConfigPath: config.Path(),
			Dashboard:  dash,
			Logger:     logger,
		})
		if err != nil {
			fatal("%v", err)
		}
		if err := d.Start(ctx); err != nil {
			fatal("%v", err)
		}

		if dash != nil {
			fmt.Printf("Dashboard: http://%s (ws://%s/ws)\n", dash.GetAddr(), dash.GetAddr())
		}
		fmt.Println("Daemon running. Press Ctrl+C to stop.")

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if err := d.Stop(); err != nil {
			fatal("shutdown error: %v", err)
		}
	},
}

func init() {
	daemonCmd.Flags().Bool("no-dashboard", false, "Disable the WebSocket dashboard")
	rootCmd.AddCommand(daemonCmd)
}
