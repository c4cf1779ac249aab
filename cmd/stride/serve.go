package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stridehq/stride/internal/auth"
	"github.com/stridehq/stride/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run the stride sync service",
	Long: `Run the HTTP service that stride clients sync against. It owns the
authoritative copy of every account's records and assigns revisions.

Endpoints:
  POST /auth/signup   create an account, returns a bearer token
  POST /auth/login    exchange credentials for a bearer token
  GET  /auth/verify   validate a token
  POST /sync/push     upload changed records
  GET  /sync/pull     download records changed since a watermark
  GET  /healthz       readiness probe
  GET  /metrics       Prometheus metrics

The signing secret must be set via config (serve.auth_secret) or the
STRIDE_SERVE_AUTH_SECRET environment variable.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if cfg.Serve.AuthSecret == "" {
			fatal("serve.auth_secret is not configured")
		}

		logger := server.NewLogger(server.Config{LogPath: cfg.Serve.LogPath})

		st, err := server.OpenStore(cfg.Serve.DatabasePath)
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := st.InitSchema(ctx); err != nil {
			fatal("%v", err)
		}

		handler := server.NewHandler(st, auth.Config{
			Secret: cfg.Serve.AuthSecret,
			Issuer: cfg.Serve.AuthIssuer,
		}, logger)

		srv := server.NewServer(server.Config{Address: cfg.Serve.Address}, handler.Routes())

		go func() {
			logger.Printf("Listening on %s", cfg.Serve.Address)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("Server error: %v", err)
				cancel()
			}
		}()

		fmt.Printf("Sync service listening on %s\n", cfg.Serve.Address)
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fatal("shutdown error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
