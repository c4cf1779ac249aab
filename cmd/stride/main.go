// Command stride is an offline-first goal and activity tracker with
// background sync to a remote service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/stridehq/stride/internal/auth"
	"github.com/stridehq/stride/internal/config"
	"github.com/stridehq/stride/internal/migrate"
	"github.com/stridehq/stride/internal/schema"
	"github.com/stridehq/stride/internal/store"
	stridesync "github.com/stridehq/stride/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:   "stride",
	Short: "Offline-first goal and activity tracker",
	Long: `stride tracks one active goal and its daily activities in a local
database, fully usable offline. When signed in, a background sync engine
pushes local changes to the stride service and pulls changes from other
devices.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "sync", Title: "Account & Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// fatal prints an error and exits.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig loads the configuration or dies.
func loadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		fatal("%v", err)
	}
	return cfg
}

// openStore opens the local database, creates the schema, and brings old
// databases up to the current generation.
func openStore(ctx context.Context, cfg config.Config) *store.Store {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		fatal("%v", err)
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		fatal("%v", err)
	}
	if err := migrate.New(st, nil).Apply(ctx); err != nil {
		st.Close()
		fatal("%v", err)
	}
	return st
}

// newCreds returns the credential store for this configuration.
func newCreds(cfg config.Config) *auth.FileCredentials {
	return auth.NewFileCredentials(cfg.CredentialDir())
}

// requireIdentity returns the signed-in identity or dies.
func requireIdentity(creds *auth.FileCredentials) *schema.Identity {
	identity, err := creds.Identity()
	if err != nil {
		fatal("%v", err)
	}
	if identity == nil {
		fatal("not signed in, run `stride login` first")
	}
	return identity
}

// newEngine wires up the sync engine against the configured service.
func newEngine(cfg config.Config, st *store.Store, creds *auth.FileCredentials, logger *log.Logger, onCycle func(stridesync.CycleResult)) *stridesync.Engine {
	client := stridesync.NewHTTPClient(cfg.ServerURL, creds)
	engine, err := stridesync.New(stridesync.Options{
		Store:       st,
		Client:      client,
		Identity:    identityFromCreds(creds),
		Credentials: creds,
		Interval:    cfg.SyncInterval,
		Logger:      logger,
		OnCycle:     onCycle,
	})
	if err != nil {
		fatal("%v", err)
	}
	return engine
}

// identityFromCreds adapts the credential store to the engine's identity
// provider.
func identityFromCreds(creds *auth.FileCredentials) stridesync.IdentityProvider {
	return stridesync.IdentityFunc(func(ctx context.Context) (*schema.Identity, error) {
		return creds.Identity()
	})
}
