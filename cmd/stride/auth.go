package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stridehq/stride/internal/schema"
	"github.com/stridehq/stride/internal/store"
	stridesync "github.com/stridehq/stride/internal/sync"
	"github.com/stridehq/stride/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Sign in to the stride service",
	Run: func(cmd *cobra.Command, args []string) {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if err := promptCredentials(&email, &password, nil); err != nil {
			fatal("%v", err)
		}

		cfg := loadConfig()
		creds := newCreds(cfg)
		client := stridesync.NewHTTPClient(cfg.ServerURL, creds)

		ctx := context.Background()
		resp, err := client.Login(ctx, email, password)
		if err != nil {
			fatal("login failed: %v", err)
		}
		if err := creds.SaveIdentity(&resp.User); err != nil {
			fatal("%v", err)
		}
		ensureLocalUser(ctx, cfg, resp.User, "")

		fmt.Printf("%s Signed in as %s\n", ui.Pass("✓"), resp.User.Email)
		fmt.Println(ui.Dim("Run `stride sync` or start `stride daemon` to sync."))
	},
}

var signupCmd = &cobra.Command{
	Use:     "signup",
	GroupID: "sync",
	Short:   "Create a stride account",
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if err := promptCredentials(&email, &password, &name); err != nil {
			fatal("%v", err)
		}

		cfg := loadConfig()
		creds := newCreds(cfg)
		client := stridesync.NewHTTPClient(cfg.ServerURL, creds)

		ctx := context.Background()
		resp, err := client.Signup(ctx, name, email, password)
		if err != nil {
			fatal("signup failed: %v", err)
		}
		if err := creds.SaveIdentity(&resp.User); err != nil {
			fatal("%v", err)
		}
		ensureLocalUser(ctx, cfg, resp.User, name)

		fmt.Printf("%s Account created for %s\n", ui.Pass("✓"), resp.User.Email)
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Sign out and forget the stored credential",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		creds := newCreds(cfg)
		if err := creds.ClearToken(); err != nil {
			fatal("%v", err)
		}
		if err := creds.ClearIdentity(); err != nil {
			fatal("%v", err)
		}
		fmt.Println("Signed out. Local data is untouched.")
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "sync",
	Short:   "Show the signed-in account",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		creds := newCreds(cfg)
		identity, err := creds.Identity()
		if err != nil {
			fatal("%v", err)
		}
		if identity == nil {
			fmt.Println("Not signed in.")
			return
		}
		fmt.Printf("%s (%s)\n", identity.Email, identity.UserID)
	},
}

// promptCredentials fills missing fields interactively: a form on a
// terminal, plain prompts otherwise.
func promptCredentials(email, password, name *string) error {
	if *email != "" && *password != "" && (name == nil || *name != "") {
		return nil
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fields := make([]huh.Field, 0, 3)
		if name != nil && *name == "" {
			fields = append(fields, huh.NewInput().Title("Name").Value(name))
		}
		if *email == "" {
			fields = append(fields, huh.NewInput().Title("Email").Value(email))
		}
		if *password == "" {
			fields = append(fields, huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(password))
		}
		if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err == nil {
			return validateCredentials(*email, *password)
		}
		// Fall through to plain prompts when the form cannot run.
	}

	reader := bufio.NewReader(os.Stdin)
	if name != nil && *name == "" {
		fmt.Print("Name: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		*name = strings.TrimSpace(line)
	}
	if *email == "" {
		fmt.Print("Email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		*email = strings.TrimSpace(line)
	}
	if *password == "" {
		fmt.Print("Password: ")
		if term.IsTerminal(int(os.Stdin.Fd())) {
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return err
			}
			*password = string(raw)
		} else {
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			*password = strings.TrimRight(line, "\r\n")
		}
	}
	return validateCredentials(*email, *password)
}

func validateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("email is required")
	}
	if password == "" {
		return errors.New("password is required")
	}
	return nil
}

// ensureLocalUser mirrors the signed-in account into the local database so
// offline commands can attribute records.
func ensureLocalUser(ctx context.Context, cfg interface{ DatabasePath() string }, identity schema.Identity, name string) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		return
	}
	if _, err := st.GetUser(ctx, identity.UserID); err == nil {
		return
	}
	if name == "" {
		name = identity.Email
	}
	_, _ = st.CreateUser(ctx, &schema.User{
		SyncMeta: schema.SyncMeta{
			LocalID:  identity.UserID,
			RemoteID: identity.UserID,
			OwnerID:  identity.UserID,
		},
		Name:  name,
		Email: identity.Email,
	})
}

func init() {
	loginCmd.Flags().String("email", "", "Account email")
	loginCmd.Flags().String("password", "", "Account password (prompted when omitted)")
	signupCmd.Flags().String("name", "", "Display name")
	signupCmd.Flags().String("email", "", "Account email")
	signupCmd.Flags().String("password", "", "Account password (prompted when omitted)")

	rootCmd.AddCommand(loginCmd, signupCmd, logoutCmd, whoamiCmd)
}
