package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stridehq/stride/internal/config"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "core",
	Short:   "Create the stride directory, config file and local database",
	Run: func(cmd *cobra.Command, args []string) {
		path, err := config.WriteDefault()
		if err != nil {
			fmt.Printf("Config: %v\n", err)
		} else {
			fmt.Printf("Wrote %s\n", path)
		}

		cfg := loadConfig()
		st := openStore(context.Background(), cfg)
		defer st.Close()
		fmt.Printf("Database ready at %s\n", st.Path())
		fmt.Println("Next: `stride signup` or `stride login`, then `stride goal add`.")
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
