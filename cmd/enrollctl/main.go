// Command enrollctl runs schema migrations and settlement reconciliation
// against the Postgres store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codelab.org/internal/config"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var dsn string
	root := &cobra.Command{
		Use:           "enrollctl",
		Short:         "Administration for the codelab enrollment service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// CODELAB_PG_DSN (or .env) provides the default; --dsn overrides it.
	defaultDSN := ""
	if cfg, err := config.Load(); err == nil {
		defaultDSN = cfg.PostgresDSN
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", defaultDSN, "PostgreSQL DSN (default from CODELAB_PG_DSN)")

	root.AddCommand(migrateCmd(&dsn))
	root.AddCommand(reconcileCmd(&dsn))
	return root
}
