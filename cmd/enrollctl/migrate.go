package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"codelab.org/internal/migrate"
	"codelab.org/internal/store/pg"
)

func migrateCmd(dsn *string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status|seed|verify]",
		Short: "Apply or inspect the embedded enrollment schema",
		Long: `Apply or inspect the embedded enrollment schema.

  up      apply every pending migration
  down    revert the most recent migration
  status  list migrations and seeds with their apply time
  seed    load the demo class offerings (schema must be current)
  verify  check that the settlement tables exist`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "status", "seed", "verify"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if *dsn == "" {
				return errors.New("missing DSN: provide via --dsn or CODELAB_PG_DSN")
			}
			store, err := pg.Open(*dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			runner := migrate.New(store.DB(), migrate.Migrations(), migrate.Seeds())
			if err := runMigrate(ctx, cmd.OutOrStdout(), runner, args[0]); err != nil {
				return fmt.Errorf("migrate %s: %w", args[0], err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}

type schemaRunner interface {
	Up(ctx context.Context) ([]migrate.Step, error)
	Down(ctx context.Context) (migrate.Step, error)
	Seed(ctx context.Context) (int64, error)
	Status(ctx context.Context) ([]migrate.Step, error)
	Verify(ctx context.Context) error
}

func runMigrate(ctx context.Context, out io.Writer, r schemaRunner, action string) error {
	switch action {
	case "up":
		applied, err := r.Up(ctx)
		for _, st := range applied {
			fmt.Fprintf(out, "applied %s\n", st.Name)
		}
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(out, "schema is current")
		}
		return r.Verify(ctx)
	case "down":
		st, err := r.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "reverted %s\n", st.Name)
		return nil
	case "seed":
		n, err := r.Seed(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "seeded %d class offerings\n", n)
		return nil
	case "status":
		steps, err := r.Status(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tKIND\tNAME\tAPPLIED AT")
		for _, st := range steps {
			at := "pending"
			if st.Applied() {
				at = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%04d\t%s\t%s\t%s\n", st.Version, st.Kind, st.Name, at)
		}
		return tw.Flush()
	case "verify":
		if err := r.Verify(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "enrollment schema ok")
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}
