package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"codelab.org/internal/enrollment"
	"codelab.org/internal/ids"
	"codelab.org/internal/store/pg"
)

func reconcileCmd(dsn *string) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "List seats that were settled without a payment record",
		Long: `List seats that were settled without a payment record.

Settlements younger than --older-than are skipped because their payment
write may still be in flight. Exits non-zero when orphans are found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if *dsn == "" {
				return errors.New("missing DSN: provide via --dsn or CODELAB_PG_DSN")
			}
			store, err := pg.Open(*dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return reconcile(ctx, cmd.OutOrStdout(), enrollment.NewService(store), olderThan)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "grace period for in-flight settlements")
	return cmd
}

var errOrphansFound = errors.New("orphaned settlements found")

type orphanLister interface {
	Orphans(ctx context.Context, olderThan time.Duration) ([]enrollment.Settlement, error)
}

func reconcile(ctx context.Context, out io.Writer, svc orphanLister, olderThan time.Duration) error {
	orphans, err := svc.Orphans(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("list orphans: %w", err)
	}
	if len(orphans) == 0 {
		fmt.Fprintln(out, "no orphaned settlements")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	now := time.Now()
	fmt.Fprintln(tw, "SETTLEMENT\tCLASS OFFERING\tSTUDENT\tSETTLED AT\tAGE")
	for _, o := range orphans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.ID, o.ClassOfferingID, o.StudentEmail,
			o.SettledAt.Format(time.RFC3339), orphanAge(o, now))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %d", errOrphansFound, len(orphans))
}

// orphanAge measures from the time minted into the settlement id, falling
// back to the stored settled_at for ids not produced by ids.New.
func orphanAge(o enrollment.Settlement, now time.Time) time.Duration {
	at := o.SettledAt
	if minted, err := ids.Time(o.ID); err == nil {
		at = minted
	}
	return now.Sub(at).Truncate(time.Second)
}
