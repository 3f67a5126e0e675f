package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nhle/azure-tracker/internal/model"
	"github.com/nhle/azure-tracker/internal/tracker"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [kind]",
		Short: "Fetch remote changes into the local cache",
		Long: `Fetch remote changes into the local cache.

Kind is one of all (default), pr, workitem, build or commit.
Press Ctrl-C to abort; records fetched so far are kept.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := model.KindAll
			if len(args) == 1 {
				k, err := model.ParseKind(args[0])
				if err != nil {
					return err
				}
				kind = k
			}

			tr, err := a.open(cmd.Context(), nil)
			if err != nil {
				return err
			}

			syncErr := runInterruptible(cmd.Context(), tr, kind)
			saveErr := a.finish(tr)
			if syncErr != nil {
				return syncErr
			}
			if saveErr != nil {
				return saveErr
			}

			return printCounts(a, tr)
		},
	}
}

// runInterruptible syncs kind and aborts on the first interrupt.
func runInterruptible(ctx context.Context, tr *tracker.Tracker, kind model.Kind) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			tr.Abort()
		case <-done:
		}
	}()

	return tr.Sync(ctx, kind)
}

func printCounts(a *app, tr *tracker.Tracker) error {
	counts := tr.Counts()
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tRECORDS")
	for _, k := range model.Kinds() {
		fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
	}
	fmt.Fprintf(w, "\n%s\n", tr.Status())
	if n := a.problems.Load(); n > 0 {
		fmt.Fprintf(w, "%d warnings or errors logged\n", n)
	}
	return w.Flush()
}
