package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nhle/azure-tracker/internal/model"
)

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <kind> <id>...",
		Short: "Refetch cached records by id",
		Long: `Refetch single records that are already in the cache and update
them when anything changed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseKind(args[0])
			if err != nil {
				return err
			}
			if kind == model.KindAll {
				return fmt.Errorf("refresh needs a single kind")
			}

			ids := make([]int64, 0, len(args)-1)
			for _, arg := range args[1:] {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid id %q: %w", arg, err)
				}
				ids = append(ids, id)
			}

			tr, err := a.open(cmd.Context(), nil)
			if err != nil {
				return err
			}

			byID := make(map[int64]model.Record)
			for _, rec := range tr.Get(kind) {
				byID[rec.Key()] = rec
			}

			var recs []model.Record
			for _, id := range ids {
				rec, ok := byID[id]
				if !ok {
					a.log.Warnf("%s %d is not cached; run 'azure-tracker sync %s' first", kind, id, kind)
					continue
				}
				recs = append(recs, rec)
			}

			changed := tr.SyncMany(cmd.Context(), recs)
			fmt.Fprintf(a.out, "%d of %d %s records changed\n", changed, len(recs), kind)
			return a.finish(tr)
		},
	}
}
