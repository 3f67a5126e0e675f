package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/azure-tracker/internal/cache"
	"github.com/nhle/azure-tracker/internal/model"
)

func newListCmd(a *app) *cobra.Command {
	var (
		format  string
		project string
		status  string
	)

	cmd := &cobra.Command{
		Use:     "list <kind>",
		Short:   "List cached records",
		Aliases: []string{"ls"},
		Long: `List the records of one kind from the local cache.

Examples:
  azure-tracker list workitem
  azure-tracker list pr --status active
  azure-tracker list build --project Alpha --format yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseKind(args[0])
			if err != nil {
				return err
			}
			if kind == model.KindAll {
				return fmt.Errorf("list needs a single kind")
			}

			store, err := cache.Open(a.cfg.Cache, a.log)
			if err != nil {
				return err
			}
			defer store.Close()

			c, err := store.Load(kind)
			if err != nil {
				return err
			}

			var recs []model.Record
			for _, rec := range c.Values() {
				b := rec.Common()
				if project != "" && !strings.EqualFold(b.ProjectName, project) {
					continue
				}
				if status != "" && !strings.EqualFold(b.Status, status) {
					continue
				}
				recs = append(recs, rec)
			}

			if err := renderRecords(a.out, recs, format); err != nil {
				return err
			}
			if format == formatTable {
				printLastSave(a, store, kind)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", formatTable, "Output format: table, yaml or json")
	cmd.Flags().StringVarP(&project, "project", "p", "", "Only records of this project")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only records with this status")

	return cmd
}

// printLastSave appends when kind was last written, for stores that track it.
func printLastSave(a *app, store cache.Store, kind model.Kind) {
	tracked, ok := store.(interface {
		LastSave(model.Kind) (*cache.SaveInfo, error)
	})
	if !ok {
		return
	}
	info, err := tracked.LastSave(kind)
	if err != nil {
		a.log.Warnf("Reading save history: %v", err)
		return
	}
	if info == nil {
		return
	}
	fmt.Fprintf(a.out, "\nLast saved %s (%d records)\n",
		info.SavedAt.Local().Format(time.DateTime), info.Count)
}
