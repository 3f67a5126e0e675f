package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/nhle/azure-tracker/internal/cache"
	"github.com/nhle/azure-tracker/internal/model"
)

// Output formats of the list command.
const (
	formatTable = "table"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

const maxTitleWidth = 60

// renderRecords writes recs to w in the given format.
func renderRecords(w io.Writer, recs []model.Record, format string) error {
	switch format {
	case "", formatTable:
		return renderTable(w, recs)
	case formatJSON:
		docs, err := documents(recs)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	case formatYAML:
		docs, err := documents(recs)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(docs); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want table, yaml or json)", format)
	}
}

// documents converts records to generic maps keyed by their JSON field
// names, so JSON and YAML output share one field naming.
func documents(recs []model.Record) ([]map[string]any, error) {
	docs := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		data, err := cache.Encode(rec)
		if err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decoding %s %d: %w", rec.Kind(), rec.Key(), err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func renderTable(w io.Writer, recs []model.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROJECT\tSTATUS\tCREATED BY\tCREATED\tTITLE")
	for _, rec := range recs {
		b := rec.Common()
		created := ""
		if !b.CreatedDate.IsZero() {
			created = b.CreatedDate.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			b.ID, b.ProjectName, b.Status, b.CreatedBy, created, truncate(b.Title, maxTitleWidth))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
