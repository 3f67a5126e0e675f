package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newLogCmd(a *app) *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the most recent saved session log",
		Long: `Print the newest log written with --save-log from the configured
log directory. --clear removes every saved log instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := savedLogs(a.cfg.LogDir)
			if err != nil {
				return err
			}

			if clear {
				for _, path := range logs {
					if err := os.Remove(path); err != nil {
						return fmt.Errorf("removing %s: %w", path, err)
					}
				}
				fmt.Fprintf(a.out, "Removed %d logs\n", len(logs))
				return nil
			}

			if len(logs) == 0 {
				fmt.Fprintf(a.out, "No saved logs in %s\n", a.cfg.LogDir)
				return nil
			}

			data, err := os.ReadFile(logs[len(logs)-1])
			if err != nil {
				return err
			}
			_, err = a.out.Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Remove saved logs")
	return cmd
}

// savedLogs returns the .log files in dir, oldest first. Their timestamped
// names sort chronologically.
func savedLogs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log directory %s: %w", dir, err)
	}

	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(logs)
	return logs, nil
}
