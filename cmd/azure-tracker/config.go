package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nhle/azure-tracker/internal/model"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}
	cmd.AddCommand(newConfigShowCmd(a))
	cmd.AddCommand(newConfigInitCmd(a))
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.out, "# %s\n", a.configPath)
			return writeConfigYAML(a.out, a.cfg)
		},
	}
}

// writeConfigYAML prints cfg with the token masked.
func writeConfigYAML(w io.Writer, cfg *model.Config) error {
	masked := *cfg
	if masked.PAT != "" {
		masked.PAT = "********"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func newConfigInitCmd(a *app) *cobra.Command {
	var (
		organization string
		types        []string
		backend      string
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", a.configPath)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg := *a.cfg
			if organization != "" {
				cfg.Organization = organization
			}
			if len(types) > 0 {
				cfg.WorkItemTypes = model.SplitWorkItemTypes(types...)
			}
			if backend != "" {
				cfg.Cache.Backend = backend
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := model.SaveConfig(a.configPath, &cfg); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Wrote %s\n", a.configPath)
			if cfg.PAT == "" {
				fmt.Fprintln(a.out, "Run 'azure-tracker login' to store your personal access token.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&organization, "organization", "", "Azure DevOps organization name")
	cmd.Flags().StringSliceVar(&types, "work-item-types", nil, "Work item types to track")
	cmd.Flags().StringVar(&backend, "cache-backend", "", "Cache backend: json or sqlite")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}
