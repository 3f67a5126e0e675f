package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nhle/azure-tracker/internal/credential"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		organization string
		token        string
		logout       bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a personal access token in the system keyring",
		Long: `Store the personal access token of an organization in the system
keyring. The token is read from --token or, when omitted, prompted for
on a terminal or read from the first line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if organization == "" {
				organization = a.cfg.Organization
			}
			if organization == "" {
				return fmt.Errorf("no organization configured; pass --organization")
			}
			key := credential.PATKey(organization)

			if logout {
				if _, err := credential.Get(key); credential.IsNotFound(err) {
					fmt.Fprintf(a.out, "No token stored for %s\n", organization)
					return nil
				}
				if err := credential.Delete(key); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Removed token for %s\n", organization)
				return nil
			}

			if token == "" {
				var err error
				token, err = readToken(cmd, organization)
				if err != nil {
					return err
				}
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}

			if err := credential.Set(key, token); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Stored token for %s\n", organization)
			return nil
		},
	}

	cmd.Flags().StringVar(&organization, "organization", "", "Organization name (defaults to the configured one)")
	cmd.Flags().StringVar(&token, "token", "", "Personal access token")
	cmd.Flags().BoolVar(&logout, "logout", false, "Remove the stored token instead")

	return cmd
}

// readToken prompts with a masked input when stdin is a terminal and
// otherwise reads the first line.
func readToken(cmd *cobra.Command, organization string) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return promptToken(organization)
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptToken(organization string) (string, error) {
	var token string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Personal Access Token").
				Description("Azure DevOps PAT for " + organization).
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("token is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(token), nil
}
