package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type deleteOptions struct {
	Force bool
}

func NewDeleteCommand() *cobra.Command {
	opts := &deleteOptions{}

	cmd := &cobra.Command{
		Use:   "delete [file]",
		Short: "Delete a recording from the server",
		Example: `  grabscreen delete
  grabscreen delete recording_20250101_120000.webm --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			name, err := ws.target(args)
			if err != nil {
				return err
			}

			if !opts.Force {
				fmt.Fprintf(ws.out, "Delete %s? This cannot be undone. [y/N] ", name)
				reply, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && reply == "" {
					return fmt.Errorf("failed to read input: %v", err)
				}
				reply = strings.TrimSpace(strings.ToLower(reply))
				if reply != "y" && reply != "yes" {
					fmt.Fprintln(ws.out, "Operation cancelled")
					return nil
				}
			}

			if _, err := ws.lib.Refresh(cmd.Context()); err != nil {
				return err
			}
			removed, err := ws.lib.Delete(cmd.Context(), name)
			if err != nil {
				return err
			}
			if removed {
				success(ws.out, "%s deleted", name)
			} else {
				faint(ws.out, "%s was already deleted", name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "Delete without confirmation")
	return cmd
}
