package cmd

import (
	"github.com/spf13/cobra"
)

func NewEmailCommand() *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:     "email [file]",
		Short:   "Email the public link of a recording",
		Example: `  grabscreen email --to friend@example.com`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			name, err := ws.target(args)
			if err != nil {
				return err
			}
			url, _, err := ws.client.PublicLink(cmd.Context(), name)
			if err != nil {
				return err
			}
			if err := ws.client.SendEmail(cmd.Context(), to, url); err != nil {
				return err
			}
			success(ws.out, "Sent %s to %s", name, to)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Recipient address")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
