package cmd

import (
	"github.com/spf13/cobra"
)

func NewForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Forget this session",
		Long:  "End the session on the server and drop the local session cookie. Recordings stay on the server but are no longer listed here.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			if err := ws.client.Forget(cmd.Context()); err != nil {
				return err
			}
			if err := ws.scope.SetActiveFile(""); err != nil {
				return err
			}
			success(ws.out, "Session forgotten")
			return nil
		},
	}
}
