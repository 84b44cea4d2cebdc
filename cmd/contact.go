package cmd

import (
	"github.com/spf13/cobra"
)

func NewContactCommand() *cobra.Command {
	var from, subject, message string

	cmd := &cobra.Command{
		Use:     "contact",
		Short:   "Send a message to the server's operators",
		Example: `  grabscreen contact --from me@example.com --subject "Hello" --message "Trim is great"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			if err := ws.client.ContactUs(cmd.Context(), from, subject, message); err != nil {
				return err
			}
			success(ws.out, "Your message has been sent!")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&from, "from", "", "Your email address")
	flags.StringVar(&subject, "subject", "", "Subject")
	flags.StringVar(&message, "message", "", "Message body")
	return cmd
}
