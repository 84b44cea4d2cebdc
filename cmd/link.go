package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

type linkOptions struct {
	Secure bool
	Open   bool
}

func NewLinkCommand() *cobra.Command {
	opts := &linkOptions{}

	cmd := &cobra.Command{
		Use:   "link [file]",
		Short: "Get a shareable link to a recording",
		Long: `Print the public link of a recording, creating it on first use. With --secure a
short-lived signed link is generated instead.`,
		Example: `  grabscreen link
  grabscreen link --secure
  grabscreen link recording_20250101_120000.webm --open`,
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

			var url string
			if opts.Secure {
				url, err = ws.client.SecureLink(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(ws.out, "Secure link: %s\n", color.CyanString(url))
			} else {
				var isNew bool
				url, isNew, err = ws.client.PublicLink(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(ws.out, "Public link: %s\n", color.CyanString(url))
				if isNew {
					faint(ws.out, "Created a new public link; revoke it with 'grabscreen unlink'")
				}
			}

			if opts.Open {
				if err := browser.OpenURL(url); err != nil {
					fmt.Fprintln(ws.out, "Failed to open browser automatically, please visit the link above manually")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Secure, "secure", false, "Generate a short-lived signed link")
	cmd.Flags().BoolVar(&opts.Open, "open", false, "Open the link in a browser")
	return cmd
}

func NewUnlinkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink [file]",
		Short: "Revoke the public link of a recording",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			name, err := ws.target(args)
			if err != nil {
				return err
			}
			if err := ws.client.RevokePublicLink(cmd.Context(), name); err != nil {
				return err
			}
			success(ws.out, "Public link of %s removed", name)
			return nil
		},
	}
}
