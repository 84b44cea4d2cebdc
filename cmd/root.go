package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grabscreen/grabscreen/internal/util"
	"github.com/grabscreen/grabscreen/internal/version"
)

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "grabscreen",
		Short: "Record your screen and webcam and share the result",
		Long: `grabscreen records the screen, optionally with a webcam overlay and microphone,
uploads the recording to a grabscreen server and manages the recordings of your
session there: download, trim, share links, email and delete.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			util.InitLoggerTo(cmd.ErrOrStderr(), verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				info := version.Current()
				fmt.Fprintf(cmd.OutOrStdout(), "grabscreen version %s, build %s\n", info.Version, info.GitCommit)
				return nil
			}
			return cmd.Help()
		},
	}

	root.Flags().BoolP("version", "v", false, "Print version information and exit")
	root.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	root.PersistentFlags().String("endpoint", "", "Recordings server URL (default from api.endpoint)")

	root.AddCommand(
		NewRecordCommand(),
		NewDevicesCommand(),
		NewFilesCommand(),
		NewDownloadCommand(),
		NewTrimCommand(),
		NewLinkCommand(),
		NewUnlinkCommand(),
		NewDeleteCommand(),
		NewEmailCommand(),
		NewContactCommand(),
		NewForgetCommand(),
		NewVersionCommand(),
	)
	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCommand().Execute()
}
