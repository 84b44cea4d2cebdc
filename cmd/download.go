package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/grabscreen/grabscreen/internal/util"
)

type downloadOptions struct {
	MP4    bool
	Output string
}

func NewDownloadCommand() *cobra.Command {
	opts := &downloadOptions{}

	cmd := &cobra.Command{
		Use:   "download [file]",
		Short: "Download a recording",
		Long:  "Download a recording as WebM, or as MP4 converted by the server. Defaults to the selected recording.",
		Example: `  grabscreen download
  grabscreen download recording_20250101_120000.webm --mp4 -o talk.mp4`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.MP4, "mp4", false, "Ask the server for an MP4 conversion")
	flags.StringVarP(&opts.Output, "output", "o", "", "Destination path (default: the recording's name)")
	return cmd
}

func runDownload(cmd *cobra.Command, opts *downloadOptions, args []string) error {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	name, err := ws.target(args)
	if err != nil {
		return err
	}

	dest := opts.Output
	if dest == "" {
		dest = filepath.Base(name)
		if opts.MP4 {
			dest = strings.TrimSuffix(dest, filepath.Ext(dest)) + ".mp4"
		}
	}

	f, err := os.CreateTemp(filepath.Dir(dest), ".grabscreen-*")
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	defer os.Remove(f.Name())

	label := "Downloading " + name
	fetch := ws.client.Download
	if opts.MP4 {
		label = "Converting " + name + " to MP4"
		fetch = ws.client.DownloadMP4
	}
	sp := util.NewSpinner(cmd.ErrOrStderr(), !isTerminal(cmd.ErrOrStderr()), label)
	n, err := fetch(cmd.Context(), name, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		sp.Fail(err.Error())
		return err
	}
	if err := os.Rename(f.Name(), dest); err != nil {
		sp.Fail(err.Error())
		return errors.Wrap(err, "failed to save download")
	}
	sp.Success("Downloaded")
	success(cmd.OutOrStdout(), "Saved %s (%d bytes)", dest, n)
	return nil
}
