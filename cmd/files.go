package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/grabscreen/grabscreen/internal/util"
)

type filesOptions struct {
	OutputFormat string
	Select       string
}

func NewFilesCommand() *cobra.Command {
	opts := &filesOptions{}

	cmd := &cobra.Command{
		Use:   "files",
		Short: "List the recordings of this session",
		Long:  "List the recordings uploaded from this machine, newest first. The selected recording is the default target of the other commands.",
		Example: `  grabscreen files
  grabscreen files --select recording_20250101_120000.webm
  grabscreen files --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFiles(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.OutputFormat, "output", "text", "Output format (json or text)")
	flags.StringVar(&opts.Select, "select", "", "Make this recording the selected one")

	cmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "text"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runFiles(cmd *cobra.Command, opts *filesOptions) error {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	items, err := ws.lib.Refresh(cmd.Context())
	if err != nil {
		return err
	}
	if opts.Select != "" {
		if err := ws.lib.Select(opts.Select); err != nil {
			return err
		}
		items = ws.lib.Items()
	}

	if opts.OutputFormat == "json" {
		enc := json.NewEncoder(ws.out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(items) == 0 {
		fmt.Fprintln(ws.out, "No recordings in this session yet")
		return nil
	}

	rows := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		marker := ""
		name := it.Display
		if it.Active {
			marker = "→"
			name = color.New(color.FgCyan).Sprint(name)
		}
		rows = append(rows, map[string]interface{}{
			"active":  marker,
			"name":    name,
			"file":    it.Name,
			"preview": ws.client.PreviewURL(it.Name),
		})
	}
	util.RenderTable(ws.out, []util.TableColumn{
		{Header: " ", Key: "active"},
		{Header: "NAME", Key: "name"},
		{Header: "FILE", Key: "file"},
		{Header: "PREVIEW", Key: "preview"},
	}, rows)
	return nil
}
