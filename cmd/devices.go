package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/grabscreen/grabscreen/internal/capture"
	"github.com/grabscreen/grabscreen/internal/util"
)

func NewDevicesCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List cameras and microphones",
		Long:  "List the cameras and microphones ffmpeg can open. Either the id or the label can be passed to 'record --camera/--microphone'.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ff := capture.NewFFmpeg(ffmpegOptions(0, 0, 0, 0))
			devs, err := ff.Devices(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(devs)
			}

			rows := make([]map[string]interface{}, 0, len(devs))
			for _, d := range devs {
				def := ""
				if d.Default {
					def = "*"
				}
				rows = append(rows, map[string]interface{}{
					"kind":    string(d.Kind),
					"id":      d.ID,
					"label":   d.Label,
					"default": def,
				})
			}
			util.RenderTable(out, []util.TableColumn{
				{Header: "KIND", Key: "kind"},
				{Header: "ID", Key: "id"},
				{Header: "LABEL", Key: "label"},
				{Header: "DEFAULT", Key: "default"},
			}, rows)
			if len(devs) == 0 {
				faint(out, "No devices found; check capture.camera_format and capture.audio_format")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "text", "Output format (json or text)")
	return cmd
}
