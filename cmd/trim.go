package cmd

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/grabscreen/grabscreen/internal/api"
	"github.com/grabscreen/grabscreen/internal/library"
)

func NewTrimCommand() *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "trim [file]",
		Short: "Cut a recording to a time range",
		Long:  "Ask the server to cut a recording to [start, end]. Times are seconds or mm:ss. The new clip becomes the selected recording.",
		Example: `  grabscreen trim --start 5 --end 42.5
  grabscreen trim recording_20250101_120000.webm --start 0:05 --end 1:30`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseTime(start)
			if err != nil {
				return errors.Wrap(err, "invalid --start")
			}
			to, err := parseTime(end)
			if err != nil {
				return errors.Wrap(err, "invalid --end")
			}
			if err := api.ValidateRange(from, to); err != nil {
				return err
			}

			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			name, err := ws.target(args)
			if err != nil {
				return err
			}
			if _, err := ws.lib.Refresh(cmd.Context()); err != nil {
				return err
			}
			clip, err := ws.lib.Trim(cmd.Context(), name, from, to)
			if err != nil {
				return err
			}
			if err := ws.lib.Select(clip); err != nil {
				return err
			}
			success(ws.out, "Created %s (%s to %s)", clip, library.FormatTime(from), library.FormatTime(to))
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "0", "Start time (seconds or mm:ss)")
	cmd.Flags().StringVar(&end, "end", "", "End time (seconds or mm:ss)")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

// parseTime accepts "12.5", "1:05" or "1:05.5".
func parseTime(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty time")
	}
	mins, sec, found := strings.Cut(s, ":")
	if !found {
		return strconv.ParseFloat(s, 64)
	}
	m, err := strconv.Atoi(mins)
	if err != nil || m < 0 {
		return 0, errors.Errorf("bad minutes in %q", s)
	}
	secs, err := strconv.ParseFloat(sec, 64)
	if err != nil || secs < 0 || secs >= 60 {
		return 0, errors.Errorf("bad seconds in %q", s)
	}
	return float64(m)*60 + secs, nil
}
