package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/grabscreen/grabscreen/config"
	"github.com/grabscreen/grabscreen/internal/api"
	"github.com/grabscreen/grabscreen/internal/library"
	"github.com/grabscreen/grabscreen/internal/state"
	"github.com/grabscreen/grabscreen/internal/util"
)

// workspace bundles what most commands need: the API client bound to the
// persisted session cookie and the local library view.
type workspace struct {
	client *api.Client
	scope  *state.Scope
	lib    *library.Library
	out    io.Writer
}

func endpointFor(cmd *cobra.Command) string {
	if ep, _ := cmd.Flags().GetString("endpoint"); ep != "" {
		return ep
	}
	return config.GetAPIEndpoint()
}

func openWorkspace(cmd *cobra.Command) (*workspace, error) {
	endpoint := endpointFor(cmd)
	store := state.NewManager(config.GetStatePath())
	if err := store.Load(); err != nil {
		return nil, errors.Wrap(err, "failed to load session state")
	}
	scope := store.For(endpoint)

	client, err := api.NewClient(api.Options{
		BaseURL: endpoint,
		Timeout: config.GetAPITimeout(),
		Tokens:  scope,
		Logger:  util.GetLogger(),
	})
	if err != nil {
		return nil, err
	}
	return &workspace{
		client: client,
		scope:  scope,
		lib:    library.New(client, scope, util.GetLogger()),
		out:    cmd.OutOrStdout(),
	}, nil
}

// target returns the file named in args, or the active file.
func (w *workspace) target(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], api.ValidateFilename(args[0])
	}
	if active := w.scope.ActiveFile(); active != "" {
		return active, nil
	}
	return "", errors.New("no file given and none selected (see 'grabscreen files --select')")
}

func success(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, a...))
}

func faint(w io.Writer, format string, a ...any) {
	color.New(color.Faint).Fprintf(w, format+"\n", a...)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
