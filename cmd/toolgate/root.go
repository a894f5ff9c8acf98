package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent root flags.
type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "toolgate",
		Short: "Semantic tool discovery with governed activation",
		Long: `toolgate indexes tool manifests, finds them by meaning, and activates
them only for actors holding the capabilities they declare.

Commands print JSON to stdout; logs go to the configured output.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/toolgate/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newLoadCmd(opts),
		newSearchCmd(opts),
		newActivateCmd(opts),
		newDiagnosticsCmd(opts),
		newContextCmd(opts),
		newVersionCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
