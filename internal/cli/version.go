package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the CLI version string, overridable at build time with
// -ldflags "-X github.com/meridiandb/meridian/internal/cli.Version=...".
var Version = "dev"

// VersionResult holds version information.
type VersionResult struct {
	Version string `json:"version"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print the meridian version",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    rootOpts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   rootOpts.Verbose,
			}
			if formatter.Format == "json" {
				return formatter.Success(VersionResult{Version: Version})
			}
			fmt.Fprintf(formatter.Writer, "meridian %s\n", Version)
			return nil
		},
	}
}
