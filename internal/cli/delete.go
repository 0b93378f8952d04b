package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridiandb/meridian"
)

// DeleteResult holds store deletion results.
type DeleteResult struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <store-file>",
		Short: "Delete a store file and its sidecar artifacts",
		Long: `Remove a store file together with its lock file, management directory,
and write-ahead log artifacts. Fails while the store has open sessions
in this process.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runDelete(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if err := meridian.DeleteStore(path); err != nil {
		code := ErrCodeGeneric
		if meridian.CodeOf(err) == meridian.ErrCodeFileAccess {
			code = ErrCodeStoreInUse
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "delete store", err)
	}

	formatter.VerboseLog("Deleted store at %s", path)

	if formatter.Format == "json" {
		return formatter.Success(DeleteResult{Path: path, Deleted: true})
	}
	fmt.Fprintf(formatter.Writer, "✓ Deleted %s\n", path)
	return nil
}
