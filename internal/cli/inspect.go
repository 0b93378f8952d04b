package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridiandb/meridian"
)

// InspectResult holds store inspection results.
type InspectResult struct {
	Path    string         `json:"path"`
	Version uint64         `json:"version"`
	Counts  map[string]int `json:"counts"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var schemaPath string

	cmd := &cobra.Command{
		Use:   "inspect <store-file>",
		Short: "Inspect a store file",
		Long: `Open a store read-only and report the object count per type.

The schema file determines which types are visible; types present in the
store but absent from the schema are not reported.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], schemaPath, cmd)
		},
	}

	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema definition file (required)")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

func runInspect(opts *RootOptions, storePath, schemaPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	schemas, version, err := loadAndCheck(schemaPath)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, loadErr.Message)
		}
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	session, err := meridian.Open(meridian.Config{
		Schema:        schemas,
		Path:          storePath,
		SchemaVersion: version,
		ReadOnly:      true,
		Logger:        newLogger(opts.Verbose),
	})
	if err != nil {
		_ = formatter.Error(ErrCodeOpenFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer session.Close()

	result := InspectResult{
		Path:    session.Path(),
		Version: session.Version(),
		Counts:  map[string]int{},
	}
	for _, s := range schemas {
		view, err := session.All(s.Name)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "inspect type "+s.Name, err)
		}
		n, err := view.Len()
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "count type "+s.Name, err)
		}
		result.Counts[s.Name] = n
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "Store: %s\n", result.Path)
	for _, s := range schemas {
		fmt.Fprintf(formatter.Writer, "  %s: %d object(s)\n", s.Name, result.Counts[s.Name])
	}
	return nil
}
