package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// SchemaResult holds schema validation results.
type SchemaResult struct {
	Valid   bool         `json:"valid"`
	Version uint64       `json:"version"`
	Types   []SchemaType `json:"types,omitempty"`
}

// SchemaType summarizes one validated object type.
type SchemaType struct {
	Name       string `json:"name"`
	Properties int    `json:"properties"`
	PrimaryKey string `json:"primary_key,omitempty"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema <schema-file>",
		Short: "Validate a schema definition file",
		Long: `Validate a YAML schema definition file without opening a store.

Checks structure, property types, primary key rules, and link target
resolution. Exits non-zero when the file is invalid.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runSchema(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	schemas, version, err := loadAndCheck(path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			if loadErr.Code == ErrCodeNotFound {
				return NewExitError(ExitCommandError, loadErr.Message)
			}
			return NewExitError(ExitFailure, loadErr.Message)
		}
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	formatter.VerboseLog("Validated %d type(s) from %s", len(schemas), path)

	result := SchemaResult{Valid: true, Version: version}
	for _, s := range schemas {
		st := SchemaType{Name: s.Name, Properties: len(s.Properties)}
		for _, p := range s.Properties {
			if p.PrimaryKey {
				st.PrimaryKey = p.Name
			}
		}
		result.Types = append(result.Types, st)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Schema valid (%d types)\n", len(result.Types))
	for _, t := range result.Types {
		if t.PrimaryKey != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %d properties, primary key %q\n", t.Name, t.Properties, t.PrimaryKey)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %d properties\n", t.Name, t.Properties)
		}
	}
	return nil
}
