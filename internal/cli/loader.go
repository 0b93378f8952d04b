package cli

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/meridiandb/meridian"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E002" // Path not found
	ErrCodeParseFailed = "E003" // Schema file is not valid YAML
	ErrCodeInvalid     = "E004" // Schema file violates the schema constraints
	ErrCodeOpenFailed  = "E005" // Store could not be opened
	ErrCodeStoreInUse  = "E006" // Store has open sessions
)

// schemaConstraints is the CUE definition every schema file must satisfy.
// It is unified with the parsed YAML before the file is accepted, so
// structural mistakes (unknown fields, bad type names, missing link
// targets) are caught with a precise path in the error.
const schemaConstraints = `
version?: int & >=0
types: [...#Type] & [_, ...]

#Type: {
	name: string & !=""
	properties: [...#Property]
}

#Property: {
	name:        string & !=""
	type:        "string" | "int" | "float" | "bool" | "object" | "list"
	primaryKey?: bool
	target?:     string & !=""

	if type == "object" || type == "list" {
		target: string & !=""
	}
}
`

// schemaFile mirrors the YAML layout of a schema definition file.
type schemaFile struct {
	Version uint64 `yaml:"version"`
	Types   []struct {
		Name       string `yaml:"name"`
		Properties []struct {
			Name       string `yaml:"name"`
			Type       string `yaml:"type"`
			PrimaryKey bool   `yaml:"primaryKey"`
			Target     string `yaml:"target"`
		} `yaml:"properties"`
	} `yaml:"types"`
}

// LoadError represents an error that occurred during schema file loading.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchemaFile reads a YAML schema definition, validates it against the
// CUE constraints, and converts it to the library's schema set. The
// returned version is the file's declared schema version.
func LoadSchemaFile(path string) ([]meridian.ObjectSchema, uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema file not found: %s", path)}
		}
		return nil, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error reading schema file: %v", err)}
	}

	// Parse twice: once generically for CUE validation, once into the
	// typed structure for conversion.
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, 0, &LoadError{Code: ErrCodeParseFailed, Message: fmt.Sprintf("parsing schema file: %v", err)}
	}
	if err := validateAgainstConstraints(generic); err != nil {
		return nil, 0, &LoadError{Code: ErrCodeInvalid, Message: err.Error()}
	}

	var sf schemaFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, 0, &LoadError{Code: ErrCodeParseFailed, Message: fmt.Sprintf("parsing schema file: %v", err)}
	}

	schemas := make([]meridian.ObjectSchema, 0, len(sf.Types))
	for _, t := range sf.Types {
		os := meridian.ObjectSchema{Name: t.Name}
		for _, p := range t.Properties {
			pt, err := propertyType(p.Type)
			if err != nil {
				return nil, 0, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("type %s, property %s: %v", t.Name, p.Name, err)}
			}
			os.Properties = append(os.Properties, meridian.Property{
				Name:       p.Name,
				Type:       pt,
				PrimaryKey: p.PrimaryKey,
				LinkTarget: p.Target,
			})
		}
		schemas = append(schemas, os)
	}
	return schemas, sf.Version, nil
}

// loadAndCheck loads a schema file and additionally runs the library's own
// schema validation, which covers rules the file constraints cannot
// (duplicate names, primary key rules, link target resolution).
func loadAndCheck(path string) ([]meridian.ObjectSchema, uint64, error) {
	schemas, version, err := LoadSchemaFile(path)
	if err != nil {
		return nil, 0, err
	}
	if err := meridian.ValidateSchema(schemas); err != nil {
		return nil, 0, &LoadError{Code: ErrCodeInvalid, Message: err.Error()}
	}
	return schemas, version, nil
}

// validateAgainstConstraints unifies the parsed document with the CUE
// constraints and reports the first violation.
func validateAgainstConstraints(doc any) error {
	ctx := cuecontext.New()
	constraints := ctx.CompileString(schemaConstraints)
	if err := constraints.Err(); err != nil {
		return fmt.Errorf("compiling schema constraints: %w", err)
	}
	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encoding schema document: %w", err)
	}
	unified := constraints.Unify(value)
	// Concrete validation is what turns the conditional target requirement
	// into an error when the field is absent.
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid schema file: %w", err)
	}
	return nil
}

func propertyType(name string) (meridian.PropertyType, error) {
	switch name {
	case "string":
		return meridian.StringType, nil
	case "int":
		return meridian.IntType, nil
	case "float":
		return meridian.FloatType, nil
	case "bool":
		return meridian.BoolType, nil
	case "object":
		return meridian.ObjectType, nil
	case "list":
		return meridian.ListType, nil
	default:
		return 0, fmt.Errorf("unknown property type %q", name)
	}
}
