package meridian

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Extension is the fixed file extension for meridian store files.
const Extension = ".meridian"

// Config describes how a session opens a store.
type Config struct {
	// Schema is the non-empty set of object types exposed by the session.
	Schema []ObjectSchema

	// Path is the store file location. Empty selects the default path:
	// "default.meridian" under the user configuration directory.
	Path string

	// SchemaVersion is the caller-declared schema version, default 0.
	// It is recorded in the store file on write-capable opens.
	SchemaVersion uint64

	// ReadOnly opens the store without write capability. Write always
	// fails with a permission error, and the store file must exist.
	ReadOnly bool

	// Logger receives structured diagnostics. Nil discards them.
	Logger *slog.Logger
}

// DefaultPath returns the platform-appropriate default store path.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "meridian", "default"+Extension)
}

// normalized returns a copy with defaults applied.
func (c Config) normalized() Config {
	if c.Path == "" {
		c.Path = DefaultPath()
	} else if !strings.HasSuffix(c.Path, Extension) {
		c.Path += Extension
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}
