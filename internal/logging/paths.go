package logging

import (
	"os"
	"path/filepath"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// DefaultLogDir returns ~/.amanfacet/logs, or a temp directory when the
// home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanfacet", "logs")
	}
	return filepath.Join(home, ".amanfacet", "logs")
}

// DefaultLogPath returns the default CLI log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "amanfacet.log")
}

// FindLogFile resolves the log file to view: the explicit path when given,
// otherwise the default path. It fails when the file does not exist.
func FindLogFile(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = DefaultLogPath()
	}
	if _, err := os.Stat(path); err != nil {
		return "", amerrors.New(amerrors.ErrCodeNotFound, "log file not found: "+path, nil).
			WithSuggestion("run a command with --debug to start writing logs")
	}
	return path, nil
}
