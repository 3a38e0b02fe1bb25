// Package instance keeps a second pbembed process from running against the
// same configuration directory.
package instance

import (
	"fmt"
	"os"
	"path/filepath"
)

const lockFileName = "pbembed.lock"

// DefaultPath is the lock location under the user config directory.
func DefaultPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(root, "pbembed", lockFileName), nil
}
