package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects paths that escape their directory via traversal
// segments or embed NUL bytes. Absolute paths are allowed; the caller is
// expected to have chosen the base directory deliberately.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("path contains NUL byte")
	}

	clean := filepath.Clean(path)
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part == ".." {
			return fmt.Errorf("path contains traversal segment: %s", path)
		}
	}
	return nil
}
