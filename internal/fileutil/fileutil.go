// Package fileutil provides common file operation utilities.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SafeJoin joins elem onto base and verifies the result stays inside base.
// This guards against remote-supplied names containing path traversal.
func SafeJoin(base string, elem string) (string, error) {
	joined := filepath.Join(base, elem)

	cleanBase := filepath.Clean(base)
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %q", elem, base)
	}

	return joined, nil
}

// RemoveArtifact deletes path: recursively when it is a directory, as a
// single file otherwise. A path that is already gone is not an error.
func RemoveArtifact(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.IsDir() {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}
