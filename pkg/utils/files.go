// Package utils holds small path helpers shared by the TinyC commands.
package utils

import (
	"path/filepath"
	"strings"
)

// GetPathInfo returns the absolute form of a source path and the directory
// its includes resolve against.
func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}
	return fullPath, filepath.Dir(fullPath), nil
}

// WithExt replaces the extension of path with ext. A path without an
// extension gets ext appended.
func WithExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
