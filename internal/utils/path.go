package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// EnsureAbsPath converts a path to absolute, resolving against the current
// working directory. Returns the input unchanged if resolution fails.
func EnsureAbsPath(path string) string {
	if path == "" {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// SanitizeFolderName strips characters that are invalid in directory names on
// common filesystems and collapses runs of whitespace.
func SanitizeFolderName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			// skip
		default:
			if r >= 0x20 {
				b.WriteRune(r)
			}
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
