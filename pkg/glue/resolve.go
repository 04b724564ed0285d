package glue

import (
	"path/filepath"
	"strings"
)

// Resolve maps a module identifier onto baseDir. Identifiers starting with
// "./" or "../" are joined onto baseDir; absolute paths are cleaned; bare
// names are returned as-is. Without baseDir the identifier is returned
// unchanged and the Loader decides what it is relative to.
func Resolve(id, baseDir string) string {
	if baseDir == "" {
		return id
	}
	if isRelative(id) {
		return filepath.Join(baseDir, id)
	}
	if filepath.IsAbs(id) {
		return filepath.Clean(id)
	}
	return id
}

func isRelative(id string) bool {
	return id == "." || id == ".." ||
		strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../")
}
