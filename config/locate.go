package config

import (
	"os"
	"path/filepath"
)

// Locate searches for name in dir and each of its parents, returning the
// first match or "" if none exists.
func Locate(name, dir string) string {
	curDir := dir
	for {
		candidate := filepath.Join(curDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(curDir)
		if parent == curDir {
			return ""
		}
		curDir = parent
	}
}
