// Package internal carries small helpers shared across the module's
// internal packages.
package internal

import (
	"errors"
	"os"
	"path/filepath"
)

// FindRepoRoot walks upward from the working directory until it finds go.mod.
func FindRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
