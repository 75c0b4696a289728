// Package util provides shared utility functions.
package util

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// BinaryLookup describes where FindBinaryIn looks for an executable.
type BinaryLookup struct {
	// Name is the bare executable name, e.g. "ffmpeg".
	Name string
	// Explicit is a configured path. When set it must be executable or the
	// lookup fails; no other location is tried.
	Explicit string
	// EnvVar names an environment variable that may hold a path.
	EnvVar string
	// Dirs are searched in order before PATH.
	Dirs []string
}

// FindBinary searches for an executable by name, checking the env var first,
// then the current directory, then PATH.
func FindBinary(name string, envVar string) (string, error) {
	return FindBinaryIn(BinaryLookup{Name: name, EnvVar: envVar, Dirs: []string{"."}})
}

// FindBinaryIn resolves an executable using the lookup's precedence:
// explicit path, env var, Dirs, then PATH.
func FindBinaryIn(l BinaryLookup) (string, error) {
	if l.Explicit != "" {
		if isExecutable(l.Explicit) {
			return l.Explicit, nil
		}
		return "", fmt.Errorf("configured binary %s is not executable", l.Explicit)
	}

	if l.EnvVar != "" {
		if p := os.Getenv(l.EnvVar); p != "" && isExecutable(p) {
			return p, nil
		}
	}

	for _, dir := range l.Dirs {
		candidate := filepath.Join(dir, l.Name)
		if dir == "." {
			candidate = "./" + l.Name
		}
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	if p, err := exec.LookPath(l.Name); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("binary %s not found", l.Name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
