//go:build darwin || linux

// Shared utilities for libraries loaded through purego.

package transcode

import (
	"os"
	"path/filepath"
	"runtime"
)

// sharedLibName returns the platform file name of library base.
func sharedLibName(base string) string {
	if runtime.GOOS == "darwin" {
		return "lib" + base + ".dylib"
	}
	return "lib" + base + ".so"
}

// cString returns s as a NUL-terminated byte slice.
func cString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

// findModuleRoot walks up the directory tree from the current working directory
// to find the module root (directory containing go.mod).
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// findSourceRoot returns the directory holding this source file.
func findSourceRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	return filepath.Dir(file)
}
