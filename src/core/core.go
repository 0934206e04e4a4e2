// Package core holds constants and small utilities shared across wheelhouse.
package core

import (
	"os"
	"path/filepath"
)

// DefaultCacheRoot returns the default location of the wheelhouse cache tree.
func DefaultCacheRoot() string {
	if root := os.Getenv("WHEELHOUSE_ROOT"); root != "" {
		return root
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "wheelhouse")
	}
	return filepath.Join(os.TempDir(), "wheelhouse")
}

// DownloadsDir returns the per-run download area under the cache root.
func DownloadsDir(root string) string {
	return filepath.Join(root, "downloads")
}

// BuiltWheelsDir returns the built wheel cache under the cache root.
func BuiltWheelsDir(root string) string {
	return filepath.Join(root, "built_wheels")
}

// InstalledWheelsDir returns the installed wheel cache under the cache root.
func InstalledWheelsDir(root string) string {
	return filepath.Join(root, "installed_wheels")
}
