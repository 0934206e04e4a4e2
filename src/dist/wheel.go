package dist

import (
	"fmt"
	"path/filepath"
	"strings"
)

// WheelInfo is the information parseable from a wheel's filename, per the
// name-version[-build]-python-abi-platform.whl convention.
type WheelInfo struct {
	Distribution string
	Version      string
	Build        string
	Tags         []Tags
}

// IsWheelPath returns true if the given path names a wheel file.
func IsWheelPath(path string) bool {
	return strings.HasSuffix(path, ".whl")
}

// ParseWheelFilename parses a wheel file name (or path) into its components.
// Compressed tag sets (e.g. py2.py3-none-any) are expanded into all their triples.
func ParseWheelFilename(path string) (*WheelInfo, error) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".whl") {
		return nil, fmt.Errorf("%s is not a wheel file", name)
	}
	parts := strings.Split(strings.TrimSuffix(name, ".whl"), "-")
	if len(parts) != 5 && len(parts) != 6 {
		return nil, fmt.Errorf("cannot parse wheel filename %s", name)
	}
	info := &WheelInfo{
		Distribution: parts[0],
		Version:      parts[1],
	}
	if len(parts) == 6 {
		info.Build = parts[2]
	}
	pythons := strings.Split(parts[len(parts)-3], ".")
	abis := strings.Split(parts[len(parts)-2], ".")
	platforms := strings.Split(parts[len(parts)-1], ".")
	for _, python := range pythons {
		for _, abi := range abis {
			for _, platform := range platforms {
				info.Tags = append(info.Tags, Tags{Python: python, Abi: abi, Platform: platform})
			}
		}
	}
	return info, nil
}

// NormalizedName returns the canonical project name from the wheel filename.
func (w *WheelInfo) NormalizedName() string {
	return NormalizeProjectName(w.Distribution)
}
