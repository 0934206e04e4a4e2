package dist

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
)

// Metadata is the subset of a distribution's core metadata the pipeline needs.
type Metadata struct {
	Name     string
	Version  string
	Requires []*Requirement
}

// NormalizedName returns the canonical project name.
func (m *Metadata) NormalizedName() string {
	return NormalizeProjectName(m.Name)
}

// AsRequirement returns the exact pinned requirement this distribution satisfies.
func (m *Metadata) AsRequirement() *Requirement {
	return &Requirement{Name: m.Name, Specifier: "==" + m.Version}
}

// ReadWheelMetadata reads the METADATA file out of a wheel archive.
func ReadWheelMetadata(wheelPath string) (*Metadata, error) {
	r, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open wheel %s: %w", wheelPath, err)
	}
	defer r.Close()
	for _, f := range r.File {
		dir, base := filepath.Split(f.Name)
		if base == "METADATA" && strings.HasSuffix(strings.TrimSuffix(dir, "/"), ".dist-info") {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return parseMetadata(rc)
		}
	}
	return nil, fmt.Errorf("wheel %s contains no .dist-info/METADATA", wheelPath)
}

// ReadChrootMetadata locates and reads the METADATA file inside an installed chroot.
func ReadChrootMetadata(chroot string) (*Metadata, error) {
	var metadataPath string
	err := godirwalk.Walk(chroot, &godirwalk.Options{Callback: func(name string, de *godirwalk.Dirent) error {
		if !de.IsDir() && filepath.Base(name) == "METADATA" && strings.HasSuffix(filepath.Dir(name), ".dist-info") {
			metadataPath = name
			return filepath.SkipDir
		}
		return nil
	}})
	if err != nil && metadataPath == "" {
		return nil, err
	}
	if metadataPath == "" {
		return nil, fmt.Errorf("chroot %s contains no .dist-info/METADATA", chroot)
	}
	f, err := os.Open(metadataPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMetadata(f)
}

// parseMetadata parses the RFC 822 style header block of a METADATA file.
// The (optional) description body after the first blank line is ignored.
func parseMetadata(r io.Reader) (*Metadata, error) {
	metadata := &Metadata{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			metadata.Name = value
		case "Version":
			metadata.Version = value
		case "Requires-Dist":
			req, err := ParseRequirement(value)
			if err != nil {
				log.Warning("Skipping unparseable Requires-Dist %q: %s", value, err)
				continue
			}
			metadata.Requires = append(metadata.Requires, req)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if metadata.Name == "" || metadata.Version == "" {
		return nil, fmt.Errorf("incomplete distribution metadata (missing Name or Version)")
	}
	return metadata, nil
}
