package resolve

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wheelhouse-io/wheelhouse/src/dist"
	"github.com/wheelhouse-io/wheelhouse/src/jobs"
)

// A testDist is one artifact a fakeOracle can deliver or build.
type testDist struct {
	Name     string
	Version  string
	Wheel    bool
	Tags     string // tag triple in the wheel filename; defaults to py3-none-any
	Requires []string
}

func (d testDist) filename() string {
	if d.Wheel {
		tags := d.Tags
		if tags == "" {
			tags = "py3-none-any"
		}
		return fmt.Sprintf("%s-%s-%s.whl", d.Name, d.Version, tags)
	}
	return fmt.Sprintf("%s-%s.tar.gz", d.Name, d.Version)
}

// A fakeOracle satisfies requirements from canned artifacts instead of a
// package index, and explodes wheels itself instead of invoking an installer.
type fakeOracle struct {
	mutex     sync.Mutex
	downloads int
	builds    int
	installs  int
	// available is what a download delivers, keyed by target ID; the "" key
	// serves every target.
	available map[string][]testDist
	// buildOutputs is what building a source produces, keyed by source basename.
	// A source with no entry builds one default wheel named after itself.
	buildOutputs map[string][]testDist
}

func (o *fakeOracle) counts() (downloads, builds, installs int) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.downloads, o.builds, o.installs
}

func (o *fakeOracle) SpawnDownload(downloadDir string, target *dist.Target, spec *DownloadSpec) (jobs.Job, error) {
	o.mutex.Lock()
	o.downloads++
	o.mutex.Unlock()
	dists := append([]testDist{}, o.available[""]...)
	dists = append(dists, o.available[target.ID()]...)
	return jobs.JobFunc(func() error {
		for _, d := range dists {
			if err := writeTestDist(downloadDir, d); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func (o *fakeOracle) SpawnBuild(sourcePath, wheelDir string, target *dist.Target) (jobs.Job, error) {
	o.mutex.Lock()
	o.builds++
	o.mutex.Unlock()
	outputs, present := o.buildOutputs[filepath.Base(sourcePath)]
	if !present {
		name, version := distFromSource(sourcePath)
		outputs = []testDist{{Name: name, Version: version, Wheel: true}}
	}
	return jobs.JobFunc(func() error {
		for _, d := range outputs {
			if err := writeTestDist(wheelDir, d); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func (o *fakeOracle) SpawnInstall(wheelPath, installDir string, target *dist.Target) (jobs.Job, error) {
	o.mutex.Lock()
	o.installs++
	o.mutex.Unlock()
	return jobs.JobFunc(func() error {
		return explodeWheel(wheelPath, filepath.Join(installDir, "site-packages"))
	}), nil
}

// distFromSource derives a default name and version from an sdist filename or
// local project directory name.
func distFromSource(sourcePath string) (name, version string) {
	base := strings.TrimSuffix(filepath.Base(sourcePath), ".tar.gz")
	if i := strings.IndexByte(base, '-'); i != -1 {
		return base[:i], base[i+1:]
	}
	return base, "1.0"
}

func writeTestDist(dir string, d testDist) error {
	path := filepath.Join(dir, d.filename())
	if d.Wheel {
		return writeTestWheel(path, d)
	}
	// An sdist only needs recognisable, content-stable bytes.
	content := d.Name + " " + d.Version + " " + strings.Join(d.Requires, ",")
	return os.WriteFile(path, []byte(content), 0644)
}

func writeTestWheel(path string, d testDist) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := zip.NewWriter(f)
	metadata := fmt.Sprintf("Metadata-Version: 2.1\nName: %s\nVersion: %s\n", d.Name, d.Version)
	for _, req := range d.Requires {
		metadata += "Requires-Dist: " + req + "\n"
	}
	for name, content := range map[string]string{
		d.Name + "/__init__.py": "",
		fmt.Sprintf("%s-%s.dist-info/METADATA", d.Name, d.Version): metadata,
	} {
		fw, err := w.Create(name)
		if err != nil {
			return err
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			return err
		}
	}
	return w.Close()
}

func explodeWheel(wheelPath, destDir string) error {
	r, err := zip.OpenReader(wheelPath)
	if err != nil {
		return err
	}
	defer r.Close()
	for _, f := range r.File {
		path := filepath.Join(destDir, f.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(path)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func newTestTarget(name, python string) *dist.Target {
	return &dist.Target{
		Name:     name,
		Python:   python,
		Abi:      python,
		Platform: "manylinux1_x86_64",
		Supported: []dist.Tags{
			{Python: python, Abi: python, Platform: "manylinux1_x86_64"},
			{Python: "py3", Abi: "none", Platform: "any"},
		},
		Env: map[string]string{"python_version": "3.9", "sys_platform": "linux"},
	}
}

func testOptions(t *testing.T, targets ...*dist.Target) Options {
	t.Helper()
	if len(targets) == 0 {
		targets = []*dist.Target{newTestTarget("test", "cp39")}
	}
	return Options{
		Root:       t.TempDir(),
		Targets:    targets,
		Transitive: true,
		MaxJobs:    4,
	}
}

func requireNoDist(t *testing.T, installed []*InstalledDistribution, name string) {
	t.Helper()
	for _, d := range installed {
		require.NotEqual(t, name, d.Metadata.NormalizedName())
	}
}
