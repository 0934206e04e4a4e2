package resolve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelhouse-io/wheelhouse/src/core"
	"github.com/wheelhouse-io/wheelhouse/src/dist"
	"github.com/wheelhouse-io/wheelhouse/src/fs"
)

func testFingerprinter(t *testing.T) *fs.Fingerprinter {
	t.Helper()
	return fs.MustNewFingerprinter("sha256", "")
}

func writeTestSdist(t *testing.T, dir string, d testDist) string {
	t.Helper()
	require.NoError(t, writeTestDist(dir, d))
	return filepath.Join(dir, d.filename())
}

func TestBuildRequestCacheLayout(t *testing.T) {
	fingerprinter := testFingerprinter(t)
	target := newTestTarget("test", "cp39")
	sdist := writeTestSdist(t, t.TempDir(), testDist{Name: "foo", Version: "1.0"})

	request, err := NewBuildRequest(fingerprinter, target, sdist)
	require.NoError(t, err)
	assert.Equal(t, "sdists", request.SourceKind())

	result := request.Result("/cache/built_wheels")
	assert.Equal(t, filepath.Join(
		"/cache/built_wheels",
		"sdists",
		"foo-1.0.tar.gz",
		request.Fingerprint.Encoded(),
		"cp39-cp39-manylinux1_x86_64",
	), result.DistDir())
}

func TestBuildRequestLocalProjectKind(t *testing.T) {
	projectDir := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.MkdirAll(projectDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "setup.py"), []byte("x"), 0644))

	request, err := NewBuildRequest(testFingerprinter(t), newTestTarget("test", "cp39"), projectDir)
	require.NoError(t, err)
	assert.Equal(t, "local_projects", request.SourceKind())
}

func TestBuildRequestFromLocalVerifiesFingerprint(t *testing.T) {
	fingerprinter := testFingerprinter(t)
	target := newTestTarget("test", "cp39")
	sdist := writeTestSdist(t, t.TempDir(), testDist{Name: "foo", Version: "1.0"})

	good, err := NewBuildRequest(fingerprinter, target, sdist)
	require.NoError(t, err)

	_, err = BuildRequestFromLocal(fingerprinter, &LocalDistribution{
		Target: target, Path: sdist, Fingerprint: good.Fingerprint,
	})
	assert.NoError(t, err)

	_, err = BuildRequestFromLocal(testFingerprinter(t), &LocalDistribution{
		Target: target, Path: sdist, Fingerprint: "sha256:" + "0000000000000000000000000000000000000000000000000000000000000000",
	})
	require.Error(t, err)
	integrity := &IntegrityError{}
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, sdist, integrity.Path)
}

func TestBuildWheelsRejectsMultipleArtifacts(t *testing.T) {
	oracle := &fakeOracle{
		buildOutputs: map[string][]testDist{
			"foo-1.0.tar.gz": {
				{Name: "foo", Version: "1.0", Wheel: true},
				{Name: "foo_extra", Version: "1.0", Wheel: true},
			},
		},
	}
	fingerprinter := testFingerprinter(t)
	target := newTestTarget("test", "cp39")
	sdist := writeTestSdist(t, t.TempDir(), testDist{Name: "foo", Version: "1.0"})
	request, err := NewBuildRequest(fingerprinter, target, sdist)
	require.NoError(t, err)

	builder := NewWheelBuilder(oracle, fingerprinter, t.TempDir(), 1)
	_, err = builder.BuildWheels(context.Background(), []*BuildRequest{request})
	require.Error(t, err)
	integrity := &IntegrityError{}
	require.True(t, errors.As(err, &integrity))
	assert.Contains(t, err.Error(), "produced 2 artifacts")
}

func TestBuildWheelsForeignTargetIncompatibleWheel(t *testing.T) {
	oracle := &fakeOracle{
		buildOutputs: map[string][]testDist{
			// The build host can only ever produce its own platform's wheel.
			"foo-1.0.tar.gz": {{Name: "foo", Version: "1.0", Wheel: true, Tags: "cp39-cp39-linux_x86_64"}},
		},
	}
	target := &dist.Target{
		Name:      "foreign arm",
		Python:    "cp39",
		Abi:       "cp39",
		Platform:  "manylinux2014_aarch64",
		Supported: []dist.Tags{{Python: "cp39", Abi: "cp39", Platform: "manylinux2014_aarch64"}},
		Foreign:   true,
	}
	fingerprinter := testFingerprinter(t)
	sdist := writeTestSdist(t, t.TempDir(), testDist{Name: "foo", Version: "1.0"})
	request, err := NewBuildRequest(fingerprinter, target, sdist)
	require.NoError(t, err)

	builder := NewWheelBuilder(oracle, fingerprinter, t.TempDir(), 1)
	_, err = builder.BuildWheels(context.Background(), []*BuildRequest{request})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUntranslatable))
	assert.Contains(t, err.Error(), "no pre-built wheel was available")
}

func TestBuildWheelsSharedAcrossEquivalentTargets(t *testing.T) {
	oracle := &fakeOracle{}
	fingerprinter := testFingerprinter(t)
	sdist := writeTestSdist(t, t.TempDir(), testDist{Name: "foo", Version: "1.0"})

	// Two differently-named targets with the same tag triple share one build.
	a, err := NewBuildRequest(fingerprinter, newTestTarget("a", "cp39"), sdist)
	require.NoError(t, err)
	b, err := NewBuildRequest(fingerprinter, newTestTarget("b", "cp39"), sdist)
	require.NoError(t, err)

	root := t.TempDir()
	builder := NewWheelBuilder(oracle, fingerprinter, root, 1)
	results, err := builder.BuildWheels(context.Background(), []*BuildRequest{a})
	require.NoError(t, err)
	require.Len(t, results[sdist], 1)
	results, err = builder.BuildWheels(context.Background(), []*BuildRequest{b})
	require.NoError(t, err)
	require.Len(t, results[sdist], 1)

	_, builds, _ := oracle.counts()
	assert.Equal(t, 1, builds)
}

func TestInstallRequestCacheLayout(t *testing.T) {
	fingerprinter := testFingerprinter(t)
	dir := t.TempDir()
	require.NoError(t, writeTestDist(dir, testDist{Name: "foo", Version: "1.0", Wheel: true}))
	wheelPath := filepath.Join(dir, "foo-1.0-py3-none-any.whl")

	request, err := NewInstallRequest(fingerprinter, newTestTarget("test", "cp39"), wheelPath)
	require.NoError(t, err)
	assert.Equal(t, "foo-1.0-py3-none-any.whl", request.WheelFile())

	result := request.Result(core.InstalledWheelsDir("/cache"))
	assert.Equal(t, filepath.Join(
		"/cache/installed_wheels",
		request.Fingerprint.Encoded(),
		"foo-1.0-py3-none-any.whl",
	), result.InstallChroot())
}

func TestInstallRequestFromLocalVerifiesFingerprint(t *testing.T) {
	fingerprinter := testFingerprinter(t)
	target := newTestTarget("test", "cp39")
	dir := t.TempDir()
	require.NoError(t, writeTestDist(dir, testDist{Name: "foo", Version: "1.0", Wheel: true}))
	wheelPath := filepath.Join(dir, "foo-1.0-py3-none-any.whl")

	_, err := InstallRequestFromLocal(fingerprinter, &LocalDistribution{
		Target: target, Path: wheelPath, Fingerprint: "sha256:" + "1111111111111111111111111111111111111111111111111111111111111111",
	})
	require.Error(t, err)
	integrity := &IntegrityError{}
	require.True(t, errors.As(err, &integrity))
}
