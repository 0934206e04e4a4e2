package dist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequirementName(t *testing.T) {
	req, err := ParseRequirement("requests")
	require.NoError(t, err)
	assert.Equal(t, "requests", req.Name)
	assert.Empty(t, req.Specifier)
	assert.False(t, req.IsLocal())
}

func TestParseRequirementSpecifier(t *testing.T) {
	req, err := ParseRequirement("requests>=2.0,<3.0")
	require.NoError(t, err)
	assert.Equal(t, "requests", req.Name)
	assert.Equal(t, ">=2.0,<3.0", req.Specifier)
}

func TestParseRequirementExtras(t *testing.T) {
	req, err := ParseRequirement("requests[socks,security]==2.28.1")
	require.NoError(t, err)
	assert.Equal(t, "requests", req.Name)
	assert.Equal(t, []string{"socks", "security"}, req.Extras)
	assert.Equal(t, "==2.28.1", req.Specifier)
}

func TestParseRequirementMarker(t *testing.T) {
	req, err := ParseRequirement(`pywin32>=1.0; sys_platform == "win32"`)
	require.NoError(t, err)
	assert.Equal(t, "pywin32", req.Name)
	assert.Equal(t, ">=1.0", req.Specifier)
	assert.Equal(t, `sys_platform == "win32"`, req.Marker)
}

func TestParseRequirementDirectReference(t *testing.T) {
	req, err := ParseRequirement("foo @ file:///work/dists/foo-1.0.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "foo", req.Name)
	assert.Equal(t, "file:///work/dists/foo-1.0.tar.gz", req.URL)
	assert.Equal(t, "/work/dists/foo-1.0.tar.gz", req.FileURLPath())
}

func TestParseRequirementHTTPReferenceIsNotAFile(t *testing.T) {
	req, err := ParseRequirement("foo @ https://example.com/foo-1.0.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "", req.FileURLPath())
}

func TestParseRequirementLocalPaths(t *testing.T) {
	for _, s := range []string{"./project", "../project", "/abs/project", "."} {
		req, err := ParseRequirement(s)
		require.NoError(t, err)
		assert.True(t, req.IsLocal(), s)
		assert.Equal(t, s, req.LocalPath)
	}
	// A bare name is never a local path, even if a directory of that name exists.
	req, err := ParseRequirement("dist")
	require.NoError(t, err)
	assert.False(t, req.IsLocal())
}

func TestParseRequirementErrors(t *testing.T) {
	for _, s := range []string{"", "   ", "==1.0"} {
		_, err := ParseRequirement(s)
		assert.Error(t, err, "%q should not parse", s)
	}
}

func TestNormalizeProjectName(t *testing.T) {
	assert.Equal(t, "friendly-bard", NormalizeProjectName("Friendly-Bard"))
	assert.Equal(t, "friendly-bard", NormalizeProjectName("FRIENDLY.BARD"))
	assert.Equal(t, "friendly-bard", NormalizeProjectName("friendly__bard"))
	assert.Equal(t, "friendly-bard", NormalizeProjectName("friendly-.bard"))
}

func TestRequirementPinned(t *testing.T) {
	req := MustParseRequirement("./local")
	req.Extras = []string{"extra"}
	pinned := req.Pinned("foo", "1.2.3")
	assert.Equal(t, "foo", pinned.Name)
	assert.Equal(t, "==1.2.3", pinned.Specifier)
	assert.Equal(t, []string{"extra"}, pinned.Extras)
	assert.False(t, pinned.IsLocal())
}

func TestRequirementString(t *testing.T) {
	for _, s := range []string{
		"requests",
		"requests>=2.0,<3.0",
		"requests[socks]==2.28.1",
		"./project",
	} {
		assert.Equal(t, s, MustParseRequirement(s).String())
	}
	assert.Equal(t, `pywin32>=1.0; sys_platform == "win32"`,
		MustParseRequirement(`pywin32>=1.0 ; sys_platform == "win32"`).String())
}
