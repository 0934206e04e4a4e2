package dist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testTarget() *Target {
	return &Target{
		Name:     "test cp39",
		Python:   "cp39",
		Abi:      "cp39",
		Platform: "manylinux1_x86_64",
		Supported: []Tags{
			{Python: "cp39", Abi: "cp39", Platform: "manylinux1_x86_64"},
			{Python: "cp39", Abi: "abi3", Platform: "manylinux1_x86_64"},
			{Python: "py3", Abi: "none", Platform: "any"},
		},
		Env: map[string]string{
			"python_version":      "3.9",
			"sys_platform":        "linux",
			"extra":               "",
			"implementation_name": "cpython",
		},
	}
}

func TestTargetID(t *testing.T) {
	assert.Equal(t, "test_cp39", testTarget().ID())
	anon := &Target{Python: "cp39", Abi: "cp39", Platform: "manylinux1_x86_64"}
	assert.Equal(t, "cp39-cp39-manylinux1_x86_64", anon.ID())
}

func TestTargetEquivalent(t *testing.T) {
	a := testTarget()
	b := testTarget()
	b.Name = "a different label"
	assert.True(t, a.Equivalent(b))
	b.Abi = "cp310"
	assert.False(t, a.Equivalent(b))
}

func TestTargetCompatible(t *testing.T) {
	target := testTarget()
	universal := []Tags{{Python: "py3", Abi: "none", Platform: "any"}}
	assert.True(t, target.Compatible(universal))
	native := []Tags{{Python: "cp39", Abi: "cp39", Platform: "manylinux1_x86_64"}}
	assert.True(t, target.Compatible(native))
	wrong := []Tags{{Python: "cp27", Abi: "cp27mu", Platform: "manylinux1_x86_64"}}
	assert.False(t, target.Compatible(wrong))
}

func TestRequirementApplies(t *testing.T) {
	target := testTarget()
	assert.True(t, target.RequirementApplies(MustParseRequirement("requests>=2.0")))
	assert.False(t, target.RequirementApplies(MustParseRequirement(`pywin32; sys_platform == "win32"`)))
	assert.True(t, target.RequirementApplies(MustParseRequirement(`dataclasses; python_version < "3.7" or sys_platform == "linux"`)))
	assert.False(t, target.RequirementApplies(MustParseRequirement(`backports; python_version < "3.7" and sys_platform == "linux"`)))
	assert.True(t, target.RequirementApplies(MustParseRequirement(`typing-extensions; python_version >= "3.8"`)))
	assert.False(t, target.RequirementApplies(MustParseRequirement(`socks; extra == "socks"`)))
	assert.True(t, target.RequirementApplies(MustParseRequirement(`colorama; sys_platform in "linux win32"`)))
	assert.False(t, target.RequirementApplies(MustParseRequirement(`uvloop; sys_platform in "win32 cygwin"`)))
	assert.False(t, target.RequirementApplies(MustParseRequirement(`resource; sys_platform not in "linux darwin"`)))
	assert.True(t, target.RequirementApplies(MustParseRequirement(`pywinpty; sys_platform not in "win32 cygwin"`)))
}

func TestTagsString(t *testing.T) {
	tags := Tags{Python: "cp39", Abi: "cp39", Platform: "manylinux1_x86_64"}
	assert.Equal(t, "cp39-cp39-manylinux1_x86_64", tags.String())
}
