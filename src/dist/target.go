// Package dist models distribution targets, requirements and wheel metadata.
package dist

import (
	"strings"
)

// Tags is a single PEP 425 compatibility tag triple, e.g. cp39-cp39-manylinux1_x86_64.
type Tags struct {
	Python   string
	Abi      string
	Platform string
}

// String returns the conventional dashed form of the tag triple.
func (t Tags) String() string {
	return t.Python + "-" + t.Abi + "-" + t.Platform
}

// A Target identifies one execution environment distributions are resolved for.
// Two Targets are interchangeable for caching purposes iff their tag triples match;
// Name is display-only and excluded from identity.
type Target struct {
	// Name is a human-readable label for the target. Display only.
	Name string
	// Python, Abi and Platform are the interpreter's own tags, used for build cache keys.
	Python   string
	Abi      string
	Platform string
	// Supported is the full ordered list of tag triples the target can run, most specific first.
	Supported []Tags
	// Foreign is true when this target is not the machine we are running on,
	// in which case sources cannot usefully be built locally.
	Foreign bool
	// Env is the environment-marker context for this target (python_version, sys_platform etc).
	Env map[string]string
}

// TagTriple returns the target's own interpreter tag triple.
func (t *Target) TagTriple() Tags {
	return Tags{Python: t.Python, Abi: t.Abi, Platform: t.Platform}
}

// ID returns a string identifying this target, usable as a path component.
func (t *Target) ID() string {
	if t.Name != "" {
		return sanitize(t.Name)
	}
	return t.TagTriple().String()
}

// Equivalent returns true if the two targets share a tag triple, i.e. any wheel
// built for one is usable by the other.
func (t *Target) Equivalent(other *Target) bool {
	return t.TagTriple() == other.TagTriple()
}

// Compatible returns true if any of the given wheel tag triples is supported by this target.
func (t *Target) Compatible(wheelTags []Tags) bool {
	for _, supported := range t.Supported {
		for _, tag := range wheelTags {
			if supported == tag {
				return true
			}
		}
	}
	return false
}

// RequirementApplies returns true if the requirement's environment marker (if any)
// is satisfied by this target.
func (t *Target) RequirementApplies(req *Requirement) bool {
	if req.Marker == "" {
		return true
	}
	return evalMarker(req.Marker, t.Env)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == ':' || r == ' ' {
			return '_'
		}
		return r
	}, name)
}
