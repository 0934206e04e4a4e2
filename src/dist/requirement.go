package dist

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var projectNameNormalizer = regexp.MustCompile(`[-_.]+`)

// NormalizeProjectName canonicalizes a distribution project name per PEP 503.
func NormalizeProjectName(name string) string {
	return strings.ToLower(projectNameNormalizer.ReplaceAllString(name, "-"))
}

// A Requirement is one parsed requirement specification.
// Exactly one of Name or LocalPath is set; a local-project requirement has no
// name or version until the project is built.
type Requirement struct {
	// Name is the project name as written; NormalizedName() canonicalizes it.
	Name string
	// Extras are any requested extras, e.g. requests[socks].
	Extras []string
	// Specifier is the version constraint, e.g. ">=1.0,<2.0". Empty means any version.
	Specifier string
	// Marker is the raw environment marker following ';', if any.
	Marker string
	// URL is a direct reference ("name @ url"), if any.
	URL string
	// LocalPath is set instead of Name for filesystem-path requirements.
	LocalPath string
}

var requirementPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)(\[([^\]]*)\])?\s*(.*)$`)

// ParseRequirement parses a single requirement string.
// Strings beginning with ./, ../ or / are local project paths, everything else
// follows the name[extras]specifier;marker shape, optionally with a direct
// "name @ url" reference.
func ParseRequirement(s string) (*Requirement, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty requirement")
	}
	if strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/") || s == "." {
		return &Requirement{LocalPath: s}, nil
	}
	req := &Requirement{}
	if i := strings.IndexByte(s, ';'); i != -1 {
		req.Marker = strings.TrimSpace(s[i+1:])
		s = strings.TrimSpace(s[:i])
	}
	m := requirementPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("cannot parse requirement %q", s)
	}
	req.Name = m[1]
	if m[3] != "" {
		for _, extra := range strings.Split(m[3], ",") {
			req.Extras = append(req.Extras, strings.TrimSpace(extra))
		}
	}
	rest := strings.TrimSpace(m[4])
	if strings.HasPrefix(rest, "@") {
		req.URL = strings.TrimSpace(strings.TrimPrefix(rest, "@"))
	} else {
		req.Specifier = rest
	}
	return req, nil
}

// MustParseRequirement is like ParseRequirement but panics on error. For tests and constants.
func MustParseRequirement(s string) *Requirement {
	req, err := ParseRequirement(s)
	if err != nil {
		panic(err)
	}
	return req
}

// ParseRequirements parses a list of requirement strings.
func ParseRequirements(specs []string) ([]*Requirement, error) {
	reqs := make([]*Requirement, 0, len(specs))
	for _, s := range specs {
		req, err := ParseRequirement(s)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// NormalizedName returns the canonical project name of this requirement.
func (r *Requirement) NormalizedName() string {
	return NormalizeProjectName(r.Name)
}

// IsLocal returns true if this is a filesystem-path requirement.
func (r *Requirement) IsLocal() bool {
	return r.LocalPath != ""
}

// FileURLPath returns the local filesystem path of a file:// direct reference,
// or "" if this requirement does not carry one.
func (r *Requirement) FileURLPath() string {
	if r.URL == "" {
		return ""
	}
	u, err := url.Parse(r.URL)
	if err != nil || u.Scheme != "file" {
		return ""
	}
	path, err := url.PathUnescape(u.Path)
	if err != nil {
		return ""
	}
	return strings.TrimRight(path, "\r\n\t ")
}

// Pinned returns a new requirement pinning exactly the given name and version,
// retaining this requirement's extras and marker. Used to resolve what a
// local-project requirement ultimately built to.
func (r *Requirement) Pinned(name, version string) *Requirement {
	return &Requirement{
		Name:      name,
		Extras:    r.Extras,
		Specifier: "==" + version,
		Marker:    r.Marker,
	}
}

// String reassembles an approximation of the original requirement string.
func (r *Requirement) String() string {
	if r.IsLocal() {
		return r.LocalPath
	}
	var sb strings.Builder
	sb.WriteString(r.Name)
	if len(r.Extras) > 0 {
		sb.WriteString("[" + strings.Join(r.Extras, ",") + "]")
	}
	if r.URL != "" {
		sb.WriteString(" @ " + r.URL)
	} else {
		sb.WriteString(r.Specifier)
	}
	if r.Marker != "" {
		sb.WriteString("; " + r.Marker)
	}
	return sb.String()
}
