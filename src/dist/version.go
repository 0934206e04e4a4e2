package dist

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("dist")

// Satisfies reports whether the given version meets the given specifier
// (e.g. ">=1.0,<2.0"). An empty specifier matches any version.
// Specifier semantics are delegated wholesale to the semver library after
// translating the pip-style operators; versions we cannot parse never satisfy
// anything (and are logged, since they indicate a questionable artifact).
func Satisfies(version, specifier string) bool {
	if specifier == "" {
		return true
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warning("Cannot parse version %q: %s", version, err)
		return false
	}
	c, err := semver.NewConstraint(translateSpecifier(specifier))
	if err != nil {
		log.Warning("Cannot parse version specifier %q: %s", specifier, err)
		return false
	}
	return c.Check(v)
}

// translateSpecifier converts pip-style specifier clauses into the library's syntax.
func translateSpecifier(specifier string) string {
	clauses := strings.Split(specifier, ",")
	for i, clause := range clauses {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "=="):
			clause = "=" + strings.TrimPrefix(clause, "==")
		case strings.HasPrefix(clause, "~="):
			// Compatible release: ~=x.y means >=x.y,==x.* but ~=x.y.z means >=x.y.z,==x.y.*
			v := strings.TrimPrefix(clause, "~=")
			if strings.Count(v, ".") == 1 {
				clause = "^" + v
			} else {
				clause = "~" + v
			}
		}
		// Wildcard suffixes are spelled .x rather than .*
		clauses[i] = strings.TrimSpace(strings.ReplaceAll(clause, ".*", ".x"))
	}
	return strings.Join(clauses, ",")
}
