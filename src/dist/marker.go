package dist

import (
	"strings"
)

// evalMarker evaluates an environment marker expression against the given env.
// It understands the common `name op "value"` comparisons joined by and/or;
// anything it cannot interpret evaluates permissively to true, matching the
// view that markers are an oracle we consume rather than define.
func evalMarker(marker string, env map[string]string) bool {
	for _, disjunct := range strings.Split(marker, " or ") {
		if evalConjunction(disjunct, env) {
			return true
		}
	}
	return false
}

func evalConjunction(expr string, env map[string]string) bool {
	for _, term := range strings.Split(expr, " and ") {
		if !evalComparison(term, env) {
			return false
		}
	}
	return true
}

// " not in " must precede " in " since the latter is a substring of it.
var markerOps = []string{"==", "!=", ">=", "<=", ">", "<", " not in ", " in "}

func evalComparison(term string, env map[string]string) bool {
	term = strings.TrimSpace(term)
	for _, op := range markerOps {
		i := strings.Index(term, op)
		if i == -1 {
			continue
		}
		lhs := resolveMarkerValue(term[:i], env)
		rhs := resolveMarkerValue(term[i+len(op):], env)
		switch strings.TrimSpace(op) {
		case "==":
			return lhs == rhs
		case "!=":
			return lhs != rhs
		case ">=":
			return compareMarker(lhs, rhs) >= 0
		case "<=":
			return compareMarker(lhs, rhs) <= 0
		case ">":
			return compareMarker(lhs, rhs) > 0
		case "<":
			return compareMarker(lhs, rhs) < 0
		case "in":
			return strings.Contains(rhs, lhs)
		case "not in":
			return !strings.Contains(rhs, lhs)
		}
	}
	return true
}

// resolveMarkerValue strips quotes from literals or looks up a marker variable.
func resolveMarkerValue(s string, env map[string]string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') {
		return s[1 : len(s)-1]
	}
	return env[s]
}

// compareMarker compares two dotted version-ish strings component-wise,
// falling back to string comparison for non-numeric parts.
func compareMarker(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := atoi(as[i])
		bn, berr := atoi(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return len(as) - len(bs)
}

func atoi(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errNotNumeric
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

type notNumericError struct{}

func (notNumericError) Error() string { return "not numeric" }

var errNotNumeric = notNumericError{}
