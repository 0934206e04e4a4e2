package resolve

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// ErrUnsatisfiable is the base kind for "no combination of available distributions
// meets the requirements", including final consistency-check failures.
var ErrUnsatisfiable = errors.New("unsatisfiable")

// ErrUntranslatable is the base kind for "a requirement could not be turned into
// an installable distribution at all", e.g. a failed source build or a wheel
// whose tags can't serve the requested target.
var ErrUntranslatable = errors.New("untranslatable")

// kindError attaches one of the base kinds above to an underlying cause while
// keeping the cause reachable through errors.Is / errors.As.
type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }

func (e *kindError) Unwrap() error { return e.err }

func (e *kindError) Is(target error) bool { return target == e.kind }

// AsUnsatisfiable wraps err as an ErrUnsatisfiable.
func AsUnsatisfiable(err error) error {
	return &kindError{kind: ErrUnsatisfiable, err: err}
}

// AsUntranslatable wraps err as an ErrUntranslatable.
func AsUntranslatable(err error) error {
	return &kindError{kind: ErrUntranslatable, err: err}
}

// Unsatisfiablef creates a new ErrUnsatisfiable with a formatted message.
func Unsatisfiablef(format string, args ...interface{}) error {
	return AsUnsatisfiable(fmt.Errorf(format, args...))
}

// Untranslatablef creates a new ErrUntranslatable with a formatted message.
func Untranslatablef(format string, args ...interface{}) error {
	return AsUntranslatable(fmt.Errorf(format, args...))
}

// An IntegrityError indicates cache corruption or tampering: a pre-declared
// fingerprint that doesn't match freshly computed content, or a build that
// produced the wrong number of artifacts. It is fatal and never retried.
type IntegrityError struct {
	Path     string
	Expected digest.Digest
	Actual   digest.Digest
	Message  string
}

func (e *IntegrityError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s was expected to have fingerprint %s but found to have fingerprint %s", e.Path, e.Expected, e.Actual)
}
