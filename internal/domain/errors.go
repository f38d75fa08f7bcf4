package domain

import "errors"

// Fatal errors. Any of these aborts a pipeline run.
var (
	// ErrSpecificationMalformed is returned when the design output cannot be
	// turned into a valid Specification.
	ErrSpecificationMalformed = errors.New("specification malformed")

	// ErrDuplicateTestTarget is returned when the test author emits two
	// writes for the same path.
	ErrDuplicateTestTarget = errors.New("duplicate test target")

	// ErrSchemaViolation is returned when a schema-constrained generation
	// call produces output that does not match the schema.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrPathEscapesRoot is returned when a write targets a path outside the
	// artifact root.
	ErrPathEscapesRoot = errors.New("path escapes artifact root")
)

// Recoverable errors. These never leave a stage; they are recorded as
// diagnostic text and drive the retry loop.
var (
	// ErrCommandTimeout marks a setup command that exceeded its deadline.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrSandboxProvision marks a failure to create or run the verification
	// environment itself.
	ErrSandboxProvision = errors.New("sandbox provision failed")

	// ErrTestFailure marks a test run that completed with failures.
	ErrTestFailure = errors.New("test failure")
)

// IsFatal reports whether err belongs to the fatal part of the taxonomy.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSpecificationMalformed) ||
		errors.Is(err, ErrDuplicateTestTarget) ||
		errors.Is(err, ErrSchemaViolation) ||
		errors.Is(err, ErrPathEscapesRoot)
}
