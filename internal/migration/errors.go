package migration

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Backends wrap their driver errors with ErrConnection,
// ErrPermission or ErrConflict; the runner adds the remaining kinds.
var (
	// ErrConfig indicates that required connection information is absent.
	ErrConfig = errors.New("configuration error")

	// ErrConnection indicates that the database could not be reached.
	ErrConnection = errors.New("database unreachable")

	// ErrPermission indicates that the credential lacks the required privileges.
	ErrPermission = errors.New("permission denied")

	// ErrConflict indicates a duplicate ledger entry.
	ErrConflict = errors.New("ledger entry already exists")

	// ErrMigrationExecution indicates that a migration file failed to apply.
	ErrMigrationExecution = errors.New("migration execution failed")

	// ErrLedgerInconsistency indicates that a migration ran but could not be
	// recorded. The operator must reconcile the ledger before re-running.
	ErrLedgerInconsistency = errors.New("migration applied but not recorded in ledger")

	// ErrInterrupted indicates that the run was cancelled. The in-flight
	// migration, if any, was rolled back.
	ErrInterrupted = errors.New("migration run interrupted")

	// ErrLedgerMissing is returned by backends when the ledger table does not exist.
	ErrLedgerMissing = errors.New("schema_migrations table does not exist")
)

// RunError describes why a run stopped and how far it got.
type RunError struct {
	Filename string   // Migration being processed, empty when no file was attempted
	Applied  []string // Migrations applied by this run before the failure
	Kind     error    // One of the Err* sentinels
	Err      error    // Underlying error, reported verbatim
}

// Error implements the error interface.
func (e *RunError) Error() string {
	var b strings.Builder
	switch {
	case e.Filename != "":
		fmt.Fprintf(&b, "applied migrations [%s] before failing on %s: ", strings.Join(e.Applied, ", "), e.Filename)
	case len(e.Applied) > 0:
		fmt.Fprintf(&b, "applied migrations [%s] before stopping: ", strings.Join(e.Applied, ", "))
	}
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying error to errors.Is and errors.As.
func (e *RunError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newRunError(kind error, filename string, applied []string, err error) *RunError {
	return &RunError{
		Filename: filename,
		Applied:  append([]string(nil), applied...),
		Kind:     kind,
		Err:      err,
	}
}

// StatementError locates the statement of a migration file that failed.
type StatementError struct {
	Index     int    // 1-based statement index, 0 when the file ran as one batch
	Line      int    // 1-based line within the file, 0 when unknown
	Statement string // Failing statement text, when known
	Err       error
}

// Error implements the error interface.
func (e *StatementError) Error() string {
	var where []string
	if e.Index > 0 {
		where = append(where, fmt.Sprintf("statement %d", e.Index))
	}
	if e.Line > 0 {
		where = append(where, fmt.Sprintf("line %d", e.Line))
	}
	if len(where) == 0 {
		return e.Err.Error()
	}
	return strings.Join(where, ", ") + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StatementError) Unwrap() error {
	return e.Err
}

// LineOf returns the 1-based line of the 1-based character position pos in sql.
func LineOf(sql string, pos int) int {
	if pos <= 0 {
		return 0
	}
	line := 1
	for i, r := range []rune(sql) {
		if i >= pos-1 {
			break
		}
		if r == '\n' {
			line++
		}
	}
	return line
}

// SourceError wraps failures reading the migration source.
type SourceError struct {
	Path      string // File or directory path
	Operation string // read directory, read file
	Err       error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	return fmt.Sprintf("migration source: %s %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// ErrorKind maps an error to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	// Runner kinds take precedence over backend classifications.
	switch {
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrLedgerInconsistency):
		return "ledger_inconsistency"
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	case errors.Is(err, ErrMigrationExecution):
		return "execution"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}

	var sErr *SourceError
	if errors.As(err, &sErr) {
		return "source"
	}

	return "unexpected"
}
