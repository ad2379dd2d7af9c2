// Package dogmaerr implements the error taxonomy of spec.md §7. Every
// storage-facing error is mapped into one of these kinds at the C1
// boundary; nothing escapes the store as a raw I/O or driver error.
package dogmaerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, comparable error classification. Transport layers map
// Kind to a status code; this module never does that mapping itself.
type Kind string

const (
	KindProjectNotFound    Kind = "PROJECT_NOT_FOUND"
	KindProjectExists      Kind = "PROJECT_EXISTS"
	KindRepositoryNotFound Kind = "REPOSITORY_NOT_FOUND"
	KindRepositoryExists   Kind = "REPOSITORY_EXISTS"
	KindRevisionNotFound   Kind = "REVISION_NOT_FOUND"
	KindEntryNotFound      Kind = "ENTRY_NOT_FOUND"
	KindChangeConflict     Kind = "CHANGE_CONFLICT"
	KindJSONPatchConflict  Kind = "JSON_PATCH_CONFLICT"
	KindTextPatchConflict  Kind = "TEXT_PATCH_CONFLICT"
	KindRedundantChange    Kind = "REDUNDANT_CHANGE"
	KindTooManyRequests    Kind = "TOO_MANY_REQUESTS"
	KindReplicationError   Kind = "REPLICATION_ERROR"
	KindShuttingDown       Kind = "SHUTTING_DOWN"
	KindStorageFault       Kind = "STORAGE_FAULT"
	KindQueryExecution     Kind = "QUERY_EXECUTION"
)

// Error is the single error type the store returns across package
// boundaries. Callers branch on Kind, not on Go type, and Is/As/Unwrap
// compose normally with the standard errors package.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target carries the same Kind, so that
// errors.Is(err, dogmaerr.New(dogmaerr.KindEntryNotFound, "")) works as a
// sentinel-style check without caring about Message/Cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}

	return e.Kind == other.Kind
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error classified as kind, wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Classify returns the Kind of err if it is (or wraps) a *Error, and
// false otherwise.
func Classify(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}

	return "", false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := Classify(err)
	return ok && k == kind
}

// Sentinel constructors for the kinds that are almost always compared by
// identity rather than formatted with context: one constructor per
// business error.

func ProjectNotFound(name string) *Error {
	return New(KindProjectNotFound, "project %q not found", name)
}

func ProjectExists(name string) *Error {
	return New(KindProjectExists, "project %q already exists", name)
}

func RepositoryNotFound(project, repo string) *Error {
	return New(KindRepositoryNotFound, "repository %q/%q not found", project, repo)
}

func RepositoryExists(project, repo string) *Error {
	return New(KindRepositoryExists, "repository %q/%q already exists", project, repo)
}

func RevisionNotFound(rev int32) *Error {
	return New(KindRevisionNotFound, "revision %d not found", rev)
}

func EntryNotFound(rev int32, path string) *Error {
	return New(KindEntryNotFound, "entry %q not found at revision %d", path, rev)
}

func ChangeConflict(format string, args ...any) *Error {
	return New(KindChangeConflict, format, args...)
}

func JSONPatchConflict(path string) *Error {
	return New(KindJSONPatchConflict, "JSON patch precondition mismatch at %q", path)
}

func TextPatchConflict(path string) *Error {
	return New(KindTextPatchConflict, "text patch precondition mismatch at %q", path)
}

func RedundantChange() *Error {
	return New(KindRedundantChange, "change set has no effect on the parent tree")
}

func TooManyRequests(project, repo string) *Error {
	return New(KindTooManyRequests, "write quota exceeded for %q/%q", project, repo)
}

func Replication(format string, args ...any) *Error {
	return New(KindReplicationError, format, args...)
}

func ShuttingDown() *Error {
	return New(KindShuttingDown, "server is shutting down")
}

func StorageFault(cause error, format string, args ...any) *Error {
	return Wrap(KindStorageFault, cause, format, args...)
}

func QueryExecution(cause error, format string, args ...any) *Error {
	return Wrap(KindQueryExecution, cause, format, args...)
}
