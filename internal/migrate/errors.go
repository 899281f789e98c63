package migrate

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrMissingConfiguration is returned before any traversal starts when a
// required connection parameter is absent.
var ErrMissingConfiguration = errors.New("missing connection configuration")

// ConflictError reports an insert or update that violated the target store's
// constraints. The traversal decides whether it is fatal (strict mode) or
// skips the enclosing unit of work (lenient mode).
type ConflictError struct {
	Entity   string
	LegacyID int64
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict creating %s (legacy id %d): %v", e.Entity, e.LegacyID, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// UnresolvedReferenceError reports a registry lookup for a legacy id that was
// never migrated earlier in the run.
type UnresolvedReferenceError struct {
	Kind     Kind
	LegacyID int64
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("no migrated %s for legacy id %d", e.Kind, e.LegacyID)
}

// UnknownDocumentTypeError reports a legacy transaction whose type tag matches
// no branch. The document is skipped; the run continues.
type UnknownDocumentTypeError struct {
	XDocID int64
	Type   string
}

func (e *UnknownDocumentTypeError) Error() string {
	return fmt.Sprintf("unrecognized document type %q for xdoc %d", e.Type, e.XDocID)
}
