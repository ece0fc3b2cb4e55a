package kvstore

import (
	"errors"

	"github.com/kvsync/kvsync/internal/storedb"
)

// Error taxonomy. Each is a distinct sentinel with no implicit conversion
// between kinds; callers use errors.Is against the specific variant they
// care about.
var (
	// ErrSchemaTooNew indicates the file carries schema migrations this
	// build does not know. Re-exported from storedb so callers of this
	// package never need to import it directly.
	ErrSchemaTooNew = storedb.ErrSchemaTooNew

	// ErrApplicationDataTooNew indicates the major version of stored
	// application data exceeds the version the caller expected.
	ErrApplicationDataTooNew = errors.New("kvstore: stored application data is too new")

	// ErrIncompatibleApplications indicates the stored application id
	// differs from the id the caller expected.
	ErrIncompatibleApplications = errors.New("kvstore: stored application id is incompatible")

	// ErrMergeSourceIncompatible indicates a merge source's application
	// identifier is incompatible with the destination's expected version.
	ErrMergeSourceIncompatible = errors.New("kvstore: merge source application id is incompatible")

	// ErrMergeSourceRequiresUpgrade indicates a merge source is newer than
	// the destination's expected version and an upgrade is possible; the
	// caller must upgrade before merging.
	ErrMergeSourceRequiresUpgrade = errors.New("kvstore: merge source requires an upgrade first")

	// ErrVersionConflict indicates a single-value accessor was called on a
	// read result holding more than one version.
	ErrVersionConflict = errors.New("kvstore: read result has more than one version")

	// ErrInvalidJSON indicates an attempted JSON write whose payload is not
	// syntactically valid JSON.
	ErrInvalidJSON = errors.New("kvstore: payload is not valid json")

	// ErrAuthorTableInconsistency indicates a post-condition check found an
	// author whose recorded usn is smaller than the usn of one of its own
	// entries.
	ErrAuthorTableInconsistency = errors.New("kvstore: author table is inconsistent with entries")

	// ErrEmptyScopeOrKey indicates a write or delete was attempted with no key.
	ErrEmptyScopeOrKey = errors.New("kvstore: key is required")

	// ErrClosed indicates an operation was attempted on a closed store.
	ErrClosed = errors.New("kvstore: store is closed")
)

// OpError wraps an error with the operation and reason that produced it.
type OpError struct {
	Op     string
	Reason string
	Err    error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Reason
	}
	return e.Op + ": " + e.Reason + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func newOpError(op, reason string, err error) error {
	return &OpError{Op: op, Reason: reason, Err: err}
}
