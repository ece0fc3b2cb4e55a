package kvstore

import (
	"time"

	"github.com/kvsync/kvsync/internal/engine"
)

// Version is one author's live record at a (scope, key): the read path's
// unit of result. A Version is an owned snapshot independent of the store
// that produced it.
type Version struct {
	AuthorID  AuthorID
	Timestamp time.Time
	Value     Value
}

// VersionSet is the result of read(scope, key): empty means "never
// written", one element means a single author's current value (which may
// itself be a deletion marker), and more than one element means a
// conflict the caller must resolve — the multi-value register outcome.
type VersionSet []Version

// Text returns the sole text payload. It returns ("", nil) when empty or
// when the single version does not hold a text value, and
// ErrVersionConflict when there is more than one version.
func (vs VersionSet) Text() (string, error) {
	switch len(vs) {
	case 0:
		return "", nil
	case 1:
		if vs[0].Value.Type() != TypeText {
			return "", nil
		}
		return vs[0].Value.Text(), nil
	default:
		return "", ErrVersionConflict
	}
}

// JSON returns the sole JSON payload, with the same empty/mismatch/conflict
// rules as Text.
func (vs VersionSet) JSON() (string, error) {
	switch len(vs) {
	case 0:
		return "", nil
	case 1:
		if vs[0].Value.Type() != TypeJSON {
			return "", nil
		}
		return vs[0].Value.JSONText(), nil
	default:
		return "", ErrVersionConflict
	}
}

// BlobResult is the (mimeType, bytes) pair returned by VersionSet.Blob.
type BlobResult struct {
	MIMEType string
	Bytes    []byte
}

// Blob returns the sole blob payload, with the same empty/mismatch/conflict
// rules as Text.
func (vs VersionSet) Blob() (BlobResult, error) {
	switch len(vs) {
	case 0:
		return BlobResult{}, nil
	case 1:
		if vs[0].Value.Type() != TypeBlob {
			return BlobResult{}, nil
		}
		return BlobResult{MIMEType: vs[0].Value.BlobMIME(), Bytes: vs[0].Value.Blob()}, nil
	default:
		return BlobResult{}, ErrVersionConflict
	}
}

func versionSetFromEngine(versions []engine.Version) VersionSet {
	result := make(VersionSet, 0, len(versions))
	for _, version := range versions {
		result = append(result, Version{
			AuthorID:  AuthorID(version.AuthorID),
			Timestamp: time.Unix(version.TimestampSeconds, 0).UTC(),
			Value:     valueFromEngineVersion(version),
		})
	}
	return result
}

// IsDeleted reports whether the result is exactly one null-typed version.
// It returns ErrVersionConflict when there is more than one version.
func (vs VersionSet) IsDeleted() (bool, error) {
	switch len(vs) {
	case 0:
		return false, nil
	case 1:
		return vs[0].Value.Type() == TypeNull, nil
	default:
		return false, ErrVersionConflict
	}
}
