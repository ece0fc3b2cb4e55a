package kvstore

import (
	"encoding/json"

	"github.com/kvsync/kvsync/internal/engine"
	"github.com/kvsync/kvsync/internal/storedb"
)

// Scope is a string prefix logically partitioning the key space. Distinct
// scopes never interact, even under the same key string. An empty scope is
// itself a valid, distinct scope.
type Scope string

// Key identifies a record within a scope. Keys must be non-empty.
type Key string

// AuthorID identifies the write session that produced a version. It is
// always a 128-bit identifier rendered as a UUID string.
type AuthorID string

func (a AuthorID) String() string { return string(a) }

// Type selects which payload slot of a Value is populated.
type Type = storedb.EntryType

// The four value kinds a record may hold.
const (
	TypeNull Type = storedb.EntryTypeNull
	TypeText Type = storedb.EntryTypeText
	TypeJSON Type = storedb.EntryTypeJSON
	TypeBlob Type = storedb.EntryTypeBlob
)

// Value is a tagged payload: a text string, a syntactically validated JSON
// string, an opaque (mimeType, bytes) blob, or nothing (a deletion marker).
type Value struct {
	kind     Type
	text     string
	jsonText string
	blobMIME string
	blob     []byte
}

// NullValue returns the deletion-marker value.
func NullValue() Value {
	return Value{kind: TypeNull}
}

// TextValue returns a text-typed value.
func TextValue(text string) Value {
	return Value{kind: TypeText, text: text}
}

// JSONValue validates that payload parses as JSON and, if so, returns a
// JSON-typed value. It never accepts a string merely because it looks
// JSON-ish: validation is delegated to encoding/json.
func JSONValue(payload string) (Value, error) {
	if !json.Valid([]byte(payload)) {
		return Value{}, ErrInvalidJSON
	}
	return Value{kind: TypeJSON, jsonText: payload}, nil
}

// BlobValue returns a blob-typed value with the given MIME type hint.
func BlobValue(mimeType string, data []byte) Value {
	return Value{kind: TypeBlob, blobMIME: mimeType, blob: data}
}

// Type reports the value's kind.
func (v Value) Type() Type { return v.kind }

// Text returns the text payload; only meaningful when Type() == TypeText.
func (v Value) Text() string { return v.text }

// JSONText returns the raw JSON payload; only meaningful when Type() == TypeJSON.
func (v Value) JSONText() string { return v.jsonText }

// BlobMIME returns the MIME type hint; only meaningful when Type() == TypeBlob.
func (v Value) BlobMIME() string { return v.blobMIME }

// Blob returns the blob bytes; only meaningful when Type() == TypeBlob.
func (v Value) Blob() []byte { return v.blob }

func valueFromEngineVersion(version engine.Version) Value {
	switch version.Type {
	case storedb.EntryTypeText:
		return TextValue(version.Text)
	case storedb.EntryTypeJSON:
		return Value{kind: TypeJSON, jsonText: version.JSONText}
	case storedb.EntryTypeBlob:
		return BlobValue(version.BlobMIME, version.Blob)
	default:
		return NullValue()
	}
}
