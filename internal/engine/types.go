package engine

import "github.com/kvsync/kvsync/internal/storedb"

// Version is one author's live record at a (scope, key) slot, as returned
// by the engine's read path. It mirrors storedb.Entry but never leaks the
// storage row pointer, keeping the read result an owned, independent
// snapshot.
type Version struct {
	AuthorID         string
	TimestampSeconds int64
	Type             storedb.EntryType
	Text             string
	JSONText         string
	BlobMIME         string
	Blob             []byte
}

func versionFromEntry(entry storedb.Entry) Version {
	return VersionFromEntry(entry)
}

// VersionFromEntry converts a storedb.Entry row into the engine's owned
// Version snapshot. Exported so internal/query can build Version values
// from rows it reads directly off the read handle without going through
// the write path.
func VersionFromEntry(entry storedb.Entry) Version {
	blob := make([]byte, len(entry.Blob))
	copy(blob, entry.Blob)
	return Version{
		AuthorID:         entry.AuthorID,
		TimestampSeconds: entry.TimestampSeconds,
		Type:             entry.Type,
		Text:             entry.Text,
		JSONText:         entry.JSON,
		BlobMIME:         entry.BlobMIME,
		Blob:             blob,
	}
}

// WriteRequest describes one value to be written to a (scope, key) slot.
type WriteRequest struct {
	Scope    string
	Key      string
	Type     storedb.EntryType
	Text     string
	JSONText string
	BlobMIME string
	Blob     []byte
}

func (r WriteRequest) toEntry(authorID string, usn int64, timestampSeconds int64) storedb.Entry {
	return storedb.Entry{
		Scope:            r.Scope,
		Key:              r.Key,
		AuthorID:         authorID,
		USN:              usn,
		TimestampSeconds: timestampSeconds,
		Type:             r.Type,
		Text:             r.Text,
		JSON:             r.JSONText,
		BlobMIME:         r.BlobMIME,
		Blob:             r.Blob,
	}
}

// ChangeEvent is emitted after a committed write, bulk write, or merge
// touches a (scope, key) slot. It carries the full version set observed
// immediately after commit.
type ChangeEvent struct {
	Scope    string
	Key      string
	Versions []Version
}

// KeyRef identifies a (scope, key) pair without any version payload.
type KeyRef struct {
	Scope string
	Key   string
}
