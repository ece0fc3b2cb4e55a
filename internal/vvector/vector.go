// Package vvector implements the per-author version vector used by the
// reconciliation engine to decide what a replica still needs during merge.
package vvector

// AuthorID identifies a write session. Equality in the vector is always by
// this id; a human-readable name is never part of the comparison.
type AuthorID string

// USN is an update sequence number: a per-author monotonically increasing
// counter of writes produced during one replica's lifetime.
type USN int64

// Vector maps an author id to the largest USN this replica has observed
// from that author.
type Vector map[AuthorID]USN

// New returns an empty vector.
func New() Vector {
	return make(Vector)
}

// Clone returns an independent copy of the vector.
func (v Vector) Clone() Vector {
	cloned := make(Vector, len(v))
	for author, usn := range v {
		cloned[author] = usn
	}
	return cloned
}

// Get returns the USN recorded for author, or zero if the author is unknown
// to this vector.
func (v Vector) Get(author AuthorID) USN {
	return v[author]
}

// Dominates reports whether every author known to other has a USN here that
// is greater than or equal to its USN there. A vector dominates itself.
func (v Vector) Dominates(other Vector) bool {
	for author, usn := range other {
		if v[author] < usn {
			return false
		}
	}
	return true
}

// NeedEntry is one element of a need-list: an author whose USN in the
// remote vector exceeds what this vector has recorded, together with the
// local USN (zero if the author is entirely unknown locally).
type NeedEntry struct {
	Author  AuthorID
	LocalUSN USN
	HasLocal bool
}

// NeedList returns, for every author in other whose USN there exceeds the
// USN recorded here, an entry describing how far behind this vector is.
// Used to select which records to pull from a peer replica during merge.
func (v Vector) NeedList(other Vector) []NeedEntry {
	var needs []NeedEntry
	for author, remoteUSN := range other {
		localUSN, known := v[author]
		if !known {
			needs = append(needs, NeedEntry{Author: author, HasLocal: false})
			continue
		}
		if remoteUSN > localUSN {
			needs = append(needs, NeedEntry{Author: author, LocalUSN: localUSN, HasLocal: true})
		}
	}
	return needs
}

// Satisfies reports whether usn exceeds what the need entry already knows
// about locally — i.e. whether a record stamped with this USN from the
// need entry's author should be pulled across during merge.
func (n NeedEntry) Satisfies(usn USN) bool {
	if !n.HasLocal {
		return true
	}
	return usn > n.LocalUSN
}

// Union destructively merges other into v: v[a] = max(v[a], other[a]) for
// every author in other.
func (v Vector) Union(other Vector) {
	for author, usn := range other {
		if usn > v[author] {
			v[author] = usn
		}
	}
}

// Set records usn for author, but only if usn is larger than what is
// already recorded (authors' USNs are monotone within a vector).
func (v Vector) Set(author AuthorID, usn USN) {
	if usn > v[author] {
		v[author] = usn
	}
}
