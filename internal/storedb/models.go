// Package storedb defines the five persistent relations of the kvsync file
// format and the schema migration sequence that opens them.
package storedb

// EntryType selects which payload slot of an Entry row is populated.
type EntryType string

const (
	// EntryTypeNull marks a row as a logical deletion of its (scope, key)
	// from the author that wrote it.
	EntryTypeNull EntryType = "null"
	// EntryTypeText stores a plain UTF-8 string payload.
	EntryTypeText EntryType = "text"
	// EntryTypeJSON stores a syntactically validated JSON string payload.
	EntryTypeJSON EntryType = "json"
	// EntryTypeBlob stores an opaque byte payload with a MIME type hint.
	EntryTypeBlob EntryType = "blob"
)

// Entry is the tuple (scope, key, author_id, usn, timestamp, type, payload).
// (scope, key, author_id) is the primary identity: the multi-value register
// "slot" for one author at one key.
type Entry struct {
	Scope            string    `gorm:"column:scope;primaryKey;size:190;not null"`
	Key              string    `gorm:"column:key;primaryKey;size:190;not null"`
	AuthorID         string    `gorm:"column:author_id;primaryKey;size:190;not null;index:idx_entry_author"`
	USN              int64     `gorm:"column:usn;not null"`
	TimestampSeconds int64     `gorm:"column:timestamp_s;not null"`
	Type             EntryType `gorm:"column:type;size:16;not null"`
	Text             string    `gorm:"column:text;type:text;not null;default:''"`
	JSON             string    `gorm:"column:json;type:text;not null;default:''"`
	BlobMIME         string    `gorm:"column:blob_mime;size:190;not null;default:''"`
	Blob             []byte    `gorm:"column:blob"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "entry"
}

// Author is the tuple (id, name, usn, timestamp). The set of author rows
// forms the replica's version vector.
type Author struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:190;not null;default:''"`
	USN              int64  `gorm:"column:usn;not null;default:0"`
	TimestampSeconds int64  `gorm:"column:timestamp_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Author) TableName() string {
	return "author"
}

// Tombstone is a promise that the entry identified by (scope, key,
// author_id, usn) has been superseded by a write from (deleting_author_id,
// deleting_usn). It deliberately carries no uniqueness constraint: several
// different deleters may each witness the same prior entry, so the index
// on (deleting_author_id, deleting_usn) is non-unique (see DESIGN.md,
// "tombstone primary key").
type Tombstone struct {
	RowID              int64  `gorm:"column:row_id;primaryKey;autoIncrement"`
	Scope              string `gorm:"column:scope;size:190;not null;index:idx_tombstone_slot,priority:1"`
	Key                string `gorm:"column:key;size:190;not null;index:idx_tombstone_slot,priority:2"`
	AuthorID           string `gorm:"column:author_id;size:190;not null;index:idx_tombstone_slot,priority:3"`
	USN                int64  `gorm:"column:usn;not null"`
	DeletingAuthorID   string `gorm:"column:deleting_author_id;size:190;not null;index:idx_tombstone_deleter"`
	DeletingUSN        int64  `gorm:"column:deleting_usn;not null;index:idx_tombstone_deleter"`
}

// TableName provides the explicit table binding for GORM.
func (Tombstone) TableName() string {
	return "tombstone"
}

// ApplicationIdentifier is the file format stamp: at most one row exists.
type ApplicationIdentifier struct {
	ID          string `gorm:"column:id;primaryKey;size:190;not null"`
	Major       int64  `gorm:"column:major;not null"`
	Minor       int64  `gorm:"column:minor;not null"`
	Description string `gorm:"column:description;size:1024;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (ApplicationIdentifier) TableName() string {
	return "application_identifier"
}

// MigrationRecord records a single applied schema migration by name.
type MigrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// AllModels lists every model AutoMigrate must cover, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&Author{},
		&Entry{},
		&Tombstone{},
		&ApplicationIdentifier{},
		&MigrationRecord{},
	}
}
