// Package query implements the read-only query surface:
// listing keys, bulk reads under several filter shapes, full-text search
// and aggregate statistics, all against the read-only storedb handle so
// they never contend with the write path.
package query

import (
	"fmt"
	"strings"

	"github.com/kvsync/kvsync/internal/engine"
	"github.com/kvsync/kvsync/internal/storedb"
	"gorm.io/gorm"
)

// Filter narrows Keys and BulkRead to an optional scope and/or key. A nil
// field means "any".
type Filter struct {
	Scope *string
	Key   *string
}

func applyFilter(db *gorm.DB, filter Filter) *gorm.DB {
	if filter.Scope != nil {
		db = db.Where("scope = ?", *filter.Scope)
	}
	if filter.Key != nil {
		db = db.Where("key = ?", *filter.Key)
	}
	return db
}

// Keys lists every (scope, key) pair with at least one non-null-typed
// entry.
func Keys(db *gorm.DB, filter Filter) ([]engine.KeyRef, error) {
	query := applyFilter(db.Model(&storedb.Entry{}), filter).
		Where("type <> ?", storedb.EntryTypeNull).
		Distinct("scope", "key")

	var rows []storedb.Entry
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query: listing keys: %w", err)
	}
	refs := make([]engine.KeyRef, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, engine.KeyRef{Scope: row.Scope, Key: row.Key})
	}
	return refs, nil
}

// Predicate evaluates one candidate entry row; used by BulkReadPredicate
// since server-side filtering cannot express arbitrary predicates.
type Predicate func(storedb.Entry) bool

// BulkRead reads every version at every (scope, key) matching filter.
func BulkRead(db *gorm.DB, filter Filter) (map[engine.KeyRef][]engine.Version, error) {
	var rows []storedb.Entry
	if err := applyFilter(db, filter).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query: bulk read: %w", err)
	}
	return groupEntries(rows), nil
}

// BulkReadPredicate reads every (scope, key) slot whose entry rows satisfy
// predicate for at least one row; all of that slot's versions are
// returned, not just the matching row.
func BulkReadPredicate(db *gorm.DB, predicate Predicate) (map[engine.KeyRef][]engine.Version, error) {
	var all []storedb.Entry
	if err := db.Find(&all).Error; err != nil {
		return nil, fmt.Errorf("query: bulk read predicate: %w", err)
	}

	matchedSlots := make(map[engine.KeyRef]struct{})
	for _, row := range all {
		if predicate(row) {
			matchedSlots[engine.KeyRef{Scope: row.Scope, Key: row.Key}] = struct{}{}
		}
	}
	var rows []storedb.Entry
	for _, row := range all {
		if _, ok := matchedSlots[engine.KeyRef{Scope: row.Scope, Key: row.Key}]; ok {
			rows = append(rows, row)
		}
	}
	return groupEntries(rows), nil
}

// BulkReadKeyPrefix reads every (scope, key) slot within scope whose key
// starts with prefix.
func BulkReadKeyPrefix(db *gorm.DB, scope, prefix string) (map[engine.KeyRef][]engine.Version, error) {
	var rows []storedb.Entry
	if err := db.Where("scope = ? AND key LIKE ? ESCAPE '\\'", scope, escapeLikePrefix(prefix)+"%").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query: bulk read key prefix: %w", err)
	}
	return groupEntries(rows), nil
}

// BulkReadKeyList reads every (scope, key) slot within scope whose key
// appears in keys.
func BulkReadKeyList(db *gorm.DB, scope string, keys []string) (map[engine.KeyRef][]engine.Version, error) {
	if len(keys) == 0 {
		return map[engine.KeyRef][]engine.Version{}, nil
	}
	var rows []storedb.Entry
	if err := db.Where("scope = ? AND key IN ?", scope, keys).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query: bulk read key list: %w", err)
	}
	return groupEntries(rows), nil
}

// SearchText consults the full-text index and returns the matching
// (scope, key) pairs ordered by relevance.
func SearchText(db *gorm.DB, searchQuery string) ([]engine.KeyRef, error) {
	matches, err := storedb.SearchFullText(db, searchQuery)
	if err != nil {
		return nil, err
	}
	refs := make([]engine.KeyRef, 0, len(matches))
	for _, match := range matches {
		refs = append(refs, engine.KeyRef{Scope: match.Scope, Key: match.Key})
	}
	return refs, nil
}

// Statistics summarizes the store for kvstore.Store.Statistics and the
// CLI's stats command.
type Statistics struct {
	EntryCount     int64
	AuthorCount    int64
	TombstoneCount int64
	Consistent     bool
	ApplicationID  string
	Major          int64
	Minor          int64
}

// ComputeStatistics gathers counts and the consistency flag from db, and
// the stamped application identifier if one exists.
func ComputeStatistics(db *gorm.DB) (Statistics, error) {
	var stats Statistics

	if err := db.Model(&storedb.Entry{}).Count(&stats.EntryCount).Error; err != nil {
		return Statistics{}, fmt.Errorf("query: counting entries: %w", err)
	}
	if err := db.Model(&storedb.Author{}).Count(&stats.AuthorCount).Error; err != nil {
		return Statistics{}, fmt.Errorf("query: counting authors: %w", err)
	}
	if err := db.Model(&storedb.Tombstone{}).Count(&stats.TombstoneCount).Error; err != nil {
		return Statistics{}, fmt.Errorf("query: counting tombstones: %w", err)
	}

	var identifiers []storedb.ApplicationIdentifier
	if err := db.Find(&identifiers).Error; err != nil {
		return Statistics{}, fmt.Errorf("query: reading application identifier: %w", err)
	}
	if len(identifiers) > 0 {
		stats.ApplicationID = identifiers[0].ID
		stats.Major = identifiers[0].Major
		stats.Minor = identifiers[0].Minor
	}

	consistent, err := consistencyHolds(db)
	if err != nil {
		return Statistics{}, err
	}
	stats.Consistent = consistent
	return stats, nil
}

func consistencyHolds(db *gorm.DB) (bool, error) {
	type maxUSNRow struct {
		AuthorID string
		MaxUSN   int64
	}
	var rows []maxUSNRow
	if err := db.Model(&storedb.Entry{}).
		Select("author_id, MAX(usn) AS max_usn").
		Group("author_id").
		Scan(&rows).Error; err != nil {
		return false, fmt.Errorf("query: scanning entry usns: %w", err)
	}
	for _, row := range rows {
		var author storedb.Author
		if err := db.Where("id = ?", row.AuthorID).Take(&author).Error; err != nil {
			return false, nil
		}
		if author.USN < row.MaxUSN {
			return false, nil
		}
	}
	return true, nil
}

func groupEntries(rows []storedb.Entry) map[engine.KeyRef][]engine.Version {
	grouped := make(map[engine.KeyRef][]engine.Version)
	for _, row := range rows {
		ref := engine.KeyRef{Scope: row.Scope, Key: row.Key}
		grouped[ref] = append(grouped[ref], engine.VersionFromEntry(row))
	}
	return grouped
}

func escapeLikePrefix(prefix string) string {
	replacer := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return replacer.Replace(prefix)
}
