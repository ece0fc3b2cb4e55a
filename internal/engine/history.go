package engine

import (
	"context"
	"fmt"

	"github.com/kvsync/kvsync/internal/storedb"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EraseVersionHistory collapses every entry in the store onto the local
// author at a single new usn and discards all tombstones and non-local
// author records:
//
//  1. Delete all tombstones.
//  2. Bump the local author's usn.
//  3. Rewrite every entry's (author_id, usn) to the local author and the
//     new usn.
//  4. Delete all non-local author records.
//
// Resolved: the bump in step 2 is the usn every
// surviving entry is rewritten to in step 3, not a separate increment spent
// before them. A replica that erases then writes once afterward sees usn 2
// on that write, not 3 — erase and the rewrite it performs share one usn,
// matching how a bulk write shares one usn per input rather than one for
// the transaction as a whole.
func (e *Engine) EraseVersionHistory(ctx context.Context) error {
	txErr := e.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		nowSeconds := e.clock().UTC().Unix()

		if err := tx.Where("1 = 1").Delete(&storedb.Tombstone{}).Error; err != nil {
			return fmt.Errorf("engine: deleting tombstones: %w", err)
		}

		newUSN, err := nextLocalUSN(tx, e.localAuthorID, nowSeconds)
		if err != nil {
			return err
		}

		var entries []storedb.Entry
		if err := tx.Clauses(lockingClause()).Find(&entries).Error; err != nil {
			return fmt.Errorf("engine: loading entries to collapse: %w", err)
		}

		// Collapsing may bring two authors' entries for the same (scope,
		// key) into collision under the local author; the later one in
		// iteration order wins, hence the upsert below rather than a plain
		// insert. Clear the table first so the rewrite starts from empty.
		if err := tx.Where("1 = 1").Delete(&storedb.Entry{}).Error; err != nil {
			return fmt.Errorf("engine: clearing entries before collapse: %w", err)
		}
		if err := tx.Exec("DELETE FROM entry_full_text").Error; err != nil {
			return fmt.Errorf("engine: clearing full text index: %w", err)
		}

		for _, entry := range entries {
			entry.AuthorID = e.localAuthorID
			entry.USN = newUSN
			entry.TimestampSeconds = nowSeconds
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "scope"}, {Name: "key"}, {Name: "author_id"}},
				UpdateAll: true,
			}).Create(&entry).Error; err != nil {
				return fmt.Errorf("engine: rewriting entry %s/%s: %w", entry.Scope, entry.Key, err)
			}
			indexedText := ""
			if entry.Type == storedb.EntryTypeText {
				indexedText = entry.Text
			}
			if err := storedb.IndexEntryText(tx, entry.Scope, entry.Key, entry.AuthorID, indexedText); err != nil {
				return fmt.Errorf("engine: reindexing entry %s/%s: %w", entry.Scope, entry.Key, err)
			}
		}

		if err := tx.Where("id <> ?", e.localAuthorID).Delete(&storedb.Author{}).Error; err != nil {
			return fmt.Errorf("engine: deleting non-local authors: %w", err)
		}

		return nil
	})
	if txErr != nil {
		e.logError("erase_version_history", txErr)
		return txErr
	}
	return nil
}
