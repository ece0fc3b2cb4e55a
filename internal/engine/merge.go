package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kvsync/kvsync/internal/storedb"
	"github.com/kvsync/kvsync/internal/vvector"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MergeOptions configures a merge call.
type MergeOptions struct {
	// DryRun computes the change set a real merge would produce without
	// applying it.
	DryRun bool
}

// MergeResult reports the (scope, key) slots a merge changed.
type MergeResult struct {
	Changed []KeyRef
}

// Merge pulls from source everything this replica (the receiver, "dest")
// needs according to the version vectors of the merge
// section, in the twelve steps that section numbers. A dry run computes
// steps 1–6 and the step 10 change set without applying 8–11.
func (dest *Engine) Merge(ctx context.Context, source *Engine, opts MergeOptions) (MergeResult, error) {
	var result MergeResult
	var events []ChangeEvent

	txErr := dest.write.WithContext(ctx).Transaction(func(destTx *gorm.DB) error {
		// Step 1-2: verify dest consistency, compute V_dest.
		if consistent, err := checkConsistency(destTx); err != nil {
			return err
		} else if !consistent {
			return fmt.Errorf("engine: merge destination: %w", errAuthorTableInconsistency)
		}
		destVector, err := loadVector(destTx)
		if err != nil {
			return err
		}

		var fetchedEntries []storedb.Entry
		var fetchedTombstones []storedb.Tombstone
		var sourceAuthors []storedb.Author
		var sourceVector vvector.Vector

		// Step 3-7: open a read transaction on source, compute V_source and
		// the need list, fetch what dest needs, commit the source read.
		readErr := source.read.WithContext(ctx).Transaction(func(sourceTx *gorm.DB) error {
			if consistent, err := checkConsistency(sourceTx); err != nil {
				return err
			} else if !consistent {
				return fmt.Errorf("engine: merge source: %w", errAuthorTableInconsistency)
			}

			if err := sourceTx.Find(&sourceAuthors).Error; err != nil {
				return fmt.Errorf("engine: loading source authors: %w", err)
			}
			sourceVector = vvector.New()
			for _, author := range sourceAuthors {
				sourceVector.Set(vvector.AuthorID(author.ID), vvector.USN(author.USN))
			}
			needs := destVector.NeedList(sourceVector)

			var err error
			fetchedEntries, err = fetchNeededEntries(sourceTx, needs)
			if err != nil {
				return err
			}
			fetchedTombstones, err = fetchNeededTombstones(sourceTx, needs)
			return err
		})
		if readErr != nil {
			return readErr
		}

		changeSet := computeChangeSet(fetchedTombstones, fetchedEntries)
		result.Changed = changeSet

		if opts.DryRun {
			return nil
		}

		// Step 8: union vectors, persist updated author records. Persisting
		// by name-carrying source author rows (not just the vector) means a
		// brand new author introduced by this merge keeps its human-readable
		// name hint instead of arriving blank.
		destVector.Union(sourceVector)
		if err := persistVector(destTx, destVector, sourceAuthors, dest.clock().UTC().Unix()); err != nil {
			return err
		}

		// Step 9: apply fetched tombstones before fetched entries, so a
		// same-slot tombstone that a fetched entry would otherwise garbage
		// collect ends in the correct state (entry present, only strictly
		// older tombstones removed).
		for _, tombstone := range fetchedTombstones {
			if err := applyFetchedTombstone(destTx, tombstone); err != nil {
				return err
			}
		}

		// Step 10: apply fetched entries and garbage-collect stale tombstones.
		for _, entry := range fetchedEntries {
			if err := applyFetchedEntry(destTx, entry); err != nil {
				return err
			}
		}

		// Step 11: verify dest consistency before commit.
		if consistent, err := checkConsistency(destTx); err != nil {
			return err
		} else if !consistent {
			return fmt.Errorf("engine: merge result: %w", errAuthorTableInconsistency)
		}

		for _, ref := range changeSet {
			versions, err := loadVersions(destTx, ref.Scope, ref.Key)
			if err != nil {
				return err
			}
			events = append(events, ChangeEvent{Scope: ref.Scope, Key: ref.Key, Versions: versions})
		}
		return nil
	})
	if txErr != nil {
		dest.logError("merge", txErr)
		return MergeResult{}, txErr
	}

	if !opts.DryRun {
		for _, event := range events {
			dest.notifier.publish(event)
		}
	}

	return result, nil
}

// Dominates reports whether this replica's version vector dominates
// other's: whether this replica already has everything other has.
func (dest *Engine) Dominates(ctx context.Context, other *Engine) (bool, error) {
	destVector, err := loadVector(dest.write.WithContext(ctx))
	if err != nil {
		return false, err
	}
	otherVector, err := loadVector(other.read.WithContext(ctx))
	if err != nil {
		return false, err
	}
	return destVector.Dominates(otherVector), nil
}

func loadVector(db *gorm.DB) (vvector.Vector, error) {
	var authors []storedb.Author
	if err := db.Find(&authors).Error; err != nil {
		return nil, fmt.Errorf("engine: loading authors: %w", err)
	}
	vector := vvector.New()
	for _, author := range authors {
		vector.Set(vvector.AuthorID(author.ID), vvector.USN(author.USN))
	}
	return vector, nil
}

func persistVector(tx *gorm.DB, vector vvector.Vector, sourceAuthors []storedb.Author, nowSeconds int64) error {
	nameByAuthor := make(map[string]string, len(sourceAuthors))
	for _, author := range sourceAuthors {
		nameByAuthor[author.ID] = author.Name
	}
	for authorID, usn := range vector {
		author := storedb.Author{
			ID:               string(authorID),
			Name:             nameByAuthor[string(authorID)],
			USN:              int64(usn),
			TimestampSeconds: nowSeconds,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"usn", "timestamp_s"}),
		}).Create(&author).Error; err != nil {
			return fmt.Errorf("engine: persisting author %s: %w", authorID, err)
		}
	}
	return nil
}

func fetchNeededEntries(sourceTx *gorm.DB, needs []vvector.NeedEntry) ([]storedb.Entry, error) {
	var all []storedb.Entry
	for _, need := range needs {
		var entries []storedb.Entry
		query := sourceTx.Where("author_id = ?", string(need.Author))
		if need.HasLocal {
			query = query.Where("usn > ?", int64(need.LocalUSN))
		}
		if err := query.Find(&entries).Error; err != nil {
			return nil, fmt.Errorf("engine: fetching needed entries: %w", err)
		}
		all = append(all, entries...)
	}
	return all, nil
}

func fetchNeededTombstones(sourceTx *gorm.DB, needs []vvector.NeedEntry) ([]storedb.Tombstone, error) {
	var all []storedb.Tombstone
	for _, need := range needs {
		var tombstones []storedb.Tombstone
		query := sourceTx.Where("deleting_author_id = ?", string(need.Author))
		if need.HasLocal {
			query = query.Where("deleting_usn > ?", int64(need.LocalUSN))
		}
		if err := query.Find(&tombstones).Error; err != nil {
			return nil, fmt.Errorf("engine: fetching needed tombstones: %w", err)
		}
		all = append(all, tombstones...)
	}
	return all, nil
}

// computeChangeSet predicts which (scope, key) slots step 9-10 will touch,
// without requiring the caller to have applied them yet — used both for
// the real merge's return value and for a dry run.
func computeChangeSet(tombstones []storedb.Tombstone, entries []storedb.Entry) []KeyRef {
	seen := make(map[KeyRef]struct{})
	var ordered []KeyRef
	add := func(ref KeyRef) {
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		ordered = append(ordered, ref)
	}
	for _, tombstone := range tombstones {
		add(KeyRef{Scope: tombstone.Scope, Key: tombstone.Key})
	}
	for _, entry := range entries {
		add(KeyRef{Scope: entry.Scope, Key: entry.Key})
	}
	return ordered
}

// applyFetchedTombstone implements step 9: if a dest entry at the
// tombstone's (scope, key, author_id) slot exists with usn <= the
// tombstone's usn, delete it. The tombstone row is recorded in every case,
// whether or not an entry was deleted.
func applyFetchedTombstone(destTx *gorm.DB, tombstone storedb.Tombstone) error {
	var existing storedb.Entry
	err := destTx.Clauses(lockingClause()).
		Where("scope = ? AND key = ? AND author_id = ?", tombstone.Scope, tombstone.Key, tombstone.AuthorID).
		Take(&existing).Error
	if err == nil && existing.USN <= tombstone.USN {
		if delErr := destTx.Where("scope = ? AND key = ? AND author_id = ?", tombstone.Scope, tombstone.Key, tombstone.AuthorID).
			Delete(&storedb.Entry{}).Error; delErr != nil {
			return fmt.Errorf("engine: deleting entry superseded by fetched tombstone: %w", delErr)
		}
		if deindexErr := storedb.DeindexEntry(destTx, tombstone.Scope, tombstone.Key, tombstone.AuthorID); deindexErr != nil {
			return fmt.Errorf("engine: deindexing entry superseded by fetched tombstone: %w", deindexErr)
		}
	} else if err != nil && !isRecordNotFound(err) {
		return fmt.Errorf("engine: checking entry for fetched tombstone: %w", err)
	}

	insertable := storedb.Tombstone{
		Scope:            tombstone.Scope,
		Key:              tombstone.Key,
		AuthorID:         tombstone.AuthorID,
		USN:              tombstone.USN,
		DeletingAuthorID: tombstone.DeletingAuthorID,
		DeletingUSN:      tombstone.DeletingUSN,
	}
	if err := destTx.Create(&insertable).Error; err != nil {
		return fmt.Errorf("engine: recording fetched tombstone: %w", err)
	}
	return nil
}

// applyFetchedEntry implements step 10: upsert the fetched entry (it
// necessarily carries a higher usn than anything dest has for that
// author), then garbage-collect tombstones at the same slot strictly
// older than the entry just written.
func applyFetchedEntry(destTx *gorm.DB, entry storedb.Entry) error {
	upserted := entry
	if err := destTx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "key"}, {Name: "author_id"}},
		UpdateAll: true,
	}).Create(&upserted).Error; err != nil {
		return fmt.Errorf("engine: upserting fetched entry: %w", err)
	}

	indexedText := ""
	if entry.Type == storedb.EntryTypeText {
		indexedText = entry.Text
	}
	if err := storedb.IndexEntryText(destTx, entry.Scope, entry.Key, entry.AuthorID, indexedText); err != nil {
		return fmt.Errorf("engine: indexing fetched entry: %w", err)
	}

	if err := destTx.Where(
		"scope = ? AND key = ? AND author_id = ? AND usn < ?",
		entry.Scope, entry.Key, entry.AuthorID, entry.USN,
	).Delete(&storedb.Tombstone{}).Error; err != nil {
		return fmt.Errorf("engine: garbage collecting stale tombstones: %w", err)
	}
	return nil
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
