package engine

import (
	"context"
	"fmt"

	"github.com/kvsync/kvsync/internal/storedb"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Write persists one value at (scope, key) from the local author, tombstoning
// any other author's entry at the same slot, and returns the resulting
// version. The entire sequence is one atomic transaction; after commit the
// author-table-consistency invariant is checked and any failure is
// returned to the caller (the transaction itself is not rolled back).
func (e *Engine) Write(ctx context.Context, request WriteRequest) (Version, error) {
	versions, err := e.WriteBulk(ctx, []WriteRequest{request})
	if err != nil {
		return Version{}, err
	}
	return versions[0], nil
}

// WriteBulk persists many values in one transaction. Each input increments
// the local author's usn and upserts its own entry row (the
// "steps 1 and 4 once per input"); superseding other authors' entries at a
// touched key happens once per key, which falls out naturally from
// processing inputs in order — by the time a second input targets the same
// key, the first input's write has already claimed that slot for the local
// author.
func (e *Engine) WriteBulk(ctx context.Context, requests []WriteRequest) ([]Version, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	versions := make([]Version, 0, len(requests))
	events := make([]ChangeEvent, 0, len(requests))

	txErr := e.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		nowSeconds := e.clock().UTC().Unix()
		for _, request := range requests {
			if request.Key == "" {
				return fmt.Errorf("engine: key is required")
			}

			usn, err := nextLocalUSN(tx, e.localAuthorID, nowSeconds)
			if err != nil {
				return err
			}

			if err := supersedeOtherAuthors(tx, request.Scope, request.Key, e.localAuthorID, usn); err != nil {
				return err
			}

			entry := request.toEntry(e.localAuthorID, usn, nowSeconds)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "scope"}, {Name: "key"}, {Name: "author_id"}},
				UpdateAll: true,
			}).Create(&entry).Error; err != nil {
				return fmt.Errorf("engine: upserting entry: %w", err)
			}

			indexedText := ""
			if entry.Type == storedb.EntryTypeText {
				indexedText = entry.Text
			}
			if err := storedb.IndexEntryText(tx, entry.Scope, entry.Key, entry.AuthorID, indexedText); err != nil {
				return fmt.Errorf("engine: indexing entry text: %w", err)
			}

			slotVersions, err := loadVersions(tx, request.Scope, request.Key)
			if err != nil {
				return err
			}
			versions = append(versions, versionFromEntry(entry))
			events = append(events, ChangeEvent{Scope: request.Scope, Key: request.Key, Versions: slotVersions})
		}
		return nil
	})
	if txErr != nil {
		e.logError("write", txErr)
		return nil, txErr
	}

	for _, event := range events {
		e.notifier.publish(event)
	}

	if consistent, err := e.CheckConsistency(ctx); err != nil {
		e.logError("write.consistency_check", err)
		return versions, err
	} else if !consistent {
		err := fmt.Errorf("engine: %w", errAuthorTableInconsistency)
		e.logError("write.consistency_check", err)
		return versions, err
	}

	return versions, nil
}

// Delete writes the null-typed deletion marker at (scope, key) — a write
// like any other, tombstone-bearing supersession included.
func (e *Engine) Delete(ctx context.Context, scope, key string) (Version, error) {
	return e.Write(ctx, WriteRequest{Scope: scope, Key: key, Type: storedb.EntryTypeNull})
}

// Read returns every live entry at (scope, key), one per author that still
// holds a version there.
func (e *Engine) Read(ctx context.Context, scope, key string) ([]Version, error) {
	return loadVersions(e.read.WithContext(ctx), scope, key)
}

// supersedeOtherAuthors tombstones and deletes every entry at (scope, key)
// not owned by localAuthorID: the local write supersedes their copy as far
// as this replica is concerned, and the tombstone carries the causal
// information a peer replica needs even if the new entry never reaches it.
func supersedeOtherAuthors(tx *gorm.DB, scope, key, localAuthorID string, newUSN int64) error {
	var others []storedb.Entry
	if err := tx.Clauses(lockingClause()).
		Where("scope = ? AND key = ? AND author_id <> ?", scope, key, localAuthorID).
		Find(&others).Error; err != nil {
		return fmt.Errorf("engine: loading entries to supersede: %w", err)
	}

	for _, other := range others {
		tombstone := storedb.Tombstone{
			Scope:            scope,
			Key:              key,
			AuthorID:         other.AuthorID,
			USN:              other.USN,
			DeletingAuthorID: localAuthorID,
			DeletingUSN:      newUSN,
		}
		if err := tx.Create(&tombstone).Error; err != nil {
			return fmt.Errorf("engine: recording tombstone: %w", err)
		}
		if err := tx.Where("scope = ? AND key = ? AND author_id = ?", scope, key, other.AuthorID).
			Delete(&storedb.Entry{}).Error; err != nil {
			return fmt.Errorf("engine: deleting superseded entry: %w", err)
		}
		if err := storedb.DeindexEntry(tx, scope, key, other.AuthorID); err != nil {
			return fmt.Errorf("engine: deindexing superseded entry: %w", err)
		}
	}
	return nil
}

func loadVersions(db *gorm.DB, scope, key string) ([]Version, error) {
	var entries []storedb.Entry
	if err := db.Where("scope = ? AND key = ?", scope, key).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("engine: loading versions: %w", err)
	}
	versions := make([]Version, 0, len(entries))
	for _, entry := range entries {
		versions = append(versions, versionFromEntry(entry))
	}
	return versions, nil
}

